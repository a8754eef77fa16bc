// Package heuristic classifies inputs with fixed, ordered rules so the
// language model is only consulted for content nothing here recognizes.
package heuristic

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/docutag/lincat/models"
)

// Category names produced by the rules.
const (
	CodeRepositories = "Code Repositories"
	YouTubeVideos    = "YouTube Videos"
	VideoContent     = "Video Content"
	TwitterPosts     = "Twitter Posts"
	LinkedInProfiles = "LinkedIn Profiles"
	FacebookContent  = "Facebook Content"
	TasksReminders   = "Tasks & Reminders"
	RecipesCooking   = "Recipes & Cooking"
	General          = "General"
	PersonalNotes    = "Personal Notes"
)

// urlPattern matches the first http(s) URL in a submission.
var urlPattern = regexp.MustCompile(`https?://[^\s]+`)

type domainRule struct {
	domains  []string
	category string
	describe func(title string) string
}

type keywordRule struct {
	keywords []string
	category string
	describe func(in models.ClassifyInput) string
}

// Domain rules are tested before keyword rules; within each list the first match wins.
var domainRules = []domainRule{
	{
		domains:  []string{"github.com", "gitlab.com", "bitbucket.org", "codeberg.org"},
		category: CodeRepositories,
		describe: func(title string) string { return "Source code repository: " + or(title, "Code project") },
	},
	{
		domains:  []string{"youtube.com", "youtu.be"},
		category: YouTubeVideos,
		describe: func(title string) string { return "YouTube video: " + or(title, "Video content") },
	},
	{
		domains:  []string{"vimeo.com"},
		category: VideoContent,
		describe: func(title string) string { return "Video: " + or(title, "Video content") },
	},
	{
		domains:  []string{"twitter.com", "x.com"},
		category: TwitterPosts,
		describe: func(title string) string { return "Twitter/X profile or post: " + or(title, "Social media content") },
	},
	{
		domains:  []string{"linkedin.com"},
		category: LinkedInProfiles,
		describe: func(title string) string {
			return "LinkedIn profile or post: " + or(title, "Professional networking content")
		},
	},
	{
		domains:  []string{"facebook.com", "fb.com"},
		category: FacebookContent,
		describe: func(title string) string { return "Facebook profile or post: " + or(title, "Social networking content") },
	},
}

var keywordRules = []keywordRule{
	{
		keywords: []string{"todo", "to-do", "task", "reminder"},
		category: TasksReminders,
		describe: func(in models.ClassifyInput) string { return "Task or reminder: " + in.Input },
	},
	{
		keywords: []string{"recipe", "cooking", "ingredient"},
		category: RecipesCooking,
		describe: func(in models.ClassifyInput) string { return "Recipe or cooking content: " + or(in.Title, in.Input) },
	},
}

// Classify returns the verdict of the first matching rule, or nil when no rule
// is confident and the caller should ask the model.
func Classify(in models.ClassifyInput) *models.Verdict {
	hosts := hostsIn(in.Input)
	for _, rule := range domainRules {
		if matchesAnyDomain(hosts, rule.domains) {
			return verdict(rule.category, rule.describe(in.Title), in.Existing)
		}
	}

	content := strings.ToLower(strings.Join([]string{in.Input, in.Title, in.Description}, " "))
	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(content, kw) {
				return verdict(rule.category, rule.describe(in), in.Existing)
			}
		}
	}

	return nil
}

// Default is the lowest-priority rule: links go to General, anything else is a personal note.
// It is also the verdict used whenever the model cannot be used.
func Default(in models.ClassifyInput) models.Verdict {
	if urlPattern.MatchString(in.Input) {
		return *verdict(General, "Content: "+or(in.Title, in.Input), in.Existing)
	}
	return *verdict(PersonalNotes, "Note: "+or(in.Title, in.Input), in.Existing)
}

// Contains reports whether name is one of existing. Comparison is exact.
func Contains(existing []string, name string) bool {
	for _, e := range existing {
		if e == name {
			return true
		}
	}
	return false
}

func verdict(category, description string, existing []string) *models.Verdict {
	return &models.Verdict{
		Category:    category,
		Description: description,
		IsNew:       !Contains(existing, category),
	}
}

// hostsIn collects the lower-cased host of every URL-looking token, with or without a scheme.
func hostsIn(input string) []string {
	var hosts []string
	for _, tok := range strings.Fields(input) {
		tok = strings.Trim(tok, "()[]<>\"',;.!?:")
		if !strings.Contains(tok, ".") {
			continue
		}
		raw := tok
		if !strings.Contains(raw, "://") {
			raw = "http://" + raw
		}
		u, err := url.Parse(raw)
		if err != nil || u.Hostname() == "" {
			continue
		}
		host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
		hosts = append(hosts, strings.TrimPrefix(host, "www."))
	}
	return hosts
}

func matchesAnyDomain(hosts, domains []string) bool {
	for _, h := range hosts {
		for _, d := range domains {
			if h == d || strings.HasSuffix(h, "."+d) {
				return true
			}
		}
	}
	return false
}

func or(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
