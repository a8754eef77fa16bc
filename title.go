package lincat

import (
	"net/url"
	"strings"
)

const (
	maxNoteTitleRunes = 60
	noteTitleWords    = 8
)

// urlTitle synthesizes a display title from the host and path when the page offered none.
func urlTitle(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return truncateRunes(normalizeText(rawURL), maxTitleRunes)
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	segments := pathSegments(u.Path)

	var title string
	switch {
	case host == "github.com" || host == "gitlab.com":
		title = codeHostTitle(host, segments)
	case host == "youtube.com" || host == "m.youtube.com" || host == "youtu.be":
		title = youTubeTitle(host, segments)
	case len(segments) > 0:
		title = host + " - " + segments[len(segments)-1]
	default:
		title = host + " Homepage"
	}
	return truncateRunes(normalizeText(title), maxTitleRunes)
}

func codeHostTitle(host string, segments []string) string {
	site := "GitHub"
	if host == "gitlab.com" {
		site = "GitLab"
	}
	switch len(segments) {
	case 0:
		return site
	case 1:
		return segments[0] + " - " + site + " Profile"
	default:
		return segments[0] + "/" + segments[1] + " - " + site + " Repository"
	}
}

func youTubeTitle(host string, segments []string) string {
	if host == "youtu.be" && len(segments) > 0 {
		return "YouTube Video"
	}
	if len(segments) == 0 {
		return "YouTube"
	}
	switch segments[0] {
	case "watch", "shorts", "embed", "live":
		return "YouTube Video"
	}
	return "YouTube - " + segments[len(segments)-1]
}

func pathSegments(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s == "" {
			continue
		}
		if unescaped, err := url.PathUnescape(s); err == nil {
			s = unescaped
		}
		out = append(out, s)
	}
	return out
}

// noteTitle is the first few words of a free-text note.
func noteTitle(input string) string {
	words := strings.Fields(input)
	cut := len(words) > noteTitleWords
	if cut {
		words = words[:noteTitleWords]
	}
	title := strings.Join(words, " ")
	if cut {
		title += "..."
	}
	return truncateRunes(title, maxNoteTitleRunes)
}
