package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/docutag/lincat/models"
)

const (
	maxNameWords = 4
	maxNameRunes = 60
)

// ParseFailure describes why a model reply could not be used as a verdict.
type ParseFailure struct {
	Reason string
	Raw    string
}

func (e *ParseFailure) Error() string {
	return "unusable model reply: " + e.Reason
}

type rawVerdict struct {
	Category    *string `json:"category"`
	Description *string `json:"description"`
	IsNew       *bool   `json:"isNew"`
}

var titleCaser = cases.Title(language.English)

// ParseVerdict decodes a reply that must contain exactly one JSON object with
// the fields category, description and isNew. Every failure is a *ParseFailure.
func ParseVerdict(text string) (models.Verdict, error) {
	body, ok := jsonObject(text)
	if !ok {
		return models.Verdict{}, &ParseFailure{Reason: "no JSON object found", Raw: text}
	}

	var raw rawVerdict
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return models.Verdict{}, &ParseFailure{Reason: fmt.Sprintf("invalid JSON: %v", err), Raw: text}
	}
	if raw.Category == nil || raw.Description == nil || raw.IsNew == nil {
		return models.Verdict{}, &ParseFailure{Reason: "missing verdict field", Raw: text}
	}

	name, err := normalizeName(*raw.Category)
	if err != nil {
		return models.Verdict{}, &ParseFailure{Reason: err.Error(), Raw: text}
	}

	return models.Verdict{
		Category:    name,
		Description: collapseSpace(*raw.Description),
		IsNew:       *raw.IsNew,
	}, nil
}

// jsonObject strips markdown fences and returns the outermost {...} span.
func jsonObject(text string) (string, bool) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

func normalizeName(name string) (string, error) {
	name = collapseSpace(name)
	name = strings.Trim(name, "\"'`*")
	name = strings.TrimRightFunc(name, func(r rune) bool { return r == '.' || r == '!' || r == ',' || r == ':' })
	name = strings.TrimSpace(name)

	if name == "" {
		return "", fmt.Errorf("empty category name")
	}
	if words := len(strings.Fields(name)); words > maxNameWords {
		return "", fmt.Errorf("category name has %d words", words)
	}
	if len([]rune(name)) > maxNameRunes {
		return "", fmt.Errorf("category name too long")
	}
	if name == strings.ToLower(name) {
		name = titleCaser.String(name)
	}
	return name, nil
}

func collapseSpace(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

// canonicalize adopts the stored spelling of a name that differs only in case
// and recomputes IsNew from membership.
func canonicalize(v models.Verdict, existing []string) models.Verdict {
	v.IsNew = true
	for _, e := range existing {
		if strings.EqualFold(e, v.Category) {
			v.Category = e
			v.IsNew = false
			break
		}
	}
	return v
}
