package prompt

import (
	"regexp"
	"strings"
	"unicode"
)

// maxCleanLength is the length above which a completion is cut at a sentence end
const maxCleanLength = 150

var (
	spaceBeforeNewline = regexp.MustCompile(`[ \t\r\f\v]+\n`)
	extraNewlines      = regexp.MustCompile(`\n{3,}`)
	leadingPunct       = regexp.MustCompile(`(\n|^)\s*[.:]\s*`)
	speakerTag         = regexp.MustCompile(`(\n|^)\s*[A-Z][a-z]+:\s*`)
	bulletStars        = regexp.MustCompile(`(\n|^)\s*\*+\s*`)
)

// Clean normalizes raw model output: it drops non-printable characters,
// strips speaker tags and marker artifacts the small models like to emit,
// and shortens long answers to their leading sentences.
func Clean(raw string) string {
	t := strings.Map(func(r rune) rune {
		if r == '\n' || unicode.IsPrint(r) {
			return r
		}
		if unicode.IsSpace(r) {
			return ' '
		}
		return -1
	}, raw)
	t = spaceBeforeNewline.ReplaceAllString(t, "\n")
	t = extraNewlines.ReplaceAllString(t, "\n\n")
	t = strings.TrimSpace(t)

	t = leadingPunct.ReplaceAllString(t, "$1")
	t = speakerTag.ReplaceAllString(t, "$1")
	t = bulletStars.ReplaceAllString(t, "$1")

	if len(t) > maxCleanLength {
		end := max(strings.Index(t, ". "), strings.Index(t, "? "), strings.Index(t, "! "))
		if end != -1 {
			t = t[:end+1]
		}
	}
	return strings.TrimSpace(t)
}
