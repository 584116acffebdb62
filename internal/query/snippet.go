package query

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const snippetMaxLen = 120

var (
	markdownLinkPattern = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	horizontalRule      = regexp.MustCompile(`^\s*([-*_]\s*){3,}$`)
)

// Snippet picks a one-line preview from chunk text: Markdown link syntax is
// unwrapped, heading and rule lines are skipped, and the first line with at
// least two words and ten characters wins. Falls back to a truncation of the
// whole text.
func Snippet(text string) string {
	cleaned := markdownLinkPattern.ReplaceAllString(text, "$1")

	for _, line := range strings.Split(cleaned, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || horizontalRule.MatchString(line) {
			continue
		}
		if len(line) >= 10 && len(strings.Fields(line)) >= 2 {
			return truncate(line, snippetMaxLen)
		}
	}

	return truncate(strings.Join(strings.Fields(cleaned), " "), snippetMaxLen)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	end := limit
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	cut := s[:end]
	if idx := strings.LastIndexByte(cut, ' '); idx > limit/2 {
		cut = cut[:idx]
	}
	return cut + "…"
}
