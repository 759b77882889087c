// Package textutil holds the pure text helpers shared by ingestion, grouping
// and categorization. Nothing in here touches the network or the database.
package textutil

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var urlPattern = regexp.MustCompile(`(?i)(?:https?://|www\.|t\.me/)[^\s<>"']+`)

// CleanOptions selects which noise is removed from raw source text.
type CleanOptions struct {
	StripURLs   bool
	StripEmojis bool
}

// Clean applies the selected stripping steps and collapses whitespace.
func Clean(text string, opts CleanOptions) string {
	out := text
	if opts.StripURLs {
		out = StripURLs(out)
	}
	if opts.StripEmojis {
		out = StripEmojis(out)
	}
	return CollapseWhitespace(out)
}

// StripURLs removes http(s), www. and t.me links.
func StripURLs(text string) string {
	return urlPattern.ReplaceAllString(text, "")
}

// StripEmojis drops pictographs, dingbats, flags, skin-tone modifiers and the
// joiners/selectors that glue them together. Khmer symbols are kept.
func StripEmojis(text string) string {
	if text == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if isEmoji(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F000 && r <= 0x1FAFF:
		return true
	case r >= 0x2600 && r <= 0x27BF:
		return true
	case r >= 0x2B00 && r <= 0x2BFF:
		return true
	case r >= 0x2300 && r <= 0x23FF:
		return true
	case r >= 0xE0020 && r <= 0xE007F:
		return true
	case r == 0x200D, r == 0xFE0F, r == 0xFE0E, r == 0x20E3:
		return true
	case r == 0x3030, r == 0x303D, r == 0x3297, r == 0x3299:
		return true
	}
	return false
}

// CollapseWhitespace folds runs of whitespace into one space, keeping line
// breaks as single newlines, and drops control characters.
func CollapseWhitespace(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	pendingSpace := false
	pendingNewline := false
	for _, r := range trimmed {
		if r == '\n' {
			pendingNewline = true
			continue
		}
		if unicode.IsSpace(r) {
			pendingSpace = true
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		if pendingNewline {
			b.WriteRune('\n')
		} else if pendingSpace {
			b.WriteRune(' ')
		}
		pendingSpace, pendingNewline = false, false
		b.WriteRune(r)
	}
	return b.String()
}

// NormalizeText lower-cases and flattens text for hashing and comparison.
func NormalizeText(input string) string {
	trimmed := strings.TrimSpace(strings.ToLower(input))
	if trimmed == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	lastSpace := false
	for _, r := range trimmed {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return strings.TrimSpace(b.String())
}

// Length counts runes, which is what the minimum-length rule is expressed in.
func Length(text string) int {
	return utf8.RuneCountInString(strings.TrimSpace(text))
}

// ContainsKhmer reports whether any rune belongs to the Khmer script.
func ContainsKhmer(text string) bool {
	for _, r := range text {
		if unicode.Is(unicode.Khmer, r) {
			return true
		}
	}
	return false
}

// FirstLine returns the first non-empty line, truncated to maxRunes.
func FirstLine(text string, maxRunes int) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		return Truncate(line, maxRunes)
	}
	return ""
}

// Truncate cuts text to at most maxRunes runes.
func Truncate(text string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:maxRunes]))
}
