package textutil

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	unorm "golang.org/x/text/unicode/norm"
)

// Slugify folds accents and reduces name to [a-z0-9-]. Names with no Latin
// letters or digits (Khmer-only names) get a stable hash-based slug so every
// category and tag still has one.
func Slugify(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return ""
	}

	folded, _, err := transform.String(
		transform.Chain(unorm.NFD, runes.Remove(runes.In(unicode.Mn)), unorm.NFC),
		trimmed,
	)
	if err != nil {
		folded = trimmed
	}

	var b strings.Builder
	b.Grow(len(folded))
	lastDash := true
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastDash = false
			continue
		}
		if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug != "" {
		return slug
	}

	sum := sha256.Sum256([]byte(NormalizeText(trimmed)))
	return "x-" + hex.EncodeToString(sum[:4])
}
