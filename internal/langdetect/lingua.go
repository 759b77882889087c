// Package langdetect tags text as English or Khmer for keyword bookkeeping.
// Khmer is recognised by script share since the statistical detector does not
// ship a Khmer model; everything else goes through lingua.
package langdetect

import (
	"strings"
	"sync"
	"unicode"

	lingua "github.com/pemistahl/lingua-go"
)

const (
	English = "en"
	Khmer   = "kh"
)

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector
)

// Detect returns "kh" when Khmer letters dominate, otherwise the ISO 639-1
// code lingua reports, or "" when the sample is too short to call.
func Detect(text string) string {
	sample := strings.TrimSpace(text)
	if sample == "" {
		return ""
	}

	letters, khmer := 0, 0
	for _, r := range sample {
		if unicode.Is(unicode.Khmer, r) {
			khmer++
			letters++
			continue
		}
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if khmer > 0 && khmer*2 >= letters {
		return Khmer
	}
	if letters < 6 {
		return ""
	}

	language, exists := getDetector().DetectLanguageOf(sample)
	if !exists {
		return ""
	}
	code := strings.ToLower(language.IsoCode639_1().String())
	if len(code) != 2 {
		return ""
	}
	return code
}

// KeywordLanguage maps any detection onto the two keyword languages.
func KeywordLanguage(text string) string {
	if Detect(text) == Khmer {
		return Khmer
	}
	return English
}

func getDetector() lingua.LanguageDetector {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromLanguages(lingua.English, lingua.French, lingua.Chinese, lingua.Thai, lingua.Vietnamese).
			WithPreloadedLanguageModels().
			Build()
	})
	return detector
}
