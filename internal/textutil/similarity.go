package textutil

import (
	"math"
	"strings"
	"unicode"
)

// Tokenize splits text into lower-case word tokens. Khmer is written without
// spaces, so Khmer runs are emitted as overlapping rune bigrams instead.
func Tokenize(text string) []string {
	lowered := strings.ToLower(text)
	tokens := make([]string, 0, len(lowered)/5)

	var word []rune
	var khmer []rune
	flushWord := func() {
		if len(word) > 0 {
			tokens = append(tokens, string(word))
			word = word[:0]
		}
	}
	flushKhmer := func() {
		switch {
		case len(khmer) == 1:
			tokens = append(tokens, string(khmer))
		case len(khmer) > 1:
			for i := 0; i+1 < len(khmer); i++ {
				tokens = append(tokens, string(khmer[i:i+2]))
			}
		}
		khmer = khmer[:0]
	}

	for _, r := range lowered {
		switch {
		case unicode.Is(unicode.Khmer, r):
			flushWord()
			// Khmer digits and punctuation break runs.
			if r >= 0x17D4 && r <= 0x17E9 {
				flushKhmer()
				continue
			}
			khmer = append(khmer, r)
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			flushKhmer()
			word = append(word, r)
		default:
			flushWord()
			flushKhmer()
		}
	}
	flushWord()
	flushKhmer()
	return tokens
}

// TermFrequencies counts tokens.
func TermFrequencies(tokens []string) map[string]int {
	out := make(map[string]int, len(tokens))
	for _, token := range tokens {
		out[token]++
	}
	return out
}

// CosineSimilarity compares two texts as token-frequency vectors. The result is
// in [0,1]; empty input on either side yields 0.
func CosineSimilarity(a, b string) float64 {
	return CosineFrequencies(TermFrequencies(Tokenize(a)), TermFrequencies(Tokenize(b)))
}

// CosineFrequencies is CosineSimilarity over precomputed frequency maps.
func CosineFrequencies(a, b map[string]int) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(a) > len(b) {
		a, b = b, a
	}

	var dot float64
	for token, countA := range a {
		if countB, ok := b[token]; ok {
			dot += float64(countA) * float64(countB)
		}
	}
	if dot == 0 {
		return 0
	}
	normA := norm(a)
	normB := norm(b)
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (normA * normB)
	if sim > 1 {
		return 1
	}
	return sim
}

func norm(freq map[string]int) float64 {
	var sum float64
	for _, count := range freq {
		sum += float64(count) * float64(count)
	}
	return math.Sqrt(sum)
}
