package categorize

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxLearnedKeywords = 5
	titleWordMinRunes  = 4
	contentWordMin     = 5
	contentTopWords    = 3
)

var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`
a about above after again against all also among an and any are around as at
be because been before being below between both but by can could did does doing
down during each few for from further had has have having he her here hers him
his how i if in into is it its itself just like made make many more most much
must new news no nor not now of off on once only or other our out over own
people said same says she should since so some such than that the their them
then there these they this those though through to today too under until up
upon very was we were what when where which while who whom why will with within
without would year years you your report reports reported according told after
week month time first last still being while amid`) {
		stopwords[w] = struct{}{}
	}
}

func isStopword(word string) bool {
	_, ok := stopwords[word]
	return ok
}

func splitWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !isWordRune(r)
	})
}

func learnable(word string, minRunes int) bool {
	if utf8.RuneCountInString(word) < minRunes || isStopword(word) {
		return false
	}
	for _, r := range word {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// extractKeywords picks title words first, then the most frequent content
// words, up to five distinct keywords.
func extractKeywords(title, content string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, maxLearnedKeywords)
	add := func(word string) bool {
		if _, ok := seen[word]; ok {
			return false
		}
		seen[word] = struct{}{}
		out = append(out, word)
		return true
	}

	for _, word := range splitWords(title) {
		if len(out) == maxLearnedKeywords {
			return out
		}
		if learnable(word, titleWordMinRunes) {
			add(word)
		}
	}

	counts := map[string]int{}
	var order []string
	for _, word := range splitWords(content) {
		if !learnable(word, contentWordMin) {
			continue
		}
		if counts[word] == 0 {
			order = append(order, word)
		}
		counts[word]++
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})

	taken := 0
	for _, word := range order {
		if len(out) == maxLearnedKeywords || taken == contentTopWords {
			break
		}
		if add(word) {
			taken++
		}
	}
	return out
}
