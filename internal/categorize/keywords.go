package categorize

import (
	"strings"
	"unicode"
	"unicode/utf8"

	ahocorasick "github.com/cloudflare/ahocorasick"

	"horse.fit/fusion/internal/db"
)

// keywordIndex finds candidate keywords in one pass with an Aho-Corasick
// automaton, then counts occurrences only for the keywords that hit.
type keywordIndex struct {
	matcher  *ahocorasick.Matcher
	terms    []string
	byTerm   map[string][]db.KeywordRecord
	keywords int
}

func newKeywordIndex(keywords []db.KeywordRecord) *keywordIndex {
	idx := &keywordIndex{byTerm: map[string][]db.KeywordRecord{}}
	for _, kw := range keywords {
		term := strings.ToLower(strings.TrimSpace(kw.Keyword))
		if term == "" || kw.Weight <= 0 {
			continue
		}
		if _, ok := idx.byTerm[term]; !ok {
			idx.terms = append(idx.terms, term)
		}
		idx.byTerm[term] = append(idx.byTerm[term], kw)
		idx.keywords++
	}
	if len(idx.terms) > 0 {
		idx.matcher = ahocorasick.NewStringMatcher(idx.terms)
	}
	return idx
}

type categoryScore struct {
	CategoryID int64
	Score      float64
}

// score sums weight × occurrences per category, doubling keywords found in
// the title. Returns the best category, ties going to the lower id.
func (idx *keywordIndex) score(title, content string) (categoryScore, map[int64]float64) {
	if idx == nil || idx.matcher == nil {
		return categoryScore{}, nil
	}
	lowerTitle := strings.ToLower(title)
	text := lowerTitle + "\n" + strings.ToLower(content)

	totals := map[int64]float64{}
	for _, hit := range idx.matcher.Match([]byte(text)) {
		if hit < 0 || hit >= len(idx.terms) {
			continue
		}
		term := idx.terms[hit]
		for _, kw := range idx.byTerm[term] {
			count := countOccurrences(text, term, kw.IsExactMatch)
			if count == 0 {
				continue
			}
			points := kw.Weight * float64(count)
			if countOccurrences(lowerTitle, term, kw.IsExactMatch) > 0 {
				points *= 2
			}
			totals[kw.CategoryID] += points
		}
	}

	best := categoryScore{}
	for categoryID, total := range totals {
		if total > best.Score || (total == best.Score && total > 0 && categoryID < best.CategoryID) {
			best = categoryScore{CategoryID: categoryID, Score: total}
		}
	}
	return best, totals
}

// countOccurrences counts non-overlapping matches of term in text. Exact
// matches must sit between non-word characters.
func countOccurrences(text, term string, exact bool) int {
	if term == "" {
		return 0
	}
	if !exact {
		return strings.Count(text, term)
	}

	count := 0
	offset := 0
	for {
		i := strings.Index(text[offset:], term)
		if i < 0 {
			return count
		}
		start := offset + i
		end := start + len(term)
		if wordBoundaryBefore(text, start) && wordBoundaryAfter(text, end) {
			count++
		}
		offset = end
	}
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r) || unicode.Is(unicode.Mc, r)
}

func wordBoundaryBefore(text string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return !isWordRune(r)
}

func wordBoundaryAfter(text string, i int) bool {
	if i >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return !isWordRune(r)
}
