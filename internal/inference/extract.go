package inference

import (
	"fmt"
	"strings"
)

// ExtractJSON returns the first balanced {...} object found in text after
// removing markdown code fences. Braces inside string literals are ignored.
func ExtractJSON(text string) (string, error) {
	cleaned := stripCodeFences(text)
	start := strings.IndexByte(cleaned, '{')
	for start >= 0 {
		if end := matchObject(cleaned, start); end > start {
			return cleaned[start : end+1], nil
		}
		next := strings.IndexByte(cleaned[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", fmt.Errorf("%w: no JSON object in response", ErrMalformedResponse)
}

func stripCodeFences(text string) string {
	if !strings.Contains(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// matchObject returns the index of the brace closing the object opened at
// start, or -1 when the object never closes.
func matchObject(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
