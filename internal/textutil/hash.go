package textutil

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

var trackingQueryKeys = map[string]struct{}{
	"fbclid":  {},
	"gclid":   {},
	"mc_cid":  {},
	"mc_eid":  {},
	"ref":     {},
	"ref_src": {},
}

// ContentHash is the hex sha256 of the normalized title and body. Two items that
// differ only in case or whitespace hash to the same value.
func ContentHash(title, content string) string {
	sum := sha256.Sum256([]byte(NormalizeText(title) + "\n" + NormalizeText(content)))
	return hex.EncodeToString(sum[:])
}

// NormalizeURL canonicalizes a source URL for duplicate detection: lower-case
// scheme and host, default ports and fragments dropped, tracking parameters
// removed, query sorted. Returns "" for anything that is not an absolute URL.
func NormalizeURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	host := strings.ToLower(parsed.Hostname())
	if port := parsed.Port(); port != "" {
		defaultPort := (parsed.Scheme == "http" && port == "80") || (parsed.Scheme == "https" && port == "443")
		if !defaultPort {
			host = host + ":" + port
		}
	}
	parsed.Host = host
	parsed.Fragment = ""

	path := strings.TrimSpace(parsed.EscapedPath())
	if path == "" {
		path = "/"
	}
	path = strings.ReplaceAll(path, "//", "/")
	if strings.HasSuffix(path, "/") && path != "/" {
		path = strings.TrimSuffix(path, "/")
	}
	parsed.Path = path
	parsed.RawPath = ""

	q := parsed.Query()
	for key := range q {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "utm_") {
			q.Del(key)
			continue
		}
		if _, ok := trackingQueryKeys[lower]; ok {
			q.Del(key)
		}
	}
	if len(q) == 0 {
		parsed.RawQuery = ""
		return parsed.String()
	}

	keys := make([]string, 0, len(q))
	for key := range q {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	reordered := url.Values{}
	for _, key := range keys {
		values := q[key]
		sort.Strings(values)
		for _, value := range values {
			reordered.Add(key, value)
		}
	}
	parsed.RawQuery = reordered.Encode()
	return parsed.String()
}
