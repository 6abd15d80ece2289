// Package keys builds the Redis/LRU keys of cached features.
package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const (
	featurePrefix = "feat:"
	maxIDTextLen  = 96
)

// FeatureKey is "feat:<collection>:<id>:h=<xxhash64>". Both parts are
// sanitized for readability; the hash over the raw values keeps distinct
// ids apart after sanitizing or truncation.
func FeatureKey(collection, id string) string {
	coll := strings.TrimSpace(collection)
	rawID := strings.TrimSpace(id)

	idSafe := sanitize(rawID)
	if len(idSafe) > maxIDTextLen {
		idSafe = idSafe[:maxIDTextLen]
	}
	sum := xxhash.Sum64String(coll + "\x00" + rawID)
	return fmt.Sprintf("%s%s:%s:h=%016x", featurePrefix, sanitize(coll), idSafe, sum)
}

// CollectionPrefix matches every FeatureKey of collection.
func CollectionPrefix(collection string) string {
	return featurePrefix + sanitize(strings.TrimSpace(collection)) + ":"
}

func sanitize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		var out rune
		switch {
		case isASCIIWhitespace(r):
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-' || r == '.':
			out = r
		default:
			// ':' included, it separates key segments
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isASCIIWhitespace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f'
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r < unicode.MaxASCII && unicode.IsDigit(r))
}
