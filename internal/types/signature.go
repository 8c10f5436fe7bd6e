package types

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"regexp"
	"strings"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// TaskSignature computes the canonical fingerprint of (instruction, url).
// The instruction is lowercased, trimmed and whitespace-collapsed; the URL is
// reduced to scheme://host/path with scheme and host lowercased and the
// trailing slash dropped. Query strings and fragments are ignored so that a
// page keeps its signature across tracking-parameter churn.
func TaskSignature(instruction, rawURL string) string {
	inst := whitespaceRun.ReplaceAllString(strings.ToLower(strings.TrimSpace(instruction)), " ")

	canonical := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Scheme != "" {
		path := strings.TrimSuffix(u.Path, "/")
		canonical = strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + path
	}
	return inst + "|" + canonical
}

// CacheKey derives the content-addressed plan cache key from a signature.
func CacheKey(taskSignature string) string {
	sum := sha256.Sum256([]byte("cache_" + taskSignature))
	return hex.EncodeToString(sum[:])
}
