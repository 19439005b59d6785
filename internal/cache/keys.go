package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// Volatile substrings stripped before content hashing so that semantically
// identical inputs land on the same key regardless of superficial noise.
var (
	timestampPattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}(:\d{2})?(\.\d+)?(Z|[+-]\d{2}:?\d{2})?`)
	emailPattern     = regexp.MustCompile(`[\w.+-]+@[\w-]+\.[\w.-]+`)
	phonePattern     = regexp.MustCompile(`\+?\d[\d\s().-]{7,}\d`)
	whitespaceRun    = regexp.MustCompile(`\s+`)
)

// KeyCodec builds deterministic cache keys. Content-addressed keys hash
// normalized input; artifact keys are ordered tuples whose optional segments
// are simply absent, never padded, so prefix patterns match correctly.
type KeyCodec struct {
	prefix string
}

// NewKeyCodec creates a codec with the given artifact key prefix
func NewKeyCodec(prefix string) *KeyCodec {
	if prefix == "" {
		prefix = "manifest"
	}
	return &KeyCodec{prefix: prefix}
}

// Prefix returns the configured artifact key prefix
func (c *KeyCodec) Prefix() string {
	return c.prefix
}

// NormalizeContent lowercases the input and strips volatile substrings
// (timestamps, email addresses, phone numbers) plus whitespace runs.
func NormalizeContent(content string) string {
	s := strings.ToLower(content)
	s = timestampPattern.ReplaceAllString(s, "")
	s = emailPattern.ReplaceAllString(s, "")
	s = phonePattern.ReplaceAllString(s, "")
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// ContentKey builds a content-addressed key: {namespace}:{category}:{hash16}
func (c *KeyCodec) ContentKey(namespace, category, content string) string {
	sum := sha256.Sum256([]byte(NormalizeContent(content)))
	return namespace + ":" + category + ":" + hex.EncodeToString(sum[:])[:16]
}

// ArtifactKey builds a structured key for a generated artifact:
// {prefix}:{environment}:{variant}[:{version}][:{bust}]. Empty optional
// segments are omitted.
func (c *KeyCodec) ArtifactKey(environment, variant, version, bust string) string {
	parts := []string{c.prefix, environment, variant}
	if version != "" {
		parts = append(parts, version)
	}
	if bust != "" {
		parts = append(parts, bust)
	}
	return strings.Join(parts, ":")
}

// Pattern builds an invalidation pattern scoped to whichever filters are
// present; with no filters it matches every artifact under the prefix.
func (c *KeyCodec) Pattern(environment, variant string) string {
	switch {
	case environment != "" && variant != "":
		return c.prefix + ":" + environment + ":" + variant + ":*"
	case environment != "":
		return c.prefix + ":" + environment + ":*"
	default:
		return c.prefix + ":*"
	}
}

// metadataSuffix marks sidecar metadata keys
const metadataSuffix = ":metadata"

// MetadataKey derives the sidecar metadata key for a cache entry
func MetadataKey(key string) string {
	return key + metadataSuffix
}
