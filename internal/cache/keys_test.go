package cache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeContent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "lowercases and collapses whitespace",
			input:    "Hello   WORLD\n\tfoo",
			expected: "hello world foo",
		},
		{
			name:     "strips timestamps",
			input:    "generated at 2026-08-28T10:15:30Z for review",
			expected: "generated at for review",
		},
		{
			name:     "strips email addresses",
			input:    "contact Support+Team@wellintake.io today",
			expected: "contact today",
		},
		{
			name:     "strips phone numbers",
			input:    "call +1 (555) 123-4567 now",
			expected: "call now",
		},
		{
			name:     "identical content after noise removal",
			input:    "Report 2026-08-28 10:15 by a@b.co",
			expected: "report by",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, NormalizeContent(tt.input))
		})
	}
}

func TestContentKeyStability(t *testing.T) {
	t.Parallel()

	codec := NewKeyCodec("manifest")

	a := codec.ContentKey("intake", "email", "Hello World from a@b.co at 2026-08-28T10:15:30Z")
	b := codec.ContentKey("intake", "email", "hello   world from c@d.org at 2025-01-01 00:00")
	assert.Equal(t, a, b, "keys must agree once volatile noise is stripped")

	c := codec.ContentKey("intake", "email", "different content entirely")
	assert.NotEqual(t, a, c)

	parts := strings.Split(a, ":")
	assert.Len(t, parts, 3)
	assert.Equal(t, "intake", parts[0])
	assert.Equal(t, "email", parts[1])
	assert.Len(t, parts[2], 16)
}

func TestArtifactKey(t *testing.T) {
	t.Parallel()

	codec := NewKeyCodec("manifest")

	tests := []struct {
		name        string
		environment string
		variant     string
		version     string
		bust        string
		expected    string
	}{
		{
			name:        "all segments",
			environment: "production",
			variant:     "default",
			version:     "1.2.3",
			bust:        "98765",
			expected:    "manifest:production:default:1.2.3:98765",
		},
		{
			name:        "no version",
			environment: "staging",
			variant:     "a",
			bust:        "98765",
			expected:    "manifest:staging:a:98765",
		},
		{
			name:        "no bust",
			environment: "staging",
			variant:     "a",
			version:     "2.0.0",
			expected:    "manifest:staging:a:2.0.0",
		},
		{
			name:        "required segments only",
			environment: "development",
			variant:     "beta",
			expected:    "manifest:development:beta",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, codec.ArtifactKey(tt.environment, tt.variant, tt.version, tt.bust))
		})
	}
}

func TestPattern(t *testing.T) {
	t.Parallel()

	codec := NewKeyCodec("manifest")

	assert.Equal(t, "manifest:production:a:*", codec.Pattern("production", "a"))
	assert.Equal(t, "manifest:production:*", codec.Pattern("production", ""))
	assert.Equal(t, "manifest:*", codec.Pattern("", ""))
	// Variant without environment cannot be scoped tighter than the prefix
	assert.Equal(t, "manifest:*", codec.Pattern("", "a"))
}

func TestKeyCodecDefaultPrefix(t *testing.T) {
	t.Parallel()

	codec := NewKeyCodec("")
	assert.Equal(t, "manifest", codec.Prefix())
}

func TestMetadataKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "manifest:production:a:v1:metadata", MetadataKey("manifest:production:a:v1"))
}
