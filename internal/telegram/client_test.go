package telegram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitByBytes(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitByBytes("short", 4096))

	parts := splitByBytes(strings.Repeat("a", 10), 4)
	assert.Equal(t, []string{"aaaa", "aaaa", "aa"}, parts)

	// Multi-byte runes are never split.
	parts = splitByBytes(strings.Repeat("é", 5), 4)
	assert.Equal(t, []string{"éé", "éé", "é"}, parts)
	assert.Equal(t, strings.Repeat("é", 5), strings.Join(parts, ""))
}

func TestTruncateByBytes(t *testing.T) {
	assert.Equal(t, "abc", truncateByBytes("abc", 10))
	assert.Equal(t, "ab", truncateByBytes("abc", 2))
	assert.Equal(t, "é", truncateByBytes("éé", 3))
	assert.Equal(t, "abc", truncateByBytes("abc", 0))
}
