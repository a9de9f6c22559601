package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewGeneration_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		g := NewGeneration()
		assert.False(t, seen[g])
		seen[g] = true
	}
}

func TestNewRequestID(t *testing.T) {
	id := NewRequestID()
	assert.Contains(t, id, "req_")
	assert.NotEqual(t, id, NewRequestID())
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"  Alice  ", "Alice"},
		{"Bob\x00\x07", "Bob"},
		{"line\nbreak", "linebreak"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeString(tt.input))
	}
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", TruncateString("short", 10))
	assert.Equal(t, "longer...", TruncateString("longer string", 9))
	assert.Equal(t, "ab", TruncateString("abcdef", 2))
	assert.Equal(t, "ŁŁ...", TruncateString("ŁŁŁŁŁŁ", 5))
}
