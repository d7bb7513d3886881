package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractCode(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
	}{
		{
			name:     "plain fence",
			response: "```\nFINAL(1)\n```",
			want:     "FINAL(1)",
		},
		{
			name:     "python tag ignored",
			response: "```python\nx = 1\nFINAL(x)\n```",
			want:     "x = 1\nFINAL(x)",
		},
		{
			name:     "prose around the block",
			response: "Here is the program:\n\n```python\nFINAL(\"ok\")\n```\n\nLet me know!",
			want:     "FINAL(\"ok\")",
		},
		{
			name:     "first of several blocks wins",
			response: "```\nFINAL(1)\n```\ntext\n```\nFINAL(2)\n```",
			want:     "FINAL(1)",
		},
		{
			name:     "no fence means whole response",
			response: "  FINAL(42)\n",
			want:     "FINAL(42)",
		},
		{
			name:     "unterminated fence",
			response: "```python\nFINAL(3)",
			want:     "FINAL(3)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractCode(tt.response))
		})
	}
}

func TestBuildRootUserMessage(t *testing.T) {
	msg := buildRootUserMessage("summarize", "0123456789", 50000, map[string]any{"topic": "go"})
	assert.Contains(t, msg, "Query: summarize")
	assert.Contains(t, msg, "size: 10 characters")
	assert.Contains(t, msg, "sha256:")
	assert.Contains(t, msg, `"0123456789"`)
	assert.Contains(t, msg, "50000 characters")
	assert.Contains(t, msg, `"topic":"go"`)
}

func TestBuildRootUserMessageTruncatesSample(t *testing.T) {
	blob := make([]byte, 1000)
	for i := range blob {
		blob[i] = 'a'
	}
	msg := buildRootUserMessage("q", string(blob), 100, nil)
	assert.Contains(t, msg, "size: 1000 characters")
	assert.NotContains(t, msg, string(blob[:300]))
}
