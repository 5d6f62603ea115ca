package llm_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mooncourt/arcana/llm"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "bare object",
			content: `{"a": 1}`,
			want:    `{"a": 1}`,
		},
		{
			name:    "fenced with language",
			content: "prefix\n```json\n{\"a\": 1}\n```\nsuffix",
			want:    `{"a": 1}`,
		},
		{
			name:    "fenced without language",
			content: "```\n{\"a\": 1}\n```",
			want:    `{"a": 1}`,
		},
		{
			name:    "surrounded by prose",
			content: "Sure! Here you go: {\"a\": 1} Hope that helps.",
			want:    `{"a": 1}`,
		},
		{
			name:    "no object",
			content: "just words, no json here",
			want:    "",
		},
		{
			name:    "empty",
			content: "",
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, llm.ExtractJSON(tt.content))
		})
	}
}

func TestExtractJSON_RepairsArtifacts(t *testing.T) {
	content := `{
	"themes": ["a", "b",], // the main themes
	"url": "https://example.com/path",
	"n": 1,
}`

	got := llm.ExtractJSON(content)
	require.NotEmpty(t, got)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(got), &parsed), "repaired output must be valid JSON: %s", got)
	assert.Equal(t, "https://example.com/path", parsed["url"], "URLs must survive comment stripping")
	assert.Equal(t, []any{"a", "b"}, parsed["themes"])
}

func TestExtractJSON_NestedObjects(t *testing.T) {
	content := `{"outer": {"inner": {"deep": true}}}`
	got := llm.ExtractJSON(content)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(got), &parsed))
	assert.Contains(t, parsed, "outer")
}
