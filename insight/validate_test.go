package insight_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mooncourt/arcana/insight"
)

func TestValidate_StructuredResponse(t *testing.T) {
	content := `{
		"overall_message": "A season of change is closing.",
		"key_themes": ["endings", "renewal"],
		"guidance": "Let go of what has already left.",
		"card_notes": [
			{"position": "Past", "card": "Death", "note": "transformation completed"}
		]
	}`

	ins := insight.Validate("sess-1", content, nil)
	require.NotNil(t, ins)
	assert.Equal(t, "sess-1", ins.SessionID)
	assert.False(t, ins.Degraded)
	assert.Equal(t, "A season of change is closing.", ins.OverallMessage)
	assert.Equal(t, []string{"endings", "renewal"}, ins.KeyThemes)
	assert.Equal(t, "Let go of what has already left.", ins.Guidance)
	require.Len(t, ins.CardNotes, 1)
	assert.Equal(t, "Death", ins.CardNotes[0].Card)
}

func TestValidate_FencedResponse(t *testing.T) {
	content := "Here is the reading:\n```json\n{\"overall_message\": \"Hold steady.\"}\n```\n"

	ins := insight.Validate("sess-1", content, nil)
	assert.False(t, ins.Degraded)
	assert.Equal(t, "Hold steady.", ins.OverallMessage)
}

func TestValidate_MissingOptionalSections(t *testing.T) {
	ins := insight.Validate("sess-1", `{"overall_message": "Trust the process."}`, nil)
	assert.False(t, ins.Degraded)
	assert.Empty(t, ins.KeyThemes)
	assert.Empty(t, ins.Guidance)
	assert.Empty(t, ins.CardNotes)
}

func TestValidate_DegradesToFreeText(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "no JSON at all", content: "The cards suggest patience and care."},
		{name: "broken JSON", content: `{"overall_message": "unterminated`},
		{name: "missing overall_message", content: `{"guidance": "be kind"}`},
		{name: "blank overall_message", content: `{"overall_message": "   "}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ins := insight.Validate("sess-1", tt.content, nil)
			require.NotNil(t, ins)
			assert.True(t, ins.Degraded)
			assert.NotEmpty(t, ins.OverallMessage)
		})
	}
}

func TestValidate_TrimsNoise(t *testing.T) {
	content := `{
		"overall_message": "  Centered.  ",
		"key_themes": ["", "  ", "focus"],
		"card_notes": [{"position": "Now", "card": "The Star", "note": "  "}]
	}`

	ins := insight.Validate("sess-1", content, nil)
	assert.Equal(t, "Centered.", ins.OverallMessage)
	assert.Equal(t, []string{"focus"}, ins.KeyThemes)
	assert.Empty(t, ins.CardNotes, "notes without content are dropped")
}

func TestJobStatus_Terminal(t *testing.T) {
	assert.False(t, insight.JobQueued.Terminal())
	assert.False(t, insight.JobRunning.Terminal())
	assert.True(t, insight.JobSucceeded.Terminal())
	assert.True(t, insight.JobFailed.Terminal())
}
