package tarot_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mooncourt/arcana/tarot"
)

func TestNewDeck_Validation(t *testing.T) {
	_, err := tarot.NewDeck(nil, 0.3, nil)
	assert.Error(t, err)

	_, err = tarot.NewDeck(tarot.MajorArcana, -0.1, nil)
	assert.Error(t, err)

	_, err = tarot.NewDeck(tarot.MajorArcana, 1.5, nil)
	assert.Error(t, err)
}

func TestDeck_DrawWithoutReplacement(t *testing.T) {
	deck, err := tarot.SessionDeck("session-1", tarot.MajorArcana, 0.3, 0)
	require.NoError(t, err)
	require.Equal(t, len(tarot.MajorArcana), deck.Remaining())

	seen := make(map[string]bool)
	for i := 0; i < len(tarot.MajorArcana); i++ {
		card, _, err := deck.Draw()
		require.NoError(t, err)
		assert.False(t, seen[card.ID], "card %s drawn twice", card.ID)
		seen[card.ID] = true
	}
	assert.Equal(t, 0, deck.Remaining())

	_, _, err = deck.Draw()
	assert.Error(t, err, "exhausted deck must refuse to draw")
}

func TestSessionDeck_Deterministic(t *testing.T) {
	a, err := tarot.SessionDeck("session-1", tarot.MajorArcana, 0.3, 0)
	require.NoError(t, err)
	b, err := tarot.SessionDeck("session-1", tarot.MajorArcana, 0.3, 0)
	require.NoError(t, err)

	for i := 0; i < len(tarot.MajorArcana); i++ {
		cardA, revA, err := a.Draw()
		require.NoError(t, err)
		cardB, revB, err := b.Draw()
		require.NoError(t, err)
		assert.Equal(t, cardA.ID, cardB.ID, "draw %d diverged", i)
		assert.Equal(t, revA, revB, "orientation of draw %d diverged", i)
	}
}

func TestSessionDeck_FastForwardMatchesSequentialDraws(t *testing.T) {
	full, err := tarot.SessionDeck("session-2", tarot.MajorArcana, 0.3, 0)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, _, err := full.Draw()
		require.NoError(t, err)
	}

	resumed, err := tarot.SessionDeck("session-2", tarot.MajorArcana, 0.3, 3)
	require.NoError(t, err)
	require.Equal(t, full.Remaining(), resumed.Remaining())

	cardA, revA, err := full.Draw()
	require.NoError(t, err)
	cardB, revB, err := resumed.Draw()
	require.NoError(t, err)
	assert.Equal(t, cardA.ID, cardB.ID)
	assert.Equal(t, revA, revB)
}

func TestSessionDeck_DifferentSessionsDiffer(t *testing.T) {
	a, err := tarot.SessionDeck("session-a", tarot.MajorArcana, 0, 0)
	require.NoError(t, err)
	b, err := tarot.SessionDeck("session-b", tarot.MajorArcana, 0, 0)
	require.NoError(t, err)

	var orderA, orderB []string
	for i := 0; i < len(tarot.MajorArcana); i++ {
		ca, _, err := a.Draw()
		require.NoError(t, err)
		cb, _, err := b.Draw()
		require.NoError(t, err)
		orderA = append(orderA, ca.ID)
		orderB = append(orderB, cb.ID)
	}
	assert.NotEqual(t, orderA, orderB, "distinct sessions should shuffle differently")
}

func TestSessionDeck_ReversedProbabilityExtremes(t *testing.T) {
	never, err := tarot.SessionDeck("session-3", tarot.MajorArcana, 0, 0)
	require.NoError(t, err)
	always, err := tarot.SessionDeck("session-3", tarot.MajorArcana, 1, 0)
	require.NoError(t, err)

	for i := 0; i < len(tarot.MajorArcana); i++ {
		_, rev, err := never.Draw()
		require.NoError(t, err)
		assert.False(t, rev)

		_, rev, err = always.Draw()
		require.NoError(t, err)
		assert.True(t, rev)
	}
}

func TestCard_Meaning(t *testing.T) {
	card, ok := tarot.ByID("the-fool")
	require.True(t, ok)
	assert.Equal(t, card.Upright, card.Meaning(false))
	assert.Equal(t, card.Reversed, card.Meaning(true))

	_, ok = tarot.ByID("no-such-card")
	assert.False(t, ok)
}

func TestMajorArcana_Complete(t *testing.T) {
	require.Len(t, tarot.MajorArcana, 22)
	ids := make(map[string]bool)
	for _, card := range tarot.MajorArcana {
		assert.NotEmpty(t, card.ID)
		assert.NotEmpty(t, card.Name)
		assert.NotEmpty(t, card.Upright)
		assert.NotEmpty(t, card.Reversed)
		assert.False(t, ids[card.ID], "duplicate card id %s", card.ID)
		ids[card.ID] = true
	}
}
