package tarot

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
)

// Deck draws cards for a single session: shuffled once at creation, drawn
// without replacement, each draw carrying an independent reversed flip.
type Deck struct {
	cards     []Card
	next      int
	reversedP float64
	rng       *rand.Rand
}

// NewDeck returns a shuffled copy of cards. reversedP is the probability a
// drawn card is reversed; it must be in [0,1]. A nil source uses the shared
// global generator.
func NewDeck(cards []Card, reversedP float64, src rand.Source) (*Deck, error) {
	if len(cards) == 0 {
		return nil, fmt.Errorf("deck requires at least one card")
	}
	if reversedP < 0 || reversedP > 1 {
		return nil, fmt.Errorf("reversed probability %v out of range [0,1]", reversedP)
	}

	d := &Deck{
		cards:     make([]Card, len(cards)),
		reversedP: reversedP,
	}
	copy(d.cards, cards)
	if src != nil {
		d.rng = rand.New(src)
	}
	d.shuffle()
	return d, nil
}

func (d *Deck) shuffle() {
	swap := func(i, j int) { d.cards[i], d.cards[j] = d.cards[j], d.cards[i] }
	if d.rng != nil {
		d.rng.Shuffle(len(d.cards), swap)
		return
	}
	rand.Shuffle(len(d.cards), swap)
}

// SessionDeck builds the deterministic deck for a session: the shuffle order
// and orientation flips derive from the session id, so the deck never needs
// to be persisted. Rebuilding it and fast-forwarding past the already-opened
// slots always yields the same remaining cards, which keeps retried
// transitions from double-assigning.
func SessionDeck(sessionID string, cards []Card, reversedP float64, opened int) (*Deck, error) {
	sum := sha256.Sum256([]byte(sessionID))
	src := rand.NewPCG(binary.LittleEndian.Uint64(sum[:8]), binary.LittleEndian.Uint64(sum[8:16]))

	deck, err := NewDeck(cards, reversedP, src)
	if err != nil {
		return nil, err
	}
	for i := 0; i < opened; i++ {
		if _, _, err := deck.Draw(); err != nil {
			return nil, fmt.Errorf("fast-forward deck for session %s: %w", sessionID, err)
		}
	}
	return deck, nil
}

// Remaining reports how many cards have not been drawn yet.
func (d *Deck) Remaining() int {
	return len(d.cards) - d.next
}

// Draw removes the next card from the deck and flips its orientation.
// Drawing from an exhausted deck is an error.
func (d *Deck) Draw() (Card, bool, error) {
	if d.next >= len(d.cards) {
		return Card{}, false, fmt.Errorf("deck exhausted after %d draws", d.next)
	}
	card := d.cards[d.next]
	d.next++

	var roll float64
	if d.rng != nil {
		roll = d.rng.Float64()
	} else {
		roll = rand.Float64()
	}
	return card, roll < d.reversedP, nil
}
