// Package spread defines spread layouts and the catalog they are loaded from.
//
// A spread is a named arrangement of ordered card positions. Definitions are
// immutable after load and shared read-only across sessions; the catalog can
// reload them from disk when the spreads directory changes.
package spread

import (
	"fmt"
)

// PositionSlot describes one position within a spread.
type PositionSlot struct {
	Index   int     `json:"index" yaml:"index"`
	Name    string  `json:"name" yaml:"name"`
	Meaning string  `json:"meaning" yaml:"meaning"`
	X       float64 `json:"x" yaml:"x"`
	Y       float64 `json:"y" yaml:"y"`
}

// Definition is an immutable spread layout.
type Definition struct {
	ID        string         `json:"id" yaml:"id"`
	Name      string         `json:"name" yaml:"name"`
	Positions []PositionSlot `json:"positions" yaml:"positions"`
}

// Size returns the number of positions in the spread.
func (d *Definition) Size() int {
	return len(d.Positions)
}

// Validate checks structural invariants: non-empty id and name, at least one
// position, and position indexes forming the contiguous range 0..n-1.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("spread id is required")
	}
	if d.Name == "" {
		return fmt.Errorf("spread %s: name is required", d.ID)
	}
	if len(d.Positions) == 0 {
		return fmt.Errorf("spread %s: at least one position is required", d.ID)
	}
	for i, p := range d.Positions {
		if p.Index != i {
			return fmt.Errorf("spread %s: position %d has index %d, expected contiguous 0-based indexes", d.ID, i, p.Index)
		}
		if p.Name == "" {
			return fmt.Errorf("spread %s: position %d has no name", d.ID, i)
		}
	}
	return nil
}

// Builtin returns the default spread definitions shipped with the engine.
// They are used when no catalog directory is configured.
func Builtin() []*Definition {
	return []*Definition{
		{
			ID:   "single-card",
			Name: "Single Card",
			Positions: []PositionSlot{
				{Index: 0, Name: "The Heart of the Matter", Meaning: "the central energy of the question", X: 0.5, Y: 0.5},
			},
		},
		{
			ID:   "past-present-future",
			Name: "Past, Present, Future",
			Positions: []PositionSlot{
				{Index: 0, Name: "Past", Meaning: "influences that shaped the situation", X: 0.2, Y: 0.5},
				{Index: 1, Name: "Present", Meaning: "the situation as it stands now", X: 0.5, Y: 0.5},
				{Index: 2, Name: "Future", Meaning: "the direction events are moving", X: 0.8, Y: 0.5},
			},
		},
		{
			ID:   "five-card-cross",
			Name: "Five Card Cross",
			Positions: []PositionSlot{
				{Index: 0, Name: "Present", Meaning: "where the querent stands", X: 0.5, Y: 0.5},
				{Index: 1, Name: "Challenge", Meaning: "what crosses or blocks the querent", X: 0.5, Y: 0.25},
				{Index: 2, Name: "Past", Meaning: "what lies behind", X: 0.25, Y: 0.5},
				{Index: 3, Name: "Future", Meaning: "what lies ahead", X: 0.75, Y: 0.5},
				{Index: 4, Name: "Outcome", Meaning: "where the path leads", X: 0.5, Y: 0.75},
			},
		},
	}
}
