package verifier

import (
	"context"
	"encoding/json"
)

// Tile-match balance. A move clears MinClear to MaxClear tiles; its combo
// can grow by at most one per move and resets freely.
const (
	MinClear       = 3
	MaxClear       = 12
	MaxCombo       = 6
	HighComboLevel = 4
	pointsPerTile  = 10
)

type tileMove struct {
	Cleared int `json:"cleared"`
	Combo   int `json:"combo"`
}

type tileTranscript struct {
	Moves []tileMove `json:"moves"`
}

// TileMatch checks each move against per-move clear and combo bounds. The
// seed fixes the move budget and the target score.
type TileMatch struct{}

func (TileMatch) Key() string { return "tilematch" }

// TileRules returns the move budget and target score the seed deals
func TileRules(rng *Mulberry32) (budget, target int) {
	budget = 10 + rng.Intn(11)
	target = 200 + 50*rng.Intn(5)
	return budget, target
}

func (TileMatch) Replay(_ context.Context, rng *Mulberry32, raw json.RawMessage) (*Replay, error) {
	var t tileTranscript
	if err := decodeTranscript(raw, &t); err != nil {
		return nil, err
	}

	budget, target := TileRules(rng)
	if len(t.Moves) == 0 || len(t.Moves) > budget {
		return nil, malformed("expected 1 to %d moves, got %d", budget, len(t.Moves))
	}

	score, prevCombo, bestCombo := 0, 0, 0
	for i, m := range t.Moves {
		if m.Cleared < MinClear || m.Cleared > MaxClear {
			return nil, malformed("move %d clears %d tiles", i, m.Cleared)
		}
		if m.Combo < 1 || m.Combo > MaxCombo || m.Combo > prevCombo+1 {
			return nil, malformed("move %d has combo %d after %d", i, m.Combo, prevCombo)
		}
		score += m.Cleared * pointsPerTile * m.Combo
		prevCombo = m.Combo
		bestCombo = max(bestCombo, m.Combo)
	}

	tier := TierNone
	if bestCombo >= HighComboLevel {
		tier = TierHighCombo
	}
	if score >= target {
		return exact(OutcomeWin, score, tier), nil
	}
	return exact(OutcomeLoss, score, TierNone), nil
}
