package verifier

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mcoot/playhub/internal/model"
)

// Outcome is a game result from the submitting player's point of view
type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeLoss Outcome = "loss"
	OutcomeDraw Outcome = "draw"
	// OutcomeUnfinished is what a transcript that stops before the game
	// ends replays to. No claim can match it.
	OutcomeUnfinished Outcome = "unfinished"
)

// Valid reports whether the outcome may be claimed
func (o Outcome) Valid() bool {
	return o == OutcomeWin || o == OutcomeLoss || o == OutcomeDraw
}

// Tier is a performance grade used to size rewards
type Tier string

const (
	TierNone      Tier = ""
	TierFirstTry  Tier = "first_try"
	TierHighCombo Tier = "high_combo"
	TierLongWord  Tier = "long_word"
	TierPerfect   Tier = "perfect"
)

// Replay is the state a game reconstructs from a seed and a transcript
type Replay struct {
	Outcome Outcome
	// MinScore and MaxScore bound the scores consistent with the transcript
	MinScore int
	MaxScore int
	Tier     Tier
}

// Game reconstructs a finished game from the seed-derived random sequence
// and the client's transcript. Transcripts that cannot describe a legal
// game fail with model.ErrMalformedTranscript.
type Game interface {
	Key() string
	Replay(ctx context.Context, rng *Mulberry32, transcript json.RawMessage) (*Replay, error)
}

func decodeTranscript(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty transcript: %w", model.ErrMalformedTranscript)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%v: %w", err, model.ErrMalformedTranscript)
	}
	return nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), model.ErrMalformedTranscript)
}

func exact(outcome Outcome, score int, tier Tier) *Replay {
	return &Replay{Outcome: outcome, MinScore: score, MaxScore: score, Tier: tier}
}
