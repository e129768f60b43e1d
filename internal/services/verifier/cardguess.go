package verifier

import (
	"context"
	"encoding/json"
)

const (
	// WinStreak is the number of correct guesses that wins a round
	WinStreak = 5
	// PerfectStreak is the streak graded perfect
	PerfectStreak = 10

	deckSize = 52
)

type cardTranscript struct {
	Guesses []string `json:"guesses"`
}

// CardGuess shuffles a deck from the seed; the player guesses whether each
// next card ranks higher or lower than the current one. Equal ranks count
// as correct either way. The round ends on the first wrong guess.
type CardGuess struct{}

func (CardGuess) Key() string { return "cardguess" }

// ShuffleRanks returns the card ranks (1-13) in the order the seed deals them
func ShuffleRanks(rng *Mulberry32) []int {
	deck := make([]int, deckSize)
	for i := range deck {
		deck[i] = i
	}
	for i := deckSize - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		deck[i], deck[j] = deck[j], deck[i]
	}
	for i, card := range deck {
		deck[i] = card%13 + 1
	}
	return deck
}

func (CardGuess) Replay(_ context.Context, rng *Mulberry32, raw json.RawMessage) (*Replay, error) {
	var t cardTranscript
	if err := decodeTranscript(raw, &t); err != nil {
		return nil, err
	}
	if len(t.Guesses) == 0 || len(t.Guesses) > deckSize-1 {
		return nil, malformed("expected 1 to %d guesses, got %d", deckSize-1, len(t.Guesses))
	}

	ranks := ShuffleRanks(rng)
	streak := 0
	for i, guess := range t.Guesses {
		current, next := ranks[i], ranks[i+1]
		var correct bool
		switch guess {
		case "higher":
			correct = next >= current
		case "lower":
			correct = next <= current
		default:
			return nil, malformed("guess %d is %q", i, guess)
		}
		if !correct {
			if i != len(t.Guesses)-1 {
				return nil, malformed("guess %d follows a wrong guess", i+1)
			}
			break
		}
		streak++
	}

	tier := TierNone
	if streak >= PerfectStreak {
		tier = TierPerfect
	}
	if streak >= WinStreak {
		return exact(OutcomeWin, streak, tier), nil
	}
	return exact(OutcomeLoss, streak, TierNone), nil
}
