package verifier

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/playhub/internal/model"
	"github.com/mcoot/playhub/internal/services/dictionary"
	"github.com/mcoot/playhub/internal/storage/memory"
	"github.com/mcoot/playhub/internal/testutil"
)

func replay(t *testing.T, g Game, seed uint32, transcript string) (*Replay, error) {
	t.Helper()
	return g.Replay(context.Background(), NewMulberry32(seed), json.RawMessage(transcript))
}

func TestTicTacToe(t *testing.T) {
	tests := []struct {
		name       string
		transcript string
		outcome    Outcome
		tier       Tier
		malformed  bool
	}{
		{"x wins top row", `{"player_symbol":"X","moves":[0,3,1,4,2]}`, OutcomeWin, TierPerfect, false},
		{"o sees x win", `{"player_symbol":"O","moves":[0,3,1,4,2]}`, OutcomeLoss, TierNone, false},
		{"o wins diagonal", `{"player_symbol":"O","moves":[1,0,2,4,7,8]}`, OutcomeWin, TierPerfect, false},
		{"full board draw", `{"player_symbol":"X","moves":[4,0,8,2,1,7,6,3,5]}`, OutcomeDraw, TierNone, false},
		{"x wins late", `{"player_symbol":"X","moves":[0,1,3,4,2,5,6]}`, OutcomeWin, TierNone, false},
		{"unfinished", `{"player_symbol":"X","moves":[0,3,1,4,5]}`, OutcomeUnfinished, TierNone, false},
		{"move after win", `{"player_symbol":"X","moves":[0,3,1,4,2,5]}`, "", TierNone, true},
		{"occupied cell", `{"player_symbol":"X","moves":[0,0]}`, "", TierNone, true},
		{"out of range", `{"player_symbol":"X","moves":[9]}`, "", TierNone, true},
		{"bad symbol", `{"player_symbol":"Z","moves":[0]}`, "", TierNone, true},
		{"not json", `[0,3,1]`, "", TierNone, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := replay(t, TicTacToe{}, 1, tt.transcript)
			if tt.malformed {
				assert.ErrorIs(t, err, model.ErrMalformedTranscript)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, r.Outcome)
			assert.Equal(t, tt.tier, r.Tier)
		})
	}
}

func TestWordGameRack(t *testing.T) {
	assert.Equal(t, "LNFUATI", string(DealRack(NewMulberry32(42))))
	assert.Equal(t, "EEXDTNR", string(DealRack(NewMulberry32(7))))
}

func TestWordGame(t *testing.T) {
	dict := dictionary.New(memory.New(), testutil.NopLogger())
	dict.LoadWords([]string{"flaunt", "faint", "unfit", "tin", "at", "fluent"})
	game := NewWordGame(dict)

	// Seed 42 deals LNFUATI
	tests := []struct {
		name       string
		transcript string
		outcome    Outcome
		score      int
		tier       Tier
		malformed  bool
	}{
		{"longest word first try", `{"attempts":["FLAUNT"]}`, OutcomeWin, 9, TierPerfect, false},
		{"first try", `{"attempts":["tin"]}`, OutcomeWin, 3, TierFirstTry, false},
		{"second try", `{"attempts":["fluent","faint"]}`, OutcomeWin, 8, TierNone, false},
		{"not in rack", `{"attempts":["fluent"]}`, OutcomeLoss, 0, TierNone, false},
		{"not a word", `{"attempts":["taint","unfat"]}`, OutcomeLoss, 0, TierNone, false},
		{"attempts after success", `{"attempts":["tin","faint"]}`, "", 0, TierNone, true},
		{"too many attempts", `{"attempts":["a","b","c","d"]}`, "", 0, TierNone, true},
		{"no attempts", `{"attempts":[]}`, "", 0, TierNone, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := replay(t, game, 42, tt.transcript)
			if tt.malformed {
				assert.ErrorIs(t, err, model.ErrMalformedTranscript)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, r.Outcome)
			assert.Equal(t, tt.score, r.MaxScore)
			assert.Equal(t, tt.tier, r.Tier)
		})
	}
}

func TestTileMatch(t *testing.T) {
	budget, target := TileRules(NewMulberry32(42))
	assert.Equal(t, 16, budget)
	assert.Equal(t, 300, target)

	tests := []struct {
		name       string
		transcript string
		outcome    Outcome
		score      int
		tier       Tier
		malformed  bool
	}{
		{"below target", `{"moves":[{"cleared":3,"combo":1},{"cleared":4,"combo":2},{"cleared":5,"combo":3}]}`, OutcomeLoss, 260, TierNone, false},
		{"combo win", `{"moves":[{"cleared":3,"combo":1},{"cleared":4,"combo":2},{"cleared":5,"combo":3},{"cleared":4,"combo":4}]}`, OutcomeWin, 420, TierHighCombo, false},
		{"plain win", `{"moves":[{"cleared":12,"combo":1},{"cleared":12,"combo":2}]}`, OutcomeWin, 360, TierNone, false},
		{"combo jumps", `{"moves":[{"cleared":3,"combo":1},{"cleared":3,"combo":3}]}`, "", 0, TierNone, true},
		{"too few cleared", `{"moves":[{"cleared":2,"combo":1}]}`, "", 0, TierNone, true},
		{"too many cleared", `{"moves":[{"cleared":13,"combo":1}]}`, "", 0, TierNone, true},
		{"no moves", `{"moves":[]}`, "", 0, TierNone, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := replay(t, TileMatch{}, 42, tt.transcript)
			if tt.malformed {
				assert.ErrorIs(t, err, model.ErrMalformedTranscript)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, r.Outcome)
			assert.Equal(t, tt.score, r.MinScore)
			assert.Equal(t, tt.score, r.MaxScore)
			assert.Equal(t, tt.tier, r.Tier)
		})
	}
}

func TestTileMatchMoveBudget(t *testing.T) {
	// Seed 7 allows 10 moves
	moves := `{"moves":[` +
		`{"cleared":3,"combo":1},{"cleared":3,"combo":1},{"cleared":3,"combo":1},{"cleared":3,"combo":1},` +
		`{"cleared":3,"combo":1},{"cleared":3,"combo":1},{"cleared":3,"combo":1},{"cleared":3,"combo":1},` +
		`{"cleared":3,"combo":1},{"cleared":3,"combo":1},{"cleared":3,"combo":1}]}`
	_, err := replay(t, TileMatch{}, 7, moves)
	assert.ErrorIs(t, err, model.ErrMalformedTranscript)
}

func TestCardGuess(t *testing.T) {
	assert.Equal(t, []int{3, 9, 2, 13, 13, 9, 7, 11}, ShuffleRanks(NewMulberry32(42))[:8])

	tests := []struct {
		name       string
		transcript string
		outcome    Outcome
		score      int
		tier       Tier
		malformed  bool
	}{
		{"perfect streak", `{"guesses":["higher","lower","higher","higher","lower","lower","higher","lower","lower","higher","lower"]}`, OutcomeWin, 11, TierPerfect, false},
		{"short win", `{"guesses":["higher","lower","higher","lower","lower"]}`, OutcomeWin, 5, TierNone, false},
		{"first guess wrong", `{"guesses":["lower"]}`, OutcomeLoss, 0, TierNone, false},
		{"ends on a miss", `{"guesses":["higher","lower","lower"]}`, OutcomeLoss, 2, TierNone, false},
		{"guess after miss", `{"guesses":["lower","higher"]}`, "", 0, TierNone, true},
		{"unknown guess", `{"guesses":["same"]}`, "", 0, TierNone, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := replay(t, CardGuess{}, 42, tt.transcript)
			if tt.malformed {
				assert.ErrorIs(t, err, model.ErrMalformedTranscript)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, r.Outcome)
			assert.Equal(t, tt.score, r.MaxScore)
			assert.Equal(t, tt.tier, r.Tier)
		})
	}
}
