package verifier

import (
	"context"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/mcoot/playhub/internal/services/dictionary"
)

const (
	// RackSize is the number of letters dealt from the seed
	RackSize = 7
	// MaxWordAttempts bounds the guesses one round may submit
	MaxWordAttempts = 3
	// LongWordLength is the shortest word graded long_word
	LongWordLength = 6

	letterBag = "EEEEEEEEEEEEAAAAAAAAAIIIIIIIIIOOOOOOOONNNNNNRRRRRRTTTTTTLLLLSSSSUUUUDDDDGGGBBCCMMPPFFHHVVWWYYKJXQZ"
)

var letterValues = map[rune]int{
	'a': 1, 'e': 1, 'i': 1, 'o': 1, 'u': 1, 'l': 1, 'n': 1, 's': 1, 't': 1, 'r': 1,
	'd': 2, 'g': 2,
	'b': 3, 'c': 3, 'm': 3, 'p': 3,
	'f': 4, 'h': 4, 'v': 4, 'w': 4, 'y': 4,
	'k': 5,
	'j': 8, 'x': 8,
	'q': 10, 'z': 10,
}

// WordChecker is the dictionary the word game validates against
type WordChecker interface {
	IsValidWord(word string) bool
	LongestFormable(rack []rune) int
}

type wordTranscript struct {
	Attempts []string `json:"attempts"`
}

// WordGame deals a letter rack from the seed; the player wins by spelling a
// dictionary word from the rack within MaxWordAttempts attempts
type WordGame struct {
	words WordChecker
}

// NewWordGame creates a word game backed by the given dictionary
func NewWordGame(words WordChecker) *WordGame {
	return &WordGame{words: words}
}

func (g *WordGame) Key() string { return "wordgame" }

// DealRack returns the letters the seed deals
func DealRack(rng *Mulberry32) []rune {
	rack := make([]rune, RackSize)
	for i := range rack {
		rack[i] = rune(letterBag[rng.Intn(len(letterBag))])
	}
	return rack
}

func (g *WordGame) Replay(_ context.Context, rng *Mulberry32, raw json.RawMessage) (*Replay, error) {
	var t wordTranscript
	if err := decodeTranscript(raw, &t); err != nil {
		return nil, err
	}
	if len(t.Attempts) == 0 || len(t.Attempts) > MaxWordAttempts {
		return nil, malformed("expected 1 to %d attempts, got %d", MaxWordAttempts, len(t.Attempts))
	}

	rack := DealRack(rng)
	available := make(map[rune]int, len(rack))
	for _, r := range strings.ToLower(string(rack)) {
		available[r]++
	}

	for i, attempt := range t.Attempts {
		word := strings.ToLower(strings.TrimSpace(attempt))
		if !dictionary.Formable(word, available) || !g.words.IsValidWord(word) {
			continue
		}
		if i != len(t.Attempts)-1 {
			return nil, malformed("attempt %d follows a solved round", i+1)
		}

		length := utf8.RuneCountInString(word)
		tier := TierNone
		switch {
		case length == g.words.LongestFormable(rack):
			tier = TierPerfect
		case length >= LongWordLength:
			tier = TierLongWord
		case i == 0:
			tier = TierFirstTry
		}
		return exact(OutcomeWin, wordScore(word), tier), nil
	}
	return exact(OutcomeLoss, 0, TierNone), nil
}

func wordScore(word string) int {
	score := 0
	for _, r := range word {
		score += letterValues[r]
	}
	return score
}
