package verifier

import (
	"context"
	"encoding/json"
)

var tttLines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

type tttTranscript struct {
	PlayerSymbol string `json:"player_symbol"`
	Moves        []int  `json:"moves"`
}

// TicTacToe replays alternating moves on a 3x3 board, X first. Cells are
// numbered 0-8 row by row. The board needs no randomness.
type TicTacToe struct{}

func (TicTacToe) Key() string { return "tictactoe" }

func (TicTacToe) Replay(_ context.Context, _ *Mulberry32, raw json.RawMessage) (*Replay, error) {
	var t tttTranscript
	if err := decodeTranscript(raw, &t); err != nil {
		return nil, err
	}
	if t.PlayerSymbol != "X" && t.PlayerSymbol != "O" {
		return nil, malformed("player_symbol must be X or O")
	}

	var board [9]byte
	winner := byte(0)
	for i, cell := range t.Moves {
		if winner != 0 {
			return nil, malformed("move %d played after the game was won", i)
		}
		if cell < 0 || cell > 8 {
			return nil, malformed("move %d: cell %d out of range", i, cell)
		}
		if board[cell] != 0 {
			return nil, malformed("move %d: cell %d already taken", i, cell)
		}
		symbol := byte('X')
		if i%2 == 1 {
			symbol = 'O'
		}
		board[cell] = symbol
		winner = tttWinner(board)
	}

	player := t.PlayerSymbol[0]
	switch {
	case winner == player:
		tier := TierNone
		// Three moves is the fastest possible win
		if playerMoves(len(t.Moves), player) == 3 {
			tier = TierPerfect
		}
		return exact(OutcomeWin, 0, tier), nil
	case winner != 0:
		return exact(OutcomeLoss, 0, TierNone), nil
	case len(t.Moves) == 9:
		return exact(OutcomeDraw, 0, TierNone), nil
	default:
		return exact(OutcomeUnfinished, 0, TierNone), nil
	}
}

func tttWinner(board [9]byte) byte {
	for _, line := range tttLines {
		a := board[line[0]]
		if a != 0 && a == board[line[1]] && a == board[line[2]] {
			return a
		}
	}
	return 0
}

func playerMoves(total int, player byte) int {
	if player == 'X' {
		return (total + 1) / 2
	}
	return total / 2
}
