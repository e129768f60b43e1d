package model

import "time"

// MatchID uniquely identifies a match
type MatchID string

// MatchStatus is the lifecycle state of a match
type MatchStatus string

const (
	MatchActive    MatchStatus = "active"
	MatchCompleted MatchStatus = "completed"
)

// Match pairs two identities in one adversarial game.
// Winner is write-once: empty until decided, never changed afterwards.
type Match struct {
	ID           MatchID
	GameKey      string
	Mode         string
	Participants [2]IdentityID
	Status       MatchStatus
	Winner       IdentityID
	RematchOf    *MatchID
	CreatedAt    time.Time
	CompletedAt  *time.Time
}

// HasParticipant reports whether the identity plays in this match
func (m *Match) HasParticipant(id IdentityID) bool {
	return m.Participants[0] == id || m.Participants[1] == id
}

// Opponent returns the other participant
func (m *Match) Opponent(id IdentityID) IdentityID {
	if m.Participants[0] == id {
		return m.Participants[1]
	}
	return m.Participants[0]
}

// HasWinner reports whether the winner has been decided
func (m *Match) HasWinner() bool {
	return m.Winner != ""
}
