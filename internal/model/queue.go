package model

import "time"

// QueueEntryID uniquely identifies a queue entry
type QueueEntryID string

// QueueStatus is the state of a matchmaking queue entry
type QueueStatus string

const (
	QueueQueued   QueueStatus = "queued"
	QueueMatched  QueueStatus = "matched"
	QueueCanceled QueueStatus = "canceled"
)

// QueueEntry is one identity waiting for an opponent in a game/mode pool
type QueueEntry struct {
	ID         QueueEntryID
	IdentityID IdentityID
	GameKey    string
	Mode       string
	Status     QueueStatus
	RematchOf  *MatchID
	MatchID    *MatchID // Set once matched
	EnqueuedAt time.Time
	UpdatedAt  time.Time
}

// IsActive reports whether the entry still occupies the identity's queue slot
func (e *QueueEntry) IsActive() bool {
	return e.Status == QueueQueued
}

// Pool returns the pool key entries are matched within
func (e *QueueEntry) Pool() QueuePool {
	return QueuePool{GameKey: e.GameKey, Mode: e.Mode}
}

// QueuePool groups queue entries that may be matched against each other
type QueuePool struct {
	GameKey string
	Mode    string
}
