package model

import "time"

// ConnectionID identifies one physical real-time channel
type ConnectionID string

// PresenceStatus is the derived status of an identity
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceIdle    PresenceStatus = "idle"
	PresenceOffline PresenceStatus = "offline"
)

// PresenceSnapshot is derived from live connections and activity, never stored durably
type PresenceSnapshot struct {
	IdentityID     IdentityID
	Status         PresenceStatus
	LastActivityAt time.Time
	Connections    int
}
