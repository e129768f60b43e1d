package model

import "time"

// EventType identifies the type of event
type EventType string

const (
	// Presence events
	EventPresenceChanged EventType = "presence_changed"
	EventIdentityRemoved EventType = "identity_removed"

	// System events
	EventHealthChanged EventType = "health_changed"

	// Transfer events
	EventOfferCreated   EventType = "offer_created"
	EventOfferFinalized EventType = "offer_finalized"

	// Matchmaking events
	EventQueueUpdated   EventType = "queue_updated"
	EventMatchFound     EventType = "match_found"
	EventMatchCompleted EventType = "match_completed"
)

// Event is the base structure for all domain events.
// An empty Audience means the event is for every connection.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Audience  []IdentityID
	Payload   any
}

// IsFor reports whether the event should be delivered to the identity
func (e Event) IsFor(id IdentityID) bool {
	if len(e.Audience) == 0 {
		return true
	}
	for _, a := range e.Audience {
		if a == id {
			return true
		}
	}
	return false
}

// PresenceChangedPayload contains data for presence changed events
type PresenceChangedPayload struct {
	IdentityID IdentityID
	OldStatus  PresenceStatus
	NewStatus  PresenceStatus
}

// IdentityRemovedPayload contains data for identity removed events
type IdentityRemovedPayload struct {
	IdentityID IdentityID
	Banned     bool
}

// HealthChangedPayload contains data for health changed events
type HealthChangedPayload struct {
	Health SystemHealth
}

// OfferPayload contains data for offer created/finalized events
type OfferPayload struct {
	Offer TransferOffer
}

// QueueUpdatedPayload echoes queue state to the requester
type QueueUpdatedPayload struct {
	Entry QueueEntry
}

// MatchPayload contains data for match found/completed events
type MatchPayload struct {
	Match Match
}
