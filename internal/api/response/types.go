package response

import (
	"math"
	"time"

	"github.com/mcoot/playhub/internal/model"
	"github.com/mcoot/playhub/internal/services/auth"
	"github.com/mcoot/playhub/internal/services/ledger"
	"github.com/mcoot/playhub/internal/services/matchmaking"
	"github.com/mcoot/playhub/internal/services/roster"
	"github.com/mcoot/playhub/internal/services/verifier"
)

// Identity represents an identity in API responses
type Identity struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"display_name"`
	Role        string     `json:"role"`
	Banned      bool       `json:"banned,omitempty"`
	RemovedAt   *time.Time `json:"removed_at,omitempty"`
}

// IdentityFromModel converts a model.Identity to a response Identity
func IdentityFromModel(i *model.Identity) Identity {
	return Identity{
		ID:          string(i.ID),
		DisplayName: i.DisplayName,
		Role:        string(i.Role),
		Banned:      i.Banned,
		RemovedAt:   i.RemovedAt,
	}
}

// IdentitiesFromModel converts a list of identities
func IdentitiesFromModel(ids []*model.Identity) []Identity {
	out := make([]Identity, 0, len(ids))
	for _, i := range ids {
		out = append(out, IdentityFromModel(i))
	}
	return out
}

// AuthResponse is the response for endpoints that create a session
type AuthResponse struct {
	Identity     Identity  `json:"identity"`
	SessionToken string    `json:"session_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// AuthResponseFromSession creates an AuthResponse from a session
func AuthResponseFromSession(s *auth.Session) AuthResponse {
	return AuthResponse{
		Identity:     IdentityFromModel(&s.Identity),
		SessionToken: s.Token,
		ExpiresAt:    s.ExpiresAt,
	}
}

// JoinRequest represents a join request. ClaimSecret is only filled in for
// the requester's own response.
type JoinRequest struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Status      string    `json:"status"`
	IdentityID  string    `json:"identity_id,omitempty"`
	ClaimSecret string    `json:"claim_secret,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// JoinRequestFromModel converts a join request without its secret
func JoinRequestFromModel(r *model.JoinRequest) JoinRequest {
	return JoinRequest{
		ID:          string(r.ID),
		DisplayName: r.DisplayName,
		Status:      string(r.Status),
		IdentityID:  string(r.IdentityID),
		CreatedAt:   r.CreatedAt,
	}
}

// Removal reports the effects of removing an identity
type Removal struct {
	Identity          Identity `json:"identity"`
	ConnectionsClosed int      `json:"connections_closed"`
	QueueWithdrawn    bool     `json:"queue_withdrawn"`
}

// RemovalFromResult converts a roster removal
func RemovalFromResult(r *roster.Removal) Removal {
	return Removal{
		Identity:          IdentityFromModel(r.Identity),
		ConnectionsClosed: r.ConnectionsClosed,
		QueueWithdrawn:    r.QueueWithdrawn,
	}
}

// Presence is one identity's presence
type Presence struct {
	IdentityID     string    `json:"identity_id"`
	Status         string    `json:"status"`
	Connections    int       `json:"connections"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// PresenceFromModel converts a presence snapshot
func PresenceFromModel(p model.PresenceSnapshot) Presence {
	return Presence{
		IdentityID:     string(p.IdentityID),
		Status:         string(p.Status),
		Connections:    p.Connections,
		LastActivityAt: p.LastActivityAt,
	}
}

// Stack is a quantity of one item held by one owner
type Stack struct {
	Owner       string `json:"owner"`
	Item        string `json:"item"`
	Qty         int    `json:"qty"`
	ReservedQty int    `json:"reserved_qty"`
	Available   int    `json:"available"`
}

// StackFromModel converts a resource stack
func StackFromModel(s *model.ResourceStack) Stack {
	return Stack{
		Owner:       string(s.OwnerID),
		Item:        string(s.ItemKey),
		Qty:         s.Qty,
		ReservedQty: s.ReservedQty,
		Available:   s.Qty - s.ReservedQty,
	}
}

// StacksFromModel converts a list of stacks
func StacksFromModel(stacks []*model.ResourceStack) []Stack {
	out := make([]Stack, 0, len(stacks))
	for _, s := range stacks {
		out = append(out, StackFromModel(s))
	}
	return out
}

// Offer is a transfer offer
type Offer struct {
	ID          string     `json:"id"`
	From        string     `json:"from"`
	To          string     `json:"to"`
	Item        string     `json:"item"`
	Qty         int        `json:"qty"`
	Status      string     `json:"status"`
	ExpiresAt   time.Time  `json:"expires_at"`
	CreatedAt   time.Time  `json:"created_at"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
}

// OfferFromModel converts a transfer offer
func OfferFromModel(o *model.TransferOffer) Offer {
	return Offer{
		ID:          string(o.ID),
		From:        string(o.FromOwner),
		To:          string(o.ToOwner),
		Item:        string(o.ItemKey),
		Qty:         o.Qty,
		Status:      string(o.Status),
		ExpiresAt:   o.ExpiresAt,
		CreatedAt:   o.CreatedAt,
		FinalizedAt: o.FinalizedAt,
	}
}

// OffersFromModel converts a list of offers
func OffersFromModel(offers []*model.TransferOffer) []Offer {
	out := make([]Offer, 0, len(offers))
	for _, o := range offers {
		out = append(out, OfferFromModel(o))
	}
	return out
}

// TransferResult is the outcome of an offer operation
type TransferResult struct {
	Status string `json:"status"`
	Offer  Offer  `json:"offer"`
}

// TransferResultFromLedger converts a ledger result
func TransferResultFromLedger(r *ledger.TransferResult) TransferResult {
	return TransferResult{Status: string(r.Status), Offer: OfferFromModel(r.Offer)}
}

// QueueEntry is a matchmaking queue entry
type QueueEntry struct {
	ID         string    `json:"id"`
	IdentityID string    `json:"identity_id"`
	GameKey    string    `json:"game_key"`
	Mode       string    `json:"mode,omitempty"`
	Status     string    `json:"status"`
	MatchID    string    `json:"match_id,omitempty"`
	RematchOf  string    `json:"rematch_of,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// QueueEntryFromModel converts a queue entry
func QueueEntryFromModel(e *model.QueueEntry) QueueEntry {
	out := QueueEntry{
		ID:         string(e.ID),
		IdentityID: string(e.IdentityID),
		GameKey:    e.GameKey,
		Mode:       e.Mode,
		Status:     string(e.Status),
		EnqueuedAt: e.EnqueuedAt,
	}
	if e.MatchID != nil {
		out.MatchID = string(*e.MatchID)
	}
	if e.RematchOf != nil {
		out.RematchOf = string(*e.RematchOf)
	}
	return out
}

// Match is a two-party match
type Match struct {
	ID           string     `json:"id"`
	GameKey      string     `json:"game_key"`
	Mode         string     `json:"mode,omitempty"`
	Participants []string   `json:"participants"`
	Status       string     `json:"status"`
	Winner       string     `json:"winner,omitempty"`
	RematchOf    string     `json:"rematch_of,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// MatchFromModel converts a match
func MatchFromModel(m *model.Match) Match {
	out := Match{
		ID:           string(m.ID),
		GameKey:      m.GameKey,
		Mode:         m.Mode,
		Participants: []string{string(m.Participants[0]), string(m.Participants[1])},
		Status:       string(m.Status),
		Winner:       string(m.Winner),
		CreatedAt:    m.CreatedAt,
		CompletedAt:  m.CompletedAt,
	}
	if m.RematchOf != nil {
		out.RematchOf = string(*m.RematchOf)
	}
	return out
}

// QueueResult is the outcome of a queue operation
type QueueResult struct {
	Status string      `json:"status"`
	Entry  *QueueEntry `json:"entry,omitempty"`
	Match  *Match      `json:"match,omitempty"`
}

// QueueResultFromService converts a matchmaking queue result
func QueueResultFromService(r *matchmaking.QueueResult) QueueResult {
	out := QueueResult{Status: string(r.Status)}
	if r.Entry != nil {
		e := QueueEntryFromModel(r.Entry)
		out.Entry = &e
	}
	if r.Match != nil {
		m := MatchFromModel(r.Match)
		out.Match = &m
	}
	return out
}

// Verdict is the verifier's judgement
type Verdict struct {
	Passed  bool   `json:"passed"`
	Outcome string `json:"outcome"`
	Score   int    `json:"score"`
	Tier    string `json:"tier,omitempty"`
}

// VerdictFromService converts a verdict
func VerdictFromService(v *verifier.Verdict) Verdict {
	return Verdict{
		Passed:  v.Passed,
		Outcome: string(v.Outcome),
		Score:   v.Score,
		Tier:    string(v.Tier),
	}
}

// CompletionResult is a completed match and the verdict behind it
type CompletionResult struct {
	Status  string   `json:"status"`
	Match   Match    `json:"match"`
	Verdict *Verdict `json:"verdict,omitempty"`
}

// CompletionResultFromService converts a completion result
func CompletionResultFromService(r *matchmaking.CompletionResult) CompletionResult {
	out := CompletionResult{Status: string(r.Match.Status), Match: MatchFromModel(r.Match)}
	if r.Verdict != nil {
		v := VerdictFromService(r.Verdict)
		out.Verdict = &v
	}
	return out
}

// Challenge is an issued seed and proof token
type Challenge struct {
	GameKey    string    `json:"game_key"`
	Seed       uint32    `json:"seed"`
	ProofToken string    `json:"proof_token"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// ChallengeFromModel converts a challenge
func ChallengeFromModel(c *model.Challenge) Challenge {
	return Challenge{
		GameKey:    c.GameKey,
		Seed:       c.Seed,
		ProofToken: c.ProofToken,
		ExpiresAt:  c.ExpiresAt,
	}
}

// Health is the system write availability
type Health struct {
	Status            string     `json:"status"`
	Degraded          bool       `json:"degraded"`
	Reason            string     `json:"reason,omitempty"`
	Source            string     `json:"source,omitempty"`
	ChangedAt         *time.Time `json:"changed_at,omitempty"`
	RetryAfterSeconds int        `json:"retry_after_seconds,omitempty"`
}

// HealthFromModel converts the system health. retryAfter is only reported
// while degraded.
func HealthFromModel(h model.SystemHealth, retryAfter time.Duration) Health {
	out := Health{
		Status:   "ok",
		Degraded: h.Degraded,
		Reason:   h.Reason,
		Source:   string(h.Source),
	}
	if !h.ChangedAt.IsZero() {
		changed := h.ChangedAt
		out.ChangedAt = &changed
	}
	if h.Degraded {
		out.Status = "read_only"
		out.RetryAfterSeconds = int(math.Ceil(retryAfter.Seconds()))
	}
	return out
}

// Event is a real-time frame pushed to connections
type Event struct {
	Type    string    `json:"type"`
	Payload any       `json:"payload,omitempty"`
	At      time.Time `json:"at"`
}

// PresenceChanged is the payload of a presence_changed event
type PresenceChanged struct {
	IdentityID string `json:"identity_id"`
	OldStatus  string `json:"old_status"`
	NewStatus  string `json:"new_status"`
}

// IdentityRemoved is the payload of an identity_removed event
type IdentityRemoved struct {
	IdentityID string `json:"identity_id"`
	Banned     bool   `json:"banned"`
}

// EventFromModel converts a domain event to its wire frame. retryAfter
// fills in health payloads.
func EventFromModel(e model.Event, retryAfter time.Duration) Event {
	out := Event{Type: string(e.Type), At: e.Timestamp}

	switch p := e.Payload.(type) {
	case model.PresenceChangedPayload:
		out.Payload = PresenceChanged{
			IdentityID: string(p.IdentityID),
			OldStatus:  string(p.OldStatus),
			NewStatus:  string(p.NewStatus),
		}
	case model.IdentityRemovedPayload:
		out.Payload = IdentityRemoved{IdentityID: string(p.IdentityID), Banned: p.Banned}
	case model.HealthChangedPayload:
		out.Payload = HealthFromModel(p.Health, retryAfter)
	case model.OfferPayload:
		out.Payload = OfferFromModel(&p.Offer)
	case model.QueueUpdatedPayload:
		out.Payload = QueueEntryFromModel(&p.Entry)
	case model.MatchPayload:
		out.Payload = MatchFromModel(&p.Match)
	}
	return out
}
