package factory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/playhub/internal/model"
	"github.com/mcoot/playhub/internal/services/auth"
	"github.com/mcoot/playhub/internal/services/matchmaking"
	"github.com/mcoot/playhub/internal/services/verifier"
	"github.com/mcoot/playhub/internal/services/writegate"
)

type closeRecorder struct {
	mu      sync.Mutex
	reasons []string
}

func (h *closeRecorder) Close(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reasons = append(h.reasons, reason)
}

func (h *closeRecorder) Reasons() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.reasons...)
}

type IntegrationSuite struct {
	suite.Suite
	app *TestApp
	ctx context.Context

	admin *auth.Session
	alice *auth.Session
	bob   *auth.Session
}

func TestIntegrationSuite(t *testing.T) {
	suite.Run(t, new(IntegrationSuite))
}

func (s *IntegrationSuite) SetupTest() {
	s.app = NewTestApp()
	s.ctx = context.Background()
	s.app.LoadTestDictionary()

	var err error
	s.admin, err = s.app.Supervisor(s.ctx)
	s.Require().NoError(err)
	s.alice, err = s.app.Join(s.ctx, s.admin, "Alice")
	s.Require().NoError(err)
	s.bob, err = s.app.Join(s.ctx, s.admin, "Bob")
	s.Require().NoError(err)
}

func (s *IntegrationSuite) TearDownTest() {
	s.NoError(s.app.Close())
}

func (s *IntegrationSuite) stack(owner model.IdentityID, item model.ItemKey) model.ResourceStack {
	stacks, err := s.app.Ledger.Inventory(s.ctx, owner)
	s.Require().NoError(err)
	for _, st := range stacks {
		if st.ItemKey == item {
			return *st
		}
	}
	return model.ResourceStack{OwnerID: owner, ItemKey: item}
}

func (s *IntegrationSuite) evidence(id model.IdentityID, token string, outcome verifier.Outcome, moves []int) *verifier.Redemption {
	s.app.MockRandom.QueueUint32(7)
	s.app.MockRandom.QueueString(token)
	ch, err := s.app.Verifier.IssueChallenge(s.ctx, id, "tictactoe")
	s.Require().NoError(err)

	transcript, err := json.Marshal(map[string]any{"player_symbol": "X", "moves": moves})
	s.Require().NoError(err)
	return &verifier.Redemption{
		GameKey:    "tictactoe",
		Seed:       ch.Seed,
		ProofToken: ch.ProofToken,
		Claim:      verifier.Claim{Outcome: outcome},
		Transcript: transcript,
	}
}

// Test: A offers 2 of 5 to B, B accepts, a retried accept changes nothing
func (s *IntegrationSuite) TestTransferAcceptIsIdempotent() {
	_, err := s.app.Ledger.Grant(s.ctx, s.admin.IdentityID, s.alice.IdentityID, "gold", 5)
	s.Require().NoError(err)

	created, err := s.app.Ledger.CreateOffer(s.ctx, s.alice.IdentityID, s.bob.IdentityID, "gold", 2)
	s.Require().NoError(err)
	s.Equal(model.OfferPending, created.Status)

	a := s.stack(s.alice.IdentityID, "gold")
	s.Equal(5, a.Qty)
	s.Equal(2, a.ReservedQty)

	first, err := s.app.Ledger.Accept(s.ctx, created.Offer.ID, s.bob.IdentityID)
	s.Require().NoError(err)
	s.Equal(model.OfferAccepted, first.Status)

	second, err := s.app.Ledger.Accept(s.ctx, created.Offer.ID, s.bob.IdentityID)
	s.Require().NoError(err)
	s.Equal(model.OfferAccepted, second.Status)

	a = s.stack(s.alice.IdentityID, "gold")
	b := s.stack(s.bob.IdentityID, "gold")
	s.Equal(3, a.Qty)
	s.Equal(0, a.ReservedQty)
	s.Equal(2, b.Qty)

	s.Len(s.app.Recorder.OfType(model.EventOfferCreated), 1)
	s.Len(s.app.Recorder.OfType(model.EventOfferFinalized), 1)
}

// Test: two players pair, a third waits alone, the verified winner is locked in
func (s *IntegrationSuite) TestMatchmakingThroughVerifiedCompletion() {
	carol, err := s.app.Join(s.ctx, s.admin, "Carol")
	s.Require().NoError(err)

	first, err := s.app.Matchmaking.Enqueue(s.ctx, s.alice.IdentityID, "tictactoe", "")
	s.Require().NoError(err)
	s.Equal(model.QueueQueued, first.Status)

	second, err := s.app.Matchmaking.Enqueue(s.ctx, s.bob.IdentityID, "tictactoe", "")
	s.Require().NoError(err)
	s.Equal(model.QueueMatched, second.Status)
	s.Require().NotNil(second.Match)
	match := second.Match

	third, err := s.app.Matchmaking.Enqueue(s.ctx, carol.IdentityID, "tictactoe", "")
	s.Require().NoError(err)
	s.Equal(model.QueueQueued, third.Status)
	s.Nil(third.Match)

	// An altered transcript without a winning line is rejected and burns the challenge
	altered := s.evidence(s.alice.IdentityID, "proof-one", verifier.OutcomeWin, []int{0, 3, 1, 4, 5})
	_, err = s.app.Matchmaking.CompleteMatch(s.ctx, match.ID, s.alice.IdentityID, matchmaking.Completion{Evidence: altered})
	s.ErrorIs(err, model.ErrOutcomeRejected)

	_, err = s.app.Verifier.Redeem(s.ctx, s.alice.IdentityID, *altered)
	s.ErrorIs(err, model.ErrChallengeNotFound)

	valid := s.evidence(s.alice.IdentityID, "proof-two", verifier.OutcomeWin, []int{0, 3, 1, 4, 2})
	result, err := s.app.Matchmaking.CompleteMatch(s.ctx, match.ID, s.alice.IdentityID, matchmaking.Completion{Evidence: valid})
	s.Require().NoError(err)
	s.Equal(model.MatchCompleted, result.Match.Status)
	s.Equal(s.alice.IdentityID, result.Match.Winner)
	s.True(result.Verdict.Passed)

	// Bob cannot overwrite the winner
	counter := s.evidence(s.bob.IdentityID, "proof-three", verifier.OutcomeWin, []int{0, 3, 1, 4, 2})
	_, err = s.app.Matchmaking.CompleteMatch(s.ctx, match.ID, s.bob.IdentityID, matchmaking.Completion{Evidence: counter})
	s.ErrorIs(err, model.ErrWinnerLocked)

	stored, err := s.app.Matchmaking.GetMatch(s.ctx, match.ID, s.bob.IdentityID)
	s.Require().NoError(err)
	s.Equal(s.alice.IdentityID, stored.Winner)

	completed := s.app.Recorder.OfType(model.EventMatchCompleted)
	s.Require().Len(completed, 1)
	s.ElementsMatch([]model.IdentityID{s.alice.IdentityID, s.bob.IdentityID}, completed[0].Audience)
}

// Test: multi-tab presence survives one tab closing; removal tears everything down
func (s *IntegrationSuite) TestPresenceAndRemoval() {
	tab1, tab2 := &closeRecorder{}, &closeRecorder{}
	snap, err := s.app.Presence.Attach(s.ctx, "conn-1", s.alice.Token, tab1)
	s.Require().NoError(err)
	s.Equal(model.PresenceOnline, snap.Status)
	_, err = s.app.Presence.Attach(s.ctx, "conn-2", s.alice.Token, tab2)
	s.Require().NoError(err)

	s.Require().NoError(s.app.Presence.Detach("conn-1"))
	s.app.MockClock.Advance(time.Minute)
	s.Equal(model.PresenceOnline, s.app.Presence.Snapshot(s.alice.IdentityID).Status)

	_, err = s.app.Matchmaking.Enqueue(s.ctx, s.alice.IdentityID, "tictactoe", "")
	s.Require().NoError(err)

	removal, err := s.app.Roster.RemoveIdentity(s.ctx, s.admin.IdentityID, s.alice.IdentityID, true)
	s.Require().NoError(err)
	s.Equal(1, removal.ConnectionsClosed)
	s.True(removal.QueueWithdrawn)
	s.Equal([]string{"banned"}, tab2.Reasons())

	_, err = s.app.AuthService.ValidateSession(s.ctx, s.alice.Token)
	s.ErrorIs(err, auth.ErrInvalidSession)

	_, err = s.app.Presence.Attach(s.ctx, "conn-3", s.alice.Token, &closeRecorder{})
	s.ErrorIs(err, auth.ErrInvalidSession)

	s.Len(s.app.Recorder.OfType(model.EventIdentityRemoved), 1)
}

// Test: degraded mode refuses writes with a retryable error and recovers
func (s *IntegrationSuite) TestReadOnlyWindow() {
	_, err := s.app.Ledger.Grant(s.ctx, s.admin.IdentityID, s.alice.IdentityID, "gold", 5)
	s.Require().NoError(err)

	s.True(s.app.Gate.Degrade("maintenance", model.HealthSourceOperator))

	_, err = s.app.Ledger.CreateOffer(s.ctx, s.alice.IdentityID, s.bob.IdentityID, "gold", 1)
	var roErr *writegate.ReadOnlyError
	s.Require().True(errors.As(err, &roErr))
	s.Equal(writegate.OpOfferCreate, roErr.Operation)
	s.Positive(roErr.RetryAfter)

	_, err = s.app.Matchmaking.Enqueue(s.ctx, s.bob.IdentityID, "tictactoe", "")
	s.ErrorIs(err, model.ErrReadOnly)

	// Reads keep working
	a := s.stack(s.alice.IdentityID, "gold")
	s.Equal(0, a.ReservedQty)

	s.True(s.app.Gate.Recover(model.HealthSourceOperator))
	_, err = s.app.Ledger.CreateOffer(s.ctx, s.alice.IdentityID, s.bob.IdentityID, "gold", 1)
	s.NoError(err)

	s.Len(s.app.Recorder.OfType(model.EventHealthChanged), 2)
}

// Test: the maintenance jobs converge expired records
func (s *IntegrationSuite) TestMaintenanceJobs() {
	_, err := s.app.Ledger.Grant(s.ctx, s.admin.IdentityID, s.alice.IdentityID, "gold", 5)
	s.Require().NoError(err)
	created, err := s.app.Ledger.CreateOffer(s.ctx, s.alice.IdentityID, s.bob.IdentityID, "gold", 3)
	s.Require().NoError(err)
	s.evidence(s.bob.IdentityID, "unused-proof", verifier.OutcomeWin, nil)

	s.app.MockClock.Advance(time.Hour)

	jobs := s.app.MaintenanceJobs(time.Minute, time.Minute)
	s.Len(jobs, 5)
	for _, job := range jobs {
		s.Require().NoError(job.Run(s.ctx), job.Name)
	}

	offer, err := s.app.Ledger.GetOffer(s.ctx, created.Offer.ID, s.alice.IdentityID)
	s.Require().NoError(err)
	s.Equal(model.OfferExpired, offer.Status)
	s.Equal(0, s.stack(s.alice.IdentityID, "gold").ReservedQty)

	purged, err := s.app.Verifier.PurgeExpired(s.ctx)
	s.Require().NoError(err)
	s.Zero(purged, "challenge was already purged by the job")

	s.False(s.app.Gate.Health().Degraded)
}
