// Package storagetest holds the behaviour every storage backend must share.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/playhub/internal/model"
	"github.com/mcoot/playhub/internal/storage"
)

// Factory creates a fresh, empty storage instance for one test
type Factory func(t *testing.T) storage.Storage

// Run runs the shared storage suite against the backend built by factory
func Run(t *testing.T, factory Factory) {
	suite.Run(t, &Suite{factory: factory})
}

// Suite is the backend-independent storage test suite
type Suite struct {
	suite.Suite
	factory Factory
	storage storage.Storage
	ctx     context.Context
	now     time.Time
}

func (s *Suite) SetupTest() {
	s.storage = s.factory(s.T())
	s.ctx = context.Background()
	s.now = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
}

func (s *Suite) TestPing() {
	s.NoError(s.storage.Ping(s.ctx))
}

// Identity tests

func (s *Suite) TestSaveAndGetIdentity() {
	identity := &model.Identity{
		ID:          "id-alice",
		DisplayName: "Alice",
		Role:        model.RoleParticipant,
		CreatedAt:   s.now,
		UpdatedAt:   s.now,
	}
	s.Require().NoError(s.storage.SaveIdentity(s.ctx, identity))

	got, err := s.storage.GetIdentity(s.ctx, "id-alice")
	s.Require().NoError(err)
	s.Equal("Alice", got.DisplayName)
	s.Equal(model.RoleParticipant, got.Role)
	s.False(got.Banned)
	s.Nil(got.RemovedAt)
	s.True(s.now.Equal(got.CreatedAt))
}

func (s *Suite) TestGetIdentityNotFound() {
	_, err := s.storage.GetIdentity(s.ctx, "nonexistent")
	s.ErrorIs(err, model.ErrIdentityNotFound)
}

func (s *Suite) TestSaveIdentityOverwritesRemoval() {
	identity := &model.Identity{ID: "id-bob", DisplayName: "Bob", Role: model.RoleParticipant, CreatedAt: s.now}
	s.Require().NoError(s.storage.SaveIdentity(s.ctx, identity))

	removedAt := s.now.Add(time.Minute)
	identity.Banned = true
	identity.RemovedAt = &removedAt
	s.Require().NoError(s.storage.SaveIdentity(s.ctx, identity))

	got, err := s.storage.GetIdentity(s.ctx, "id-bob")
	s.Require().NoError(err)
	s.True(got.Banned)
	s.Require().NotNil(got.RemovedAt)
	s.True(removedAt.Equal(*got.RemovedAt))
	s.False(got.IsActive())
}

func (s *Suite) TestListIdentities() {
	for i, id := range []model.IdentityID{"id-a", "id-b"} {
		s.Require().NoError(s.storage.SaveIdentity(s.ctx, &model.Identity{
			ID:        id,
			Role:      model.RoleParticipant,
			CreatedAt: s.now.Add(time.Duration(i) * time.Second),
		}))
	}

	list, err := s.storage.ListIdentities(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(list, 2)
	s.Equal(model.IdentityID("id-a"), list[0].ID)
	s.Equal(model.IdentityID("id-b"), list[1].ID)
}

// Credential tests

func (s *Suite) TestSaveAndGetCredentials() {
	creds := &model.Credentials{
		IdentityID:   "id-sup",
		Username:     "admin",
		PasswordHash: "hash",
		CreatedAt:    s.now,
		UpdatedAt:    s.now,
	}
	s.Require().NoError(s.storage.SaveCredentials(s.ctx, creds))

	got, err := s.storage.GetCredentialsByUsername(s.ctx, "admin")
	s.Require().NoError(err)
	s.Equal(model.IdentityID("id-sup"), got.IdentityID)
	s.Equal("hash", got.PasswordHash)

	_, err = s.storage.GetCredentialsByUsername(s.ctx, "nobody")
	s.ErrorIs(err, model.ErrCredentialsNotFound)
}

// Join request tests

func (s *Suite) TestJoinRequestsByStatus() {
	pending := &model.JoinRequest{ID: "jr-1", DisplayName: "Alice", Status: model.JoinRequestPending, ClaimSecret: "s1", CreatedAt: s.now}
	approved := &model.JoinRequest{ID: "jr-2", DisplayName: "Bob", Status: model.JoinRequestApproved, IdentityID: "id-bob", ClaimSecret: "s2", CreatedAt: s.now}
	s.Require().NoError(s.storage.SaveJoinRequest(s.ctx, pending))
	s.Require().NoError(s.storage.SaveJoinRequest(s.ctx, approved))

	list, err := s.storage.ListJoinRequests(s.ctx, model.JoinRequestPending)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal(model.JoinRequestID("jr-1"), list[0].ID)

	got, err := s.storage.GetJoinRequest(s.ctx, "jr-2")
	s.Require().NoError(err)
	s.Equal(model.IdentityID("id-bob"), got.IdentityID)
	s.Equal("s2", got.ClaimSecret)

	_, err = s.storage.GetJoinRequest(s.ctx, "jr-missing")
	s.ErrorIs(err, model.ErrJoinRequestNotFound)
}

// Inventory tests

func (s *Suite) TestSaveAndGetStack() {
	stack := &model.ResourceStack{OwnerID: "id-a", ItemKey: "gem", Qty: 5, ReservedQty: 1}
	s.Require().NoError(s.storage.SaveStack(s.ctx, stack))

	got, err := s.storage.GetStack(s.ctx, stack.Ref())
	s.Require().NoError(err)
	s.Equal(5, got.Qty)
	s.Equal(1, got.ReservedQty)

	_, err = s.storage.GetStack(s.ctx, model.StackRef{OwnerID: "id-a", ItemKey: "coin"})
	s.ErrorIs(err, model.ErrStackNotFound)
}

func (s *Suite) TestListStacksByOwner() {
	s.Require().NoError(s.storage.SaveStack(s.ctx, &model.ResourceStack{OwnerID: "id-a", ItemKey: "gem", Qty: 1}))
	s.Require().NoError(s.storage.SaveStack(s.ctx, &model.ResourceStack{OwnerID: "id-a", ItemKey: "coin", Qty: 2}))
	s.Require().NoError(s.storage.SaveStack(s.ctx, &model.ResourceStack{OwnerID: "id-b", ItemKey: "gem", Qty: 3}))

	list, err := s.storage.ListStacks(s.ctx, "id-a")
	s.Require().NoError(err)
	s.Require().Len(list, 2)
	s.Equal(model.ItemKey("coin"), list[0].ItemKey)
	s.Equal(model.ItemKey("gem"), list[1].ItemKey)
}

// Transfer tests

func (s *Suite) pendingOffer(id model.OfferID) *model.TransferOffer {
	return &model.TransferOffer{
		ID:        id,
		FromOwner: "id-a",
		ToOwner:   "id-b",
		ItemKey:   "gem",
		Qty:       2,
		Status:    model.OfferPending,
		CreatedAt: s.now,
		ExpiresAt: s.now.Add(time.Hour),
	}
}

func (s *Suite) TestCreateOfferStoresReservation() {
	sender := &model.ResourceStack{OwnerID: "id-a", ItemKey: "gem", Qty: 5, ReservedQty: 2}
	s.Require().NoError(s.storage.CreateOffer(s.ctx, s.pendingOffer("off-1"), sender))

	offer, err := s.storage.GetOffer(s.ctx, "off-1")
	s.Require().NoError(err)
	s.Equal(model.OfferPending, offer.Status)
	s.Equal(2, offer.Qty)
	s.Nil(offer.FinalizedAt)
	s.True(s.now.Add(time.Hour).Equal(offer.ExpiresAt))

	stack, err := s.storage.GetStack(s.ctx, sender.Ref())
	s.Require().NoError(err)
	s.Equal(2, stack.ReservedQty)
}

func (s *Suite) TestGetOfferNotFound() {
	_, err := s.storage.GetOffer(s.ctx, "off-missing")
	s.ErrorIs(err, model.ErrOfferNotFound)
}

func (s *Suite) TestCommitTransferAppliesOfferAndStacks() {
	sender := &model.ResourceStack{OwnerID: "id-a", ItemKey: "gem", Qty: 5, ReservedQty: 2}
	offer := s.pendingOffer("off-1")
	s.Require().NoError(s.storage.CreateOffer(s.ctx, offer, sender))

	s.Require().True(offer.TryTransition([]model.OfferStatus{model.OfferPending}, model.OfferAccepted, s.now))
	err := s.storage.CommitTransfer(s.ctx, storage.TransferCommit{
		Offer:          offer,
		ExpectedStatus: model.OfferPending,
		Stacks: []*model.ResourceStack{
			{OwnerID: "id-a", ItemKey: "gem", Qty: 3, ReservedQty: 0},
			{OwnerID: "id-b", ItemKey: "gem", Qty: 2, ReservedQty: 0},
		},
	})
	s.Require().NoError(err)

	stored, err := s.storage.GetOffer(s.ctx, "off-1")
	s.Require().NoError(err)
	s.Equal(model.OfferAccepted, stored.Status)
	s.Require().NotNil(stored.FinalizedAt)

	a, _ := s.storage.GetStack(s.ctx, model.StackRef{OwnerID: "id-a", ItemKey: "gem"})
	b, _ := s.storage.GetStack(s.ctx, model.StackRef{OwnerID: "id-b", ItemKey: "gem"})
	s.Equal(3, a.Qty)
	s.Equal(0, a.ReservedQty)
	s.Equal(2, b.Qty)
}

func (s *Suite) TestCommitTransferRejectsStaleStatus() {
	sender := &model.ResourceStack{OwnerID: "id-a", ItemKey: "gem", Qty: 5, ReservedQty: 2}
	s.Require().NoError(s.storage.CreateOffer(s.ctx, s.pendingOffer("off-1"), sender))

	rejected := s.pendingOffer("off-1")
	rejected.TryTransition([]model.OfferStatus{model.OfferPending}, model.OfferRejected, s.now)
	s.Require().NoError(s.storage.CommitTransfer(s.ctx, storage.TransferCommit{
		Offer:          rejected,
		ExpectedStatus: model.OfferPending,
		Stacks:         []*model.ResourceStack{{OwnerID: "id-a", ItemKey: "gem", Qty: 5}},
	}))

	expired := s.pendingOffer("off-1")
	expired.TryTransition([]model.OfferStatus{model.OfferPending}, model.OfferExpired, s.now)
	err := s.storage.CommitTransfer(s.ctx, storage.TransferCommit{
		Offer:          expired,
		ExpectedStatus: model.OfferPending,
		Stacks:         []*model.ResourceStack{{OwnerID: "id-a", ItemKey: "gem", Qty: 99}},
	})
	s.ErrorIs(err, model.ErrStatusConflict)

	stored, _ := s.storage.GetOffer(s.ctx, "off-1")
	s.Equal(model.OfferRejected, stored.Status)
	stack, _ := s.storage.GetStack(s.ctx, model.StackRef{OwnerID: "id-a", ItemKey: "gem"})
	s.Equal(5, stack.Qty)
	s.Equal(0, stack.ReservedQty)
}

func (s *Suite) TestListOffers() {
	sender := &model.ResourceStack{OwnerID: "id-a", ItemKey: "gem", Qty: 5, ReservedQty: 4}
	s.Require().NoError(s.storage.CreateOffer(s.ctx, s.pendingOffer("off-1"), sender))
	second := s.pendingOffer("off-2")
	second.CreatedAt = s.now.Add(time.Second)
	s.Require().NoError(s.storage.CreateOffer(s.ctx, second, sender))

	second.TryTransition([]model.OfferStatus{model.OfferPending}, model.OfferCanceled, s.now)
	s.Require().NoError(s.storage.CommitTransfer(s.ctx, storage.TransferCommit{
		Offer:          second,
		ExpectedStatus: model.OfferPending,
		Stacks:         []*model.ResourceStack{{OwnerID: "id-a", ItemKey: "gem", Qty: 5, ReservedQty: 2}},
	}))

	pending, err := s.storage.ListPendingOffers(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(model.OfferID("off-1"), pending[0].ID)

	forB, err := s.storage.ListOffersFor(s.ctx, "id-b")
	s.Require().NoError(err)
	s.Require().Len(forB, 2)
	s.Equal(model.OfferID("off-1"), forB[0].ID)
	s.Equal(model.OfferID("off-2"), forB[1].ID)

	forC, err := s.storage.ListOffersFor(s.ctx, "id-c")
	s.Require().NoError(err)
	s.Empty(forC)
}

// Queue tests

func (s *Suite) queued(id model.QueueEntryID, identity model.IdentityID, offset time.Duration) *model.QueueEntry {
	return &model.QueueEntry{
		ID:         id,
		IdentityID: identity,
		GameKey:    "ttt",
		Mode:       "ranked",
		Status:     model.QueueQueued,
		EnqueuedAt: s.now.Add(offset),
		UpdatedAt:  s.now.Add(offset),
	}
}

func (s *Suite) TestQueueEntryLookups() {
	_, err := s.storage.GetActiveQueueEntry(s.ctx, "id-a")
	s.ErrorIs(err, model.ErrNotInQueue)
	_, err = s.storage.GetLatestQueueEntry(s.ctx, "id-a")
	s.ErrorIs(err, model.ErrNotInQueue)

	entry := s.queued("q-1", "id-a", 0)
	s.Require().NoError(s.storage.SaveQueueEntry(s.ctx, entry))

	active, err := s.storage.GetActiveQueueEntry(s.ctx, "id-a")
	s.Require().NoError(err)
	s.Equal(model.QueueEntryID("q-1"), active.ID)

	entry.Status = model.QueueCanceled
	s.Require().NoError(s.storage.SaveQueueEntry(s.ctx, entry))

	_, err = s.storage.GetActiveQueueEntry(s.ctx, "id-a")
	s.ErrorIs(err, model.ErrNotInQueue)

	latest, err := s.storage.GetLatestQueueEntry(s.ctx, "id-a")
	s.Require().NoError(err)
	s.Equal(model.QueueCanceled, latest.Status)
}

func (s *Suite) TestListQueuedFiltersPoolAndOrders() {
	s.Require().NoError(s.storage.SaveQueueEntry(s.ctx, s.queued("q-2", "id-b", time.Second)))
	s.Require().NoError(s.storage.SaveQueueEntry(s.ctx, s.queued("q-1", "id-a", 0)))
	other := s.queued("q-3", "id-c", 0)
	other.Mode = "casual"
	s.Require().NoError(s.storage.SaveQueueEntry(s.ctx, other))

	list, err := s.storage.ListQueued(s.ctx, model.QueuePool{GameKey: "ttt", Mode: "ranked"})
	s.Require().NoError(err)
	s.Require().Len(list, 2)
	s.Equal(model.QueueEntryID("q-1"), list[0].ID)
	s.Equal(model.QueueEntryID("q-2"), list[1].ID)
}

// Match tests

func (s *Suite) TestCreateMatchMarksEntries() {
	a := s.queued("q-1", "id-a", 0)
	b := s.queued("q-2", "id-b", time.Second)
	s.Require().NoError(s.storage.SaveQueueEntry(s.ctx, a))
	s.Require().NoError(s.storage.SaveQueueEntry(s.ctx, b))

	matchID := model.MatchID("m-1")
	for _, e := range []*model.QueueEntry{a, b} {
		e.Status = model.QueueMatched
		e.MatchID = &matchID
	}
	match := &model.Match{
		ID:           matchID,
		GameKey:      "ttt",
		Mode:         "ranked",
		Participants: [2]model.IdentityID{"id-a", "id-b"},
		Status:       model.MatchActive,
		CreatedAt:    s.now,
	}
	s.Require().NoError(s.storage.CreateMatch(s.ctx, match, []*model.QueueEntry{a, b}))

	got, err := s.storage.GetMatch(s.ctx, "m-1")
	s.Require().NoError(err)
	s.Equal([2]model.IdentityID{"id-a", "id-b"}, got.Participants)
	s.Equal(model.MatchActive, got.Status)
	s.False(got.HasWinner())

	list, err := s.storage.ListQueued(s.ctx, model.QueuePool{GameKey: "ttt", Mode: "ranked"})
	s.Require().NoError(err)
	s.Empty(list)

	latest, err := s.storage.GetLatestQueueEntry(s.ctx, "id-b")
	s.Require().NoError(err)
	s.Require().NotNil(latest.MatchID)
	s.Equal(matchID, *latest.MatchID)
}

func (s *Suite) TestCompleteMatchOnlyOnce() {
	match := &model.Match{
		ID:           "m-1",
		GameKey:      "ttt",
		Participants: [2]model.IdentityID{"id-a", "id-b"},
		Status:       model.MatchActive,
		CreatedAt:    s.now,
	}
	s.Require().NoError(s.storage.CreateMatch(s.ctx, match, nil))

	completedAt := s.now.Add(time.Minute)
	match.Status = model.MatchCompleted
	match.Winner = "id-a"
	match.CompletedAt = &completedAt
	s.Require().NoError(s.storage.CompleteMatch(s.ctx, match))

	match.Winner = "id-b"
	s.ErrorIs(s.storage.CompleteMatch(s.ctx, match), model.ErrMatchCompleted)

	got, err := s.storage.GetMatch(s.ctx, "m-1")
	s.Require().NoError(err)
	s.Equal(model.IdentityID("id-a"), got.Winner)

	s.ErrorIs(s.storage.CompleteMatch(s.ctx, &model.Match{ID: "m-missing"}), model.ErrMatchNotFound)
}

func (s *Suite) TestGetMatchNotFound() {
	_, err := s.storage.GetMatch(s.ctx, "m-missing")
	s.ErrorIs(err, model.ErrMatchNotFound)
}

// Challenge tests

func (s *Suite) challenge(token string, ttl time.Duration) *model.Challenge {
	return &model.Challenge{
		IdentityID: "id-a",
		GameKey:    "ttt",
		Seed:       42,
		ProofToken: token,
		IssuedAt:   s.now,
		ExpiresAt:  s.now.Add(ttl),
	}
}

func (s *Suite) TestSaveChallengeReplacesPrior() {
	s.Require().NoError(s.storage.SaveChallenge(s.ctx, s.challenge("tok-1", time.Minute)))
	s.Require().NoError(s.storage.SaveChallenge(s.ctx, s.challenge("tok-2", time.Minute)))

	got, err := s.storage.GetChallenge(s.ctx, model.ChallengeKey{IdentityID: "id-a", GameKey: "ttt"})
	s.Require().NoError(err)
	s.Equal("tok-2", got.ProofToken)
	s.Equal(uint32(42), got.Seed)
}

func (s *Suite) TestConsumeChallengeIsSingleUse() {
	c := s.challenge("tok-1", time.Minute)
	s.Require().NoError(s.storage.SaveChallenge(s.ctx, c))

	s.ErrorIs(s.storage.ConsumeChallenge(s.ctx, c.Key(), "wrong"), model.ErrChallengeNotFound)
	_, err := s.storage.GetChallenge(s.ctx, c.Key())
	s.Require().NoError(err)

	s.Require().NoError(s.storage.ConsumeChallenge(s.ctx, c.Key(), "tok-1"))
	s.ErrorIs(s.storage.ConsumeChallenge(s.ctx, c.Key(), "tok-1"), model.ErrChallengeNotFound)

	_, err = s.storage.GetChallenge(s.ctx, c.Key())
	s.ErrorIs(err, model.ErrChallengeNotFound)
}

func (s *Suite) TestDeleteExpiredChallenges() {
	short := s.challenge("tok-1", time.Minute)
	long := s.challenge("tok-2", time.Hour)
	long.GameKey = "wordgame"
	s.Require().NoError(s.storage.SaveChallenge(s.ctx, short))
	s.Require().NoError(s.storage.SaveChallenge(s.ctx, long))

	removed, err := s.storage.DeleteExpiredChallenges(s.ctx, s.now.Add(2*time.Minute))
	s.Require().NoError(err)
	s.Equal(1, removed)

	_, err = s.storage.GetChallenge(s.ctx, short.Key())
	s.ErrorIs(err, model.ErrChallengeNotFound)
	_, err = s.storage.GetChallenge(s.ctx, long.Key())
	s.NoError(err)
}

// Dictionary tests

func (s *Suite) TestDictionaryWords() {
	_, err := s.storage.GetDictionaryWords(s.ctx)
	s.ErrorIs(err, model.ErrDictionaryNotLoaded)

	s.Require().NoError(s.storage.SaveDictionaryWords(s.ctx, []string{"CAT", "DOG"}))
	words, err := s.storage.GetDictionaryWords(s.ctx)
	s.Require().NoError(err)
	s.ElementsMatch([]string{"CAT", "DOG"}, words)

	s.Require().NoError(s.storage.SaveDictionaryWords(s.ctx, []string{"EMU"}))
	words, err = s.storage.GetDictionaryWords(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"EMU"}, words)
}
