package storage

import (
	"context"
	"time"

	"github.com/mcoot/playhub/internal/model"
)

// TransferCommit is one atomic finalization step of the transfer ledger.
// The offer is written only if its stored status still equals ExpectedStatus;
// otherwise nothing is written and model.ErrStatusConflict is returned.
type TransferCommit struct {
	Offer          *model.TransferOffer
	ExpectedStatus model.OfferStatus
	Stacks         []*model.ResourceStack
}

// Storage defines the interface for data persistence
type Storage interface {
	// Ping reports whether the backing store is reachable
	Ping(ctx context.Context) error

	// Identity operations
	SaveIdentity(ctx context.Context, identity *model.Identity) error
	GetIdentity(ctx context.Context, id model.IdentityID) (*model.Identity, error)
	ListIdentities(ctx context.Context) ([]*model.Identity, error)

	// Credential operations
	SaveCredentials(ctx context.Context, creds *model.Credentials) error
	GetCredentialsByUsername(ctx context.Context, username string) (*model.Credentials, error)

	// Join request operations
	SaveJoinRequest(ctx context.Context, req *model.JoinRequest) error
	GetJoinRequest(ctx context.Context, id model.JoinRequestID) (*model.JoinRequest, error)
	ListJoinRequests(ctx context.Context, status model.JoinRequestStatus) ([]*model.JoinRequest, error)

	// Inventory operations
	SaveStack(ctx context.Context, stack *model.ResourceStack) error
	GetStack(ctx context.Context, ref model.StackRef) (*model.ResourceStack, error)
	ListStacks(ctx context.Context, owner model.IdentityID) ([]*model.ResourceStack, error)

	// Transfer operations
	// CreateOffer inserts a pending offer together with the sender stack carrying its reservation
	CreateOffer(ctx context.Context, offer *model.TransferOffer, sender *model.ResourceStack) error
	GetOffer(ctx context.Context, id model.OfferID) (*model.TransferOffer, error)
	ListOffersFor(ctx context.Context, id model.IdentityID) ([]*model.TransferOffer, error)
	ListPendingOffers(ctx context.Context) ([]*model.TransferOffer, error)
	CommitTransfer(ctx context.Context, commit TransferCommit) error

	// Queue operations
	SaveQueueEntry(ctx context.Context, entry *model.QueueEntry) error
	GetActiveQueueEntry(ctx context.Context, id model.IdentityID) (*model.QueueEntry, error)
	GetLatestQueueEntry(ctx context.Context, id model.IdentityID) (*model.QueueEntry, error)
	// ListQueued returns the queued entries of a pool, oldest first
	ListQueued(ctx context.Context, pool model.QueuePool) ([]*model.QueueEntry, error)

	// Match operations
	// CreateMatch inserts the match and saves the matched queue entries in one step
	CreateMatch(ctx context.Context, match *model.Match, entries []*model.QueueEntry) error
	GetMatch(ctx context.Context, id model.MatchID) (*model.Match, error)
	// CompleteMatch saves a completed match only if the stored match is still active,
	// returning model.ErrMatchCompleted otherwise
	CompleteMatch(ctx context.Context, match *model.Match) error

	// Challenge operations
	// SaveChallenge stores the challenge, replacing any prior one with the same key
	SaveChallenge(ctx context.Context, challenge *model.Challenge) error
	GetChallenge(ctx context.Context, key model.ChallengeKey) (*model.Challenge, error)
	// ConsumeChallenge deletes the challenge only if its proof token still matches,
	// returning model.ErrChallengeNotFound otherwise
	ConsumeChallenge(ctx context.Context, key model.ChallengeKey, proofToken string) error
	DeleteExpiredChallenges(ctx context.Context, now time.Time) (int, error)

	// Dictionary operations
	GetDictionaryWords(ctx context.Context) ([]string, error)
	SaveDictionaryWords(ctx context.Context, words []string) error
}
