package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/mcoot/playhub/internal/model"
	"github.com/mcoot/playhub/internal/storage"
)

// Storage is an in-memory implementation of the storage interface.
// Records are copied on the way in and out so callers never share state.
type Storage struct {
	mu sync.RWMutex

	identities      map[model.IdentityID]model.Identity
	credentials     map[string]model.Credentials
	joinRequests    map[model.JoinRequestID]model.JoinRequest
	stacks          map[model.StackRef]model.ResourceStack
	offers          map[model.OfferID]model.TransferOffer
	queueEntries    map[model.QueueEntryID]model.QueueEntry
	queueByIdentity map[model.IdentityID][]model.QueueEntryID
	matches         map[model.MatchID]model.Match
	challenges      map[model.ChallengeKey]model.Challenge
	dictionaryWords []string

	pingErr error
}

// New creates a new in-memory storage instance
func New() *Storage {
	return &Storage{
		identities:      make(map[model.IdentityID]model.Identity),
		credentials:     make(map[string]model.Credentials),
		joinRequests:    make(map[model.JoinRequestID]model.JoinRequest),
		stacks:          make(map[model.StackRef]model.ResourceStack),
		offers:          make(map[model.OfferID]model.TransferOffer),
		queueEntries:    make(map[model.QueueEntryID]model.QueueEntry),
		queueByIdentity: make(map[model.IdentityID][]model.QueueEntryID),
		matches:         make(map[model.MatchID]model.Match),
		challenges:      make(map[model.ChallengeKey]model.Challenge),
	}
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

// SetPingError makes Ping fail with err until cleared with nil. Used to
// simulate an unhealthy store.
func (s *Storage) SetPingError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingErr = err
}

func (s *Storage) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pingErr
}

// Identity operations

func (s *Storage) SaveIdentity(ctx context.Context, identity *model.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities[identity.ID] = *identity
	return nil
}

func (s *Storage) GetIdentity(ctx context.Context, id model.IdentityID) (*model.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.identities[id]
	if !ok {
		return nil, model.ErrIdentityNotFound
	}
	return &identity, nil
}

func (s *Storage) ListIdentities(ctx context.Context) ([]*model.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*model.Identity, 0, len(s.identities))
	for _, identity := range s.identities {
		result = append(result, &identity)
	}
	slices.SortFunc(result, func(a, b *model.Identity) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return result, nil
}

// Credential operations

func (s *Storage) SaveCredentials(ctx context.Context, creds *model.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[creds.Username] = *creds
	return nil
}

func (s *Storage) GetCredentialsByUsername(ctx context.Context, username string) (*model.Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	creds, ok := s.credentials[username]
	if !ok {
		return nil, model.ErrCredentialsNotFound
	}
	return &creds, nil
}

// Join request operations

func (s *Storage) SaveJoinRequest(ctx context.Context, req *model.JoinRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joinRequests[req.ID] = *req
	return nil
}

func (s *Storage) GetJoinRequest(ctx context.Context, id model.JoinRequestID) (*model.JoinRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.joinRequests[id]
	if !ok {
		return nil, model.ErrJoinRequestNotFound
	}
	return &req, nil
}

func (s *Storage) ListJoinRequests(ctx context.Context, status model.JoinRequestStatus) ([]*model.JoinRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*model.JoinRequest
	for _, req := range s.joinRequests {
		if req.Status == status {
			result = append(result, &req)
		}
	}
	slices.SortFunc(result, func(a, b *model.JoinRequest) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return result, nil
}

// Inventory operations

func (s *Storage) SaveStack(ctx context.Context, stack *model.ResourceStack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stacks[stack.Ref()] = *stack
	return nil
}

func (s *Storage) GetStack(ctx context.Context, ref model.StackRef) (*model.ResourceStack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stack, ok := s.stacks[ref]
	if !ok {
		return nil, model.ErrStackNotFound
	}
	return &stack, nil
}

func (s *Storage) ListStacks(ctx context.Context, owner model.IdentityID) ([]*model.ResourceStack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*model.ResourceStack
	for ref, stack := range s.stacks {
		if ref.OwnerID == owner {
			result = append(result, &stack)
		}
	}
	slices.SortFunc(result, func(a, b *model.ResourceStack) int {
		return compareStrings(string(a.ItemKey), string(b.ItemKey))
	})
	return result, nil
}

// Transfer operations

func (s *Storage) CreateOffer(ctx context.Context, offer *model.TransferOffer, sender *model.ResourceStack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stacks[sender.Ref()] = *sender
	s.offers[offer.ID] = cloneOffer(offer)
	return nil
}

func (s *Storage) GetOffer(ctx context.Context, id model.OfferID) (*model.TransferOffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	offer, ok := s.offers[id]
	if !ok {
		return nil, model.ErrOfferNotFound
	}
	result := cloneOffer(&offer)
	return &result, nil
}

func (s *Storage) ListOffersFor(ctx context.Context, id model.IdentityID) ([]*model.TransferOffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*model.TransferOffer
	for _, offer := range s.offers {
		if offer.IsParty(id) {
			o := cloneOffer(&offer)
			result = append(result, &o)
		}
	}
	sortOffers(result)
	return result, nil
}

func (s *Storage) ListPendingOffers(ctx context.Context) ([]*model.TransferOffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*model.TransferOffer
	for _, offer := range s.offers {
		if offer.Status == model.OfferPending {
			o := cloneOffer(&offer)
			result = append(result, &o)
		}
	}
	sortOffers(result)
	return result, nil
}

func (s *Storage) CommitTransfer(ctx context.Context, commit storage.TransferCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.offers[commit.Offer.ID]
	if !ok {
		return model.ErrOfferNotFound
	}
	if current.Status != commit.ExpectedStatus {
		return model.ErrStatusConflict
	}

	s.offers[commit.Offer.ID] = cloneOffer(commit.Offer)
	for _, stack := range commit.Stacks {
		s.stacks[stack.Ref()] = *stack
	}
	return nil
}

// Queue operations

func (s *Storage) SaveQueueEntry(ctx context.Context, entry *model.QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveQueueEntryLocked(entry)
	return nil
}

func (s *Storage) saveQueueEntryLocked(entry *model.QueueEntry) {
	if _, exists := s.queueEntries[entry.ID]; !exists {
		s.queueByIdentity[entry.IdentityID] = append(s.queueByIdentity[entry.IdentityID], entry.ID)
	}
	s.queueEntries[entry.ID] = cloneQueueEntry(entry)
}

func (s *Storage) GetActiveQueueEntry(ctx context.Context, id model.IdentityID) (*model.QueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, entryID := range s.queueByIdentity[id] {
		entry := s.queueEntries[entryID]
		if entry.IsActive() {
			result := cloneQueueEntry(&entry)
			return &result, nil
		}
	}
	return nil, model.ErrNotInQueue
}

func (s *Storage) GetLatestQueueEntry(ctx context.Context, id model.IdentityID) (*model.QueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.queueByIdentity[id]
	if len(ids) == 0 {
		return nil, model.ErrNotInQueue
	}
	entry := s.queueEntries[ids[len(ids)-1]]
	result := cloneQueueEntry(&entry)
	return &result, nil
}

func (s *Storage) ListQueued(ctx context.Context, pool model.QueuePool) ([]*model.QueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*model.QueueEntry
	for _, entry := range s.queueEntries {
		if entry.IsActive() && entry.Pool() == pool {
			e := cloneQueueEntry(&entry)
			result = append(result, &e)
		}
	}
	slices.SortFunc(result, func(a, b *model.QueueEntry) int {
		if c := a.EnqueuedAt.Compare(b.EnqueuedAt); c != 0 {
			return c
		}
		return compareStrings(string(a.ID), string(b.ID))
	})
	return result, nil
}

// Match operations

func (s *Storage) CreateMatch(ctx context.Context, match *model.Match, entries []*model.QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matches[match.ID] = cloneMatch(match)
	for _, entry := range entries {
		s.saveQueueEntryLocked(entry)
	}
	return nil
}

func (s *Storage) GetMatch(ctx context.Context, id model.MatchID) (*model.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	match, ok := s.matches[id]
	if !ok {
		return nil, model.ErrMatchNotFound
	}
	result := cloneMatch(&match)
	return &result, nil
}

func (s *Storage) CompleteMatch(ctx context.Context, match *model.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.matches[match.ID]
	if !ok {
		return model.ErrMatchNotFound
	}
	if current.Status != model.MatchActive {
		return model.ErrMatchCompleted
	}
	s.matches[match.ID] = cloneMatch(match)
	return nil
}

// Challenge operations

func (s *Storage) SaveChallenge(ctx context.Context, challenge *model.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[challenge.Key()] = *challenge
	return nil
}

func (s *Storage) GetChallenge(ctx context.Context, key model.ChallengeKey) (*model.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	challenge, ok := s.challenges[key]
	if !ok {
		return nil, model.ErrChallengeNotFound
	}
	return &challenge, nil
}

func (s *Storage) ConsumeChallenge(ctx context.Context, key model.ChallengeKey, proofToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	challenge, ok := s.challenges[key]
	if !ok || challenge.ProofToken != proofToken {
		return model.ErrChallengeNotFound
	}
	delete(s.challenges, key)
	return nil
}

func (s *Storage) DeleteExpiredChallenges(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, challenge := range s.challenges {
		if challenge.IsExpired(now) {
			delete(s.challenges, key)
			removed++
		}
	}
	return removed, nil
}

// Dictionary operations

func (s *Storage) GetDictionaryWords(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.dictionaryWords == nil {
		return nil, model.ErrDictionaryNotLoaded
	}
	result := make([]string, len(s.dictionaryWords))
	copy(result, s.dictionaryWords)
	return result, nil
}

func (s *Storage) SaveDictionaryWords(ctx context.Context, words []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dictionaryWords = make([]string, len(words))
	copy(s.dictionaryWords, words)
	return nil
}

func cloneOffer(o *model.TransferOffer) model.TransferOffer {
	c := *o
	if o.FinalizedAt != nil {
		t := *o.FinalizedAt
		c.FinalizedAt = &t
	}
	return c
}

func cloneQueueEntry(e *model.QueueEntry) model.QueueEntry {
	c := *e
	if e.RematchOf != nil {
		id := *e.RematchOf
		c.RematchOf = &id
	}
	if e.MatchID != nil {
		id := *e.MatchID
		c.MatchID = &id
	}
	return c
}

func cloneMatch(m *model.Match) model.Match {
	c := *m
	if m.RematchOf != nil {
		id := *m.RematchOf
		c.RematchOf = &id
	}
	if m.CompletedAt != nil {
		t := *m.CompletedAt
		c.CompletedAt = &t
	}
	return c
}

func sortOffers(offers []*model.TransferOffer) {
	slices.SortFunc(offers, func(a, b *model.TransferOffer) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return compareStrings(string(a.ID), string(b.ID))
	})
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
