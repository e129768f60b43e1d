package redis

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcoot/playhub/internal/model"
	"github.com/mcoot/playhub/internal/storage"
)

// Storage is a Redis-backed implementation of the storage interface.
// Conditional writes use WATCH/MULTI so a concurrent change aborts the commit.
type Storage struct {
	client *redis.Client
	cfg    Config
}

// New creates a new Redis storage instance
func New(cfg Config) (*Storage, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &Storage{
		client: client,
		cfg:    cfg,
	}, nil
}

// NewWithClient creates a Redis storage with an existing client (for testing)
func NewWithClient(client *redis.Client, cfg Config) *Storage {
	return &Storage{
		client: client,
		cfg:    cfg,
	}
}

// Close closes the Redis connection
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getJSON[T any](ctx context.Context, c getter, key string, notFound error) (*T, error) {
	data, err := c.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, notFound
		}
		return nil, err
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// mgetJSON fetches many records at once, skipping keys that have expired
func mgetJSON[T any](ctx context.Context, client *redis.Client, keys []string) ([]*T, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	result := make([]*T, 0, len(values))
	for _, val := range values {
		str, ok := val.(string)
		if !ok {
			continue // Record may have expired
		}
		var v T
		if err := json.Unmarshal([]byte(str), &v); err != nil {
			continue // Skip invalid data
		}
		result = append(result, &v)
	}
	return result, nil
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Identity operations

func (s *Storage) SaveIdentity(ctx context.Context, identity *model.Identity) error {
	data, err := json.Marshal(identity)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, identityKey(identity.ID), data, 0)
	pipe.SAdd(ctx, identitiesIndexKey(), string(identity.ID))
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Storage) GetIdentity(ctx context.Context, id model.IdentityID) (*model.Identity, error) {
	return getJSON[model.Identity](ctx, s.client, identityKey(id), model.ErrIdentityNotFound)
}

func (s *Storage) ListIdentities(ctx context.Context) ([]*model.Identity, error) {
	ids, err := s.client.SMembers(ctx, identitiesIndexKey()).Result()
	if err != nil {
		return nil, err
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = identityKey(model.IdentityID(id))
	}
	identities, err := mgetJSON[model.Identity](ctx, s.client, keys)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(identities, func(a, b *model.Identity) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return identities, nil
}

// Credential operations

func (s *Storage) SaveCredentials(ctx context.Context, creds *model.Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, credentialsKey(creds.Username), data, 0).Err()
}

func (s *Storage) GetCredentialsByUsername(ctx context.Context, username string) (*model.Credentials, error) {
	return getJSON[model.Credentials](ctx, s.client, credentialsKey(username), model.ErrCredentialsNotFound)
}

// Join request operations

func (s *Storage) SaveJoinRequest(ctx context.Context, req *model.JoinRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, joinRequestKey(req.ID), data, 0)
	pipe.SAdd(ctx, joinRequestsIndexKey(), string(req.ID))
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Storage) GetJoinRequest(ctx context.Context, id model.JoinRequestID) (*model.JoinRequest, error) {
	return getJSON[model.JoinRequest](ctx, s.client, joinRequestKey(id), model.ErrJoinRequestNotFound)
}

func (s *Storage) ListJoinRequests(ctx context.Context, status model.JoinRequestStatus) ([]*model.JoinRequest, error) {
	ids, err := s.client.SMembers(ctx, joinRequestsIndexKey()).Result()
	if err != nil {
		return nil, err
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = joinRequestKey(model.JoinRequestID(id))
	}
	all, err := mgetJSON[model.JoinRequest](ctx, s.client, keys)
	if err != nil {
		return nil, err
	}

	var result []*model.JoinRequest
	for _, req := range all {
		if req.Status == status {
			result = append(result, req)
		}
	}
	slices.SortFunc(result, func(a, b *model.JoinRequest) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return result, nil
}

// Inventory operations

func (s *Storage) stackOps(ctx context.Context, pipe redis.Pipeliner, stack *model.ResourceStack) error {
	data, err := json.Marshal(stack)
	if err != nil {
		return err
	}
	pipe.Set(ctx, stackKey(stack.Ref()), data, 0)
	pipe.SAdd(ctx, stacksForOwnerIndexKey(stack.OwnerID), string(stack.ItemKey))
	return nil
}

func (s *Storage) SaveStack(ctx context.Context, stack *model.ResourceStack) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		return s.stackOps(ctx, pipe, stack)
	})
	return err
}

func (s *Storage) GetStack(ctx context.Context, ref model.StackRef) (*model.ResourceStack, error) {
	return getJSON[model.ResourceStack](ctx, s.client, stackKey(ref), model.ErrStackNotFound)
}

func (s *Storage) ListStacks(ctx context.Context, owner model.IdentityID) ([]*model.ResourceStack, error) {
	items, err := s.client.SMembers(ctx, stacksForOwnerIndexKey(owner)).Result()
	if err != nil {
		return nil, err
	}

	keys := make([]string, len(items))
	for i, item := range items {
		keys[i] = stackKey(model.StackRef{OwnerID: owner, ItemKey: model.ItemKey(item)})
	}
	stacks, err := mgetJSON[model.ResourceStack](ctx, s.client, keys)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(stacks, func(a, b *model.ResourceStack) int {
		return cmp.Compare(a.ItemKey, b.ItemKey)
	})
	return stacks, nil
}

// Transfer operations

func (s *Storage) CreateOffer(ctx context.Context, offer *model.TransferOffer, sender *model.ResourceStack) error {
	data, err := json.Marshal(offer)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if err := s.stackOps(ctx, pipe, sender); err != nil {
			return err
		}
		pipe.Set(ctx, offerKey(offer.ID), data, 0)
		pipe.SAdd(ctx, pendingOffersIndexKey(), string(offer.ID))
		pipe.SAdd(ctx, offersForIdentityIndexKey(offer.FromOwner), string(offer.ID))
		pipe.SAdd(ctx, offersForIdentityIndexKey(offer.ToOwner), string(offer.ID))
		return nil
	})
	return err
}

func (s *Storage) GetOffer(ctx context.Context, id model.OfferID) (*model.TransferOffer, error) {
	return getJSON[model.TransferOffer](ctx, s.client, offerKey(id), model.ErrOfferNotFound)
}

func (s *Storage) listOffers(ctx context.Context, indexKey string) ([]*model.TransferOffer, error) {
	ids, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, err
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = offerKey(model.OfferID(id))
	}
	offers, err := mgetJSON[model.TransferOffer](ctx, s.client, keys)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(offers, func(a, b *model.TransferOffer) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return offers, nil
}

func (s *Storage) ListOffersFor(ctx context.Context, id model.IdentityID) ([]*model.TransferOffer, error) {
	return s.listOffers(ctx, offersForIdentityIndexKey(id))
}

func (s *Storage) ListPendingOffers(ctx context.Context) ([]*model.TransferOffer, error) {
	offers, err := s.listOffers(ctx, pendingOffersIndexKey())
	if err != nil {
		return nil, err
	}
	result := offers[:0]
	for _, offer := range offers {
		if offer.Status == model.OfferPending {
			result = append(result, offer)
		}
	}
	return result, nil
}

func (s *Storage) CommitTransfer(ctx context.Context, commit storage.TransferCommit) error {
	key := offerKey(commit.Offer.ID)
	data, err := json.Marshal(commit.Offer)
	if err != nil {
		return err
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := getJSON[model.TransferOffer](ctx, tx, key, model.ErrOfferNotFound)
		if err != nil {
			return err
		}
		if current.Status != commit.ExpectedStatus {
			return model.ErrStatusConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			var ttl time.Duration
			if commit.Offer.Status.IsTerminal() {
				ttl = s.cfg.FinalizedOfferTTL
				pipe.SRem(ctx, pendingOffersIndexKey(), string(commit.Offer.ID))
			}
			pipe.Set(ctx, key, data, ttl)
			for _, stack := range commit.Stacks {
				if err := s.stackOps(ctx, pipe, stack); err != nil {
					return err
				}
			}
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return model.ErrStatusConflict
	}
	return err
}

// Queue operations

func (s *Storage) queueEntryOps(ctx context.Context, pipe redis.Pipeliner, entry *model.QueueEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	member := string(entry.ID)
	score := float64(entry.EnqueuedAt.UnixMilli())
	pipe.Set(ctx, queueEntryKey(entry.ID), data, 0)
	pipe.ZAdd(ctx, queueForIdentityIndexKey(entry.IdentityID), redis.Z{Score: score, Member: member})
	if entry.IsActive() {
		pipe.ZAdd(ctx, queuePoolIndexKey(entry.Pool()), redis.Z{Score: score, Member: member})
	} else {
		pipe.ZRem(ctx, queuePoolIndexKey(entry.Pool()), member)
	}
	return nil
}

func (s *Storage) SaveQueueEntry(ctx context.Context, entry *model.QueueEntry) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		return s.queueEntryOps(ctx, pipe, entry)
	})
	return err
}

// queueEntriesFor returns an identity's entries, newest first
func (s *Storage) queueEntriesFor(ctx context.Context, id model.IdentityID) ([]*model.QueueEntry, error) {
	ids, err := s.client.ZRevRange(ctx, queueForIdentityIndexKey(id), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	keys := make([]string, len(ids))
	for i, entryID := range ids {
		keys[i] = queueEntryKey(model.QueueEntryID(entryID))
	}
	return mgetJSON[model.QueueEntry](ctx, s.client, keys)
}

func (s *Storage) GetActiveQueueEntry(ctx context.Context, id model.IdentityID) (*model.QueueEntry, error) {
	entries, err := s.queueEntriesFor(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsActive() {
			return entry, nil
		}
	}
	return nil, model.ErrNotInQueue
}

func (s *Storage) GetLatestQueueEntry(ctx context.Context, id model.IdentityID) (*model.QueueEntry, error) {
	entries, err := s.queueEntriesFor(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, model.ErrNotInQueue
	}
	return entries[0], nil
}

func (s *Storage) ListQueued(ctx context.Context, pool model.QueuePool) ([]*model.QueueEntry, error) {
	ids, err := s.client.ZRange(ctx, queuePoolIndexKey(pool), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	keys := make([]string, len(ids))
	for i, entryID := range ids {
		keys[i] = queueEntryKey(model.QueueEntryID(entryID))
	}
	entries, err := mgetJSON[model.QueueEntry](ctx, s.client, keys)
	if err != nil {
		return nil, err
	}

	result := entries[:0]
	for _, entry := range entries {
		if entry.IsActive() {
			result = append(result, entry)
		}
	}
	return result, nil
}

// Match operations

func (s *Storage) CreateMatch(ctx context.Context, match *model.Match, entries []*model.QueueEntry) error {
	data, err := json.Marshal(match)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, matchKey(match.ID), data, 0)
		for _, entry := range entries {
			if err := s.queueEntryOps(ctx, pipe, entry); err != nil {
				return err
			}
		}
		return nil
	})
	return err
}

func (s *Storage) GetMatch(ctx context.Context, id model.MatchID) (*model.Match, error) {
	return getJSON[model.Match](ctx, s.client, matchKey(id), model.ErrMatchNotFound)
}

func (s *Storage) CompleteMatch(ctx context.Context, match *model.Match) error {
	key := matchKey(match.ID)
	data, err := json.Marshal(match)
	if err != nil {
		return err
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := getJSON[model.Match](ctx, tx, key, model.ErrMatchNotFound)
		if err != nil {
			return err
		}
		if current.Status != model.MatchActive {
			return model.ErrMatchCompleted
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.cfg.CompletedMatchTTL)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return model.ErrMatchCompleted
	}
	return err
}

// Challenge operations

func (s *Storage) SaveChallenge(ctx context.Context, challenge *model.Challenge) error {
	data, err := json.Marshal(challenge)
	if err != nil {
		return err
	}

	key := challengeKey(challenge.Key())
	ttl := challenge.ExpiresAt.Sub(challenge.IssuedAt)
	if ttl < 0 {
		ttl = 0
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, data, ttl)
	pipe.SAdd(ctx, challengesIndexKey(), key)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Storage) GetChallenge(ctx context.Context, key model.ChallengeKey) (*model.Challenge, error) {
	return getJSON[model.Challenge](ctx, s.client, challengeKey(key), model.ErrChallengeNotFound)
}

func (s *Storage) ConsumeChallenge(ctx context.Context, key model.ChallengeKey, proofToken string) error {
	rkey := challengeKey(key)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := getJSON[model.Challenge](ctx, tx, rkey, model.ErrChallengeNotFound)
		if err != nil {
			return err
		}
		if current.ProofToken != proofToken {
			return model.ErrChallengeNotFound
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, rkey)
			pipe.SRem(ctx, challengesIndexKey(), rkey)
			return nil
		})
		return err
	}, rkey)
	if errors.Is(err, redis.TxFailedErr) {
		return model.ErrChallengeNotFound
	}
	return err
}

func (s *Storage) DeleteExpiredChallenges(ctx context.Context, now time.Time) (int, error) {
	keys, err := s.client.SMembers(ctx, challengesIndexKey()).Result()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, key := range keys {
		challenge, err := getJSON[model.Challenge](ctx, s.client, key, model.ErrChallengeNotFound)
		if errors.Is(err, model.ErrChallengeNotFound) {
			// Expired by Redis TTL; drop the dangling index entry
			if err := s.client.SRem(ctx, challengesIndexKey(), key).Err(); err != nil {
				return removed, err
			}
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("read challenge %s: %w", key, err)
		}
		if !challenge.IsExpired(now) {
			continue
		}

		pipe := s.client.TxPipeline()
		pipe.Del(ctx, key)
		pipe.SRem(ctx, challengesIndexKey(), key)
		if _, err := pipe.Exec(ctx); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Dictionary operations

func (s *Storage) GetDictionaryWords(ctx context.Context) ([]string, error) {
	key := dictionaryKey()

	// Check if dictionary exists
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, model.ErrDictionaryNotLoaded
	}

	return s.client.SMembers(ctx, key).Result()
}

func (s *Storage) SaveDictionaryWords(ctx context.Context, words []string) error {
	key := dictionaryKey()

	// Delete existing dictionary and add new words atomically
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)

	if len(words) > 0 {
		members := make([]interface{}, len(words))
		for i, w := range words {
			members[i] = w
		}
		pipe.SAdd(ctx, key, members...)
	}

	_, err := pipe.Exec(ctx)
	return err
}
