package redis

import (
	"fmt"

	"github.com/mcoot/playhub/internal/model"
)

// Key prefix for all coordination data
const keyPrefix = "playhub"

// identityKey returns the Redis key for an Identity
func identityKey(id model.IdentityID) string {
	return fmt.Sprintf("%s:identity:%s", keyPrefix, id)
}

// identitiesIndexKey returns the Redis key for the SET of all identity ids
func identitiesIndexKey() string {
	return fmt.Sprintf("%s:idx:identities", keyPrefix)
}

// credentialsKey returns the Redis key for the credentials of a username
func credentialsKey(username string) string {
	return fmt.Sprintf("%s:credentials:%s", keyPrefix, username)
}

// joinRequestKey returns the Redis key for a JoinRequest
func joinRequestKey(id model.JoinRequestID) string {
	return fmt.Sprintf("%s:join_request:%s", keyPrefix, id)
}

// joinRequestsIndexKey returns the Redis key for the SET of all join request ids
func joinRequestsIndexKey() string {
	return fmt.Sprintf("%s:idx:join_requests", keyPrefix)
}

// stackKey returns the Redis key for a ResourceStack
func stackKey(ref model.StackRef) string {
	return fmt.Sprintf("%s:stack:%s:%s", keyPrefix, ref.OwnerID, ref.ItemKey)
}

// stacksForOwnerIndexKey returns the Redis key for the SET of item keys an owner holds
func stacksForOwnerIndexKey(owner model.IdentityID) string {
	return fmt.Sprintf("%s:idx:stacks:%s", keyPrefix, owner)
}

// offerKey returns the Redis key for a TransferOffer
func offerKey(id model.OfferID) string {
	return fmt.Sprintf("%s:offer:%s", keyPrefix, id)
}

// pendingOffersIndexKey returns the Redis key for the SET of pending offer ids
func pendingOffersIndexKey() string {
	return fmt.Sprintf("%s:idx:offers:pending", keyPrefix)
}

// offersForIdentityIndexKey returns the Redis key for the SET of offers an identity is party to
func offersForIdentityIndexKey(id model.IdentityID) string {
	return fmt.Sprintf("%s:idx:offers:identity:%s", keyPrefix, id)
}

// queueEntryKey returns the Redis key for a QueueEntry
func queueEntryKey(id model.QueueEntryID) string {
	return fmt.Sprintf("%s:queue_entry:%s", keyPrefix, id)
}

// queueForIdentityIndexKey returns the Redis key for the ZSET of an identity's entries by enqueue time
func queueForIdentityIndexKey(id model.IdentityID) string {
	return fmt.Sprintf("%s:idx:queue:identity:%s", keyPrefix, id)
}

// queuePoolIndexKey returns the Redis key for the ZSET of queued entries in a pool
func queuePoolIndexKey(pool model.QueuePool) string {
	return fmt.Sprintf("%s:idx:queue:pool:%s:%s", keyPrefix, pool.GameKey, pool.Mode)
}

// matchKey returns the Redis key for a Match
func matchKey(id model.MatchID) string {
	return fmt.Sprintf("%s:match:%s", keyPrefix, id)
}

// challengeKey returns the Redis key for a Challenge
func challengeKey(key model.ChallengeKey) string {
	return fmt.Sprintf("%s:challenge:%s:%s", keyPrefix, key.IdentityID, key.GameKey)
}

// challengesIndexKey returns the Redis key for the SET of challenge keys
func challengesIndexKey() string {
	return fmt.Sprintf("%s:idx:challenges", keyPrefix)
}

// dictionaryKey returns the Redis key for the dictionary word set
func dictionaryKey() string {
	return fmt.Sprintf("%s:dictionary", keyPrefix)
}
