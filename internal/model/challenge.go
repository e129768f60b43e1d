package model

import "time"

// ChallengeKey addresses the single outstanding challenge of an identity for a game
type ChallengeKey struct {
	IdentityID IdentityID
	GameKey    string
}

// Challenge binds a server-generated seed to one verification attempt
type Challenge struct {
	IdentityID IdentityID
	GameKey    string
	Seed       uint32
	ProofToken string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// Key returns the storage key of the challenge
func (c *Challenge) Key() ChallengeKey {
	return ChallengeKey{IdentityID: c.IdentityID, GameKey: c.GameKey}
}

// IsExpired reports whether the challenge can no longer be redeemed
func (c *Challenge) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
