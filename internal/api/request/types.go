package request

import (
	"encoding/json"

	"github.com/mcoot/playhub/internal/services/verifier"
)

// JoinRequest is the request body for asking to join
type JoinRequest struct {
	DisplayName string `json:"display_name"`
}

// ClaimJoinRequest exchanges a claim secret for a session
type ClaimJoinRequest struct {
	Secret string `json:"secret"`
}

// LoginRequest is the request body for logging in
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// CreateOfferRequest is the request body for offering items to another identity
type CreateOfferRequest struct {
	To   string `json:"to"`
	Item string `json:"item"`
	Qty  int    `json:"qty"`
}

// GrantRequest credits items to an owner
type GrantRequest struct {
	Owner string `json:"owner"`
	Item  string `json:"item"`
	Qty   int    `json:"qty"`
}

// ImportStack is one stack in an import
type ImportStack struct {
	Owner string `json:"owner"`
	Item  string `json:"item"`
	Qty   int    `json:"qty"`
}

// ImportRequest replaces stack quantities in bulk
type ImportRequest struct {
	Stacks []ImportStack `json:"stacks"`
}

// EnqueueRequest is the request body for joining a matchmaking pool
type EnqueueRequest struct {
	GameKey string `json:"game_key"`
	Mode    string `json:"mode,omitempty"`
}

// CompleteMatchRequest submits a match result with its evidence
type CompleteMatchRequest struct {
	ClaimedWinner string               `json:"claimed_winner,omitempty"`
	Evidence      *verifier.Redemption `json:"evidence,omitempty"`
}

// IssueChallengeRequest asks for a seed to play one game with
type IssueChallengeRequest struct {
	GameKey string `json:"game_key"`
}

// RedeemRequest submits a transcript against an issued challenge
type RedeemRequest struct {
	GameKey    string          `json:"game_key"`
	Seed       uint32          `json:"seed"`
	ProofToken string          `json:"proof_token"`
	Outcome    string          `json:"outcome"`
	Score      int             `json:"score,omitempty"`
	Transcript json.RawMessage `json:"transcript"`
}

// Redemption converts the request to the verifier's form
func (r RedeemRequest) Redemption() verifier.Redemption {
	return verifier.Redemption{
		GameKey:    r.GameKey,
		Seed:       r.Seed,
		ProofToken: r.ProofToken,
		Claim:      verifier.Claim{Outcome: verifier.Outcome(r.Outcome), Score: r.Score},
		Transcript: r.Transcript,
	}
}

// DegradeRequest puts the system into read-only mode
type DegradeRequest struct {
	Reason string `json:"reason"`
}
