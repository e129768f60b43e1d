// Package verifier issues single-use seeded challenges and replays client
// transcripts against them before any claimed outcome is trusted.
package verifier

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mcoot/playhub/internal/dependencies/clock"
	"github.com/mcoot/playhub/internal/dependencies/random"
	"github.com/mcoot/playhub/internal/model"
	"github.com/mcoot/playhub/internal/services/writegate"
	"github.com/mcoot/playhub/internal/storage"
)

const (
	proofTokenLength   = 32
	proofTokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// Config holds configuration for the verifier
type Config struct {
	ChallengeTTL time.Duration
}

// DefaultConfig returns default verifier configuration
func DefaultConfig() Config {
	return Config{
		ChallengeTTL: 2 * time.Minute,
	}
}

// Claim is what the client says happened
type Claim struct {
	Outcome Outcome `json:"outcome"`
	Score   int     `json:"score,omitempty"`
}

// Redemption is one attempt to have a transcript verified
type Redemption struct {
	GameKey    string          `json:"game_key"`
	Seed       uint32          `json:"seed"`
	ProofToken string          `json:"proof_token"`
	Claim      Claim           `json:"claim"`
	Transcript json.RawMessage `json:"transcript"`
}

// Verdict is the server's judgement of a redemption
type Verdict struct {
	Passed  bool
	Outcome Outcome
	Score   int
	Tier    Tier
}

// Service is the outcome verifier
type Service struct {
	storage storage.Storage
	clock   clock.Clock
	random  random.Random
	gate    writegate.Checker
	games   map[string]Game
	cfg     Config
	logger  *slog.Logger
}

// New creates a verifier for the given games
func New(storage storage.Storage, clock clock.Clock, random random.Random, gate writegate.Checker, games []Game, cfg Config, logger *slog.Logger) *Service {
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = DefaultConfig().ChallengeTTL
	}
	registry := make(map[string]Game, len(games))
	for _, g := range games {
		registry[g.Key()] = g
	}
	return &Service{
		storage: storage,
		clock:   clock,
		random:  random,
		gate:    gate,
		games:   registry,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "verifier")),
	}
}

// HasGame reports whether transcripts for gameKey can be verified
func (s *Service) HasGame(gameKey string) bool {
	_, ok := s.games[gameKey]
	return ok
}

// IssueChallenge stores a fresh seed and proof token for the identity and
// game, replacing any unredeemed challenge for the same pair
func (s *Service) IssueChallenge(ctx context.Context, id model.IdentityID, gameKey string) (*model.Challenge, error) {
	if err := s.gate.AssertWritable(writegate.OpChallengeIssue); err != nil {
		return nil, err
	}
	if !s.HasGame(gameKey) {
		return nil, model.ErrUnknownGame
	}

	now := s.clock.Now()
	challenge := &model.Challenge{
		IdentityID: id,
		GameKey:    gameKey,
		Seed:       s.random.Uint32(),
		ProofToken: s.random.String(proofTokenLength, proofTokenAlphabet),
		IssuedAt:   now,
		ExpiresAt:  now.Add(s.cfg.ChallengeTTL),
	}
	if err := s.storage.SaveChallenge(ctx, challenge); err != nil {
		return nil, fmt.Errorf("save challenge: %w", err)
	}

	s.logger.Debug("challenge issued",
		slog.String("identity_id", string(id)),
		slog.String("game", gameKey))
	return challenge, nil
}

// Redeem consumes the matching challenge and replays the transcript. Failed
// seed or token checks leave the challenge in place for a corrected retry.
// A transcript that does not support the claim yields a verdict with
// Passed false rather than an error.
func (s *Service) Redeem(ctx context.Context, id model.IdentityID, r Redemption) (*Verdict, error) {
	if err := s.gate.AssertWritable(writegate.OpChallengeRedeem); err != nil {
		return nil, err
	}
	game, ok := s.games[r.GameKey]
	if !ok {
		return nil, model.ErrUnknownGame
	}
	if !r.Claim.Outcome.Valid() {
		return nil, model.ErrInvalidRequest
	}

	key := model.ChallengeKey{IdentityID: id, GameKey: r.GameKey}
	challenge, err := s.storage.GetChallenge(ctx, key)
	if err != nil {
		return nil, err
	}
	if challenge.IsExpired(s.clock.Now()) {
		return nil, model.ErrChallengeNotFound
	}
	if challenge.Seed != r.Seed {
		return nil, model.ErrInvalidSeed
	}
	if subtle.ConstantTimeCompare([]byte(challenge.ProofToken), []byte(r.ProofToken)) != 1 {
		return nil, model.ErrInvalidProof
	}

	// Single use: consumed before the replay is judged
	if err := s.storage.ConsumeChallenge(ctx, key, r.ProofToken); err != nil {
		return nil, err
	}

	replay, err := game.Replay(ctx, NewMulberry32(r.Seed), r.Transcript)
	if err != nil {
		if errors.Is(err, model.ErrMalformedTranscript) {
			s.logger.Info("malformed transcript",
				slog.String("identity_id", string(id)),
				slog.String("game", r.GameKey),
				slog.String("error", err.Error()))
		}
		return nil, err
	}

	verdict := &Verdict{
		Passed:  replay.Outcome == r.Claim.Outcome && r.Claim.Score >= replay.MinScore && r.Claim.Score <= replay.MaxScore,
		Outcome: replay.Outcome,
		Score:   replay.MaxScore,
	}
	if verdict.Passed {
		verdict.Score = r.Claim.Score
		verdict.Tier = replay.Tier
	}

	s.logger.Info("challenge redeemed",
		slog.String("identity_id", string(id)),
		slog.String("game", r.GameKey),
		slog.Bool("passed", verdict.Passed),
		slog.String("outcome", string(replay.Outcome)),
		slog.String("tier", string(verdict.Tier)))
	return verdict, nil
}

// PurgeExpired deletes challenges past their expiry
func (s *Service) PurgeExpired(ctx context.Context) (int, error) {
	if err := s.gate.AssertWritable(writegate.OpChallengeIssue); err != nil {
		return 0, nil
	}
	n, err := s.storage.DeleteExpiredChallenges(ctx, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("purge challenges: %w", err)
	}
	if n > 0 {
		s.logger.Debug("expired challenges purged", slog.Int("count", n))
	}
	return n, nil
}
