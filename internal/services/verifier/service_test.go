package verifier

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/playhub/internal/dependencies/mocks"
	"github.com/mcoot/playhub/internal/events"
	"github.com/mcoot/playhub/internal/model"
	"github.com/mcoot/playhub/internal/services/writegate"
	"github.com/mcoot/playhub/internal/storage/memory"
	"github.com/mcoot/playhub/internal/testutil"
)

const alice = model.IdentityID("alice")

type ServiceSuite struct {
	suite.Suite
	storage *memory.Storage
	clock   *mocks.MockClock
	random  *mocks.MockRandom
	gate    *writegate.Gate
	service *Service
	ctx     context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.storage = memory.New()
	s.clock = mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	s.random = mocks.NewMockRandom()
	s.gate = writegate.New(s.clock, events.NewRecorder(), writegate.DefaultConfig(), testutil.NopLogger())
	s.service = New(s.storage, s.clock, s.random, s.gate,
		[]Game{TicTacToe{}, TileMatch{}, CardGuess{}},
		Config{ChallengeTTL: time.Minute}, testutil.NopLogger())
}

func (s *ServiceSuite) issue(gameKey string, seed uint32, token string) *model.Challenge {
	s.random.QueueUint32(seed)
	s.random.QueueString(token)
	ch, err := s.service.IssueChallenge(s.ctx, alice, gameKey)
	s.Require().NoError(err)
	return ch
}

func tttWin(seed uint32, token string) Redemption {
	return Redemption{
		GameKey:    "tictactoe",
		Seed:       seed,
		ProofToken: token,
		Claim:      Claim{Outcome: OutcomeWin},
		Transcript: json.RawMessage(`{"player_symbol":"X","moves":[0,3,1,4,2]}`),
	}
}

// Issue tests

func (s *ServiceSuite) TestIssueChallenge() {
	ch := s.issue("tictactoe", 77, "tok-1")

	s.Equal(uint32(77), ch.Seed)
	s.Equal("tok-1", ch.ProofToken)
	s.Equal(s.clock.Now().Add(time.Minute), ch.ExpiresAt)

	stored, err := s.storage.GetChallenge(s.ctx, ch.Key())
	s.Require().NoError(err)
	s.Equal(ch.ProofToken, stored.ProofToken)
}

func (s *ServiceSuite) TestIssueUnknownGame() {
	_, err := s.service.IssueChallenge(s.ctx, alice, "chess")
	s.ErrorIs(err, model.ErrUnknownGame)
}

func (s *ServiceSuite) TestReissueInvalidatesPrior() {
	s.issue("tictactoe", 1, "old")
	s.issue("tictactoe", 2, "new")

	_, err := s.service.Redeem(s.ctx, alice, tttWin(1, "old"))
	s.ErrorIs(err, model.ErrInvalidSeed)

	verdict, err := s.service.Redeem(s.ctx, alice, tttWin(2, "new"))
	s.Require().NoError(err)
	s.True(verdict.Passed)
}

func (s *ServiceSuite) TestIssueReadOnly() {
	s.gate.Degrade("maintenance", model.HealthSourceOperator)
	_, err := s.service.IssueChallenge(s.ctx, alice, "tictactoe")
	s.ErrorIs(err, model.ErrReadOnly)
}

// Redeem tests

func (s *ServiceSuite) TestRedeemIsSingleUse() {
	s.issue("tictactoe", 5, "tok")

	verdict, err := s.service.Redeem(s.ctx, alice, tttWin(5, "tok"))
	s.Require().NoError(err)
	s.True(verdict.Passed)
	s.Equal(OutcomeWin, verdict.Outcome)
	s.Equal(TierPerfect, verdict.Tier)

	_, err = s.service.Redeem(s.ctx, alice, tttWin(5, "tok"))
	s.ErrorIs(err, model.ErrChallengeNotFound)
}

func (s *ServiceSuite) TestFailedChecksDoNotConsume() {
	s.issue("tictactoe", 5, "tok")

	_, err := s.service.Redeem(s.ctx, alice, tttWin(6, "tok"))
	s.ErrorIs(err, model.ErrInvalidSeed)

	_, err = s.service.Redeem(s.ctx, alice, tttWin(5, "tok-forged"))
	s.ErrorIs(err, model.ErrInvalidProof)

	verdict, err := s.service.Redeem(s.ctx, alice, tttWin(5, "tok"))
	s.Require().NoError(err)
	s.True(verdict.Passed)
}

func (s *ServiceSuite) TestRedeemExpired() {
	s.issue("tictactoe", 5, "tok")
	s.clock.Advance(time.Minute)

	_, err := s.service.Redeem(s.ctx, alice, tttWin(5, "tok"))
	s.ErrorIs(err, model.ErrChallengeNotFound)
}

func (s *ServiceSuite) TestRedeemWithoutChallenge() {
	_, err := s.service.Redeem(s.ctx, alice, tttWin(5, "tok"))
	s.ErrorIs(err, model.ErrChallengeNotFound)
}

func (s *ServiceSuite) TestRedeemOtherIdentityChallenge() {
	s.issue("tictactoe", 5, "tok")
	_, err := s.service.Redeem(s.ctx, "mallory", tttWin(5, "tok"))
	s.ErrorIs(err, model.ErrChallengeNotFound)
}

func (s *ServiceSuite) TestAlteredTranscriptRejected() {
	s.issue("tictactoe", 5, "tok")
	r := tttWin(5, "tok")
	r.Transcript = json.RawMessage(`{"player_symbol":"X","moves":[0,3,1,4,5]}`)

	verdict, err := s.service.Redeem(s.ctx, alice, r)
	s.Require().NoError(err)
	s.False(verdict.Passed)
	s.Equal(OutcomeUnfinished, verdict.Outcome)
	s.Equal(TierNone, verdict.Tier)

	// The attempt still used up the challenge
	_, err = s.service.Redeem(s.ctx, alice, tttWin(5, "tok"))
	s.ErrorIs(err, model.ErrChallengeNotFound)
}

func (s *ServiceSuite) TestMalformedTranscript() {
	s.issue("tictactoe", 5, "tok")
	r := tttWin(5, "tok")
	r.Transcript = json.RawMessage(`{"player_symbol":"X","moves":[0,0]}`)

	_, err := s.service.Redeem(s.ctx, alice, r)
	s.ErrorIs(err, model.ErrMalformedTranscript)
}

func (s *ServiceSuite) TestClaimedScoreMustMatchReplay() {
	moves := json.RawMessage(`{"moves":[{"cleared":12,"combo":1},{"cleared":12,"combo":2}]}`)

	s.issue("tilematch", 42, "tok")
	verdict, err := s.service.Redeem(s.ctx, alice, Redemption{
		GameKey: "tilematch", Seed: 42, ProofToken: "tok",
		Claim:      Claim{Outcome: OutcomeWin, Score: 9000},
		Transcript: moves,
	})
	s.Require().NoError(err)
	s.False(verdict.Passed)
	s.Equal(360, verdict.Score)

	s.issue("tilematch", 42, "tok2")
	verdict, err = s.service.Redeem(s.ctx, alice, Redemption{
		GameKey: "tilematch", Seed: 42, ProofToken: "tok2",
		Claim:      Claim{Outcome: OutcomeWin, Score: 360},
		Transcript: moves,
	})
	s.Require().NoError(err)
	s.True(verdict.Passed)
	s.Equal(360, verdict.Score)
}

func (s *ServiceSuite) TestRedeemInvalidClaim() {
	s.issue("tictactoe", 5, "tok")
	r := tttWin(5, "tok")
	r.Claim.Outcome = "victory"

	_, err := s.service.Redeem(s.ctx, alice, r)
	s.ErrorIs(err, model.ErrInvalidRequest)
}

func (s *ServiceSuite) TestConcurrentRedeemSucceedsOnce() {
	s.issue("tictactoe", 5, "tok")

	var passed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v, err := s.service.Redeem(s.ctx, alice, tttWin(5, "tok")); err == nil && v.Passed {
				passed.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), passed.Load())
}

func (s *ServiceSuite) TestPurgeExpired() {
	s.issue("tictactoe", 1, "a")
	s.clock.Advance(30 * time.Second)
	s.issue("cardguess", 2, "b")
	s.clock.Advance(45 * time.Second)

	n, err := s.service.PurgeExpired(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, n)

	_, err = s.storage.GetChallenge(s.ctx, model.ChallengeKey{IdentityID: alice, GameKey: "cardguess"})
	s.NoError(err)
}
