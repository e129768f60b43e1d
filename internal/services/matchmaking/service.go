// Package matchmaking pairs identities into two-player matches and decides
// match winners from verified transcripts only.
package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mcoot/playhub/internal/dependencies/clock"
	"github.com/mcoot/playhub/internal/dependencies/keylock"
	"github.com/mcoot/playhub/internal/dependencies/random"
	"github.com/mcoot/playhub/internal/events"
	"github.com/mcoot/playhub/internal/model"
	"github.com/mcoot/playhub/internal/services/verifier"
	"github.com/mcoot/playhub/internal/services/writegate"
	"github.com/mcoot/playhub/internal/storage"
)

// Verifier judges the evidence submitted with a match completion
type Verifier interface {
	HasGame(gameKey string) bool
	Redeem(ctx context.Context, id model.IdentityID, r verifier.Redemption) (*verifier.Verdict, error)
}

// QueueResult reports the queue state after an enqueue or cancel
type QueueResult struct {
	Status model.QueueStatus
	Entry  *model.QueueEntry
	Match  *model.Match // Set when the call produced a match
}

// Completion is a participant's request to finish a match. ClaimedWinner
// must be empty; the winner comes from Evidence alone.
type Completion struct {
	ClaimedWinner model.IdentityID
	Evidence      *verifier.Redemption
}

// CompletionResult is the match after completion with the verdict that decided it
type CompletionResult struct {
	Match   *model.Match
	Verdict *verifier.Verdict
}

// Service runs the matchmaking queue and match lifecycle
type Service struct {
	storage   storage.Storage
	clock     clock.Clock
	random    random.Random
	gate      writegate.Checker
	verifier  Verifier
	publisher events.Publisher
	locks     *keylock.Locker
	logger    *slog.Logger
}

// New creates a new matchmaking Service
func New(
	storage storage.Storage,
	clock clock.Clock,
	random random.Random,
	gate writegate.Checker,
	verifier Verifier,
	publisher events.Publisher,
	logger *slog.Logger,
) *Service {
	return &Service{
		storage:   storage,
		clock:     clock,
		random:    random,
		gate:      gate,
		verifier:  verifier,
		publisher: publisher,
		locks:     keylock.New(),
		logger:    logger.With(slog.String("component", "matchmaking")),
	}
}

func identityKey(id model.IdentityID) string {
	return "identity:" + string(id)
}

func poolKey(pool model.QueuePool) string {
	return "pool:" + pool.GameKey + "/" + pool.Mode
}

func matchKey(id model.MatchID) string {
	return "match:" + string(id)
}

func (s *Service) publishQueue(entry *model.QueueEntry) {
	s.publisher.Publish(model.Event{
		Type:      model.EventQueueUpdated,
		Timestamp: s.clock.Now(),
		Audience:  []model.IdentityID{entry.IdentityID},
		Payload:   model.QueueUpdatedPayload{Entry: *entry},
	})
}

func (s *Service) publishMatch(eventType model.EventType, match *model.Match) {
	s.publisher.Publish(model.Event{
		Type:      eventType,
		Timestamp: s.clock.Now(),
		Audience:  []model.IdentityID{match.Participants[0], match.Participants[1]},
		Payload:   model.MatchPayload{Match: *match},
	})
}

// Enqueue places the identity in the pool for gameKey and mode, matching it
// at once against the longest-waiting other entry if there is one
func (s *Service) Enqueue(ctx context.Context, id model.IdentityID, gameKey, mode string) (*QueueResult, error) {
	if err := s.gate.AssertWritable(writegate.OpQueueEnqueue); err != nil {
		return nil, err
	}
	gameKey, mode = strings.TrimSpace(gameKey), strings.TrimSpace(mode)
	if gameKey == "" || mode == "" {
		return nil, model.ErrInvalidRequest
	}
	if !s.verifier.HasGame(gameKey) {
		return nil, model.ErrUnknownGame
	}
	return s.enqueue(ctx, id, model.QueuePool{GameKey: gameKey, Mode: mode}, nil)
}

// Rematch re-enqueues a participant of a finished match for the same game
// and mode, tagging the entry and any resulting match with the old match id
func (s *Service) Rematch(ctx context.Context, matchID model.MatchID, by model.IdentityID) (*QueueResult, error) {
	if err := s.gate.AssertWritable(writegate.OpMatchRematch); err != nil {
		return nil, err
	}
	match, err := s.GetMatch(ctx, matchID, by)
	if err != nil {
		return nil, err
	}
	if match.Status == model.MatchActive {
		return nil, model.ErrMatchActive
	}
	return s.enqueue(ctx, by, model.QueuePool{GameKey: match.GameKey, Mode: match.Mode}, &match.ID)
}

func (s *Service) enqueue(ctx context.Context, id model.IdentityID, pool model.QueuePool, rematchOf *model.MatchID) (*QueueResult, error) {
	unlock := s.locks.LockAll(identityKey(id), poolKey(pool))
	defer unlock()

	if _, err := s.storage.GetActiveQueueEntry(ctx, id); err == nil {
		return nil, model.ErrAlreadyInQueue
	} else if !errors.Is(err, model.ErrNotInQueue) {
		return nil, err
	}

	now := s.clock.Now()
	entry := &model.QueueEntry{
		ID:         model.QueueEntryID(s.random.ID()),
		IdentityID: id,
		GameKey:    pool.GameKey,
		Mode:       pool.Mode,
		Status:     model.QueueQueued,
		RematchOf:  rematchOf,
		EnqueuedAt: now,
		UpdatedAt:  now,
	}

	queued, err := s.storage.ListQueued(ctx, pool)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	opponent := pickOpponent(queued, id)

	if opponent == nil {
		if err := s.storage.SaveQueueEntry(ctx, entry); err != nil {
			return nil, fmt.Errorf("save queue entry: %w", err)
		}
		s.logger.Info("identity queued",
			slog.String("identity_id", string(id)),
			slog.String("game", pool.GameKey),
			slog.String("mode", pool.Mode))

		unlock()
		s.publishQueue(entry)
		return &QueueResult{Status: entry.Status, Entry: entry}, nil
	}

	match := &model.Match{
		ID:           model.MatchID(s.random.ID()),
		GameKey:      pool.GameKey,
		Mode:         pool.Mode,
		Participants: [2]model.IdentityID{opponent.IdentityID, id},
		Status:       model.MatchActive,
		RematchOf:    rematchOf,
		CreatedAt:    now,
	}
	if match.RematchOf == nil {
		match.RematchOf = opponent.RematchOf
	}
	for _, e := range []*model.QueueEntry{opponent, entry} {
		e.Status = model.QueueMatched
		e.MatchID = &match.ID
		e.UpdatedAt = now
	}
	if err := s.storage.CreateMatch(ctx, match, []*model.QueueEntry{opponent, entry}); err != nil {
		return nil, fmt.Errorf("create match: %w", err)
	}

	s.logger.Info("match found",
		slog.String("match_id", string(match.ID)),
		slog.String("game", pool.GameKey),
		slog.String("mode", pool.Mode),
		slog.String("player_one", string(opponent.IdentityID)),
		slog.String("player_two", string(id)))

	unlock()
	s.publishQueue(entry)
	s.publishQueue(opponent)
	s.publishMatch(model.EventMatchFound, match)
	return &QueueResult{Status: entry.Status, Entry: entry, Match: match}, nil
}

// pickOpponent returns the longest-waiting entry of another identity.
// Matching happens on arrival, so a pool rarely holds more than one.
func pickOpponent(queued []*model.QueueEntry, self model.IdentityID) *model.QueueEntry {
	for _, e := range queued {
		if e.IdentityID != self {
			return e
		}
	}
	return nil
}

// CancelQueue withdraws the identity's queued entry. An entry that has
// already been matched is left alone and reported as matched.
func (s *Service) CancelQueue(ctx context.Context, id model.IdentityID) (*QueueResult, error) {
	if err := s.gate.AssertWritable(writegate.OpQueueCancel); err != nil {
		return nil, err
	}
	return s.cancel(ctx, id)
}

// Withdraw cancels any queued entry of the identity without consulting the
// write gate. Identity removal calls it after its own gate check.
func (s *Service) Withdraw(ctx context.Context, id model.IdentityID) (bool, error) {
	result, err := s.cancel(ctx, id)
	if errors.Is(err, model.ErrNotInQueue) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return result.Status == model.QueueCanceled, nil
}

func (s *Service) cancel(ctx context.Context, id model.IdentityID) (*QueueResult, error) {
	entry, err := s.storage.GetActiveQueueEntry(ctx, id)
	if errors.Is(err, model.ErrNotInQueue) {
		return s.latest(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	unlock := s.locks.LockAll(identityKey(id), poolKey(entry.Pool()))
	defer unlock()

	entry, err = s.storage.GetActiveQueueEntry(ctx, id)
	if errors.Is(err, model.ErrNotInQueue) {
		// Matched between the read and the lock
		return s.latest(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	entry.Status = model.QueueCanceled
	entry.UpdatedAt = s.clock.Now()
	if err := s.storage.SaveQueueEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("save queue entry: %w", err)
	}
	s.logger.Info("queue entry canceled",
		slog.String("identity_id", string(id)),
		slog.String("entry_id", string(entry.ID)))

	unlock()
	s.publishQueue(entry)
	return &QueueResult{Status: entry.Status, Entry: entry}, nil
}

func (s *Service) latest(ctx context.Context, id model.IdentityID) (*QueueResult, error) {
	entry, err := s.storage.GetLatestQueueEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.Status != model.QueueMatched {
		return nil, model.ErrNotInQueue
	}
	return &QueueResult{Status: entry.Status, Entry: entry}, nil
}

// QueueStatus returns the identity's most recent queue entry
func (s *Service) QueueStatus(ctx context.Context, id model.IdentityID) (*model.QueueEntry, error) {
	return s.storage.GetLatestQueueEntry(ctx, id)
}

// GetMatch returns a match the caller participates in. Other identities'
// matches are reported as not found.
func (s *Service) GetMatch(ctx context.Context, id model.MatchID, by model.IdentityID) (*model.Match, error) {
	match, err := s.storage.GetMatch(ctx, id)
	if err != nil {
		return nil, err
	}
	if !match.HasParticipant(by) {
		return nil, model.ErrMatchNotFound
	}
	return match, nil
}

// CompleteMatch decides the match from the caller's verified transcript.
// A win makes the caller the winner, a loss the opponent, and a draw
// completes the match with no winner. Once decided the winner never changes.
func (s *Service) CompleteMatch(ctx context.Context, id model.MatchID, by model.IdentityID, c Completion) (*CompletionResult, error) {
	if err := s.gate.AssertWritable(writegate.OpMatchComplete); err != nil {
		return nil, err
	}

	match, err := s.GetMatch(ctx, id, by)
	if err != nil {
		return nil, err
	}
	if err := checkCompletable(match); err != nil {
		return nil, err
	}
	if c.ClaimedWinner != "" {
		s.logger.Warn("client asserted a match winner",
			slog.String("match_id", string(id)),
			slog.String("identity_id", string(by)),
			slog.String("claimed_winner", string(c.ClaimedWinner)))
		return nil, model.ErrForbidden
	}
	if c.Evidence == nil || c.Evidence.GameKey != match.GameKey {
		return nil, model.ErrInvalidRequest
	}

	verdict, err := s.verifier.Redeem(ctx, by, *c.Evidence)
	if err != nil {
		return nil, err
	}
	if !verdict.Passed {
		return &CompletionResult{Match: match, Verdict: verdict}, model.ErrOutcomeRejected
	}

	unlock := s.locks.Lock(matchKey(id))
	defer unlock()

	match, err = s.storage.GetMatch(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkCompletable(match); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	match.Status = model.MatchCompleted
	match.CompletedAt = &now
	switch verdict.Outcome {
	case verifier.OutcomeWin:
		match.Winner = by
	case verifier.OutcomeLoss:
		match.Winner = match.Opponent(by)
	}

	if err := s.storage.CompleteMatch(ctx, match); err != nil {
		if errors.Is(err, model.ErrMatchCompleted) {
			if current, getErr := s.storage.GetMatch(ctx, id); getErr == nil {
				if err := checkCompletable(current); err != nil {
					return nil, err
				}
			}
		}
		return nil, fmt.Errorf("complete match: %w", err)
	}

	s.logger.Info("match completed",
		slog.String("match_id", string(id)),
		slog.String("winner", string(match.Winner)),
		slog.String("outcome", string(verdict.Outcome)),
		slog.String("reported_by", string(by)))

	unlock()
	s.publishMatch(model.EventMatchCompleted, match)
	return &CompletionResult{Match: match, Verdict: verdict}, nil
}

func checkCompletable(match *model.Match) error {
	if match.HasWinner() {
		return model.ErrWinnerLocked
	}
	if match.Status != model.MatchActive {
		return model.ErrMatchCompleted
	}
	return nil
}
