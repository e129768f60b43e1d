// Package roster removes identities from the session, tearing down their
// credentials, connections and queue places together.
package roster

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mcoot/playhub/internal/dependencies/clock"
	"github.com/mcoot/playhub/internal/events"
	"github.com/mcoot/playhub/internal/model"
	"github.com/mcoot/playhub/internal/services/writegate"
)

// Identities soft-removes identities and revokes their sessions
type Identities interface {
	RequireSupervisor(ctx context.Context, id model.IdentityID) error
	RemoveIdentity(ctx context.Context, id model.IdentityID, ban bool) (*model.Identity, error)
}

// Evictor closes live connections
type Evictor interface {
	ForceEvict(id model.IdentityID, reason string) int
}

// Queue withdraws queue entries
type Queue interface {
	Withdraw(ctx context.Context, id model.IdentityID) (bool, error)
}

// Removal summarises what removing an identity tore down
type Removal struct {
	Identity          *model.Identity
	ConnectionsClosed int
	QueueWithdrawn    bool
}

// Service orchestrates identity removal
type Service struct {
	identities Identities
	evictor    Evictor
	queue      Queue
	gate       writegate.Checker
	publisher  events.Publisher
	clock      clock.Clock
	logger     *slog.Logger
}

// New creates a new roster Service
func New(identities Identities, evictor Evictor, queue Queue, gate writegate.Checker, publisher events.Publisher, clock clock.Clock, logger *slog.Logger) *Service {
	return &Service{
		identities: identities,
		evictor:    evictor,
		queue:      queue,
		gate:       gate,
		publisher:  publisher,
		clock:      clock,
		logger:     logger.With(slog.String("component", "roster")),
	}
}

// RemoveIdentity removes target from the session (supervisor only).
// Credentials are revoked before connections are closed, so a client that
// reconnects straight away is refused at attach.
func (s *Service) RemoveIdentity(ctx context.Context, by, target model.IdentityID, ban bool) (*Removal, error) {
	if err := s.gate.AssertWritable(writegate.OpIdentityRemove); err != nil {
		return nil, err
	}
	if err := s.identities.RequireSupervisor(ctx, by); err != nil {
		return nil, err
	}
	if by == target {
		return nil, model.ErrInvalidRequest
	}

	identity, err := s.identities.RemoveIdentity(ctx, target, ban)
	if err != nil {
		return nil, err
	}

	reason := "removed"
	if identity.Banned {
		reason = "banned"
	}
	closed := s.evictor.ForceEvict(target, reason)

	withdrawn, err := s.queue.Withdraw(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("withdraw queue entry: %w", err)
	}

	s.publisher.Publish(model.Event{
		Type:      model.EventIdentityRemoved,
		Timestamp: s.clock.Now(),
		Payload: model.IdentityRemovedPayload{
			IdentityID: target,
			Banned:     identity.Banned,
		},
	})

	s.logger.Info("identity removed from session",
		slog.String("identity_id", string(target)),
		slog.String("removed_by", string(by)),
		slog.Bool("banned", identity.Banned),
		slog.Int("connections_closed", closed),
		slog.Bool("queue_withdrawn", withdrawn))

	return &Removal{
		Identity:          identity,
		ConnectionsClosed: closed,
		QueueWithdrawn:    withdrawn,
	}, nil
}
