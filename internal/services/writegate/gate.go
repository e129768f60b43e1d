// Package writegate holds the process-wide degraded-mode flag that every
// mutating operation consults before touching state.
package writegate

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mcoot/playhub/internal/dependencies/clock"
	"github.com/mcoot/playhub/internal/events"
	"github.com/mcoot/playhub/internal/model"
)

// Operation ids passed to AssertWritable
const (
	OpIdentityApprove = "identity.approve"
	OpIdentityRemove  = "identity.remove"
	OpInventoryGrant  = "inventory.grant"
	OpDataImport      = "data.import"
	OpOfferCreate     = "offer.create"
	OpOfferAccept     = "offer.accept"
	OpOfferReject     = "offer.reject"
	OpOfferCancel     = "offer.cancel"
	OpOfferExpire     = "offer.expire"
	OpQueueEnqueue    = "queue.enqueue"
	OpQueueCancel     = "queue.cancel"
	OpMatchRematch    = "match.rematch"
	OpMatchComplete   = "match.complete"
	OpChallengeIssue  = "challenge.issue"
	OpChallengeRedeem = "challenge.redeem"
)

// Checker is the part of the gate that mutating services depend on
type Checker interface {
	AssertWritable(op string) error
}

// ReadOnlyError is returned for writes attempted while degraded.
// It matches model.ErrReadOnly with errors.Is.
type ReadOnlyError struct {
	Operation  string
	Reason     string
	RetryAfter time.Duration
}

func (e *ReadOnlyError) Error() string {
	return fmt.Sprintf("%s rejected: system is read-only (%s), retry after %s", e.Operation, e.Reason, e.RetryAfter)
}

func (e *ReadOnlyError) Unwrap() error {
	return model.ErrReadOnly
}

// Config holds configuration for the write gate
type Config struct {
	RetryAfter time.Duration
	AllowList  []string
}

// DefaultConfig returns default write gate configuration
func DefaultConfig() Config {
	return Config{
		RetryAfter: 30 * time.Second,
		AllowList:  []string{OpDataImport},
	}
}

// Gate rejects writes while the system is degraded
type Gate struct {
	clock     clock.Clock
	publisher events.Publisher
	logger    *slog.Logger

	retryAfter time.Duration
	allow      map[string]bool

	mu     sync.RWMutex
	health model.SystemHealth
}

// Ensure Gate implements Checker
var _ Checker = (*Gate)(nil)

// New creates a Gate that starts healthy
func New(clk clock.Clock, publisher events.Publisher, cfg Config, logger *slog.Logger) *Gate {
	if cfg.RetryAfter == 0 {
		cfg.RetryAfter = DefaultConfig().RetryAfter
	}
	if cfg.AllowList == nil {
		cfg.AllowList = DefaultConfig().AllowList
	}
	allow := make(map[string]bool, len(cfg.AllowList))
	for _, op := range cfg.AllowList {
		allow[op] = true
	}
	return &Gate{
		clock:      clk,
		publisher:  publisher,
		logger:     logger.With(slog.String("component", "writegate")),
		retryAfter: cfg.RetryAfter,
		allow:      allow,
		health:     model.SystemHealth{ChangedAt: clk.Now()},
	}
}

// AssertWritable fails with a *ReadOnlyError if the system is degraded and
// op is not on the recovery allow-list
func (g *Gate) AssertWritable(op string) error {
	g.mu.RLock()
	health := g.health
	g.mu.RUnlock()

	if !health.Degraded || g.allow[op] {
		return nil
	}
	return &ReadOnlyError{
		Operation:  op,
		Reason:     health.Reason,
		RetryAfter: g.retryAfter,
	}
}

// Degrade puts the system into read-only mode. An operator degradation
// replaces any earlier one; a health-check degradation never replaces an
// existing one. It reports whether the health changed.
func (g *Gate) Degrade(reason string, source model.HealthSource) bool {
	g.mu.Lock()
	if g.health.Degraded && (source == model.HealthSourceHealthCheck ||
		g.health.Source == source && g.health.Reason == reason) {
		g.mu.Unlock()
		return false
	}
	g.health = model.SystemHealth{
		Degraded:  true,
		Reason:    reason,
		Source:    source,
		ChangedAt: g.clock.Now(),
	}
	health := g.health
	g.mu.Unlock()

	g.logger.Warn("system degraded",
		slog.String("reason", reason),
		slog.String("source", string(source)))
	g.announce(health)
	return true
}

// Recover returns the system to writable mode. A health-check recovery only
// clears a degradation the health check caused. It reports whether the
// health changed.
func (g *Gate) Recover(source model.HealthSource) bool {
	g.mu.Lock()
	if !g.health.Degraded || source == model.HealthSourceHealthCheck && g.health.Source != model.HealthSourceHealthCheck {
		g.mu.Unlock()
		return false
	}
	previous := g.health.Reason
	g.health = model.SystemHealth{
		Source:    source,
		ChangedAt: g.clock.Now(),
	}
	health := g.health
	g.mu.Unlock()

	g.logger.Info("system recovered",
		slog.String("previous_reason", previous),
		slog.String("source", string(source)))
	g.announce(health)
	return true
}

// Health returns the current health snapshot
func (g *Gate) Health() model.SystemHealth {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.health
}

// RetryAfter returns the advisory retry interval for read-only rejections
func (g *Gate) RetryAfter() time.Duration {
	return g.retryAfter
}

func (g *Gate) announce(health model.SystemHealth) {
	g.publisher.Publish(model.Event{
		Type:      model.EventHealthChanged,
		Timestamp: health.ChangedAt,
		Payload:   model.HealthChangedPayload{Health: health},
	})
}
