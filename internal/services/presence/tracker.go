// Package presence tracks live connections per identity and derives a
// debounced online/idle/offline status from them.
package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcoot/playhub/internal/dependencies/clock"
	"github.com/mcoot/playhub/internal/events"
	"github.com/mcoot/playhub/internal/model"
	"github.com/mcoot/playhub/internal/services/auth"
)

// Authenticator validates bearer tokens and resolves identities
type Authenticator interface {
	ValidateSession(ctx context.Context, token string) (*auth.Session, error)
	GetIdentity(ctx context.Context, id model.IdentityID) (*model.Identity, error)
}

// Handle is the transport side of a live connection
type Handle interface {
	// Close severs the channel. It must not call back into the Tracker.
	Close(reason string)
}

// Config holds configuration for the presence tracker
type Config struct {
	// OfflineGrace is how long an identity stays online after its last
	// connection detaches
	OfflineGrace time.Duration

	// IdleAfter is how long without activity before an online identity is idle
	IdleAfter time.Duration
}

// DefaultConfig returns default presence configuration
func DefaultConfig() Config {
	return Config{
		OfflineGrace: 5 * time.Second,
		IdleAfter:    5 * time.Minute,
	}
}

type connection struct {
	id model.ConnectionID
	// identity is the identity the connection is currently bound to
	identity model.IdentityID
	// authenticated is the identity the bearer token was issued for
	authenticated model.IdentityID
	supervisor    bool
	handle        Handle
	attachedAt    time.Time
}

type identityState struct {
	mu sync.Mutex

	conns map[model.ConnectionID]*connection
	// online stays true through the offline grace window
	online       bool
	lastActivity time.Time
	// published is the status last announced to subscribers
	published model.PresenceStatus

	offlineTimer clock.Timer
	// gen invalidates timers that were superseded but could not be stopped
	gen uint64
}

// Tracker is the connection registry and presence tracker
type Tracker struct {
	auth      Authenticator
	clock     clock.Clock
	publisher events.Publisher
	cfg       Config
	logger    *slog.Logger

	statesMu sync.Mutex
	states   map[model.IdentityID]*identityState

	// idxMu guards connections and every connection.identity field. It is
	// only ever taken while holding no lock or an identity lock.
	idxMu       sync.RWMutex
	connections map[model.ConnectionID]*connection

	// evictions counts ForceEvict calls. Credential checks made before the
	// identity lock is taken are stale once it moves and must be redone.
	evictions atomic.Uint64
}

// NewTracker creates a new Tracker
func NewTracker(authn Authenticator, clk clock.Clock, publisher events.Publisher, cfg Config, logger *slog.Logger) *Tracker {
	return &Tracker{
		auth:        authn,
		clock:       clk,
		publisher:   publisher,
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "presence")),
		states:      make(map[model.IdentityID]*identityState),
		connections: make(map[model.ConnectionID]*connection),
	}
}

func (t *Tracker) state(id model.IdentityID) *identityState {
	t.statesMu.Lock()
	defer t.statesMu.Unlock()
	st, ok := t.states[id]
	if !ok {
		st = &identityState{
			conns:     make(map[model.ConnectionID]*connection),
			published: model.PresenceOffline,
		}
		t.states[id] = st
	}
	return st
}

func (t *Tracker) existingState(id model.IdentityID) (*identityState, bool) {
	t.statesMu.Lock()
	defer t.statesMu.Unlock()
	st, ok := t.states[id]
	return st, ok
}

// derive computes the current status. Caller holds st.mu.
func (t *Tracker) derive(st *identityState, now time.Time) model.PresenceStatus {
	if !st.online {
		return model.PresenceOffline
	}
	if t.cfg.IdleAfter > 0 && now.Sub(st.lastActivity) >= t.cfg.IdleAfter {
		return model.PresenceIdle
	}
	return model.PresenceOnline
}

// republish records the current derived status and returns the change event
// if it differs from the last announced one. Caller holds st.mu.
func (t *Tracker) republish(id model.IdentityID, st *identityState, now time.Time) *model.Event {
	status := t.derive(st, now)
	if status == st.published {
		return nil
	}
	old := st.published
	st.published = status
	return &model.Event{
		Type:      model.EventPresenceChanged,
		Timestamp: now,
		Payload: model.PresenceChangedPayload{
			IdentityID: id,
			OldStatus:  old,
			NewStatus:  status,
		},
	}
}

func (t *Tracker) emit(evts ...*model.Event) {
	for _, e := range evts {
		if e == nil {
			continue
		}
		p := e.Payload.(model.PresenceChangedPayload)
		t.logger.Info("presence changed",
			slog.String("identity_id", string(p.IdentityID)),
			slog.String("old_status", string(p.OldStatus)),
			slog.String("new_status", string(p.NewStatus)))
		t.publisher.Publish(*e)
	}
}

// cancelOffline stops any pending offline timer. Caller holds st.mu.
func (st *identityState) cancelOffline() {
	if st.offlineTimer != nil {
		st.offlineTimer.Stop()
		st.offlineTimer = nil
	}
	st.gen++
}

// scheduleOffline starts the grace window for an identity whose last
// connection just left. Caller holds st.mu.
func (t *Tracker) scheduleOffline(id model.IdentityID, st *identityState, now time.Time) *model.Event {
	st.cancelOffline()
	if t.cfg.OfflineGrace <= 0 {
		st.online = false
		return t.republish(id, st, now)
	}
	gen := st.gen
	st.offlineTimer = t.clock.AfterFunc(t.cfg.OfflineGrace, func() {
		t.commitOffline(id, gen)
	})
	return nil
}

// commitOffline runs when a grace window elapses
func (t *Tracker) commitOffline(id model.IdentityID, gen uint64) {
	st, ok := t.existingState(id)
	if !ok {
		return
	}

	st.mu.Lock()
	if st.gen != gen || len(st.conns) > 0 {
		st.mu.Unlock()
		return
	}
	st.offlineTimer = nil
	st.online = false
	evt := t.republish(id, st, t.clock.Now())
	st.mu.Unlock()

	t.emit(evt)
}

// markOnline binds activity to a new connection arriving. Caller holds st.mu.
func (t *Tracker) markOnline(id model.IdentityID, st *identityState, now time.Time) *model.Event {
	st.cancelOffline()
	st.online = true
	st.lastActivity = now
	return t.republish(id, st, now)
}

// Attach authenticates token and binds the connection to its identity
func (t *Tracker) Attach(ctx context.Context, connID model.ConnectionID, token string, handle Handle) (*model.PresenceSnapshot, error) {
	for {
		seen := t.evictions.Load()
		session, err := t.auth.ValidateSession(ctx, token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidSession) {
				t.logger.Info("attach rejected", slog.String("connection_id", string(connID)))
				return nil, err
			}
			return nil, fmt.Errorf("validate session: %w", err)
		}

		id := session.IdentityID
		st := t.state(id)
		st.mu.Lock()

		// An eviction since validation may have revoked this token
		if t.evictions.Load() != seen {
			st.mu.Unlock()
			continue
		}

		now := t.clock.Now()
		conn := &connection{
			id:            connID,
			identity:      id,
			authenticated: id,
			supervisor:    session.Identity.IsSupervisor(),
			handle:        handle,
			attachedAt:    now,
		}

		t.idxMu.Lock()
		if _, exists := t.connections[connID]; exists {
			t.idxMu.Unlock()
			st.mu.Unlock()
			return nil, model.ErrConnectionExists
		}
		t.connections[connID] = conn
		t.idxMu.Unlock()

		st.conns[connID] = conn
		evt := t.markOnline(id, st, now)
		snapshot := t.snapshotLocked(id, st, now)
		st.mu.Unlock()

		t.logger.Debug("connection attached",
			slog.String("connection_id", string(connID)),
			slog.String("identity_id", string(id)),
			slog.Int("connections", snapshot.Connections))
		t.emit(evt)
		return &snapshot, nil
	}
}

// lockBound locks the state of the identity connID is currently bound to
// and returns it with the connection. It retries if a concurrent rebind
// moves the connection while the lock is being taken.
func (t *Tracker) lockBound(connID model.ConnectionID) (*connection, *identityState, error) {
	for {
		t.idxMu.RLock()
		conn, ok := t.connections[connID]
		var id model.IdentityID
		if ok {
			id = conn.identity
		}
		t.idxMu.RUnlock()
		if !ok {
			return nil, nil, model.ErrConnectionNotFound
		}

		st := t.state(id)
		st.mu.Lock()
		if _, still := st.conns[connID]; still {
			return conn, st, nil
		}
		st.mu.Unlock()
	}
}

// Detach removes the connection. The last detach for an identity starts
// the offline grace window instead of going offline immediately.
func (t *Tracker) Detach(connID model.ConnectionID) error {
	conn, st, err := t.lockBound(connID)
	if err != nil {
		return err
	}
	id := conn.identity

	delete(st.conns, connID)
	t.idxMu.Lock()
	delete(t.connections, connID)
	t.idxMu.Unlock()

	var evt *model.Event
	remaining := len(st.conns)
	if remaining == 0 {
		evt = t.scheduleOffline(id, st, t.clock.Now())
	}
	st.mu.Unlock()

	t.logger.Debug("connection detached",
		slog.String("connection_id", string(connID)),
		slog.String("identity_id", string(id)),
		slog.Int("connections", remaining))
	t.emit(evt)
	return nil
}

// Rebind moves a live connection to another identity without closing it.
// Only a supervisor's connection may be rebound to a different identity;
// any connection may return to the identity it authenticated as.
func (t *Tracker) Rebind(ctx context.Context, connID model.ConnectionID, newID model.IdentityID) error {
	t.idxMu.RLock()
	conn, ok := t.connections[connID]
	t.idxMu.RUnlock()
	if !ok {
		return model.ErrConnectionNotFound
	}
	if !conn.supervisor && newID != conn.authenticated {
		return model.ErrForbidden
	}

	for {
		seen := t.evictions.Load()
		target, err := t.auth.GetIdentity(ctx, newID)
		if err != nil {
			return err
		}
		if !target.IsActive() {
			return model.ErrIdentityRemoved
		}

		t.idxMu.RLock()
		conn, ok = t.connections[connID]
		var oldID model.IdentityID
		if ok {
			oldID = conn.identity
		}
		t.idxMu.RUnlock()
		if !ok {
			return model.ErrConnectionNotFound
		}
		if oldID == newID {
			return nil
		}

		oldSt, newSt := t.state(oldID), t.state(newID)
		// Lock in id order so two opposite rebinds cannot deadlock
		first, second := oldSt, newSt
		if newID < oldID {
			first, second = newSt, oldSt
		}
		first.mu.Lock()
		second.mu.Lock()

		// Retry if the connection moved or an eviction raced the identity check
		if _, still := oldSt.conns[connID]; !still || t.evictions.Load() != seen {
			second.mu.Unlock()
			first.mu.Unlock()
			continue
		}

		now := t.clock.Now()
		delete(oldSt.conns, connID)
		newSt.conns[connID] = conn
		t.idxMu.Lock()
		conn.identity = newID
		t.idxMu.Unlock()

		var oldEvt *model.Event
		if len(oldSt.conns) == 0 {
			oldEvt = t.scheduleOffline(oldID, oldSt, now)
		}
		newEvt := t.markOnline(newID, newSt, now)

		second.mu.Unlock()
		first.mu.Unlock()

		t.logger.Info("connection rebound",
			slog.String("connection_id", string(connID)),
			slog.String("from_identity_id", string(oldID)),
			slog.String("to_identity_id", string(newID)))
		t.emit(oldEvt, newEvt)
		return nil
	}
}

// Touch records activity for the identity. It never changes online or
// offline status, but brings an idle identity back to online.
func (t *Tracker) Touch(id model.IdentityID) {
	st, ok := t.existingState(id)
	if !ok {
		return
	}

	st.mu.Lock()
	now := t.clock.Now()
	st.lastActivity = now
	evt := t.republish(id, st, now)
	st.mu.Unlock()

	t.emit(evt)
}

// ForceEvict closes every live connection of the identity and commits it
// offline immediately. Revoke the identity's credentials first so that a
// reconnect fails at Attach. It returns the number of connections closed.
func (t *Tracker) ForceEvict(id model.IdentityID, reason string) int {
	t.evictions.Add(1)

	st, ok := t.existingState(id)
	if !ok {
		return 0
	}

	st.mu.Lock()
	evicted := make([]*connection, 0, len(st.conns))
	t.idxMu.Lock()
	for connID, conn := range st.conns {
		evicted = append(evicted, conn)
		delete(t.connections, connID)
	}
	t.idxMu.Unlock()
	clear(st.conns)
	st.cancelOffline()
	st.online = false
	evt := t.republish(id, st, t.clock.Now())
	st.mu.Unlock()

	for _, conn := range evicted {
		if conn.handle != nil {
			conn.handle.Close(reason)
		}
	}

	t.logger.Info("identity evicted",
		slog.String("identity_id", string(id)),
		slog.String("reason", reason),
		slog.Int("connections_closed", len(evicted)))
	t.emit(evt)
	return len(evicted)
}

// SweepIdle announces online/idle changes that happened through the
// passage of time alone
func (t *Tracker) SweepIdle() int {
	t.statesMu.Lock()
	ids := make([]model.IdentityID, 0, len(t.states))
	for id := range t.states {
		ids = append(ids, id)
	}
	t.statesMu.Unlock()

	changed := 0
	for _, id := range ids {
		st, ok := t.existingState(id)
		if !ok {
			continue
		}
		st.mu.Lock()
		evt := t.republish(id, st, t.clock.Now())
		st.mu.Unlock()
		if evt != nil {
			changed++
			t.emit(evt)
		}
	}
	return changed
}

func (t *Tracker) snapshotLocked(id model.IdentityID, st *identityState, now time.Time) model.PresenceSnapshot {
	return model.PresenceSnapshot{
		IdentityID:     id,
		Status:         t.derive(st, now),
		LastActivityAt: st.lastActivity,
		Connections:    len(st.conns),
	}
}

// Snapshot returns the current presence of one identity. Unknown identities
// are reported offline.
func (t *Tracker) Snapshot(id model.IdentityID) model.PresenceSnapshot {
	st, ok := t.existingState(id)
	if !ok {
		return model.PresenceSnapshot{IdentityID: id, Status: model.PresenceOffline}
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return t.snapshotLocked(id, st, t.clock.Now())
}

// Snapshots returns the presence of every identity seen since startup
func (t *Tracker) Snapshots() []model.PresenceSnapshot {
	t.statesMu.Lock()
	ids := make([]model.IdentityID, 0, len(t.states))
	for id := range t.states {
		ids = append(ids, id)
	}
	t.statesMu.Unlock()

	result := make([]model.PresenceSnapshot, 0, len(ids))
	for _, id := range ids {
		result = append(result, t.Snapshot(id))
	}
	return result
}

// BoundIdentity returns the identity a live connection is currently bound to
func (t *Tracker) BoundIdentity(connID model.ConnectionID) (model.IdentityID, bool) {
	t.idxMu.RLock()
	defer t.idxMu.RUnlock()
	conn, ok := t.connections[connID]
	if !ok {
		return "", false
	}
	return conn.identity, true
}

// ConnectionCount returns the number of live connections across all identities
func (t *Tracker) ConnectionCount() int {
	t.idxMu.RLock()
	defer t.idxMu.RUnlock()
	return len(t.connections)
}
