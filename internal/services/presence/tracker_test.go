package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/playhub/internal/dependencies/mocks"
	"github.com/mcoot/playhub/internal/events"
	"github.com/mcoot/playhub/internal/model"
	"github.com/mcoot/playhub/internal/services/auth"
	"github.com/mcoot/playhub/internal/services/writegate"
	"github.com/mcoot/playhub/internal/storage/memory"
	"github.com/mcoot/playhub/internal/testutil"
)

type fakeHandle struct {
	mu     sync.Mutex
	closed []string
}

func (h *fakeHandle) Close(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = append(h.closed, reason)
}

func (h *fakeHandle) closedWith() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.closed...)
}

// pausingAuth holds the first matching credential check after it has
// succeeded until resume is closed
type pausingAuth struct {
	Authenticator
	onValidate bool
	paused     chan struct{}
	resume     chan struct{}
	once       sync.Once
}

func newPausingAuth(inner Authenticator, onValidate bool) *pausingAuth {
	return &pausingAuth{
		Authenticator: inner,
		onValidate:    onValidate,
		paused:        make(chan struct{}),
		resume:        make(chan struct{}),
	}
}

func (p *pausingAuth) pause() {
	p.once.Do(func() {
		close(p.paused)
		<-p.resume
	})
}

func (p *pausingAuth) ValidateSession(ctx context.Context, token string) (*auth.Session, error) {
	session, err := p.Authenticator.ValidateSession(ctx, token)
	if err == nil && p.onValidate {
		p.pause()
	}
	return session, err
}

func (p *pausingAuth) GetIdentity(ctx context.Context, id model.IdentityID) (*model.Identity, error) {
	identity, err := p.Authenticator.GetIdentity(ctx, id)
	if err == nil && !p.onValidate {
		p.pause()
	}
	return identity, err
}

type TrackerSuite struct {
	suite.Suite
	clock      *mocks.MockClock
	recorder   *events.Recorder
	auth       *auth.Service
	tracker    *Tracker
	ctx        context.Context
	supervisor *auth.Session
}

func TestTrackerSuite(t *testing.T) {
	suite.Run(t, new(TrackerSuite))
}

func (s *TrackerSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	s.recorder = events.NewRecorder()
	gate := writegate.New(s.clock, s.recorder, writegate.DefaultConfig(), testutil.NopLogger())
	s.auth = auth.New(memory.New(), s.clock, mocks.NewMockRandom(), gate, auth.DefaultConfig(), testutil.NopLogger())
	s.tracker = NewTracker(s.auth, s.clock, s.recorder, Config{
		OfflineGrace: 5 * time.Second,
		IdleAfter:    time.Minute,
	}, testutil.NopLogger())

	_, err := s.auth.BootstrapSupervisor(s.ctx, "admin", "hunter22", "Admin")
	s.Require().NoError(err)
	s.supervisor, err = s.auth.Login(s.ctx, "admin", "hunter22")
	s.Require().NoError(err)
	s.recorder.Reset()
}

func (s *TrackerSuite) participant(name string) *auth.Session {
	req, err := s.auth.RequestJoin(s.ctx, name)
	s.Require().NoError(err)
	_, err = s.auth.ApproveJoin(s.ctx, s.supervisor.IdentityID, req.ID)
	s.Require().NoError(err)
	session, err := s.auth.ClaimJoin(s.ctx, req.ID, req.ClaimSecret)
	s.Require().NoError(err)
	return session
}

func (s *TrackerSuite) attach(connID string, session *auth.Session) *fakeHandle {
	h := &fakeHandle{}
	_, err := s.tracker.Attach(s.ctx, model.ConnectionID(connID), session.Token, h)
	s.Require().NoError(err)
	return h
}

func (s *TrackerSuite) transitions() []model.PresenceChangedPayload {
	var result []model.PresenceChangedPayload
	for _, e := range s.recorder.OfType(model.EventPresenceChanged) {
		result = append(result, e.Payload.(model.PresenceChangedPayload))
	}
	return result
}

func (s *TrackerSuite) status(id model.IdentityID) model.PresenceStatus {
	return s.tracker.Snapshot(id).Status
}

// Attach tests

func (s *TrackerSuite) TestAttachGoesOnline() {
	alice := s.participant("Alice")

	snapshot, err := s.tracker.Attach(s.ctx, "c1", alice.Token, &fakeHandle{})
	s.Require().NoError(err)
	s.Equal(model.PresenceOnline, snapshot.Status)
	s.Equal(1, snapshot.Connections)

	s.Equal([]model.PresenceChangedPayload{{
		IdentityID: alice.IdentityID,
		OldStatus:  model.PresenceOffline,
		NewStatus:  model.PresenceOnline,
	}}, s.transitions())
}

func (s *TrackerSuite) TestAttachRejectsInvalidToken() {
	_, err := s.tracker.Attach(s.ctx, "c1", "sess_bogus", &fakeHandle{})
	s.ErrorIs(err, auth.ErrInvalidSession)
	s.Equal(0, s.tracker.ConnectionCount())
	s.Empty(s.transitions())
}

func (s *TrackerSuite) TestAttachDuplicateConnectionID() {
	alice := s.participant("Alice")
	s.attach("c1", alice)

	_, err := s.tracker.Attach(s.ctx, "c1", alice.Token, &fakeHandle{})
	s.ErrorIs(err, model.ErrConnectionExists)
	s.Equal(1, s.tracker.Snapshot(alice.IdentityID).Connections)
}

func (s *TrackerSuite) TestSecondTabDoesNotRepublish() {
	alice := s.participant("Alice")
	s.attach("c1", alice)
	s.attach("c2", alice)

	s.Len(s.transitions(), 1)
	s.Equal(2, s.tracker.Snapshot(alice.IdentityID).Connections)
}

// Detach and debounce tests

func (s *TrackerSuite) TestDetachOneOfTwoTabsStaysOnline() {
	alice := s.participant("Alice")
	s.attach("c1", alice)
	s.attach("c2", alice)

	s.Require().NoError(s.tracker.Detach("c1"))
	s.clock.Advance(10 * time.Second)

	s.Equal(model.PresenceOnline, s.status(alice.IdentityID))
	s.Len(s.transitions(), 1)
}

func (s *TrackerSuite) TestLastDetachGoesOfflineAfterGrace() {
	alice := s.participant("Alice")
	s.attach("c1", alice)
	s.Require().NoError(s.tracker.Detach("c1"))

	s.clock.Advance(4 * time.Second)
	s.Equal(model.PresenceOnline, s.status(alice.IdentityID))

	s.clock.Advance(time.Second)
	s.Eventually(func() bool {
		return s.status(alice.IdentityID) == model.PresenceOffline
	}, time.Second, 5*time.Millisecond)

	transitions := s.transitions()
	s.Require().Len(transitions, 2)
	s.Equal(model.PresenceOnline, transitions[1].OldStatus)
	s.Equal(model.PresenceOffline, transitions[1].NewStatus)
}

func (s *TrackerSuite) TestReconnectWithinGraceCancelsOffline() {
	alice := s.participant("Alice")
	s.attach("c1", alice)
	s.Require().NoError(s.tracker.Detach("c1"))

	s.clock.Advance(2 * time.Second)
	s.attach("c2", alice)
	s.clock.Advance(10 * time.Second)

	s.Equal(model.PresenceOnline, s.tracker.Snapshot(alice.IdentityID).Status)
	// Only the initial offline -> online transition was published
	s.Len(s.transitions(), 1)
}

func (s *TrackerSuite) TestStaleTimerIgnored() {
	alice := s.participant("Alice")
	s.attach("c1", alice)
	s.Require().NoError(s.tracker.Detach("c1"))

	st, ok := s.tracker.existingState(alice.IdentityID)
	s.Require().True(ok)
	st.mu.Lock()
	staleGen := st.gen
	st.mu.Unlock()

	s.attach("c2", alice)
	// A timer callback that lost the race to Stop must not take effect
	s.tracker.commitOffline(alice.IdentityID, staleGen)
	s.Equal(model.PresenceOnline, s.status(alice.IdentityID))
}

func (s *TrackerSuite) TestDetachUnknownConnection() {
	s.ErrorIs(s.tracker.Detach("nope"), model.ErrConnectionNotFound)
}

func (s *TrackerSuite) TestZeroGraceGoesOfflineImmediately() {
	s.tracker.cfg.OfflineGrace = 0
	alice := s.participant("Alice")
	s.attach("c1", alice)

	s.Require().NoError(s.tracker.Detach("c1"))
	s.Equal(model.PresenceOffline, s.status(alice.IdentityID))
	s.Len(s.transitions(), 2)
}

// Idle tests

func (s *TrackerSuite) TestIdleDerivedFromInactivity() {
	alice := s.participant("Alice")
	s.attach("c1", alice)

	s.clock.Advance(time.Minute)
	s.Equal(model.PresenceIdle, s.status(alice.IdentityID))

	s.Equal(1, s.tracker.SweepIdle())
	transitions := s.transitions()
	s.Require().Len(transitions, 2)
	s.Equal(model.PresenceIdle, transitions[1].NewStatus)

	// Nothing changed since the last sweep
	s.Equal(0, s.tracker.SweepIdle())
}

func (s *TrackerSuite) TestTouchRestoresOnline() {
	alice := s.participant("Alice")
	s.attach("c1", alice)
	s.clock.Advance(time.Minute)
	s.tracker.SweepIdle()

	s.tracker.Touch(alice.IdentityID)

	s.Equal(model.PresenceOnline, s.status(alice.IdentityID))
	transitions := s.transitions()
	s.Require().Len(transitions, 3)
	s.Equal(model.PresenceIdle, transitions[2].OldStatus)
	s.Equal(model.PresenceOnline, transitions[2].NewStatus)
}

func (s *TrackerSuite) TestTouchUnknownIdentityIsNoop() {
	s.tracker.Touch("ghost")
	s.Equal(model.PresenceOffline, s.status("ghost"))
	s.Empty(s.transitions())
}

// Rebind tests

func (s *TrackerSuite) TestSupervisorRebind() {
	alice := s.participant("Alice")
	s.attach("sup", s.supervisor)
	s.recorder.Reset()

	s.Require().NoError(s.tracker.Rebind(s.ctx, "sup", alice.IdentityID))

	bound, ok := s.tracker.BoundIdentity("sup")
	s.True(ok)
	s.Equal(alice.IdentityID, bound)
	s.Equal(model.PresenceOnline, s.status(alice.IdentityID))
	s.Equal(0, s.tracker.Snapshot(s.supervisor.IdentityID).Connections)

	// The supervisor's grace window runs; alice came online at once
	transitions := s.transitions()
	s.Require().Len(transitions, 1)
	s.Equal(alice.IdentityID, transitions[0].IdentityID)

	s.clock.Advance(5 * time.Second)
	s.Eventually(func() bool {
		return s.status(s.supervisor.IdentityID) == model.PresenceOffline
	}, time.Second, 5*time.Millisecond)
}

func (s *TrackerSuite) TestRebindKeepsOldIdentityOnlineWithOtherTabs() {
	alice := s.participant("Alice")
	s.attach("sup1", s.supervisor)
	s.attach("sup2", s.supervisor)
	s.recorder.Reset()

	s.Require().NoError(s.tracker.Rebind(s.ctx, "sup1", alice.IdentityID))
	s.clock.Advance(30 * time.Second)

	s.Equal(model.PresenceOnline, s.tracker.Snapshot(s.supervisor.IdentityID).Status)
	for _, p := range s.transitions() {
		s.NotEqual(s.supervisor.IdentityID, p.IdentityID)
	}
}

func (s *TrackerSuite) TestRebindBackToSelf() {
	alice := s.participant("Alice")
	s.attach("sup", s.supervisor)
	s.Require().NoError(s.tracker.Rebind(s.ctx, "sup", alice.IdentityID))

	s.Require().NoError(s.tracker.Rebind(s.ctx, "sup", s.supervisor.IdentityID))
	bound, _ := s.tracker.BoundIdentity("sup")
	s.Equal(s.supervisor.IdentityID, bound)
}

func (s *TrackerSuite) TestParticipantCannotRebindToOthers() {
	alice := s.participant("Alice")
	bob := s.participant("Bob")
	s.attach("c1", alice)

	err := s.tracker.Rebind(s.ctx, "c1", bob.IdentityID)
	s.ErrorIs(err, model.ErrForbidden)
	bound, _ := s.tracker.BoundIdentity("c1")
	s.Equal(alice.IdentityID, bound)
}

func (s *TrackerSuite) TestRebindToSameIdentityIsNoop() {
	alice := s.participant("Alice")
	s.attach("c1", alice)
	s.recorder.Reset()

	s.Require().NoError(s.tracker.Rebind(s.ctx, "c1", alice.IdentityID))
	s.Empty(s.transitions())
}

func (s *TrackerSuite) TestRebindToRemovedIdentity() {
	alice := s.participant("Alice")
	_, err := s.auth.RemoveIdentity(s.ctx, alice.IdentityID, false)
	s.Require().NoError(err)
	s.attach("sup", s.supervisor)

	s.ErrorIs(s.tracker.Rebind(s.ctx, "sup", alice.IdentityID), model.ErrIdentityRemoved)
}

func (s *TrackerSuite) TestConcurrentOppositeRebinds() {
	alice := s.participant("Alice")
	bob := s.participant("Bob")
	s.attach("c1", s.supervisor)
	s.Require().NoError(s.tracker.Rebind(s.ctx, "c1", alice.IdentityID))
	s.attach("c2", s.supervisor)
	s.Require().NoError(s.tracker.Rebind(s.ctx, "c2", bob.IdentityID))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.tracker.Rebind(s.ctx, "c1", bob.IdentityID)
			_ = s.tracker.Rebind(s.ctx, "c1", alice.IdentityID)
		}()
		go func() {
			defer wg.Done()
			_ = s.tracker.Rebind(s.ctx, "c2", alice.IdentityID)
			_ = s.tracker.Rebind(s.ctx, "c2", bob.IdentityID)
		}()
	}
	wg.Wait()

	total := s.tracker.Snapshot(alice.IdentityID).Connections + s.tracker.Snapshot(bob.IdentityID).Connections
	s.Equal(2, total)
	s.Equal(2, s.tracker.ConnectionCount())
}

// Eviction tests

func (s *TrackerSuite) TestForceEvictClosesAllConnections() {
	alice := s.participant("Alice")
	h1 := s.attach("c1", alice)
	h2 := s.attach("c2", alice)

	s.Equal(2, s.tracker.ForceEvict(alice.IdentityID, "removed"))

	s.Equal([]string{"removed"}, h1.closedWith())
	s.Equal([]string{"removed"}, h2.closedWith())
	s.Equal(model.PresenceOffline, s.status(alice.IdentityID))
	s.Equal(0, s.tracker.ConnectionCount())

	// Transport teardown after eviction finds nothing to detach
	s.ErrorIs(s.tracker.Detach("c1"), model.ErrConnectionNotFound)
}

func (s *TrackerSuite) TestForceEvictDuringGraceWindow() {
	alice := s.participant("Alice")
	s.attach("c1", alice)
	s.Require().NoError(s.tracker.Detach("c1"))

	s.Equal(0, s.tracker.ForceEvict(alice.IdentityID, "removed"))
	s.Equal(model.PresenceOffline, s.status(alice.IdentityID))

	s.clock.Advance(time.Minute)
	s.Len(s.transitions(), 2)
}

func (s *TrackerSuite) TestEvictedIdentityCannotReattach() {
	alice := s.participant("Alice")
	s.attach("c1", alice)
	_, err := s.auth.RemoveIdentity(s.ctx, alice.IdentityID, true)
	s.Require().NoError(err)
	s.tracker.ForceEvict(alice.IdentityID, "banned")

	_, err = s.tracker.Attach(s.ctx, "c2", alice.Token, &fakeHandle{})
	s.ErrorIs(err, auth.ErrInvalidSession)
}

func (s *TrackerSuite) newTracker(authn Authenticator) *Tracker {
	return NewTracker(authn, s.clock, s.recorder, Config{
		OfflineGrace: 5 * time.Second,
		IdleAfter:    time.Minute,
	}, testutil.NopLogger())
}

func (s *TrackerSuite) TestAttachRacingBanStaysOffline() {
	bob := s.participant("Bob")
	authn := newPausingAuth(s.auth, true)
	tracker := s.newTracker(authn)

	h := &fakeHandle{}
	done := make(chan error, 1)
	go func() {
		_, err := tracker.Attach(s.ctx, "c1", bob.Token, h)
		done <- err
	}()

	// The token has validated but the connection is not bound yet
	<-authn.paused
	_, err := s.auth.RemoveIdentity(s.ctx, bob.IdentityID, true)
	s.Require().NoError(err)
	tracker.ForceEvict(bob.IdentityID, "banned")
	close(authn.resume)

	s.ErrorIs(<-done, auth.ErrInvalidSession)
	snapshot := tracker.Snapshot(bob.IdentityID)
	s.Equal(model.PresenceOffline, snapshot.Status)
	s.Equal(0, snapshot.Connections)
	s.Equal(0, tracker.ConnectionCount())
	s.Empty(s.transitions())
}

func (s *TrackerSuite) TestAttachRetriesAfterUnrelatedEviction() {
	alice := s.participant("Alice")
	bob := s.participant("Bob")
	authn := newPausingAuth(s.auth, true)
	tracker := s.newTracker(authn)

	done := make(chan error, 1)
	go func() {
		_, err := tracker.Attach(s.ctx, "c1", alice.Token, &fakeHandle{})
		done <- err
	}()

	<-authn.paused
	tracker.ForceEvict(bob.IdentityID, "removed")
	close(authn.resume)

	s.NoError(<-done)
	s.Equal(model.PresenceOnline, tracker.Snapshot(alice.IdentityID).Status)
	s.Equal(1, tracker.ConnectionCount())
}

func (s *TrackerSuite) TestRebindRacingRemovalIsRejected() {
	alice := s.participant("Alice")
	authn := newPausingAuth(s.auth, false)
	tracker := s.newTracker(authn)
	_, err := tracker.Attach(s.ctx, "sup", s.supervisor.Token, &fakeHandle{})
	s.Require().NoError(err)

	done := make(chan error, 1)
	go func() {
		done <- tracker.Rebind(s.ctx, "sup", alice.IdentityID)
	}()

	// The target looked active but the connection has not moved yet
	<-authn.paused
	_, err = s.auth.RemoveIdentity(s.ctx, alice.IdentityID, false)
	s.Require().NoError(err)
	tracker.ForceEvict(alice.IdentityID, "removed")
	close(authn.resume)

	s.ErrorIs(<-done, model.ErrIdentityRemoved)
	s.Equal(model.PresenceOffline, tracker.Snapshot(alice.IdentityID).Status)
	s.Equal(0, tracker.Snapshot(alice.IdentityID).Connections)
	s.Equal(1, tracker.Snapshot(s.supervisor.IdentityID).Connections)
}

func (s *TrackerSuite) TestSnapshots() {
	alice := s.participant("Alice")
	bob := s.participant("Bob")
	s.attach("c1", alice)
	s.attach("c2", bob)

	snapshots := s.tracker.Snapshots()
	s.Len(snapshots, 2)
	for _, snap := range snapshots {
		s.Equal(model.PresenceOnline, snap.Status)
	}
}
