package auth

import (
	"context"
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

type ServiceSuite struct {
	suite.Suite
	storage    *memory.Storage
	clock      *mocks.MockClock
	random     *mocks.MockRandom
	gate       *writegate.Gate
	service    *Service
	ctx        context.Context
	supervisor *model.Identity
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.storage = memory.New()
	s.clock = mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	s.random = mocks.NewMockRandom()
	s.gate = writegate.New(s.clock, events.NewRecorder(), writegate.DefaultConfig(), testutil.NopLogger())
	s.service = New(s.storage, s.clock, s.random, s.gate, DefaultConfig(), testutil.NopLogger())
	s.ctx = context.Background()

	supervisor, err := s.service.BootstrapSupervisor(s.ctx, "admin", "hunter22", "Admin")
	s.Require().NoError(err)
	s.supervisor = supervisor
}

func (s *ServiceSuite) approvedParticipant(name string) (*model.JoinRequest, *model.Identity) {
	req, err := s.service.RequestJoin(s.ctx, name)
	s.Require().NoError(err)
	identity, err := s.service.ApproveJoin(s.ctx, s.supervisor.ID, req.ID)
	s.Require().NoError(err)
	return req, identity
}

// Supervisor tests

func (s *ServiceSuite) TestBootstrapSupervisorIsIdempotent() {
	again, err := s.service.BootstrapSupervisor(s.ctx, "admin", "other", "Other")
	s.Require().NoError(err)
	s.Equal(s.supervisor.ID, again.ID)
	s.True(again.IsSupervisor())
}

func (s *ServiceSuite) TestBootstrapSupervisorHashesPassword() {
	creds, err := s.storage.GetCredentialsByUsername(s.ctx, "admin")
	s.Require().NoError(err)
	s.NotEmpty(creds.PasswordHash)
	s.NotEqual("hunter22", creds.PasswordHash)
}

func (s *ServiceSuite) TestLoginSucceeds() {
	session, err := s.service.Login(s.ctx, "admin", "hunter22")
	s.Require().NoError(err)
	s.NotEmpty(session.Token)
	s.Equal(s.supervisor.ID, session.IdentityID)
	s.Equal(s.clock.Now().Add(24*time.Hour), session.ExpiresAt)
}

func (s *ServiceSuite) TestLoginWrongPassword() {
	_, err := s.service.Login(s.ctx, "admin", "wrong")
	s.ErrorIs(err, ErrInvalidCredentials)
}

func (s *ServiceSuite) TestLoginUnknownUser() {
	_, err := s.service.Login(s.ctx, "nobody", "hunter22")
	s.ErrorIs(err, ErrInvalidCredentials)
}

// Join flow tests

func (s *ServiceSuite) TestRequestJoinRequiresDisplayName() {
	_, err := s.service.RequestJoin(s.ctx, "   ")
	s.ErrorIs(err, model.ErrInvalidRequest)
}

func (s *ServiceSuite) TestJoinFlowIssuesSession() {
	req, identity := s.approvedParticipant("Alice")
	s.Equal("Alice", identity.DisplayName)
	s.Equal(model.RoleParticipant, identity.Role)

	session, err := s.service.ClaimJoin(s.ctx, req.ID, req.ClaimSecret)
	s.Require().NoError(err)
	s.Equal(identity.ID, session.IdentityID)

	stored, err := s.storage.GetJoinRequest(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(model.JoinRequestClaimed, stored.Status)
	s.Equal(identity.ID, stored.IdentityID)
}

func (s *ServiceSuite) TestClaimBeforeApprovalFails() {
	req, err := s.service.RequestJoin(s.ctx, "Alice")
	s.Require().NoError(err)

	_, err = s.service.ClaimJoin(s.ctx, req.ID, req.ClaimSecret)
	s.ErrorIs(err, model.ErrJoinRequestClosed)
}

func (s *ServiceSuite) TestClaimWithWrongSecretFails() {
	req, _ := s.approvedParticipant("Alice")

	_, err := s.service.ClaimJoin(s.ctx, req.ID, "guess")
	s.ErrorIs(err, ErrInvalidCredentials)
}

func (s *ServiceSuite) TestApproveRequiresSupervisor() {
	_, participant := s.approvedParticipant("Alice")
	req, _ := s.service.RequestJoin(s.ctx, "Bob")

	_, err := s.service.ApproveJoin(s.ctx, participant.ID, req.ID)
	s.ErrorIs(err, model.ErrForbidden)
}

func (s *ServiceSuite) TestApproveTwiceFails() {
	req, _ := s.approvedParticipant("Alice")

	_, err := s.service.ApproveJoin(s.ctx, s.supervisor.ID, req.ID)
	s.ErrorIs(err, model.ErrJoinRequestClosed)
}

func (s *ServiceSuite) TestApproveBlockedWhileDegraded() {
	req, _ := s.service.RequestJoin(s.ctx, "Alice")
	s.gate.Degrade("maintenance", model.HealthSourceOperator)

	_, err := s.service.ApproveJoin(s.ctx, s.supervisor.ID, req.ID)
	s.ErrorIs(err, model.ErrReadOnly)
}

func (s *ServiceSuite) TestDenyJoin() {
	req, _ := s.service.RequestJoin(s.ctx, "Alice")
	s.Require().NoError(s.service.DenyJoin(s.ctx, s.supervisor.ID, req.ID))

	pending, err := s.service.ListJoinRequests(s.ctx, s.supervisor.ID, model.JoinRequestPending)
	s.Require().NoError(err)
	s.Empty(pending)

	_, err = s.service.ClaimJoin(s.ctx, req.ID, req.ClaimSecret)
	s.ErrorIs(err, model.ErrJoinRequestClosed)
}

// Session tests

func (s *ServiceSuite) TestValidateSessionExpires() {
	session, _ := s.service.Login(s.ctx, "admin", "hunter22")

	s.clock.Advance(24 * time.Hour)

	_, err := s.service.ValidateSession(s.ctx, session.Token)
	s.ErrorIs(err, ErrInvalidSession)
	s.Equal(0, s.service.SessionCount())
}

func (s *ServiceSuite) TestValidateSessionUnknownToken() {
	_, err := s.service.ValidateSession(s.ctx, "sess_bogus")
	s.ErrorIs(err, ErrInvalidSession)
}

func (s *ServiceSuite) TestRemoveIdentityRevokesSessions() {
	req, identity := s.approvedParticipant("Alice")
	first, _ := s.service.ClaimJoin(s.ctx, req.ID, req.ClaimSecret)
	second, _ := s.service.ClaimJoin(s.ctx, req.ID, req.ClaimSecret)

	removed, err := s.service.RemoveIdentity(s.ctx, identity.ID, true)
	s.Require().NoError(err)
	s.True(removed.Banned)
	s.NotNil(removed.RemovedAt)

	for _, token := range []string{first.Token, second.Token} {
		_, err := s.service.ValidateSession(s.ctx, token)
		s.ErrorIs(err, ErrInvalidSession)
	}

	_, err = s.service.ClaimJoin(s.ctx, req.ID, req.ClaimSecret)
	s.ErrorIs(err, model.ErrIdentityRemoved)
}

func (s *ServiceSuite) TestValidateSessionRejectsBannedIdentity() {
	req, identity := s.approvedParticipant("Alice")
	session, _ := s.service.ClaimJoin(s.ctx, req.ID, req.ClaimSecret)

	// Ban written directly to storage, bypassing revocation
	identity.Banned = true
	s.Require().NoError(s.storage.SaveIdentity(s.ctx, identity))

	_, err := s.service.ValidateSession(s.ctx, session.Token)
	s.ErrorIs(err, ErrInvalidSession)
}

func (s *ServiceSuite) TestCleanExpiredSessions() {
	_, _ = s.service.Login(s.ctx, "admin", "hunter22")
	s.clock.Advance(12 * time.Hour)
	_, _ = s.service.Login(s.ctx, "admin", "hunter22")
	s.clock.Advance(13 * time.Hour)

	s.Equal(1, s.service.CleanExpiredSessions())
	s.Equal(1, s.service.SessionCount())
}
