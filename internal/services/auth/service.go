package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mcoot/playhub/internal/dependencies/clock"
	"github.com/mcoot/playhub/internal/dependencies/random"
	"github.com/mcoot/playhub/internal/model"
	"github.com/mcoot/playhub/internal/services/writegate"
	"github.com/mcoot/playhub/internal/storage"
)

// Errors
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidSession     = errors.New("invalid or expired session")
)

// Session is an opaque, revocable bearer token bound to one identity
type Session struct {
	Token      string
	IdentityID model.IdentityID
	Identity   model.Identity
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// Service handles identities, join approval and session management
type Service struct {
	storage storage.Storage
	clock   clock.Clock
	random  random.Random
	gate    writegate.Checker
	logger  *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	sessionDuration time.Duration
}

// Config holds configuration for the auth service
type Config struct {
	SessionDuration time.Duration
}

// DefaultConfig returns default auth configuration
func DefaultConfig() Config {
	return Config{
		SessionDuration: 24 * time.Hour,
	}
}

// New creates a new auth Service
func New(storage storage.Storage, clock clock.Clock, random random.Random, gate writegate.Checker, cfg Config, logger *slog.Logger) *Service {
	if cfg.SessionDuration == 0 {
		cfg.SessionDuration = DefaultConfig().SessionDuration
	}
	return &Service{
		storage:         storage,
		clock:           clock,
		random:          random,
		gate:            gate,
		logger:          logger.With(slog.String("component", "auth")),
		sessions:        make(map[string]*Session),
		sessionDuration: cfg.SessionDuration,
	}
}

// BootstrapSupervisor ensures a supervisor account exists for username.
// An existing account is returned unchanged.
func (s *Service) BootstrapSupervisor(ctx context.Context, username, password, displayName string) (*model.Identity, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return nil, model.ErrInvalidRequest
	}

	creds, err := s.storage.GetCredentialsByUsername(ctx, username)
	if err == nil {
		return s.storage.GetIdentity(ctx, creds.IdentityID)
	}
	if !errors.Is(err, model.ErrCredentialsNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	identity := &model.Identity{
		ID:          model.IdentityID(s.random.ID()),
		DisplayName: displayName,
		Role:        model.RoleSupervisor,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.storage.SaveIdentity(ctx, identity); err != nil {
		return nil, err
	}
	if err := s.storage.SaveCredentials(ctx, &model.Credentials{
		IdentityID:   identity.ID,
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}); err != nil {
		return nil, err
	}

	s.logger.Info("supervisor bootstrapped",
		slog.String("identity_id", string(identity.ID)),
		slog.String("username", username))
	return identity, nil
}

// Login authenticates a supervisor account and creates a session
func (s *Service) Login(ctx context.Context, username, password string) (*Session, error) {
	creds, err := s.storage.GetCredentialsByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, model.ErrCredentialsNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	identity, err := s.storage.GetIdentity(ctx, creds.IdentityID)
	if err != nil {
		return nil, err
	}
	if !identity.IsActive() {
		return nil, ErrInvalidCredentials
	}

	return s.createSession(identity), nil
}

// RequestJoin records a pending request to join as a participant. The
// returned ClaimSecret is shown only to the requester.
func (s *Service) RequestJoin(ctx context.Context, displayName string) (*model.JoinRequest, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, model.ErrInvalidRequest
	}

	now := s.clock.Now()
	req := &model.JoinRequest{
		ID:          model.JoinRequestID(s.random.ID()),
		DisplayName: displayName,
		Status:      model.JoinRequestPending,
		ClaimSecret: generateToken("claim_"),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.storage.SaveJoinRequest(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// ListJoinRequests returns join requests in the given status (supervisor only)
func (s *Service) ListJoinRequests(ctx context.Context, by model.IdentityID, status model.JoinRequestStatus) ([]*model.JoinRequest, error) {
	if err := s.RequireSupervisor(ctx, by); err != nil {
		return nil, err
	}
	return s.storage.ListJoinRequests(ctx, status)
}

// ApproveJoin creates the participant identity for a pending join request
func (s *Service) ApproveJoin(ctx context.Context, by model.IdentityID, id model.JoinRequestID) (*model.Identity, error) {
	if err := s.gate.AssertWritable(writegate.OpIdentityApprove); err != nil {
		return nil, err
	}
	if err := s.RequireSupervisor(ctx, by); err != nil {
		return nil, err
	}

	req, err := s.storage.GetJoinRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != model.JoinRequestPending {
		return nil, model.ErrJoinRequestClosed
	}

	now := s.clock.Now()
	identity := &model.Identity{
		ID:          model.IdentityID(s.random.ID()),
		DisplayName: req.DisplayName,
		Role:        model.RoleParticipant,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.storage.SaveIdentity(ctx, identity); err != nil {
		return nil, err
	}

	req.Status = model.JoinRequestApproved
	req.IdentityID = identity.ID
	req.UpdatedAt = now
	if err := s.storage.SaveJoinRequest(ctx, req); err != nil {
		return nil, err
	}

	s.logger.Info("join request approved",
		slog.String("join_request_id", string(id)),
		slog.String("identity_id", string(identity.ID)),
		slog.String("approved_by", string(by)))
	return identity, nil
}

// DenyJoin closes a pending join request without creating an identity
func (s *Service) DenyJoin(ctx context.Context, by model.IdentityID, id model.JoinRequestID) error {
	if err := s.gate.AssertWritable(writegate.OpIdentityApprove); err != nil {
		return err
	}
	if err := s.RequireSupervisor(ctx, by); err != nil {
		return err
	}

	req, err := s.storage.GetJoinRequest(ctx, id)
	if err != nil {
		return err
	}
	if req.Status != model.JoinRequestPending {
		return model.ErrJoinRequestClosed
	}
	req.Status = model.JoinRequestDenied
	req.UpdatedAt = s.clock.Now()
	return s.storage.SaveJoinRequest(ctx, req)
}

// ClaimJoin exchanges the claim secret of an approved request for a session.
// Claiming again with the same secret issues a fresh session.
func (s *Service) ClaimJoin(ctx context.Context, id model.JoinRequestID, secret string) (*Session, error) {
	req, err := s.storage.GetJoinRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.ClaimSecret != secret {
		return nil, ErrInvalidCredentials
	}
	if req.Status != model.JoinRequestApproved && req.Status != model.JoinRequestClaimed {
		return nil, model.ErrJoinRequestClosed
	}

	identity, err := s.storage.GetIdentity(ctx, req.IdentityID)
	if err != nil {
		return nil, err
	}
	if !identity.IsActive() {
		return nil, model.ErrIdentityRemoved
	}

	if req.Status == model.JoinRequestApproved {
		req.Status = model.JoinRequestClaimed
		req.UpdatedAt = s.clock.Now()
		if err := s.storage.SaveJoinRequest(ctx, req); err != nil {
			return nil, err
		}
	}
	return s.createSession(identity), nil
}

// ValidateSession checks that a token is live and that its identity may
// still authenticate. Expired tokens are dropped.
func (s *Service) ValidateSession(ctx context.Context, token string) (*Session, error) {
	s.mu.RLock()
	session, ok := s.sessions[token]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrInvalidSession
	}

	if !s.clock.Now().Before(session.ExpiresAt) {
		s.InvalidateSession(token)
		return nil, ErrInvalidSession
	}

	identity, err := s.storage.GetIdentity(ctx, session.IdentityID)
	if err != nil {
		if errors.Is(err, model.ErrIdentityNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, err
	}
	if !identity.IsActive() {
		return nil, ErrInvalidSession
	}

	result := *session
	result.Identity = *identity
	return &result, nil
}

// InvalidateSession removes a session
func (s *Service) InvalidateSession(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

// GetIdentity returns an identity by id
func (s *Service) GetIdentity(ctx context.Context, id model.IdentityID) (*model.Identity, error) {
	return s.storage.GetIdentity(ctx, id)
}

// ListIdentities returns every identity, including removed ones
func (s *Service) ListIdentities(ctx context.Context) ([]*model.Identity, error) {
	return s.storage.ListIdentities(ctx)
}

// RevokeIdentity drops every session bound to the identity and reports how many
func (s *Service) RevokeIdentity(id model.IdentityID) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	revoked := 0
	for token, session := range s.sessions {
		if session.IdentityID == id {
			delete(s.sessions, token)
			revoked++
		}
	}
	return revoked
}

// RemoveIdentity soft-removes the identity (optionally banning it) and
// revokes its credentials so no new connection can authenticate.
func (s *Service) RemoveIdentity(ctx context.Context, id model.IdentityID, ban bool) (*model.Identity, error) {
	identity, err := s.storage.GetIdentity(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if identity.RemovedAt == nil {
		identity.RemovedAt = &now
	}
	identity.Banned = identity.Banned || ban
	identity.UpdatedAt = now
	if err := s.storage.SaveIdentity(ctx, identity); err != nil {
		return nil, fmt.Errorf("save removed identity: %w", err)
	}

	revoked := s.RevokeIdentity(id)
	s.logger.Info("identity removed",
		slog.String("identity_id", string(id)),
		slog.Bool("banned", identity.Banned),
		slog.Int("sessions_revoked", revoked))
	return identity, nil
}

// CleanExpiredSessions removes expired sessions (call periodically)
func (s *Service) CleanExpiredSessions() int {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for token, session := range s.sessions {
		if !now.Before(session.ExpiresAt) {
			delete(s.sessions, token)
			removed++
		}
	}
	return removed
}

// SessionCount returns the number of live sessions
func (s *Service) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// RequireSupervisor fails with model.ErrForbidden unless id is an active supervisor
func (s *Service) RequireSupervisor(ctx context.Context, id model.IdentityID) error {
	identity, err := s.storage.GetIdentity(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrIdentityNotFound) {
			return model.ErrForbidden
		}
		return err
	}
	if !identity.IsSupervisor() || !identity.IsActive() {
		return model.ErrForbidden
	}
	return nil
}

// createSession creates a new session for an identity
func (s *Service) createSession(identity *model.Identity) *Session {
	now := s.clock.Now()
	session := &Session{
		Token:      generateToken("sess_"),
		IdentityID: identity.ID,
		Identity:   *identity,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.sessionDuration),
	}

	s.mu.Lock()
	s.sessions[session.Token] = session
	s.mu.Unlock()

	return session
}

// generateToken generates an unguessable token with a prefix
func generateToken(prefix string) string {
	b := make([]byte, 24)
	_, _ = rand.Read(b)
	return prefix + base64.RawURLEncoding.EncodeToString(b)
}
