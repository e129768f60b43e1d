package model

import "time"

// IdentityID uniquely identifies a logical participant
type IdentityID string

// IdentityRole distinguishes ordinary participants from supervisors
type IdentityRole string

const (
	RoleParticipant IdentityRole = "participant"
	RoleSupervisor  IdentityRole = "supervisor"
)

// Identity is a logical participant, independent of any single connection
type Identity struct {
	ID          IdentityID
	DisplayName string
	Role        IdentityRole
	Banned      bool
	RemovedAt   *time.Time // Soft removal; nil while the identity is part of the session
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsSupervisor reports whether the identity may perform supervising actions
func (i *Identity) IsSupervisor() bool {
	return i.Role == RoleSupervisor
}

// IsActive reports whether the identity may still authenticate
func (i *Identity) IsActive() bool {
	return !i.Banned && i.RemovedAt == nil
}

// Credentials holds the login details of a supervisor account
type Credentials struct {
	IdentityID   IdentityID
	Username     string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// JoinRequestID uniquely identifies a join request
type JoinRequestID string

// JoinRequestStatus tracks a join request through approval
type JoinRequestStatus string

const (
	JoinRequestPending  JoinRequestStatus = "pending"
	JoinRequestApproved JoinRequestStatus = "approved"
	JoinRequestClaimed  JoinRequestStatus = "claimed"
	JoinRequestDenied   JoinRequestStatus = "denied"
)

// JoinRequest is a request to become a participant. Approval creates the Identity;
// the requester exchanges ClaimSecret for a session once approved.
type JoinRequest struct {
	ID          JoinRequestID
	DisplayName string
	Status      JoinRequestStatus
	IdentityID  IdentityID // Set on approval
	ClaimSecret string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
