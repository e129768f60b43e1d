package model

import "errors"

// Common errors used across the application
var (
	// Validation errors
	ErrInvalidRequest  = errors.New("invalid request")
	ErrInvalidQuantity = errors.New("quantity must be positive")

	// Authorization errors
	ErrForbidden = errors.New("forbidden")

	// Identity errors
	ErrIdentityNotFound    = errors.New("identity not found")
	ErrIdentityRemoved     = errors.New("identity has been removed")
	ErrJoinRequestNotFound = errors.New("join request not found")
	ErrJoinRequestClosed   = errors.New("join request is no longer pending")
	ErrCredentialsNotFound = errors.New("credentials not found")

	// Presence errors
	ErrConnectionNotFound = errors.New("connection not found")
	ErrConnectionExists   = errors.New("connection already attached")

	// Transfer errors
	ErrOfferNotFound        = errors.New("offer not found")
	ErrStackNotFound        = errors.New("stack not found")
	ErrInsufficientQuantity = errors.New("insufficient unreserved quantity")
	ErrAlreadyFinalized     = errors.New("offer already finalized")
	ErrSelfTransfer         = errors.New("cannot transfer to self")
	ErrStatusConflict       = errors.New("record changed concurrently")

	// Matchmaking errors
	ErrAlreadyInQueue = errors.New("identity already has an active queue entry")
	ErrNotInQueue     = errors.New("identity has no queue entry")
	ErrMatchNotFound  = errors.New("match not found")
	ErrWinnerLocked   = errors.New("match winner already decided")
	ErrMatchCompleted = errors.New("match already completed")
	ErrMatchActive    = errors.New("match still in progress")

	// Verification errors
	ErrChallengeNotFound   = errors.New("challenge not found or already consumed")
	ErrInvalidSeed         = errors.New("seed does not match the issued challenge")
	ErrInvalidProof        = errors.New("proof token does not match the issued challenge")
	ErrMalformedTranscript = errors.New("malformed transcript")
	ErrUnknownGame         = errors.New("unknown game")
	ErrOutcomeRejected     = errors.New("claimed outcome not supported by transcript")

	// Availability errors
	ErrReadOnly = errors.New("system is read-only")

	// Dictionary errors
	ErrDictionaryNotLoaded = errors.New("dictionary not loaded")
)
