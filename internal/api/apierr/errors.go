package apierr

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/mcoot/playhub/internal/model"
	"github.com/mcoot/playhub/internal/services/auth"
	"github.com/mcoot/playhub/internal/services/writegate"
)

// APIError represents an API error response
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Status is the record's current state when a request conflicts with it
	Status string `json:"status,omitempty"`
	// RetryAfterSeconds is set for availability errors
	RetryAfterSeconds int `json:"retry_after_seconds,omitempty"`
}

// ErrorResponse wraps an APIError
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// Error codes
const (
	CodeInvalidRequest       = "invalid_request"
	CodeUnauthorized         = "unauthorized"
	CodeForbidden            = "forbidden"
	CodeInvalidCredentials   = "invalid_credentials"
	CodeIdentityNotFound     = "identity_not_found"
	CodeIdentityRemoved      = "identity_removed"
	CodeJoinRequestNotFound  = "join_request_not_found"
	CodeJoinRequestClosed    = "join_request_closed"
	CodeOfferNotFound        = "offer_not_found"
	CodeStackNotFound        = "stack_not_found"
	CodeMatchNotFound        = "match_not_found"
	CodeChallengeNotFound    = "challenge_not_found"
	CodeAlreadyFinalized     = "already_finalized"
	CodeWinnerLocked         = "winner_locked"
	CodeMatchCompleted       = "match_completed"
	CodeMatchActive          = "match_active"
	CodeInsufficientQuantity = "insufficient_quantity"
	CodeAlreadyInQueue       = "already_in_queue"
	CodeNotInQueue           = "not_in_queue"
	CodeUnknownGame          = "unknown_game"
	CodeInvalidSeed          = "invalid_seed"
	CodeInvalidProof         = "invalid_proof"
	CodeMalformedTranscript  = "malformed_transcript"
	CodeOutcomeRejected      = "outcome_rejected"
	CodeReadOnly             = "read_only"
	CodeInternalError        = "internal_error"
)

// httpError combines an HTTP status code with an APIError
type httpError struct {
	status     int
	apiError   APIError
	retryAfter time.Duration
}

// Error implements error interface
func (e *httpError) Error() string {
	return e.apiError.Message
}

// statusError attaches a record status to a conflict
type statusError struct {
	err    error
	status string
}

func (e *statusError) Error() string { return e.err.Error() }
func (e *statusError) Unwrap() error { return e.err }

// WithStatus annotates err with the record's current status so clients
// can reconcile a conflicting retry
func WithStatus(err error, status string) error {
	return &statusError{err: err, status: status}
}

// WriteError writes an error response to the response writer
func WriteError(w http.ResponseWriter, err error) {
	he := toHTTPError(err)

	var se *statusError
	if errors.As(err, &se) {
		he.apiError.Status = se.status
	}
	if he.retryAfter > 0 {
		secs := int(math.Ceil(he.retryAfter.Seconds()))
		he.apiError.RetryAfterSeconds = secs
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(he.status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: he.apiError})
}

// Describe returns the error body WriteError would send for err, for
// transports that cannot carry an HTTP status
func Describe(err error) APIError {
	he := toHTTPError(err)
	var se *statusError
	if errors.As(err, &se) {
		he.apiError.Status = se.status
	}
	if he.retryAfter > 0 {
		he.apiError.RetryAfterSeconds = int(math.Ceil(he.retryAfter.Seconds()))
	}
	return he.apiError
}

// IsInternal reports whether err maps to a 500
func IsInternal(err error) bool {
	return toHTTPError(err).status == http.StatusInternalServerError
}

func notFound(code, msg string) *httpError {
	return &httpError{status: http.StatusNotFound, apiError: APIError{Code: code, Message: msg}}
}

func conflict(code, msg string) *httpError {
	return &httpError{status: http.StatusConflict, apiError: APIError{Code: code, Message: msg}}
}

func unprocessable(code, msg string) *httpError {
	return &httpError{status: http.StatusUnprocessableEntity, apiError: APIError{Code: code, Message: msg}}
}

// toHTTPError converts an error to an httpError
func toHTTPError(err error) *httpError {
	// Check for specific error types
	var he *httpError
	if errors.As(err, &he) {
		copied := *he
		return &copied
	}

	var ro *writegate.ReadOnlyError
	if errors.As(err, &ro) {
		return &httpError{
			status:     http.StatusServiceUnavailable,
			apiError:   APIError{Code: CodeReadOnly, Message: "System is temporarily read-only: " + ro.Reason},
			retryAfter: ro.RetryAfter,
		}
	}

	switch {
	// Validation
	case errors.Is(err, model.ErrInvalidRequest),
		errors.Is(err, model.ErrInvalidQuantity),
		errors.Is(err, model.ErrSelfTransfer):
		return &httpError{status: http.StatusBadRequest, apiError: APIError{Code: CodeInvalidRequest, Message: err.Error()}}

	// Authorization
	case errors.Is(err, model.ErrForbidden):
		return &httpError{status: http.StatusForbidden, apiError: APIError{Code: CodeForbidden, Message: "Not permitted"}}
	case errors.Is(err, auth.ErrInvalidCredentials):
		return &httpError{status: http.StatusUnauthorized, apiError: APIError{Code: CodeInvalidCredentials, Message: "Invalid credentials"}}
	case errors.Is(err, auth.ErrInvalidSession):
		return &httpError{status: http.StatusUnauthorized, apiError: APIError{Code: CodeUnauthorized, Message: "Invalid or expired session"}}

	// Not found
	case errors.Is(err, model.ErrIdentityNotFound):
		return notFound(CodeIdentityNotFound, "Identity not found")
	case errors.Is(err, model.ErrJoinRequestNotFound):
		return notFound(CodeJoinRequestNotFound, "Join request not found")
	case errors.Is(err, model.ErrOfferNotFound):
		return notFound(CodeOfferNotFound, "Offer not found")
	case errors.Is(err, model.ErrStackNotFound):
		return notFound(CodeStackNotFound, "Nothing held of that item")
	case errors.Is(err, model.ErrMatchNotFound):
		return notFound(CodeMatchNotFound, "Match not found")
	case errors.Is(err, model.ErrChallengeNotFound):
		return notFound(CodeChallengeNotFound, "Challenge not found or already used")
	case errors.Is(err, model.ErrNotInQueue):
		return notFound(CodeNotInQueue, "Not in the queue")

	// Conflict
	case errors.Is(err, model.ErrIdentityRemoved):
		return &httpError{status: http.StatusGone, apiError: APIError{Code: CodeIdentityRemoved, Message: "Identity has been removed"}}
	case errors.Is(err, model.ErrJoinRequestClosed):
		return conflict(CodeJoinRequestClosed, "Join request is no longer pending")
	case errors.Is(err, model.ErrAlreadyFinalized):
		return conflict(CodeAlreadyFinalized, "Offer already finalized")
	case errors.Is(err, model.ErrWinnerLocked):
		return conflict(CodeWinnerLocked, "Match winner already decided")
	case errors.Is(err, model.ErrMatchCompleted):
		return conflict(CodeMatchCompleted, "Match already completed")
	case errors.Is(err, model.ErrMatchActive):
		return conflict(CodeMatchActive, "Match is still in progress")

	// Capacity
	case errors.Is(err, model.ErrInsufficientQuantity):
		return conflict(CodeInsufficientQuantity, "Not enough unreserved quantity")
	case errors.Is(err, model.ErrAlreadyInQueue):
		return conflict(CodeAlreadyInQueue, "Already waiting in a queue")

	// Anti-cheat
	case errors.Is(err, model.ErrUnknownGame):
		return &httpError{status: http.StatusBadRequest, apiError: APIError{Code: CodeUnknownGame, Message: "Unknown game"}}
	case errors.Is(err, model.ErrInvalidSeed):
		return unprocessable(CodeInvalidSeed, "Seed does not match the issued challenge")
	case errors.Is(err, model.ErrInvalidProof):
		return unprocessable(CodeInvalidProof, "Proof token does not match the issued challenge")
	case errors.Is(err, model.ErrMalformedTranscript):
		return unprocessable(CodeMalformedTranscript, err.Error())
	case errors.Is(err, model.ErrOutcomeRejected):
		return unprocessable(CodeOutcomeRejected, "Claimed outcome is not supported by the transcript")

	default:
		return &httpError{status: http.StatusInternalServerError, apiError: APIError{Code: CodeInternalError, Message: "Internal server error"}}
	}
}

// NewInvalidRequestError creates an invalid request error
func NewInvalidRequestError(message string) error {
	return &httpError{status: http.StatusBadRequest, apiError: APIError{Code: CodeInvalidRequest, Message: message}}
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError() error {
	return &httpError{status: http.StatusUnauthorized, apiError: APIError{Code: CodeUnauthorized, Message: "Authentication required"}}
}

// NewInternalError creates an internal server error
func NewInternalError() error {
	return &httpError{status: http.StatusInternalServerError, apiError: APIError{Code: CodeInternalError, Message: "Internal server error"}}
}
