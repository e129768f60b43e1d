package api_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/playhub/internal/api"
	"github.com/mcoot/playhub/internal/api/apierr"
	"github.com/mcoot/playhub/internal/api/response"
	"github.com/mcoot/playhub/internal/factory"
)

// testServer creates a test server with all dependencies
type testServer struct {
	handler http.Handler
	app     *factory.TestApp
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	app := factory.NewTestApp()
	app.LoadTestDictionary()
	t.Cleanup(func() { _ = app.Close() })

	router := api.NewRouter(api.RouterConfig{
		Logger:      logger,
		AuthService: app.AuthService,
		Presence:    app.Presence,
		Ledger:      app.Ledger,
		Matchmaking: app.Matchmaking,
		Verifier:    app.Verifier,
		Roster:      app.Roster,
		Gate:        app.Gate,
	})

	return &testServer{handler: router, app: app}
}

func (ts *testServer) request(method, path string, body any, token string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		b, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(b)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeBody[apierr.ErrorResponse](t, rr).Error.Code
}

// supervisorToken bootstraps and logs in the supervisor through the API
func supervisorToken(t *testing.T, ts *testServer) string {
	t.Helper()
	_, err := ts.app.AuthService.BootstrapSupervisor(t.Context(), "admin", "hunter22", "Admin")
	require.NoError(t, err)

	rr := ts.request(http.MethodPost, "/api/v1/sessions", map[string]string{"username": "admin", "password": "hunter22"}, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	return decodeBody[response.AuthResponse](t, rr).SessionToken
}

// joinIdentity runs the request/approve/claim flow and returns the new session
func joinIdentity(t *testing.T, ts *testServer, adminToken, name string) response.AuthResponse {
	t.Helper()

	rr := ts.request(http.MethodPost, "/api/v1/join-requests", map[string]string{"display_name": name}, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	jr := decodeBody[response.JoinRequest](t, rr)
	require.NotEmpty(t, jr.ClaimSecret)

	rr = ts.request(http.MethodPost, "/api/v1/join-requests/"+jr.ID+"/approve", nil, adminToken)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = ts.request(http.MethodPost, "/api/v1/join-requests/"+jr.ID+"/claim", map[string]string{"secret": jr.ClaimSecret}, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	return decodeBody[response.AuthResponse](t, rr)
}

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request(http.MethodGet, "/api/v1/health", nil, "")
	assert.Equal(t, http.StatusOK, rr.Code)

	health := decodeBody[response.Health](t, rr)
	assert.Equal(t, "ok", health.Status)
	assert.False(t, health.Degraded)
}

func TestJoinFlowAndMe(t *testing.T) {
	ts := newTestServer(t)
	admin := supervisorToken(t, ts)

	alice := joinIdentity(t, ts, admin, "Alice")
	assert.Equal(t, "participant", alice.Identity.Role)

	rr := ts.request(http.MethodGet, "/api/v1/identities/me", nil, alice.SessionToken)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Alice", decodeBody[response.Identity](t, rr).DisplayName)

	// Participants cannot approve others
	rr = ts.request(http.MethodPost, "/api/v1/join-requests", map[string]string{"display_name": "Mallory"}, "")
	jr := decodeBody[response.JoinRequest](t, rr)
	rr = ts.request(http.MethodPost, "/api/v1/join-requests/"+jr.ID+"/approve", nil, alice.SessionToken)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, apierr.CodeForbidden, errorCode(t, rr))

	// Wrong claim secret
	rr = ts.request(http.MethodPost, "/api/v1/join-requests/"+jr.ID+"/claim", map[string]string{"secret": "guess"}, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestUnauthorizedWithoutToken(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request(http.MethodGet, "/api/v1/identities/me", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, apierr.CodeUnauthorized, errorCode(t, rr))

	rr = ts.request(http.MethodPost, "/api/v1/offers", map[string]any{"to": "x", "item": "gold", "qty": 1}, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = ts.request(http.MethodGet, "/api/v1/identities/me", nil, "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestInvalidBody(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/join-requests", bytes.NewBufferString("{not json"))
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, apierr.CodeInvalidRequest, errorCode(t, rr))
}

func TestOfferLifecycle(t *testing.T) {
	ts := newTestServer(t)
	admin := supervisorToken(t, ts)
	alice := joinIdentity(t, ts, admin, "Alice")
	bob := joinIdentity(t, ts, admin, "Bob")

	rr := ts.request(http.MethodPost, "/api/v1/inventory/grant", map[string]any{"owner": alice.Identity.ID, "item": "gold", "qty": 5}, admin)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = ts.request(http.MethodPost, "/api/v1/offers", map[string]any{"to": bob.Identity.ID, "item": "gold", "qty": 2}, alice.SessionToken)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decodeBody[response.TransferResult](t, rr)
	assert.Equal(t, "pending", created.Status)

	rr = ts.request(http.MethodGet, "/api/v1/inventory", nil, alice.SessionToken)
	stacks := decodeBody[[]response.Stack](t, rr)
	require.Len(t, stacks, 1)
	assert.Equal(t, 5, stacks[0].Qty)
	assert.Equal(t, 2, stacks[0].ReservedQty)
	assert.Equal(t, 3, stacks[0].Available)

	// Only the receiver can accept
	rr = ts.request(http.MethodPost, "/api/v1/offers/"+created.Offer.ID+"/accept", nil, alice.SessionToken)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	for range 2 {
		rr = ts.request(http.MethodPost, "/api/v1/offers/"+created.Offer.ID+"/accept", nil, bob.SessionToken)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Equal(t, "accepted", decodeBody[response.TransferResult](t, rr).Status)
	}

	// A conflicting retry reports the terminal status
	rr = ts.request(http.MethodPost, "/api/v1/offers/"+created.Offer.ID+"/reject", nil, bob.SessionToken)
	assert.Equal(t, http.StatusConflict, rr.Code)
	errResp := decodeBody[apierr.ErrorResponse](t, rr)
	assert.Equal(t, apierr.CodeAlreadyFinalized, errResp.Error.Code)
	assert.Equal(t, "accepted", errResp.Error.Status)

	rr = ts.request(http.MethodGet, "/api/v1/inventory", nil, bob.SessionToken)
	stacks = decodeBody[[]response.Stack](t, rr)
	require.Len(t, stacks, 1)
	assert.Equal(t, 2, stacks[0].Qty)

	// Strangers cannot see the offer
	carol := joinIdentity(t, ts, admin, "Carol")
	rr = ts.request(http.MethodGet, "/api/v1/offers/"+created.Offer.ID, nil, carol.SessionToken)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, apierr.CodeOfferNotFound, errorCode(t, rr))
}

func TestInsufficientQuantity(t *testing.T) {
	ts := newTestServer(t)
	admin := supervisorToken(t, ts)
	alice := joinIdentity(t, ts, admin, "Alice")
	bob := joinIdentity(t, ts, admin, "Bob")

	ts.request(http.MethodPost, "/api/v1/inventory/grant", map[string]any{"owner": alice.Identity.ID, "item": "gold", "qty": 1}, admin)

	rr := ts.request(http.MethodPost, "/api/v1/offers", map[string]any{"to": bob.Identity.ID, "item": "gold", "qty": 2}, alice.SessionToken)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, apierr.CodeInsufficientQuantity, errorCode(t, rr))
}

func TestQueueMatchAndComplete(t *testing.T) {
	ts := newTestServer(t)
	admin := supervisorToken(t, ts)
	alice := joinIdentity(t, ts, admin, "Alice")
	bob := joinIdentity(t, ts, admin, "Bob")

	rr := ts.request(http.MethodPost, "/api/v1/queue", map[string]string{"game_key": "tictactoe"}, alice.SessionToken)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	assert.Equal(t, "queued", decodeBody[response.QueueResult](t, rr).Status)

	rr = ts.request(http.MethodPost, "/api/v1/queue", map[string]string{"game_key": "tictactoe"}, alice.SessionToken)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, apierr.CodeAlreadyInQueue, errorCode(t, rr))

	rr = ts.request(http.MethodPost, "/api/v1/queue", map[string]string{"game_key": "tictactoe"}, bob.SessionToken)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	matched := decodeBody[response.QueueResult](t, rr)
	assert.Equal(t, "matched", matched.Status)
	require.NotNil(t, matched.Match)
	matchID := matched.Match.ID

	ts.app.MockRandom.QueueUint32(99)
	ts.app.MockRandom.QueueString("proof-abc")
	rr = ts.request(http.MethodPost, "/api/v1/challenges", map[string]string{"game_key": "tictactoe"}, alice.SessionToken)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	ch := decodeBody[response.Challenge](t, rr)
	assert.Equal(t, uint32(99), ch.Seed)

	// A client-asserted winner is refused outright
	rr = ts.request(http.MethodPost, "/api/v1/matches/"+matchID+"/complete", map[string]any{"claimed_winner": alice.Identity.ID}, alice.SessionToken)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	// Wrong proof token leaves the challenge usable
	evidence := map[string]any{
		"game_key":    "tictactoe",
		"seed":        ch.Seed,
		"proof_token": "forged",
		"claim":       map[string]any{"outcome": "win"},
		"transcript":  map[string]any{"player_symbol": "X", "moves": []int{0, 3, 1, 4, 2}},
	}
	rr = ts.request(http.MethodPost, "/api/v1/matches/"+matchID+"/complete", map[string]any{"evidence": evidence}, alice.SessionToken)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, apierr.CodeInvalidProof, errorCode(t, rr))

	evidence["proof_token"] = ch.ProofToken
	rr = ts.request(http.MethodPost, "/api/v1/matches/"+matchID+"/complete", map[string]any{"evidence": evidence}, alice.SessionToken)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	completed := decodeBody[response.CompletionResult](t, rr)
	assert.Equal(t, "completed", completed.Status)
	assert.Equal(t, alice.Identity.ID, completed.Match.Winner)
	require.NotNil(t, completed.Verdict)
	assert.True(t, completed.Verdict.Passed)

	rr = ts.request(http.MethodGet, "/api/v1/matches/"+matchID, nil, bob.SessionToken)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, alice.Identity.ID, decodeBody[response.Match](t, rr).Winner)
}

func TestChallengeRedeemDirect(t *testing.T) {
	ts := newTestServer(t)
	admin := supervisorToken(t, ts)
	alice := joinIdentity(t, ts, admin, "Alice")

	ts.app.MockRandom.QueueUint32(5)
	ts.app.MockRandom.QueueString("tok")
	rr := ts.request(http.MethodPost, "/api/v1/challenges", map[string]string{"game_key": "tictactoe"}, alice.SessionToken)
	require.Equal(t, http.StatusCreated, rr.Code)

	redeem := map[string]any{
		"game_key":    "tictactoe",
		"seed":        5,
		"proof_token": "tok",
		"outcome":     "win",
		"transcript":  map[string]any{"player_symbol": "X", "moves": []int{0, 3, 1, 4, 8}},
	}
	rr = ts.request(http.MethodPost, "/api/v1/challenges/redeem", redeem, alice.SessionToken)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	verdict := decodeBody[response.Verdict](t, rr)
	assert.False(t, verdict.Passed)
	assert.Equal(t, "unfinished", verdict.Outcome)

	// Single use
	rr = ts.request(http.MethodPost, "/api/v1/challenges/redeem", redeem, alice.SessionToken)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, apierr.CodeChallengeNotFound, errorCode(t, rr))
}

func TestReadOnlyReturnsRetryAfter(t *testing.T) {
	ts := newTestServer(t)
	admin := supervisorToken(t, ts)
	alice := joinIdentity(t, ts, admin, "Alice")

	rr := ts.request(http.MethodPost, "/api/v1/health/degrade", nil, alice.SessionToken)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = ts.request(http.MethodPost, "/api/v1/health/degrade", map[string]string{"reason": "db failover"}, admin)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	health := decodeBody[response.Health](t, rr)
	assert.True(t, health.Degraded)
	assert.Equal(t, "read_only", health.Status)

	rr = ts.request(http.MethodPost, "/api/v1/queue", map[string]string{"game_key": "tictactoe"}, alice.SessionToken)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))
	errResp := decodeBody[apierr.ErrorResponse](t, rr)
	assert.Equal(t, apierr.CodeReadOnly, errResp.Error.Code)
	assert.Positive(t, errResp.Error.RetryAfterSeconds)

	// Reads still work
	rr = ts.request(http.MethodGet, "/api/v1/inventory", nil, alice.SessionToken)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = ts.request(http.MethodPost, "/api/v1/health/recover", nil, admin)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, decodeBody[response.Health](t, rr).Degraded)

	rr = ts.request(http.MethodPost, "/api/v1/queue", map[string]string{"game_key": "tictactoe"}, alice.SessionToken)
	assert.Equal(t, http.StatusAccepted, rr.Code)
}

func TestRemoveIdentity(t *testing.T) {
	ts := newTestServer(t)
	admin := supervisorToken(t, ts)
	alice := joinIdentity(t, ts, admin, "Alice")

	rr := ts.request(http.MethodDelete, "/api/v1/identities/"+alice.Identity.ID+"?ban=true", nil, admin)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	removal := decodeBody[response.Removal](t, rr)
	assert.True(t, removal.Identity.Banned)

	rr = ts.request(http.MethodGet, "/api/v1/identities/me", nil, alice.SessionToken)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = ts.request(http.MethodDelete, "/api/v1/identities/"+alice.Identity.ID+"?ban=maybe", nil, admin)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRequestIDHeader(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request(http.MethodGet, "/api/v1/health", nil, "")
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "trace-123")
	rr = httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	assert.Equal(t, "trace-123", rr.Header().Get("X-Request-ID"))
}
