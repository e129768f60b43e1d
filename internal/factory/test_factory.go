package factory

import (
	"context"
	"time"

	"github.com/mcoot/playhub/internal/dependencies/mocks"
	"github.com/mcoot/playhub/internal/events"
	"github.com/mcoot/playhub/internal/services/auth"
	"github.com/mcoot/playhub/internal/storage/memory"
	"github.com/mcoot/playhub/internal/testutil"
)

// TestApp extends App with test-specific helpers
type TestApp struct {
	*App

	// Mocks for test control
	MockClock  *mocks.MockClock
	MockRandom *mocks.MockRandom

	// Recorder sees every event published, in order
	Recorder *events.Recorder
}

// NewTestApp creates an App configured for testing with mocked dependencies
func NewTestApp() *TestApp {
	store := memory.New()
	mockClock := mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	mockRandom := mocks.NewMockRandom()
	recorder := events.NewRecorder()
	logger := testutil.NopLogger()
	bus := events.NewBus(logger)

	app := newWithDependencies(store, mockClock, mockClock.Clockwork(), mockRandom, bus,
		events.Fanout{recorder, bus}, withDefaults(Config{}), logger)

	return &TestApp{
		App:        app,
		MockClock:  mockClock,
		MockRandom: mockRandom,
		Recorder:   recorder,
	}
}

// Supervisor bootstraps a supervisor account and logs it in
func (t *TestApp) Supervisor(ctx context.Context) (*auth.Session, error) {
	if _, err := t.AuthService.BootstrapSupervisor(ctx, "admin", "admin-password", "Admin"); err != nil {
		return nil, err
	}
	return t.AuthService.Login(ctx, "admin", "admin-password")
}

// Join admits a new identity through the join-request flow and returns
// its first session
func (t *TestApp) Join(ctx context.Context, supervisor *auth.Session, displayName string) (*auth.Session, error) {
	req, err := t.AuthService.RequestJoin(ctx, displayName)
	if err != nil {
		return nil, err
	}
	if _, err := t.AuthService.ApproveJoin(ctx, supervisor.IdentityID, req.ID); err != nil {
		return nil, err
	}
	return t.AuthService.ClaimJoin(ctx, req.ID, req.ClaimSecret)
}

// LoadTestDictionary loads a small word list for word game tests
func (t *TestApp) LoadTestDictionary() {
	t.DictionaryService.LoadWords([]string{
		"ant", "ate", "eat", "fan", "fat", "fit", "net", "nut", "tan", "tea",
		"ten", "tin", "tun", "aunt", "faint", "fault", "flat", "flute", "lane",
		"late", "lean", "lent", "neat", "tale", "taunt", "tune", "unfit", "fluent",
		"flaunt", "talent", "latent", "tuna", "plan", "plane", "planet", "plant",
	})
}
