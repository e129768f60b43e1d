package factory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcoot/playhub/internal/config"
	"github.com/mcoot/playhub/internal/dependencies/clock"
	"github.com/mcoot/playhub/internal/dependencies/random"
	"github.com/mcoot/playhub/internal/events"
	"github.com/mcoot/playhub/internal/jobs"
	"github.com/mcoot/playhub/internal/services/auth"
	"github.com/mcoot/playhub/internal/services/dictionary"
	"github.com/mcoot/playhub/internal/services/ledger"
	"github.com/mcoot/playhub/internal/services/matchmaking"
	"github.com/mcoot/playhub/internal/services/presence"
	"github.com/mcoot/playhub/internal/services/roster"
	"github.com/mcoot/playhub/internal/services/verifier"
	"github.com/mcoot/playhub/internal/services/writegate"
	"github.com/mcoot/playhub/internal/storage"
	"github.com/mcoot/playhub/internal/storage/memory"
	redisstorage "github.com/mcoot/playhub/internal/storage/redis"
	"github.com/mcoot/playhub/internal/storage/sqlite"
)

// Storage type constants
const (
	StorageTypeMemory = config.StorageMemory
	StorageTypeRedis  = config.StorageRedis
	StorageTypeSQLite = config.StorageSQLite
)

// App contains all wired application components
type App struct {
	// Storage
	Storage storage.Storage

	// External dependencies
	Clock     clock.Clock
	Clockwork clockwork.Clock
	Random    random.Random

	// Event delivery
	Bus       *events.Bus
	Publisher events.Publisher

	// Availability
	Gate          *writegate.Gate
	HealthMonitor *writegate.Monitor

	// Services
	AuthService       *auth.Service
	DictionaryService *dictionary.Service
	Presence          *presence.Tracker
	Ledger            *ledger.Service
	Verifier          *verifier.Service
	Matchmaking       *matchmaking.Service
	Roster            *roster.Service

	logger  *slog.Logger
	closers []io.Closer
}

// Config holds configuration for the application factory
type Config struct {
	// DictionaryPath is the word list used when storage holds none (optional)
	DictionaryPath string

	// Service settings. Zero values fall back to each package's defaults.
	AuthConfig     auth.Config
	PresenceConfig presence.Config
	LedgerConfig   ledger.Config
	VerifierConfig verifier.Config
	GateConfig     writegate.Config

	// HealthCheckTimeout bounds one storage ping (optional)
	HealthCheckTimeout time.Duration

	// SupervisorUsername and SupervisorPassword bootstrap a supervisor
	// account on startup when both are set
	SupervisorUsername string
	SupervisorPassword string

	// Logger is the application logger (optional)
	// If nil, a no-op logger is used
	Logger *slog.Logger

	// StorageType selects the storage backend ("memory", "redis" or "sqlite")
	// If empty, defaults to "memory"
	StorageType string
	// RedisConfig holds Redis connection settings (required if StorageType is "redis")
	RedisConfig *redisstorage.Config
	// SQLitePath is the database file (required if StorageType is "sqlite")
	SQLitePath string
}

// ConfigFromEnv maps parsed environment configuration onto a factory Config
func ConfigFromEnv(env *config.Config, logger *slog.Logger) Config {
	redisCfg := redisstorage.DefaultConfig()
	redisCfg.URL = env.RedisURL

	return Config{
		DictionaryPath: env.DictionaryPath,
		AuthConfig:     auth.Config{SessionDuration: env.SessionDuration},
		PresenceConfig: presence.Config{OfflineGrace: env.OfflineGrace, IdleAfter: env.IdleAfter},
		LedgerConfig:   ledger.Config{OfferTTL: env.OfferTTL},
		VerifierConfig: verifier.Config{ChallengeTTL: env.ChallengeTTL},
		GateConfig:     writegate.Config{RetryAfter: env.ReadOnlyRetryAfter},

		SupervisorUsername: env.SupervisorUsername,
		SupervisorPassword: env.SupervisorPassword,

		Logger:      logger,
		StorageType: env.StorageType,
		RedisConfig: &redisCfg,
		SQLitePath:  env.SQLitePath,
	}
}

// New creates a new application with all dependencies wired
func New(ctx context.Context, cfg Config) (*App, error) {
	// Use no-op logger if not provided
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	store, closer, err := openStorage(cfg)
	if err != nil {
		return nil, err
	}

	// Create external dependencies
	clk := clock.New()
	rnd := random.New()

	bus := events.NewBus(logger)
	app := newWithDependencies(store, clk, clk.Clockwork(), rnd, bus, bus, withDefaults(cfg), logger)
	if closer != nil {
		app.closers = append(app.closers, closer)
	}

	if err := app.DictionaryService.EnsureLoaded(ctx, cfg.DictionaryPath); err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("load dictionary: %w", err)
	}

	if cfg.SupervisorUsername != "" {
		if _, err := app.AuthService.BootstrapSupervisor(ctx, cfg.SupervisorUsername, cfg.SupervisorPassword, "Supervisor"); err != nil {
			_ = app.Close()
			return nil, fmt.Errorf("bootstrap supervisor: %w", err)
		}
	}

	return app, nil
}

func openStorage(cfg Config) (storage.Storage, io.Closer, error) {
	storageType := cfg.StorageType
	if storageType == "" {
		storageType = StorageTypeMemory
	}

	switch storageType {
	case StorageTypeMemory:
		return memory.New(), nil, nil
	case StorageTypeRedis:
		if cfg.RedisConfig == nil {
			return nil, nil, errors.New("RedisConfig required when StorageType is redis")
		}
		redisStore, err := redisstorage.New(*cfg.RedisConfig)
		if err != nil {
			return nil, nil, err
		}
		return redisStore, redisStore, nil
	case StorageTypeSQLite:
		if cfg.SQLitePath == "" {
			return nil, nil, errors.New("SQLitePath required when StorageType is sqlite")
		}
		sqliteStore, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return sqliteStore, sqliteStore, nil
	default:
		return nil, nil, errors.New("invalid StorageType: must be 'memory', 'redis' or 'sqlite'")
	}
}

func withDefaults(cfg Config) Config {
	if cfg.AuthConfig.SessionDuration == 0 {
		cfg.AuthConfig = auth.DefaultConfig()
	}
	if cfg.PresenceConfig.IdleAfter == 0 {
		cfg.PresenceConfig = presence.DefaultConfig()
	}
	if cfg.LedgerConfig.OfferTTL == 0 {
		cfg.LedgerConfig = ledger.DefaultConfig()
	}
	if cfg.VerifierConfig.ChallengeTTL == 0 {
		cfg.VerifierConfig = verifier.DefaultConfig()
	}
	if cfg.GateConfig.RetryAfter == 0 {
		cfg.GateConfig = writegate.DefaultConfig()
	}
	return cfg
}

// newWithDependencies creates an App with the given dependencies (useful for testing)
func newWithDependencies(
	store storage.Storage,
	clk clock.Clock,
	cwClock clockwork.Clock,
	rnd random.Random,
	bus *events.Bus,
	publisher events.Publisher,
	cfg Config,
	logger *slog.Logger,
) *App {
	gate := writegate.New(clk, publisher, cfg.GateConfig, logger)
	monitor := writegate.NewMonitor(gate, store, cfg.HealthCheckTimeout, logger)

	authService := auth.New(store, clk, rnd, gate, cfg.AuthConfig, logger)
	dictService := dictionary.New(store, logger)
	tracker := presence.NewTracker(authService, clk, publisher, cfg.PresenceConfig, logger)
	ledgerService := ledger.New(store, clk, rnd, gate, authService, publisher, cfg.LedgerConfig, logger)

	games := []verifier.Game{
		verifier.TicTacToe{},
		verifier.NewWordGame(dictService),
		verifier.TileMatch{},
		verifier.CardGuess{},
	}
	verifierService := verifier.New(store, clk, rnd, gate, games, cfg.VerifierConfig, logger)
	matchService := matchmaking.New(store, clk, rnd, gate, verifierService, publisher, logger)
	rosterService := roster.New(authService, tracker, matchService, gate, publisher, clk, logger)

	return &App{
		Storage:           store,
		Clock:             clk,
		Clockwork:         cwClock,
		Random:            rnd,
		Bus:               bus,
		Publisher:         publisher,
		Gate:              gate,
		HealthMonitor:     monitor,
		AuthService:       authService,
		DictionaryService: dictService,
		Presence:          tracker,
		Ledger:            ledgerService,
		Verifier:          verifierService,
		Matchmaking:       matchService,
		Roster:            rosterService,
		logger:            logger,
	}
}

// MaintenanceJobs lists the periodic work the server runs. Sweeps run every
// sweepInterval and the storage probe every healthInterval.
func (a *App) MaintenanceJobs(sweepInterval, healthInterval time.Duration) []jobs.Job {
	return []jobs.Job{
		{
			Name:     "offer-expiry",
			Interval: sweepInterval,
			Run: func(ctx context.Context) error {
				_, err := a.Ledger.SweepExpired(ctx)
				return err
			},
		},
		{
			Name:     "challenge-purge",
			Interval: sweepInterval,
			Run: func(ctx context.Context) error {
				_, err := a.Verifier.PurgeExpired(ctx)
				return err
			},
		},
		{
			Name:     "presence-idle",
			Interval: sweepInterval,
			Run: func(ctx context.Context) error {
				a.Presence.SweepIdle()
				return nil
			},
		},
		{
			Name:     "session-cleanup",
			Interval: sweepInterval,
			Run: func(ctx context.Context) error {
				a.AuthService.CleanExpiredSessions()
				return nil
			},
		},
		{
			Name:     "health-check",
			Interval: healthInterval,
			Run:      a.HealthMonitor.Check,
		},
	}
}

// NewScheduler builds the maintenance scheduler on the app's clock
func (a *App) NewScheduler(sweepInterval, healthInterval time.Duration) (*jobs.Scheduler, error) {
	return jobs.New(a.Clockwork, a.MaintenanceJobs(sweepInterval, healthInterval), a.logger)
}

// Close releases the event bus and storage connections
func (a *App) Close() error {
	if a.Bus != nil {
		a.Bus.Close()
	}
	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
