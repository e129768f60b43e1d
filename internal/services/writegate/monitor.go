package writegate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mcoot/playhub/internal/model"
)

// Pinger reports whether a backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor probes storage and drives the gate from the result
type Monitor struct {
	gate    *Gate
	pinger  Pinger
	timeout time.Duration
	logger  *slog.Logger
}

// NewMonitor creates a Monitor. A zero timeout defaults to five seconds.
func NewMonitor(gate *Gate, pinger Pinger, timeout time.Duration, logger *slog.Logger) *Monitor {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Monitor{
		gate:    gate,
		pinger:  pinger,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "health-monitor")),
	}
}

// Check pings storage once. Failure degrades the gate; success lifts a
// degradation that an earlier check caused.
func (m *Monitor) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.pinger.Ping(ctx); err != nil {
		m.logger.Error("storage health check failed", slog.Any("error", err))
		m.gate.Degrade(fmt.Sprintf("storage unavailable: %v", err), model.HealthSourceHealthCheck)
		return err
	}

	if m.gate.Recover(model.HealthSourceHealthCheck) {
		m.logger.Info("storage health check passed, writes re-enabled")
	}
	return nil
}
