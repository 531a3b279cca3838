package gates

import (
	"context"
	"sync"
	"time"

	"github.com/facebookgo/clock"

	"github.com/ghuser/entitlements/pkg/logger"
	"github.com/ghuser/entitlements/services/mode/domain/models"
)

// ReasonBrokerDown is the reason recorded when the monitor suspends the server.
const ReasonBrokerDown = "message bus unreachable"

const reasonBrokerUp = "message bus reachable"

// Pinger probes the message bus.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ModeController is the subset of ModeManager the monitor drives.
type ModeController interface {
	ModeReader
	EnterMode(ctx context.Context, mode models.Mode, reason string) error
}

// BrokerMonitor suspends the server while the message bus is unreachable
// and resumes it when the bus comes back. It only resumes a suspension it
// caused: a suspension entered by an operator is left alone.
type BrokerMonitor struct {
	bus      Pinger
	modes    ModeController
	clock    clock.Clock
	interval time.Duration
	timeout  time.Duration
	log      logger.Logger

	mu          sync.Mutex
	suspendedBy bool
}

// NewBrokerMonitor returns a monitor pinging bus every interval.
func NewBrokerMonitor(bus Pinger, modes ModeController, interval time.Duration, clk clock.Clock, log logger.Logger) *BrokerMonitor {
	if clk == nil {
		clk = clock.New()
	}
	timeout := interval / 2
	if timeout <= 0 || timeout > 5*time.Second {
		timeout = 5 * time.Second
	}
	return &BrokerMonitor{
		bus:      bus,
		modes:    modes,
		clock:    clk,
		interval: interval,
		timeout:  timeout,
		log:      log.With("component", "broker_monitor"),
	}
}

// Run checks the bus every interval until ctx is cancelled. Blocking.
func (m *BrokerMonitor) Run(ctx context.Context) {
	ticker := m.clock.Ticker(m.interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check pings the bus once and enters the matching mode.
func (m *BrokerMonitor) Check(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.bus.Ping(pingCtx)
	cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.modes.Current(ctx)
	switch {
	case err != nil && current.Mode != models.ModeSuspend:
		m.log.ErrorContext(ctx, "message bus unreachable, suspending", "error", err)
		if m.enter(ctx, models.ModeSuspend, ReasonBrokerDown) {
			m.suspendedBy = true
		}
	case err != nil:
		m.log.WarnContext(ctx, "message bus still unreachable", "error", err)
	case m.suspendedBy && current.Mode == models.ModeSuspend:
		m.log.InfoContext(ctx, "message bus reachable, resuming")
		if m.enter(ctx, models.ModeNormal, reasonBrokerUp) {
			m.suspendedBy = false
		}
	case m.suspendedBy:
		// Someone else already resumed the server.
		m.suspendedBy = false
	}
}

// enter reports whether the requested mode is now in effect. A debounced
// change leaves the previous mode in place and is retried on the next check.
func (m *BrokerMonitor) enter(ctx context.Context, mode models.Mode, reason string) bool {
	if err := m.modes.EnterMode(ctx, mode, reason); err != nil {
		m.log.ErrorContext(ctx, "failed to change mode", "mode", mode.String(), "error", err)
		return false
	}
	return m.modes.Current(ctx).Mode == mode
}
