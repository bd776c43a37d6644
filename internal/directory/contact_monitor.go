package directory

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ContactMonitor periodically sweeps the master's registry and logs
// workers that have gone quiet. Membership is append-only in this core,
// so a stale worker is reported rather than evicted; the monitor is purely
// an operator signal.
type ContactMonitor struct {
	log      *zap.Logger
	registry *Registry
	interval time.Duration
	stale    time.Duration
}

// NewContactMonitor returns a monitor sweeping registry every interval and
// flagging workers whose last contact is older than stale.
func NewContactMonitor(registry *Registry, interval, stale time.Duration, log *zap.Logger) *ContactMonitor {
	return &ContactMonitor{
		log:      log,
		registry: registry,
		interval: interval,
		stale:    stale,
	}
}

// Run sweeps until ctx is canceled. Run it on its own goroutine.
func (m *ContactMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *ContactMonitor) sweep() {
	now := time.Now()
	for _, e := range m.registry.Snapshot() {
		if age := now.Sub(e.LastContact); age > m.stale {
			m.log.Warn("worker contact stale",
				zap.Uint32("name", e.Name),
				zap.Stringer("addr", e.Addr),
				zap.Duration("age", age))
		}
	}
}
