// Package driver runs the engine's periodic maintenance loop.
package driver

import (
	"context"
	"log/slog"
	"time"
)

const (
	DefaultTickLength = time.Second * 2
)

// Manager is a unit of periodic work: stale-queue sweeps, approval expiry,
// history cleanup. Tick errors are logged and never stop the loop.
type Manager interface {
	Tick(context.Context) error
}

type EngineDriver struct {
	tickLength time.Duration
	managers   []Manager
}

func NewEngineDriver(managers []Manager, opts ...EngineDriverOpt) *EngineDriver {
	d := &EngineDriver{
		tickLength: DefaultTickLength,
		managers:   managers,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

func (d *EngineDriver) Start(ctx context.Context) error {
	ticker := time.NewTicker(d.tickLength)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

func (d *EngineDriver) Tick(ctx context.Context) {
	for _, m := range d.managers {
		if err := m.Tick(ctx); err != nil {
			slog.WarnContext(ctx, "maintenance tick failed", "error", err)
		}
	}
}
