package optimizer

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RunOptions configures the periodic loop.
type RunOptions struct {
	// SafetyInterval is the cadence of safety/graduation cycles.
	SafetyInterval time.Duration

	// AdjustmentInterval is the cadence of economy adjustment cycles.
	AdjustmentInterval time.Duration

	// HealthAddr is the health/metrics listen address; empty disables the
	// HTTP server (tests, embedded use).
	HealthAddr string
}

// Run drives the periodic maintenance loops until the context is cancelled.
// Exactly one Run loop should exist per optimizer instance; the safety cycle
// itself is additionally single-flight so an external scheduler calling
// RunSafetyCycle concurrently cannot double-apply rollbacks.
func (o *Optimizer) Run(ctx context.Context, opts RunOptions) error {
	if opts.SafetyInterval <= 0 {
		opts.SafetyInterval = time.Hour
	}
	if opts.AdjustmentInterval <= 0 {
		opts.AdjustmentInterval = time.Hour
	}

	if opts.HealthAddr != "" {
		healthServer := NewHealthServer(o.journal, o.telemetry, opts.HealthAddr)
		if err := healthServer.Start(); err != nil {
			return fmt.Errorf("failed to start health server: %w", err)
		}
		defer healthServer.Shutdown(context.Background())
	}

	o.logger.Info("optimizer running",
		"safety_interval", opts.SafetyInterval,
		"adjustment_interval", opts.AdjustmentInterval)

	safetyTicker := time.NewTicker(opts.SafetyInterval)
	defer safetyTicker.Stop()
	adjustTicker := time.NewTicker(opts.AdjustmentInterval)
	defer adjustTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("optimizer shutting down")
			return nil

		case <-safetyTicker.C:
			actions, err := o.RunSafetyCycle(ctx)
			switch {
			case errors.Is(err, ErrCycleThrottled), errors.Is(err, ErrCycleInFlight):
				// a manual cycle ran recently; skip this tick
			case err != nil:
				o.logger.Error("safety cycle failed", "error", err)
			case len(actions) > 0:
				o.logger.Info("safety cycle complete", "actions", len(actions))
			}

		case <-adjustTicker.C:
			if _, _, err := o.RunAdjustmentCycle(ctx); err != nil {
				o.logger.Error("adjustment cycle failed", "error", err)
			}
		}
	}
}
