// Package tick drives simulation stepping and the control loop cadence.
package tick

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ai4ce/vpr-collector/internal/simulator"
)

// Mode selects how the scheduler advances the simulation.
type Mode int

const (
	Asynchronous Mode = iota
	Synchronous
)

func (m Mode) String() string {
	if m == Synchronous {
		return "synchronous"
	}
	return "asynchronous"
}

const (
	DefaultFixedDelta = 0.05
	DefaultInterval   = time.Second / 30
)

// Driver is the part of simulator.World the scheduler needs.
type Driver interface {
	Settings(ctx context.Context) (simulator.Settings, error)
	ApplySettings(ctx context.Context, s simulator.Settings) error
	SetTrafficManagerSync(ctx context.Context, enabled bool) error
	Tick(ctx context.Context) (uint64, error)
	WaitForTick(ctx context.Context) (uint64, error)
}

// IterateFunc runs one control iteration after a completed tick.
type IterateFunc func(ctx context.Context, frame uint64) (quit bool, err error)

// Config for a Scheduler.
type Config struct {
	Mode       Mode
	FixedDelta float64       // seconds, synchronous mode only
	Interval   time.Duration // minimum time between iterations
	Autopilot  bool          // only used for the async warning
}

// Scheduler owns the simulation stepping protocol.
type Scheduler struct {
	world  Driver
	cfg    Config
	logger *slog.Logger

	original *simulator.Settings
}

// New creates a scheduler. Zero config values take the defaults.
func New(world Driver, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.FixedDelta <= 0 {
		cfg.FixedDelta = DefaultFixedDelta
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{world: world, cfg: cfg, logger: logger}
}

// Mode returns the stepping mode.
func (s *Scheduler) Mode() Mode {
	return s.cfg.Mode
}

// Synchronous reports whether the world is stepped by the scheduler.
func (s *Scheduler) Synchronous() bool {
	return s.cfg.Mode == Synchronous
}

// Start prepares the world. In synchronous mode the current settings are
// saved for Close and synchronous stepping is enabled. Close must be called
// even if Start fails.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.cfg.Mode == Synchronous {
		current, err := s.world.Settings(ctx)
		if err != nil {
			return fmt.Errorf("get world settings: %w", err)
		}
		original := current
		s.original = &original

		if !current.SynchronousMode {
			current.SynchronousMode = true
			current.FixedDeltaSeconds = s.cfg.FixedDelta
		}
		if err := s.world.ApplySettings(ctx, current); err != nil {
			return fmt.Errorf("apply synchronous settings: %w", err)
		}
		if err := s.world.SetTrafficManagerSync(ctx, true); err != nil {
			return fmt.Errorf("traffic manager synchronous mode: %w", err)
		}
		s.logger.Info("Synchronous mode enabled", "fixedDelta", current.FixedDeltaSeconds)
	}

	if s.cfg.Autopilot {
		if settings, err := s.world.Settings(ctx); err == nil && !settings.SynchronousMode {
			s.logger.Warn("Autopilot in asynchronous mode, traffic simulation may misbehave")
		}
	}
	return nil
}

// Step advances to the next completed tick and returns its frame number.
func (s *Scheduler) Step(ctx context.Context) (uint64, error) {
	if s.cfg.Mode == Synchronous {
		frame, err := s.world.Tick(ctx)
		if err != nil {
			return 0, fmt.Errorf("tick: %w", err)
		}
		return frame, nil
	}
	frame, err := s.world.WaitForTick(ctx)
	if err != nil {
		return 0, fmt.Errorf("wait for tick: %w", err)
	}
	return frame, nil
}

// Run steps the world and calls iterate once per completed tick until
// iterate asks to quit, returns an error, or ctx is cancelled. Iterations are
// spaced at least Interval apart regardless of the simulation rate.
func (s *Scheduler) Run(ctx context.Context, iterate IterateFunc) error {
	pace := time.NewTicker(s.cfg.Interval)
	defer pace.Stop()

	for {
		frame, err := s.Step(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		quit, err := iterate(ctx, frame)
		if err != nil {
			return err
		}
		if quit {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-pace.C:
		}
	}
}

// Close restores the settings saved by Start. It is a no-op in asynchronous
// mode and safe to call more than once.
func (s *Scheduler) Close(ctx context.Context) error {
	if s.original == nil {
		return nil
	}
	original := *s.original
	s.original = nil

	var errs []error
	if err := s.world.ApplySettings(ctx, original); err != nil {
		errs = append(errs, fmt.Errorf("restore world settings: %w", err))
	}
	if err := s.world.SetTrafficManagerSync(ctx, false); err != nil {
		errs = append(errs, fmt.Errorf("traffic manager asynchronous mode: %w", err))
	}
	if len(errs) == 0 {
		s.logger.Info("World settings restored", "synchronous", original.SynchronousMode)
	}
	return errors.Join(errs...)
}
