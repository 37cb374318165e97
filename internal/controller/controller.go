// Package controller applies one iteration of operator input to the world.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ai4ce/vpr-collector/internal/control"
	"github.com/ai4ce/vpr-collector/internal/input"
	"github.com/ai4ce/vpr-collector/internal/lights"
	"github.com/ai4ce/vpr-collector/internal/recorder"
	"github.com/ai4ce/vpr-collector/internal/simulator"
	"github.com/ai4ce/vpr-collector/pkg/core"
)

// World is the part of world.World the controller drives.
type World interface {
	Vehicle() simulator.Vehicle
	Restart(ctx context.Context) error
	Autopilot() bool
	SetAutopilot(ctx context.Context, enabled bool) error
	ToggleConstantVelocity(ctx context.Context) (bool, error)
	Actuated(cmd core.ActuationCommand, lights core.LightState)
}

// Config for a Controller.
type Config struct {
	StartAutopilot bool
	Synchronous    bool
}

// Controller owns the smoother and light machine. Only the control
// goroutine may call ParseEvents; Sensor may be read from any goroutine.
type Controller struct {
	world    World
	flag     *recorder.Flag
	cfg      Config
	logger   *slog.Logger
	smoother *control.Smoother
	lights   *lights.Machine
	sensor   atomic.Int32
}

// New hands the vehicle to the autopilot if requested and switches its
// lights off.
func New(ctx context.Context, w World, flag *recorder.Flag, cfg Config, logger *slog.Logger) (*Controller, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		world:    w,
		flag:     flag,
		cfg:      cfg,
		logger:   logger,
		smoother: control.NewSmoother(),
		lights:   lights.NewMachine(),
	}
	if err := w.SetAutopilot(ctx, cfg.StartAutopilot); err != nil {
		return nil, err
	}
	if err := w.Vehicle().SetLightState(ctx, core.LightNone); err != nil {
		return nil, fmt.Errorf("reset lights: %w", err)
	}
	return c, nil
}

// Sensor returns the last selected sensor index, 0 if none was selected.
func (c *Controller) Sensor() int {
	return int(c.sensor.Load())
}

// Command returns the last computed actuation.
func (c *Controller) Command() core.ActuationCommand {
	return c.smoother.Command()
}

// Lights returns the committed light mask.
func (c *Controller) Lights() core.LightState {
	return c.lights.Current()
}

// ParseEvents handles the released keys of snap, then, unless the
// autopilot drives, updates and applies the actuation and lights.
// It returns true when the operator asked to quit.
func (c *Controller) ParseEvents(ctx context.Context, snap input.Snapshot, elapsed time.Duration) (bool, error) {
	var toggles lights.Toggles

	for _, ev := range snap.Released {
		switch ev.Binding {
		case input.BindQuit:
			return true, nil

		case input.BindRestartVehicle:
			if err := c.restart(ctx); err != nil {
				return false, err
			}

		case input.BindToggleAutopilot:
			enable := !c.world.Autopilot()
			if enable && !c.cfg.Synchronous {
				c.logger.Warn("Autopilot in asynchronous mode, traffic simulation may misbehave")
			}
			if err := c.world.SetAutopilot(ctx, enable); err != nil {
				c.logger.Error("Failed to toggle autopilot", "error", err)
				continue
			}
			c.logger.Info(fmt.Sprintf("Autopilot %s", onOff(enable)))

		case input.BindToggleRecording:
			c.logger.Info(fmt.Sprintf("Recording %s", onOff(c.flag.Toggle())))

		case input.BindToggleReverse:
			c.smoother.ToggleReverse()

		case input.BindToggleConstantVelocity:
			on, err := c.world.ToggleConstantVelocity(ctx)
			if err != nil {
				c.logger.Error("Failed to toggle constant velocity", "error", err)
				continue
			}
			if on {
				c.logger.Info("Enabled Constant Velocity Mode at 60 km/h")
			} else {
				c.logger.Info("Disabled Constant Velocity Mode")
			}

		case input.BindCycleLight:
			switch {
			case ev.Mods.Has(input.ModCtrl):
				toggles.Special = true
			case ev.Mods.Has(input.ModShift):
				toggles.HighBeam = true
			default:
				toggles.Cycle = true
			}

		case input.BindSelectSensor:
			c.sensor.Store(int32(ev.Sensor))
			c.logger.Debug("Sensor selected", "index", ev.Sensor)
		}
	}

	if c.world.Autopilot() {
		return false, nil
	}

	cmd := c.smoother.Update(snap, elapsed)
	mask := c.lights.Next(toggles, cmd, false)

	vehicle := c.world.Vehicle()
	var errs []error
	if _, err := c.lights.Apply(ctx, mask, vehicle); err != nil {
		errs = append(errs, err)
	}
	if err := vehicle.ApplyControl(ctx, cmd); err != nil {
		errs = append(errs, fmt.Errorf("apply control: %w", err))
	}
	c.world.Actuated(cmd, mask)

	if err := errors.Join(errs...); err != nil {
		c.logger.Warn("Vehicle update failed", "error", err)
	}
	return false, nil
}

// restart respawns the vehicle, keeping the autopilot state across it.
func (c *Controller) restart(ctx context.Context) error {
	autopilot := c.world.Autopilot()
	if autopilot {
		if err := c.world.SetAutopilot(ctx, false); err != nil {
			c.logger.Warn("Failed to disable autopilot before restart", "error", err)
		}
	}
	if err := c.world.Restart(ctx); err != nil {
		return fmt.Errorf("restart vehicle: %w", err)
	}
	c.lights.Forget()
	if autopilot {
		if err := c.world.SetAutopilot(ctx, true); err != nil {
			return fmt.Errorf("re-enable autopilot: %w", err)
		}
	}
	return nil
}

func onOff(b bool) string {
	if b {
		return "On"
	}
	return "Off"
}
