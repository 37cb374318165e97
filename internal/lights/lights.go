// Package lights implements the vehicle light bitmask state machine.
package lights

import (
	"context"
	"fmt"

	"github.com/ai4ce/vpr-collector/pkg/core"
)

// Toggles holds the discrete light events seen in one iteration.
type Toggles struct {
	Cycle    bool
	HighBeam bool
	Special  bool
}

// Any reports whether at least one toggle is set.
func (t Toggles) Any() bool {
	return t.Cycle || t.HighBeam || t.Special
}

// Actor receives light state pushes.
type Actor interface {
	SetLightState(ctx context.Context, state core.LightState) error
}

// Machine tracks the current mask and the one last pushed to the vehicle.
type Machine struct {
	current core.LightState
	applied core.LightState
}

// NewMachine starts with every light off, matching a freshly spawned vehicle.
func NewMachine() *Machine {
	return &Machine{}
}

// Current returns the committed mask.
func (m *Machine) Current() core.LightState {
	return m.current
}

// Next computes the mask for this iteration. All conditions are evaluated
// against the mask at entry; the result is committed on return.
func (m *Machine) Next(ev Toggles, cmd core.ActuationCommand, autopilot bool) core.LightState {
	entry := m.current
	next := entry

	if ev.Cycle {
		if !entry.Has(core.LightPosition) {
			next = next.Set(core.LightPosition)
		} else {
			next = next.Set(core.LightLowBeam)
		}
		if entry.Has(core.LightLowBeam) {
			next = next.Set(core.LightFog)
		}
		if entry.Has(core.LightFog) {
			next = next.Flip(core.LightPosition).Flip(core.LightLowBeam).Flip(core.LightFog)
		}
	}
	if ev.HighBeam {
		next = next.Flip(core.LightHighBeam)
	}
	if ev.Special {
		next = next.Flip(core.LightSpecial1)
	}

	if !autopilot {
		next = setIf(next, core.LightBrake, cmd.Brake > 0)
		next = setIf(next, core.LightReverse, cmd.Reverse)
	}

	m.current = next
	return next
}

// Apply pushes next to the actor unless it equals the last pushed mask.
// It reports whether a push happened.
func (m *Machine) Apply(ctx context.Context, next core.LightState, actor Actor) (bool, error) {
	if next == m.applied {
		return false, nil
	}
	if err := actor.SetLightState(ctx, next); err != nil {
		return false, fmt.Errorf("set light state %s: %w", next, err)
	}
	m.applied = next
	return true, nil
}

// Forget records that the vehicle was respawned with every light off, so the
// next Apply pushes the committed mask again unless it is also off.
func (m *Machine) Forget() {
	m.applied = core.LightNone
}

func setIf(s, flag core.LightState, on bool) core.LightState {
	if on {
		return s.Set(flag)
	}
	return s.Clear(flag)
}
