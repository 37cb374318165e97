// Package control turns held-key snapshots into a smoothed actuation command.
package control

import (
	"math"
	"strconv"
	"time"

	"github.com/ai4ce/vpr-collector/internal/input"
	"github.com/ai4ce/vpr-collector/pkg/core"
)

const (
	// ThrottleStep is added per call while accelerate is held.
	ThrottleStep = 0.01
	// BrakeStep is added per call while brake is held.
	BrakeStep = 0.2
	// SteerRate is the accumulator increment per elapsed millisecond.
	SteerRate = 5e-4
	// SteerLimit bounds the accumulator on both sides.
	SteerLimit = 0.7
)

// Smoother owns the actuation command and mutates it once per loop iteration.
// It is not safe for concurrent use; only the control goroutine calls it.
type Smoother struct {
	cmd   core.ActuationCommand
	steer float64
}

// NewSmoother returns a smoother in forward gear with every input released.
func NewSmoother() *Smoother {
	return &Smoother{cmd: core.ActuationCommand{Gear: 1}}
}

// Update advances the command by one iteration.
func (s *Smoother) Update(in input.Snapshot, elapsed time.Duration) core.ActuationCommand {
	if in.Accelerate {
		s.cmd.Throttle = math.Min(s.cmd.Throttle+ThrottleStep, 1.0)
	} else {
		s.cmd.Throttle = 0.0
	}

	if in.Brake {
		s.cmd.Brake = math.Min(s.cmd.Brake+BrakeStep, 1.0)
	} else {
		s.cmd.Brake = 0.0
	}

	inc := SteerRate * (float64(elapsed) / float64(time.Millisecond))
	switch {
	case in.Left:
		if s.steer > 0 {
			s.steer = 0
		} else {
			s.steer -= inc
		}
	case in.Right:
		if s.steer < 0 {
			s.steer = 0
		} else {
			s.steer += inc
		}
	default:
		s.steer = 0.0
	}
	s.steer = math.Max(-SteerLimit, math.Min(SteerLimit, s.steer))

	s.cmd.Steer = roundTenth(s.steer)
	s.cmd.HandBrake = in.HandBrake
	s.cmd.Reverse = s.cmd.Gear < 0
	return s.cmd
}

// ToggleReverse flips between forward and reverse gear. The Reverse flag
// follows on the next Update.
func (s *Smoother) ToggleReverse() {
	if s.cmd.Gear < 0 {
		s.cmd.Gear = 1
	} else {
		s.cmd.Gear = -1
	}
}

// Command returns the last computed command.
func (s *Smoother) Command() core.ActuationCommand {
	return s.cmd
}

// Accumulator exposes the unrounded steer state.
func (s *Smoother) Accumulator() float64 {
	return s.steer
}

// Reset releases every input and returns to forward gear.
func (s *Smoother) Reset() {
	*s = Smoother{cmd: core.ActuationCommand{Gear: 1}}
}

// roundTenth rounds the exact binary value of v to one decimal place, ties
// to even, and never yields negative zero. Scaling by 10 first would round
// 0.15 (stored as 0.1499...) up.
func roundTenth(v float64) float64 {
	r, err := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 1, 64), 64)
	if err != nil || r == 0 {
		return 0
	}
	return r
}
