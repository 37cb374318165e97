// pkg/core/vehicle.go
package core

import (
	"strings"
	"time"
)

// ActuationCommand is the control applied to the ego vehicle once per loop iteration.
type ActuationCommand struct {
	Throttle  float64 // [0, 1]
	Brake     float64 // [0, 1]
	Steer     float64 // [-0.7, 0.7], quantized to one decimal
	HandBrake bool
	Reverse   bool // derived: Gear < 0
	Gear      int  // 1 forward, -1 reverse
}

// LightState is a bitmask of vehicle light flags. Values match the simulator's
// VehicleLightState so the mask can be pushed to the actor unchanged.
type LightState uint32

const (
	LightNone         LightState = 0
	LightPosition     LightState = 1 << 0
	LightLowBeam      LightState = 1 << 1
	LightHighBeam     LightState = 1 << 2
	LightBrake        LightState = 1 << 3
	LightRightBlinker LightState = 1 << 4
	LightLeftBlinker  LightState = 1 << 5
	LightReverse      LightState = 1 << 6
	LightFog          LightState = 1 << 7
	LightInterior     LightState = 1 << 8
	LightSpecial1     LightState = 1 << 9
	LightSpecial2     LightState = 1 << 10
)

var lightNames = []struct {
	flag LightState
	name string
}{
	{LightPosition, "Position"},
	{LightLowBeam, "LowBeam"},
	{LightHighBeam, "HighBeam"},
	{LightBrake, "Brake"},
	{LightRightBlinker, "RightBlinker"},
	{LightLeftBlinker, "LeftBlinker"},
	{LightReverse, "Reverse"},
	{LightFog, "Fog"},
	{LightInterior, "Interior"},
	{LightSpecial1, "Special1"},
	{LightSpecial2, "Special2"},
}

// Has reports whether every bit of flag is set.
func (s LightState) Has(flag LightState) bool {
	return s&flag == flag
}

// Set returns s with flag added.
func (s LightState) Set(flag LightState) LightState {
	return s | flag
}

// Clear returns s with flag removed.
func (s LightState) Clear(flag LightState) LightState {
	return s &^ flag
}

// Flip returns s with flag toggled.
func (s LightState) Flip(flag LightState) LightState {
	return s ^ flag
}

func (s LightState) String() string {
	if s == LightNone {
		return "None"
	}
	var parts []string
	for _, l := range lightNames {
		if s.Has(l.flag) {
			parts = append(parts, l.name)
		}
	}
	return strings.Join(parts, "|")
}

// VehicleState is the ego vehicle telemetry captured once per completed tick.
type VehicleState struct {
	SessionID string
	Tick      uint64
	Time      time.Time
	Pose      Pose
	Speed     float64 // m/s
	Command   ActuationCommand
	Lights    LightState
	Autopilot bool
}
