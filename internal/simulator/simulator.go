// Package simulator declares what the collector needs from a driving
// simulator. Implementations live in subpackages.
package simulator

import (
	"context"
	"errors"

	"github.com/ai4ce/vpr-collector/pkg/core"
)

var (
	// ErrNotVehicle is returned by vehicle-only operations on other actors.
	ErrNotVehicle = errors.New("actor is not a vehicle")
	// ErrSpawnCollision means the spawn transform is occupied.
	ErrSpawnCollision = errors.New("spawn point occupied")
	// ErrNoMap means the world could not provide map data.
	ErrNoMap = errors.New("map data unavailable")
)

// Settings are the world settings toggled around a synchronous session.
type Settings struct {
	SynchronousMode   bool
	FixedDeltaSeconds float64 // 0 means variable time step
}

// VehicleBlueprint selects and configures the ego vehicle.
type VehicleBlueprint struct {
	ID         string
	RoleName   string
	Attributes map[string]string
}

// CameraSpec describes an RGB camera attached to the ego vehicle.
type CameraSpec struct {
	Name      string
	Width     int
	Height    int
	FOV       float64
	Gamma     float64
	Transform core.Transform // relative to the parent vehicle
}

// World is the simulation driver.
type World interface {
	Map(ctx context.Context) (Map, error)
	Settings(ctx context.Context) (Settings, error)
	ApplySettings(ctx context.Context, s Settings) error
	// SetTrafficManagerSync keeps autopilot traffic in lockstep with Tick.
	SetTrafficManagerSync(ctx context.Context, enabled bool) error
	// Tick requests one step and blocks until it completes. Synchronous mode only.
	Tick(ctx context.Context) (uint64, error)
	// WaitForTick blocks until the simulator completes its next step.
	WaitForTick(ctx context.Context) (uint64, error)
	SpawnVehicle(ctx context.Context, bp VehicleBlueprint, at core.Transform) (Vehicle, error)
	SpawnCamera(ctx context.Context, spec CameraSpec, parent Vehicle) (Camera, error)
}

// Map exposes the loaded town.
type Map interface {
	Name() string
	SpawnPoints() []core.Transform
}

// Vehicle is the ego vehicle actor.
type Vehicle interface {
	ID() uint64
	Transform(ctx context.Context) (core.Transform, error)
	Velocity(ctx context.Context) (core.Vector3D, error)
	ApplyControl(ctx context.Context, cmd core.ActuationCommand) error
	SetLightState(ctx context.Context, state core.LightState) error
	SetAutopilot(ctx context.Context, enabled bool) error
	// EnableConstantVelocity holds v, in the vehicle's local frame, until disabled.
	EnableConstantVelocity(ctx context.Context, v core.Vector3D) error
	DisableConstantVelocity(ctx context.Context) error
	// EnableSweepWheelCollision returns ErrNotVehicle for actors without
	// wheel physics.
	EnableSweepWheelCollision(ctx context.Context) error
	Destroy(ctx context.Context) error
}

// FrameFunc receives camera frames on a simulator-owned goroutine.
type FrameFunc func(core.SensorFrame)

// Camera is a sensor actor. After Stop returns no further frames are delivered.
type Camera interface {
	Name() string
	Listen(fn FrameFunc) error
	Stop(ctx context.Context) error
	Destroy(ctx context.Context) error
}
