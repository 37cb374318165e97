package local

import (
	"context"
	"errors"
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/ai4ce/vpr-collector/internal/simulator"
	"github.com/ai4ce/vpr-collector/pkg/core"
)

const (
	wheelBase     = 2.9  // m
	maxSteerAngle = 1.22 // rad at steer = 1
	maxAccel      = 4.0  // m/s^2 at full throttle
	maxDecel      = 9.0  // m/s^2 at full brake
	handBrakeDecl = 6.0
	dragCoeff     = 0.05
	topSpeed      = 50.0

	autopilotSpeed  = 8.0 // m/s
	waypointReached = 4.0 // m
)

var errDestroyed = errors.New("actor destroyed")

// Vehicle implements simulator.Vehicle. Its state is guarded by the world
// mutex and advanced by World.stepLocked.
type Vehicle struct {
	world     *World
	id        uint64
	blueprint simulator.VehicleBlueprint

	pos       r2.Vec
	z         float64
	yaw       float64 // degrees
	pitch     float64
	roll      float64
	speed     float64 // signed along heading, m/s
	cmd       core.ActuationCommand
	lights    core.LightState
	autopilot bool
	constVel  *core.Vector3D
	sweep     bool
	waypoint  int
	destroyed bool
}

func (v *Vehicle) ID() uint64 { return v.id }

// Blueprint returns the blueprint the vehicle was spawned from.
func (v *Vehicle) Blueprint() simulator.VehicleBlueprint { return v.blueprint }

func (v *Vehicle) Transform(ctx context.Context) (core.Transform, error) {
	v.world.mu.Lock()
	defer v.world.mu.Unlock()
	if v.destroyed {
		return core.Transform{}, errDestroyed
	}
	return v.transformLocked(), nil
}

func (v *Vehicle) transformLocked() core.Transform {
	return core.Transform{
		Location: core.Location{X: v.pos.X, Y: v.pos.Y, Z: v.z},
		Rotation: core.Rotation{Pitch: v.pitch, Yaw: v.yaw, Roll: v.roll},
	}
}

func (v *Vehicle) Velocity(ctx context.Context) (core.Vector3D, error) {
	v.world.mu.Lock()
	defer v.world.mu.Unlock()
	if v.destroyed {
		return core.Vector3D{}, errDestroyed
	}
	vel := r2.Scale(v.speed, v.heading())
	return core.Vector3D{X: vel.X, Y: vel.Y}, nil
}

func (v *Vehicle) ApplyControl(ctx context.Context, cmd core.ActuationCommand) error {
	return v.locked(func() { v.cmd = cmd })
}

func (v *Vehicle) SetLightState(ctx context.Context, state core.LightState) error {
	return v.locked(func() { v.lights = state })
}

// LightState returns the last mask pushed to the vehicle.
func (v *Vehicle) LightState() core.LightState {
	v.world.mu.Lock()
	defer v.world.mu.Unlock()
	return v.lights
}

func (v *Vehicle) SetAutopilot(ctx context.Context, enabled bool) error {
	return v.locked(func() {
		v.autopilot = enabled
		if enabled {
			v.waypoint = v.world.nearestWaypoint(v.pos)
		}
	})
}

// Autopilot reports whether the waypoint follower drives the vehicle.
func (v *Vehicle) Autopilot() bool {
	v.world.mu.Lock()
	defer v.world.mu.Unlock()
	return v.autopilot
}

func (v *Vehicle) EnableConstantVelocity(ctx context.Context, vel core.Vector3D) error {
	return v.locked(func() { v.constVel = &vel })
}

func (v *Vehicle) DisableConstantVelocity(ctx context.Context) error {
	return v.locked(func() { v.constVel = nil })
}

func (v *Vehicle) EnableSweepWheelCollision(ctx context.Context) error {
	return v.locked(func() { v.sweep = true })
}

func (v *Vehicle) Destroy(ctx context.Context) error {
	v.world.mu.Lock()
	defer v.world.mu.Unlock()
	if v.destroyed {
		return errDestroyed
	}
	v.destroyed = true
	delete(v.world.vehicles, v.id)
	return nil
}

func (v *Vehicle) locked(fn func()) error {
	v.world.mu.Lock()
	defer v.world.mu.Unlock()
	if v.destroyed {
		return errDestroyed
	}
	fn()
	return nil
}

func (v *Vehicle) heading() r2.Vec {
	return r2.Rotate(r2.Vec{X: 1}, v.yaw*math.Pi/180, r2.Vec{})
}

// step integrates a kinematic bicycle model over dt seconds.
func (v *Vehicle) step(dt float64) {
	cmd := v.cmd
	if v.autopilot {
		cmd = v.autopilotCommand()
	}

	switch {
	case v.constVel != nil:
		v.speed = v.constVel.X
	default:
		dir := 1.0
		if cmd.Reverse {
			dir = -1.0
		}
		accel := dir * cmd.Throttle * maxAccel
		decel := cmd.Brake * maxDecel
		if cmd.HandBrake {
			decel += handBrakeDecl
		}
		decel += dragCoeff * v.speed * v.speed

		v.speed += accel * dt
		if v.speed > 0 {
			v.speed = math.Max(0, v.speed-decel*dt)
		} else if v.speed < 0 {
			v.speed = math.Min(0, v.speed+decel*dt)
		}
		v.speed = math.Max(-topSpeed, math.Min(topSpeed, v.speed))
	}

	yawRate := v.speed / wheelBase * math.Tan(cmd.Steer*maxSteerAngle)
	v.yaw = normalizeDeg(v.yaw + yawRate*dt*180/math.Pi)
	v.pos = r2.Add(v.pos, r2.Scale(v.speed*dt, v.heading()))
}

// autopilotCommand steers toward the current waypoint of the spawn-point
// circuit and holds a cruising speed.
func (v *Vehicle) autopilotCommand() core.ActuationCommand {
	points := v.world.cfg.SpawnPoints
	target := points[v.waypoint%len(points)].Location
	to := r2.Sub(r2.Vec{X: target.X, Y: target.Y}, v.pos)
	if r2.Norm(to) < waypointReached {
		v.waypoint = (v.waypoint + 1) % len(points)
		target = points[v.waypoint].Location
		to = r2.Sub(r2.Vec{X: target.X, Y: target.Y}, v.pos)
	}

	want := math.Atan2(to.Y, to.X) * 180 / math.Pi
	errDeg := normalizeDeg(want - v.yaw)
	steer := math.Max(-0.7, math.Min(0.7, errDeg*math.Pi/180/maxSteerAngle))

	cmd := core.ActuationCommand{Steer: steer, Gear: 1}
	if v.speed < autopilotSpeed {
		cmd.Throttle = 0.6
	} else if v.speed > autopilotSpeed+1 {
		cmd.Brake = 0.2
	}
	return cmd
}
