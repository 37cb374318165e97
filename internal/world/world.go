// Package world owns the ego vehicle and its cameras for one run: spawning,
// per-tick pose sampling, respawn and ordered teardown.
package world

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ai4ce/vpr-collector/internal/dispatcher"
	"github.com/ai4ce/vpr-collector/internal/pose"
	"github.com/ai4ce/vpr-collector/internal/recorder"
	"github.com/ai4ce/vpr-collector/internal/simulator"
	"github.com/ai4ce/vpr-collector/pkg/core"
)

var (
	ErrNoMap         = errors.New("the server could not send the map data")
	ErrNoSpawnPoints = errors.New("there are no spawn points available in the map")
)

const (
	DefaultSpawnIndex  = 10
	DefaultTopicBuffer = 64
	// ConstantSpeed is the forward speed held by the constant velocity mode (60 km/h).
	ConstantSpeed = 17.0
	respawnLift   = 2.0
)

// DefaultBlueprint is the ego vehicle.
var DefaultBlueprint = simulator.VehicleBlueprint{
	ID:       "vehicle.lincoln.mkz_2020",
	RoleName: "hero",
	Attributes: map[string]string{
		"terramechanics": "true",
		"is_invincible":  "true",
	},
}

// DefaultCameras returns the three roof cameras, 120 degrees apart.
func DefaultCameras(width, height int, gamma float64) []simulator.CameraSpec {
	specs := make([]simulator.CameraSpec, 0, 3)
	for i, yaw := range []float64{0, 120, 240} {
		specs = append(specs, simulator.CameraSpec{
			Name:   fmt.Sprintf("cam%d", i+1),
			Width:  width,
			Height: height,
			FOV:    120,
			Gamma:  gamma,
			Transform: core.Transform{
				Location: core.Location{X: 0.5, Z: 3.4},
				Rotation: core.Rotation{Yaw: yaw},
			},
		})
	}
	return specs
}

// StateSink receives per-tick vehicle telemetry.
type StateSink interface {
	RecordVehicleState(s *core.VehicleState) error
}

// Config for a World.
type Config struct {
	Blueprint simulator.VehicleBlueprint
	// SpawnIndex selects the map spawn point, clamped to the last one.
	// Negative selects DefaultSpawnIndex.
	SpawnIndex  int
	Cameras     []simulator.CameraSpec
	TopicBuffer int
	RetryDelay  time.Duration
}

// Dependencies are the collaborators shared with the rest of the run.
type Dependencies struct {
	Sim        simulator.World
	Dispatcher *dispatcher.Dispatcher
	Recorder   *recorder.Recorder
	Pose       *pose.Cache
	Sinks      []StateSink
	SessionID  string
	Logger     *slog.Logger
}

// World is driven from the control goroutine only. Autopilot and
// ConstantVelocity may be read from any goroutine.
type World struct {
	deps Dependencies
	cfg  Config
	m    simulator.Map

	vehicle simulator.Vehicle
	cameras []simulator.Camera
	topics  []string

	autopilot atomic.Bool
	constVel  atomic.Bool

	tick   atomic.Uint64
	cmd    core.ActuationCommand
	lights core.LightState
}

// New loads the map, spawns the ego vehicle and attaches the cameras.
// ErrNoMap and ErrNoSpawnPoints are fatal for the run.
func New(ctx context.Context, deps Dependencies, cfg Config) (*World, error) {
	if cfg.Blueprint.ID == "" {
		cfg.Blueprint = DefaultBlueprint
	}
	if cfg.SpawnIndex < 0 {
		cfg.SpawnIndex = DefaultSpawnIndex
	}
	if cfg.TopicBuffer <= 0 {
		cfg.TopicBuffer = DefaultTopicBuffer
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	m, err := deps.Sim.Map(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoMap, err)
	}

	w := &World{deps: deps, cfg: cfg, m: m, cmd: core.ActuationCommand{Gear: 1}}
	if err := w.spawn(ctx, nil); err != nil {
		return nil, err
	}
	if err := w.attachCameras(ctx); err != nil {
		return nil, errors.Join(err, w.Destroy(ctx))
	}
	deps.Logger.Info("Spawned ego vehicle", "map", m.Name(), "vehicle", w.vehicle.ID(), "cameras", len(w.cameras))
	return w, nil
}

// Vehicle returns the current ego vehicle.
func (w *World) Vehicle() simulator.Vehicle {
	return w.vehicle
}

// MapName returns the loaded town.
func (w *World) MapName() string {
	return w.m.Name()
}

// Sensors returns the attached camera names in order.
func (w *World) Sensors() []string {
	return append([]string(nil), w.topics...)
}

// Autopilot reports whether the simulator drives the vehicle.
func (w *World) Autopilot() bool { return w.autopilot.Load() }

// ConstantVelocity reports whether the vehicle is held at the fixed forward speed.
func (w *World) ConstantVelocity() bool { return w.constVel.Load() }

// SetAutopilot hands the vehicle to the simulator's autopilot or takes it back.
func (w *World) SetAutopilot(ctx context.Context, enabled bool) error {
	if err := w.vehicle.SetAutopilot(ctx, enabled); err != nil {
		return fmt.Errorf("set autopilot: %w", err)
	}
	w.autopilot.Store(enabled)
	return nil
}

// ToggleConstantVelocity switches the ConstantSpeed hold and returns the new state.
func (w *World) ToggleConstantVelocity(ctx context.Context) (bool, error) {
	if w.constVel.Load() {
		if err := w.vehicle.DisableConstantVelocity(ctx); err != nil {
			return true, fmt.Errorf("disable constant velocity: %w", err)
		}
		w.constVel.Store(false)
		return false, nil
	}
	if err := w.vehicle.EnableConstantVelocity(ctx, core.Vector3D{X: ConstantSpeed}); err != nil {
		return false, fmt.Errorf("enable constant velocity: %w", err)
	}
	w.constVel.Store(true)
	return true, nil
}

// Actuated records the command and lights applied this iteration for telemetry.
func (w *World) Actuated(cmd core.ActuationCommand, lights core.LightState) {
	w.cmd = cmd
	w.lights = lights
}

// Tick samples the vehicle once for a completed simulation tick: the pose
// cache is updated and telemetry is published to every sink.
func (w *World) Tick(ctx context.Context, frame uint64) error {
	tr, err := w.vehicle.Transform(ctx)
	if err != nil {
		return fmt.Errorf("vehicle transform: %w", err)
	}
	p := tr.Pose()
	w.deps.Pose.Update(p)
	w.tick.Add(1)

	if len(w.deps.Sinks) == 0 {
		return nil
	}

	state := &core.VehicleState{
		SessionID: w.deps.SessionID,
		Tick:      frame,
		Time:      time.Now(),
		Pose:      p,
		Command:   w.cmd,
		Lights:    w.lights,
		Autopilot: w.autopilot.Load(),
	}
	if vel, err := w.vehicle.Velocity(ctx); err == nil {
		state.Speed = vel.Length()
	}
	for _, sink := range w.deps.Sinks {
		if err := sink.RecordVehicleState(state); err != nil {
			w.deps.Logger.Debug("Failed to record vehicle state", "error", err)
		}
	}
	return nil
}

// Ticks returns the number of pose samples taken. Safe from any goroutine.
func (w *World) Ticks() uint64 {
	return w.tick.Load()
}

// Restart respawns the vehicle 2 m above its current transform, levelled,
// and reattaches the cameras. The pose is unknown until the next Tick.
func (w *World) Restart(ctx context.Context) error {
	var at *core.Transform
	if w.vehicle != nil {
		if tr, err := w.vehicle.Transform(ctx); err == nil {
			tr.Location.Z += respawnLift
			tr.Rotation.Pitch = 0
			tr.Rotation.Roll = 0
			at = &tr
		}
	}

	if err := w.Destroy(ctx); err != nil {
		w.deps.Logger.Warn("Cleanup before respawn was incomplete", "error", err)
	}
	w.deps.Pose.Reset()
	w.autopilot.Store(false)
	w.constVel.Store(false)

	if err := w.spawn(ctx, at); err != nil {
		return err
	}
	if err := w.attachCameras(ctx); err != nil {
		return err
	}
	w.deps.Logger.Info("Vehicle respawned", "vehicle", w.vehicle.ID())
	return nil
}

// Destroy tears the run down in order: cameras stop delivering, their
// topics drain, then cameras and the vehicle are destroyed. Every step is
// attempted; failures are joined.
func (w *World) Destroy(ctx context.Context) error {
	var errs []error

	for _, cam := range w.cameras {
		if err := cam.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", cam.Name(), err))
		}
	}
	for _, topic := range w.topics {
		w.deps.Dispatcher.Unregister(topic)
	}
	for _, cam := range w.cameras {
		if err := cam.Destroy(ctx); err != nil {
			errs = append(errs, fmt.Errorf("destroy %s: %w", cam.Name(), err))
		}
	}
	if w.vehicle != nil {
		if err := w.vehicle.Destroy(ctx); err != nil {
			errs = append(errs, fmt.Errorf("destroy vehicle: %w", err))
		}
	}

	w.cameras = nil
	w.topics = nil
	w.vehicle = nil

	err := errors.Join(errs...)
	if err != nil {
		w.deps.Logger.Warn("Teardown incomplete", "error", err)
	}
	return err
}

// spawn places the vehicle at `at` when given, falling back to the
// configured spawn point, retrying while the point is occupied.
func (w *World) spawn(ctx context.Context, at *core.Transform) error {
	if at != nil {
		v, err := w.deps.Sim.SpawnVehicle(ctx, w.cfg.Blueprint, *at)
		if err == nil {
			w.vehicle = v
			w.tunePhysics(ctx)
			return nil
		}
		w.deps.Logger.Warn("Respawn in place failed, using spawn point", "error", err)
	}

	for {
		points := w.m.SpawnPoints()
		if len(points) == 0 {
			return ErrNoSpawnPoints
		}
		idx := min(w.cfg.SpawnIndex, len(points)-1)

		v, err := w.deps.Sim.SpawnVehicle(ctx, w.cfg.Blueprint, points[idx])
		if err == nil {
			w.vehicle = v
			w.tunePhysics(ctx)
			return nil
		}
		if !errors.Is(err, simulator.ErrSpawnCollision) {
			return fmt.Errorf("spawn vehicle: %w", err)
		}

		w.deps.Logger.Debug("Spawn point occupied, retrying", "index", idx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.cfg.RetryDelay):
		}
	}
}

// tunePhysics enables sweep wheel collision where supported.
func (w *World) tunePhysics(ctx context.Context) {
	err := w.vehicle.EnableSweepWheelCollision(ctx)
	if err != nil && !errors.Is(err, simulator.ErrNotVehicle) {
		w.deps.Logger.Debug("Physics control not applied", "error", err)
	}
}

func (w *World) attachCameras(ctx context.Context) error {
	for _, spec := range w.cfg.Cameras {
		cam, err := w.deps.Sim.SpawnCamera(ctx, spec, w.vehicle)
		if err != nil {
			return fmt.Errorf("spawn camera %s: %w", spec.Name, err)
		}
		w.cameras = append(w.cameras, cam)

		topic := spec.Name
		w.deps.Dispatcher.Register(topic, w.deps.Recorder.Handler(topic).HandleEvent,
			dispatcher.Buffered(w.cfg.TopicBuffer), dispatcher.Blocking(), dispatcher.Logged())
		w.topics = append(w.topics, topic)

		d := w.deps.Dispatcher
		logger := w.deps.Logger
		if err := cam.Listen(func(f core.SensorFrame) {
			if err := d.Dispatch(dispatcher.Event{Topic: topic, Payload: f}); err != nil {
				logger.Debug("Frame not delivered", "sensor", topic, "frame", f.Frame, "error", err)
			}
		}); err != nil {
			return fmt.Errorf("listen %s: %w", spec.Name, err)
		}
	}
	return nil
}
