// Package local is an in-process kinematic driving simulator. It implements
// the simulator contracts well enough to drive the collector without an
// external server: a bicycle model for the ego vehicle, a waypoint autopilot
// and synthetic camera images.
package local

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/ai4ce/vpr-collector/internal/simulator"
	"github.com/ai4ce/vpr-collector/pkg/core"
)

// Config tunes the simulated town.
type Config struct {
	Town string
	// SpawnPoints defaults to a ring of points around the origin.
	SpawnPoints []core.Transform
	// AsyncDelta is the wall-clock step used while the world is asynchronous.
	AsyncDelta time.Duration
}

func (c Config) withDefaults() Config {
	if c.Town == "" {
		c.Town = "Town10HD"
	}
	if len(c.SpawnPoints) == 0 {
		c.SpawnPoints = Ring(16, 60)
	}
	if c.AsyncDelta <= 0 {
		c.AsyncDelta = 50 * time.Millisecond
	}
	return c
}

// Ring returns n spawn points on a circle of the given radius, each facing
// along the circle counter-clockwise.
func Ring(n int, radius float64) []core.Transform {
	points := make([]core.Transform, n)
	for i := range points {
		theta := 2 * math.Pi * float64(i) / float64(n)
		p := r2.Rotate(r2.Vec{X: radius}, theta, r2.Vec{})
		points[i] = core.Transform{
			Location: core.Location{X: p.X, Y: p.Y, Z: 0.3},
			Rotation: core.Rotation{Yaw: normalizeDeg(theta*180/math.Pi + 90)},
		}
	}
	return points
}

type townMap struct {
	name   string
	points []core.Transform
}

func (m *townMap) Name() string { return m.name }

func (m *townMap) SpawnPoints() []core.Transform {
	return append([]core.Transform(nil), m.points...)
}

// World implements simulator.World.
type World struct {
	cfg Config

	mu       sync.Mutex
	settings simulator.Settings
	frame    uint64
	vehicles map[uint64]*Vehicle
	cameras  map[*Camera]struct{}
	nextID   uint64
	tmSync   bool

	tickCond *sync.Cond
	stop     chan struct{}
	done     chan struct{}
}

// New starts an asynchronous world. Close stops its clock.
func New(cfg Config) *World {
	w := &World{
		cfg:      cfg.withDefaults(),
		vehicles: make(map[uint64]*Vehicle),
		cameras:  make(map[*Camera]struct{}),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	w.tickCond = sync.NewCond(&w.mu)
	go w.clock()
	return w
}

// Close stops the asynchronous clock and every camera.
func (w *World) Close() {
	select {
	case <-w.stop:
		return
	default:
	}
	close(w.stop)
	<-w.done

	w.mu.Lock()
	cams := make([]*Camera, 0, len(w.cameras))
	for c := range w.cameras {
		cams = append(cams, c)
	}
	w.mu.Unlock()
	for _, c := range cams {
		_ = c.Stop(context.Background())
	}
}

// clock advances the world while it is not in synchronous mode.
func (w *World) clock() {
	defer close(w.done)
	t := time.NewTicker(w.cfg.AsyncDelta)
	defer t.Stop()
	for {
		select {
		case <-w.stop:
			w.mu.Lock()
			w.tickCond.Broadcast()
			w.mu.Unlock()
			return
		case <-t.C:
			w.mu.Lock()
			if !w.settings.SynchronousMode {
				w.stepLocked(w.cfg.AsyncDelta.Seconds())
			}
			w.mu.Unlock()
		}
	}
}

func (w *World) Map(ctx context.Context) (simulator.Map, error) {
	return &townMap{name: w.cfg.Town, points: w.cfg.SpawnPoints}, nil
}

func (w *World) Settings(ctx context.Context) (simulator.Settings, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.settings, nil
}

func (w *World) ApplySettings(ctx context.Context, s simulator.Settings) error {
	if s.SynchronousMode && s.FixedDeltaSeconds < 0 {
		return fmt.Errorf("invalid fixed delta %v", s.FixedDeltaSeconds)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.settings = s
	return nil
}

func (w *World) SetTrafficManagerSync(ctx context.Context, enabled bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tmSync = enabled
	return nil
}

// TrafficManagerSync reports the last value set.
func (w *World) TrafficManagerSync() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tmSync
}

// Tick advances one fixed step. It fails unless the world is synchronous.
func (w *World) Tick(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.settings.SynchronousMode {
		return 0, fmt.Errorf("tick requires synchronous mode")
	}
	dt := w.settings.FixedDeltaSeconds
	if dt == 0 {
		dt = w.cfg.AsyncDelta.Seconds()
	}
	w.stepLocked(dt)
	return w.frame, nil
}

// WaitForTick blocks until the next step completes or ctx is done.
func (w *World) WaitForTick(ctx context.Context) (uint64, error) {
	stopWake := context.AfterFunc(ctx, func() {
		w.mu.Lock()
		w.tickCond.Broadcast()
		w.mu.Unlock()
	})
	defer stopWake()

	w.mu.Lock()
	defer w.mu.Unlock()
	start := w.frame
	for w.frame == start {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		select {
		case <-w.stop:
			return 0, fmt.Errorf("world closed")
		default:
		}
		w.tickCond.Wait()
	}
	return w.frame, nil
}

func (w *World) SpawnVehicle(ctx context.Context, bp simulator.VehicleBlueprint, at core.Transform) (simulator.Vehicle, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	pos := r2.Vec{X: at.Location.X, Y: at.Location.Y}
	for _, v := range w.vehicles {
		if r2.Norm(r2.Sub(v.pos, pos)) < 2.0 {
			return nil, simulator.ErrSpawnCollision
		}
	}

	w.nextID++
	v := &Vehicle{
		world:     w,
		id:        w.nextID,
		blueprint: bp,
		pos:       pos,
		z:         at.Location.Z,
		yaw:       normalizeDeg(at.Rotation.Yaw),
		pitch:     at.Rotation.Pitch,
		roll:      at.Rotation.Roll,
		cmd:       core.ActuationCommand{Gear: 1},
	}
	v.waypoint = w.nearestWaypoint(pos)
	w.vehicles[v.id] = v
	return v, nil
}

func (w *World) SpawnCamera(ctx context.Context, spec simulator.CameraSpec, parent simulator.Vehicle) (simulator.Camera, error) {
	v, ok := parent.(*Vehicle)
	if !ok || v.world != w {
		return nil, fmt.Errorf("camera %s: parent is not a vehicle of this world", spec.Name)
	}
	if spec.Width <= 0 || spec.Height <= 0 {
		return nil, fmt.Errorf("camera %s: invalid resolution %dx%d", spec.Name, spec.Width, spec.Height)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if v.destroyed {
		return nil, fmt.Errorf("camera %s: parent destroyed", spec.Name)
	}
	c := newCamera(w, spec, v)
	w.cameras[c] = struct{}{}
	return c, nil
}

func (w *World) removeCamera(c *Camera) {
	w.mu.Lock()
	delete(w.cameras, c)
	w.mu.Unlock()
}

// stepLocked advances every vehicle by dt seconds, then hands the new frame
// to every camera. Must hold w.mu.
func (w *World) stepLocked(dt float64) {
	w.frame++
	for _, v := range w.vehicles {
		v.step(dt)
	}
	for c := range w.cameras {
		c.capture(w.frame)
	}
	w.tickCond.Broadcast()
}

func (w *World) nearestWaypoint(p r2.Vec) int {
	best, bestDist := 0, math.Inf(1)
	for i, sp := range w.cfg.SpawnPoints {
		d := r2.Norm(r2.Sub(r2.Vec{X: sp.Location.X, Y: sp.Location.Y}, p))
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

func normalizeDeg(d float64) float64 {
	d = math.Mod(d+180, 360)
	if d < 0 {
		d += 360
	}
	return d - 180
}
