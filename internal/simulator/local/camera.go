package local

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/ai4ce/vpr-collector/internal/simulator"
	"github.com/ai4ce/vpr-collector/pkg/core"
)

type capture struct {
	frame uint64
	pose  core.Pose
}

// Camera implements simulator.Camera. Frames are rendered and delivered on a
// goroutine owned by the camera, never on the caller of Tick.
type Camera struct {
	world  *World
	spec   simulator.CameraSpec
	parent *Vehicle

	captures chan capture

	mu        sync.Mutex
	listening bool
	stopped   bool
	destroyed bool
	done      chan struct{}
}

func newCamera(w *World, spec simulator.CameraSpec, parent *Vehicle) *Camera {
	return &Camera{
		world:    w,
		spec:     spec,
		parent:   parent,
		captures: make(chan capture, 4),
		done:     make(chan struct{}),
	}
}

func (c *Camera) Name() string { return c.spec.Name }

// Listen starts delivering frames to fn. It may be called once.
func (c *Camera) Listen(fn simulator.FrameFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.destroyed || c.stopped:
		return fmt.Errorf("camera %s: stopped", c.spec.Name)
	case c.listening:
		return fmt.Errorf("camera %s: already listening", c.spec.Name)
	}
	c.listening = true
	go c.deliver(fn)
	return nil
}

// Stop ends delivery and waits for an in-flight callback to return.
func (c *Camera) Stop(ctx context.Context) error {
	c.world.removeCamera(c)

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	listening := c.listening
	close(c.captures)
	c.mu.Unlock()

	if !listening {
		return nil
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Camera) Destroy(ctx context.Context) error {
	if err := c.Stop(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return errDestroyed
	}
	c.destroyed = true
	return nil
}

// capture is called with the world mutex held and never blocks; a slow
// listener loses frames the way a saturated sensor stream would.
func (c *Camera) capture(frame uint64) {
	p := c.parent.transformLocked().Pose()
	p.Yaw = normalizeDeg(p.Yaw + c.spec.Transform.Rotation.Yaw)
	select {
	case c.captures <- capture{frame: frame, pose: p}:
	default:
	}
}

func (c *Camera) deliver(fn simulator.FrameFunc) {
	defer close(c.done)
	for cp := range c.captures {
		fn(core.SensorFrame{
			SensorID: c.spec.Name,
			Frame:    cp.frame,
			Width:    c.spec.Width,
			Height:   c.spec.Height,
			Raw:      render(c.spec.Width, c.spec.Height, cp.pose),
		})
	}
}

// render paints a BGRA test pattern that shifts with position and heading,
// so consecutive frames differ the way a real view would.
func render(w, h int, p core.Pose) []byte {
	raw := make([]byte, w*h*4)
	shift := int(math.Floor(p.Yaw / 360 * float64(w)))
	base := uint8(int(math.Abs(p.X+p.Y)) % 256)
	for y := 0; y < h; y++ {
		sky := y < h/2
		for x := 0; x < w; x++ {
			i := (y*w + x) * 4
			col := ((x+shift)%w + w) % w
			band := uint8(col * 255 / max(w-1, 1))
			if sky {
				raw[i+0], raw[i+1], raw[i+2] = 230, 180, band/4
			} else {
				raw[i+0], raw[i+1], raw[i+2] = base, band, 90
			}
			raw[i+3] = 255
		}
	}
	return raw
}
