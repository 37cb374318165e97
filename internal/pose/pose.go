// Package pose holds the latest vehicle pose shared between the tick driver
// and the frame handlers.
package pose

import (
	"sync/atomic"

	"github.com/ai4ce/vpr-collector/pkg/core"
)

// Cache is a single-writer, many-reader cell. Readers always observe a
// complete pose; they may observe one that is a tick old.
type Cache struct {
	p atomic.Pointer[core.Pose]
}

// New returns a cache whose pose is unknown.
func New() *Cache {
	return &Cache{}
}

// Update publishes p. Called once per completed tick.
func (c *Cache) Update(p core.Pose) {
	c.p.Store(&p)
}

// Read returns the latest pose, or false if none was published since the
// last Reset.
func (c *Cache) Read() (core.Pose, bool) {
	p := c.p.Load()
	if p == nil {
		return core.Pose{}, false
	}
	return *p, true
}

// Reset marks the pose unknown until the next Update.
func (c *Cache) Reset() {
	c.p.Store(nil)
}
