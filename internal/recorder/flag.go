package recorder

import "sync/atomic"

// Flag is the recording switch. The control goroutine writes it; every frame
// delivery goroutine reads it.
type Flag struct {
	on atomic.Bool
}

// Toggle flips the flag and returns the new value.
func (f *Flag) Toggle() bool {
	for {
		old := f.on.Load()
		if f.on.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// Set switches recording on or off.
func (f *Flag) Set(on bool) {
	f.on.Store(on)
}

// Enabled reports whether frames are being written.
func (f *Flag) Enabled() bool {
	return f.on.Load()
}
