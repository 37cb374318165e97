// Package keyboard implements input.Source on top of an ebiten window.
package keyboard

import (
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"

	"github.com/ai4ce/vpr-collector/internal/input"
	"github.com/ai4ce/vpr-collector/internal/queue"
)

// Keyboard reads held keys on demand and buffers key releases observed by the
// ebiten update loop until the control loop polls them.
type Keyboard struct {
	released *queue.Queue[input.KeyEvent]
	keys     []ebiten.Key
	pressed  func(ebiten.Key) bool
}

// New creates a keyboard source bound to the running ebiten instance.
func New() *Keyboard {
	return &Keyboard{
		released: queue.New[input.KeyEvent](),
		pressed:  ebiten.IsKeyPressed,
	}
}

// Collect must be called from the ebiten game's Update.
func (k *Keyboard) Collect() {
	k.keys = inpututil.AppendJustReleasedKeys(k.keys[:0])
	if len(k.keys) == 0 {
		return
	}
	mods := k.mods()
	for _, key := range k.keys {
		if ev, ok := mapKey(key, mods); ok {
			k.released.Push(ev)
		}
	}
}

// Poll implements input.Source. ebiten.IsKeyPressed is safe to call off the
// update goroutine.
func (k *Keyboard) Poll() input.Snapshot {
	return input.Snapshot{
		Accelerate: k.pressed(ebiten.KeyW) || k.pressed(ebiten.KeyArrowUp),
		Brake:      k.pressed(ebiten.KeyS) || k.pressed(ebiten.KeyArrowDown),
		Left:       k.pressed(ebiten.KeyA) || k.pressed(ebiten.KeyArrowLeft),
		Right:      k.pressed(ebiten.KeyD) || k.pressed(ebiten.KeyArrowRight),
		HandBrake:  k.pressed(ebiten.KeySpace),
		Released:   k.released.GetAndEmpty(),
	}
}

func (k *Keyboard) mods() input.Mods {
	var m input.Mods
	if k.pressed(ebiten.KeyControl) {
		m |= input.ModCtrl
	}
	if k.pressed(ebiten.KeyShift) {
		m |= input.ModShift
	}
	return m
}

// mapKey translates a released key into a binding.
func mapKey(key ebiten.Key, mods input.Mods) (input.KeyEvent, bool) {
	ev := input.KeyEvent{Mods: mods}
	ctrl := mods.Has(input.ModCtrl)

	switch {
	case key == ebiten.KeyEscape, key == ebiten.KeyQ && ctrl:
		ev.Binding = input.BindQuit
	case key == ebiten.KeyQ:
		ev.Binding = input.BindToggleReverse
	case key == ebiten.KeyBackspace:
		ev.Binding = input.BindRestartVehicle
	case key == ebiten.KeyP && !ctrl:
		ev.Binding = input.BindToggleAutopilot
	case key == ebiten.KeyR && !ctrl:
		ev.Binding = input.BindToggleRecording
	case key == ebiten.KeyW && ctrl:
		ev.Binding = input.BindToggleConstantVelocity
	case key == ebiten.KeyL:
		ev.Binding = input.BindCycleLight
	case key >= ebiten.KeyDigit1 && key <= ebiten.KeyDigit8:
		ev.Binding = input.BindSelectSensor
		ev.Sensor = int(key-ebiten.KeyDigit1) + 1
		if ctrl {
			ev.Sensor += 8
		}
	default:
		return input.KeyEvent{}, false
	}
	return ev, true
}
