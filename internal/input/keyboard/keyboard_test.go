package keyboard

import (
	"testing"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai4ce/vpr-collector/internal/input"
	"github.com/ai4ce/vpr-collector/internal/queue"
)

func TestMapKey(t *testing.T) {
	tests := []struct {
		name   string
		key    ebiten.Key
		mods   input.Mods
		want   input.Binding
		sensor int
		ok     bool
	}{
		{"escape quits", ebiten.KeyEscape, 0, input.BindQuit, 0, true},
		{"ctrl+q quits", ebiten.KeyQ, input.ModCtrl, input.BindQuit, 0, true},
		{"q toggles reverse", ebiten.KeyQ, 0, input.BindToggleReverse, 0, true},
		{"backspace restarts", ebiten.KeyBackspace, 0, input.BindRestartVehicle, 0, true},
		{"p toggles autopilot", ebiten.KeyP, 0, input.BindToggleAutopilot, 0, true},
		{"ctrl+p ignored", ebiten.KeyP, input.ModCtrl, input.BindNone, 0, false},
		{"r toggles recording", ebiten.KeyR, 0, input.BindToggleRecording, 0, true},
		{"ctrl+r ignored", ebiten.KeyR, input.ModCtrl, input.BindNone, 0, false},
		{"ctrl+w constant velocity", ebiten.KeyW, input.ModCtrl, input.BindToggleConstantVelocity, 0, true},
		{"w alone is not discrete", ebiten.KeyW, 0, input.BindNone, 0, false},
		{"l cycles lights", ebiten.KeyL, input.ModShift, input.BindCycleLight, 0, true},
		{"digit 3", ebiten.KeyDigit3, 0, input.BindSelectSensor, 3, true},
		{"ctrl+digit 3", ebiten.KeyDigit3, input.ModCtrl, input.BindSelectSensor, 11, true},
		{"digit 9 unmapped", ebiten.KeyDigit9, 0, input.BindNone, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := mapKey(tt.key, tt.mods)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.want, ev.Binding)
			assert.Equal(t, tt.mods, ev.Mods)
			assert.Equal(t, tt.sensor, ev.Sensor)
		})
	}
}

func TestKeyboard_PollDrainsReleases(t *testing.T) {
	held := map[ebiten.Key]bool{ebiten.KeyArrowUp: true, ebiten.KeyA: true, ebiten.KeySpace: true}
	k := &Keyboard{
		released: queue.New[input.KeyEvent](),
		pressed:  func(key ebiten.Key) bool { return held[key] },
	}
	k.released.Push(input.KeyEvent{Binding: input.BindToggleRecording})

	snap := k.Poll()
	assert.True(t, snap.Accelerate)
	assert.True(t, snap.Left)
	assert.True(t, snap.HandBrake)
	assert.False(t, snap.Brake)
	assert.False(t, snap.Right)
	require.Len(t, snap.Released, 1)
	assert.Equal(t, input.BindToggleRecording, snap.Released[0].Binding)

	assert.Empty(t, k.Poll().Released)
}
