package monitor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai4ce/vpr-collector/internal/recorder"
)

type fakeStats struct{ s recorder.Stats }

func (f fakeStats) Stats() recorder.Stats { return f.s }

type fakeQueues map[string]int

func (f fakeQueues) QueueSizes() map[string]int { return f }

func (f fakeQueues) Pending() map[string]int { return f }

func TestGetProgramStatus(t *testing.T) {
	svc := NewService(Dependencies{
		SessionID: "run-1",
		Recorder:  fakeStats{recorder.Stats{Recorded: 10, Discarded: 2}},
		Queues:    fakeQueues{"sensor.cam1": 3},
		Pending:   fakeQueues{"frame_records": 7},
		Recording: func() bool { return true },
		Ticks:     func() uint64 { return 99 },
	})

	lines, status := svc.GetProgramStatus()
	assert.Equal(t, "run-1", status.Session)
	assert.True(t, status.Recording)
	assert.False(t, status.Autopilot)
	assert.Equal(t, uint64(99), status.Ticks)
	assert.Equal(t, uint64(10), status.Frames.Recorded)
	assert.Equal(t, 3, status.Queues["sensor.cam1"])
	assert.Equal(t, 7, status.Pending["frame_records"])
	assert.Contains(t, lines, "recording true")
	assert.Contains(t, lines[5], `"Recorded": 10`)
}

func TestGetProgramStatus_NoSources(t *testing.T) {
	_, status := NewService(Dependencies{}).GetProgramStatus()
	assert.Empty(t, status.Queues)
	assert.Nil(t, status.Pending)
}

func TestStartStop(t *testing.T) {
	dir := t.TempDir()
	svc := NewService(Dependencies{
		Dir:      dir,
		Interval: 10 * time.Millisecond,
		Recorder: fakeStats{recorder.Stats{Recorded: 1}},
		Ticks:    func() uint64 { return 5 },
	})

	require.NoError(t, svc.Start())
	require.NoError(t, svc.Start())
	assert.True(t, svc.IsRunning())
	time.Sleep(30 * time.Millisecond)
	svc.Stop()
	svc.Stop()
	assert.False(t, svc.IsRunning())

	data, err := os.ReadFile(filepath.Join(dir, StatusFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "ticks     5\n")
}

func TestStart_BadDir(t *testing.T) {
	svc := NewService(Dependencies{Dir: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, svc.Start())
	assert.False(t, svc.IsRunning())
}
