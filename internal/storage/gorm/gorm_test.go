package gormstorage

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai4ce/vpr-collector/internal/database"
	"github.com/ai4ce/vpr-collector/internal/geo"
	"github.com/ai4ce/vpr-collector/internal/model"
	"github.com/ai4ce/vpr-collector/pkg/core"
)

// newTestBackend creates a Backend with no DB (queue-only mode).
func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b := New(Dependencies{})
	require.NoError(t, b.Init())
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func newSQLiteBackend(t *testing.T) *Backend {
	t.Helper()
	db, err := database.OpenSQLite("")
	require.NoError(t, err)
	proj, err := geo.NewProjector(geo.DefaultOrigin)
	require.NoError(t, err)
	b := New(Dependencies{DB: db, Projector: proj, FlushInterval: time.Hour})
	require.NoError(t, b.Init())
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func frame(sensor string, n uint64) *core.FrameRecord {
	return &core.FrameRecord{
		SensorID:  sensor,
		Frame:     n,
		FrameName: fmt.Sprintf("f%08d", n),
		Pose:      core.Pose{X: float64(n), Y: 1, Yaw: 45},
		PoseKnown: true,
		Time:      time.Now(),
	}
}

func TestQueueOnlyMode(t *testing.T) {
	b := newTestBackend(t)

	require.NoError(t, b.StartSession(&core.SessionInfo{ID: "run"}))
	require.NoError(t, b.RecordFrame(frame("cam1", 1)))
	require.NoError(t, b.RecordVehicleState(&core.VehicleState{Tick: 1}))

	assert.Equal(t, map[string]int{"frame_records": 1, "vehicle_states": 1}, b.Pending())
	assert.NoError(t, b.EndSession())
	assert.Zero(t, b.SessionID())
}

func TestCloseIsIdempotent(t *testing.T) {
	b := New(Dependencies{})
	assert.NoError(t, b.Close(), "close before init")
	require.NoError(t, b.Init())
	assert.NoError(t, b.Close())
	assert.NoError(t, b.Close())
}

func TestSQLite_SessionAndFlush(t *testing.T) {
	b := newSQLiteBackend(t)

	info := core.SessionInfo{ID: "run-1", Root: "data", Sensors: []string{"cam1"}, StartTime: time.Now()}
	require.NoError(t, b.StartSession(&info))
	require.NotZero(t, b.SessionID())

	require.NoError(t, b.RecordFrame(frame("cam1", 5)))
	require.NoError(t, b.RecordFrame(&core.FrameRecord{SensorID: "cam2", Frame: 6}))
	require.NoError(t, b.RecordVehicleState(&core.VehicleState{Tick: 5, Speed: 3}))
	require.NoError(t, b.EndSession())
	assert.Equal(t, map[string]int{"frame_records": 0, "vehicle_states": 0}, b.Pending())

	var frames []model.FrameRecord
	require.NoError(t, b.DB().Order("frame").Find(&frames).Error)
	require.Len(t, frames, 2)
	assert.Equal(t, b.SessionID(), frames[0].SessionID)
	assert.Equal(t, uint64(5), frames[0].Frame)
	assert.False(t, frames[0].Position.IsEmpty())
	assert.False(t, frames[1].PoseKnown)
	assert.True(t, frames[1].Position.IsEmpty(), "unknown pose has no position")

	var states []model.VehicleState
	require.NoError(t, b.DB().Find(&states).Error)
	require.Len(t, states, 1)
	assert.Equal(t, 3.0, states[0].Speed)
}

func TestSQLite_CloseFlushesQueue(t *testing.T) {
	b := newSQLiteBackend(t)
	require.NoError(t, b.RecordFrame(frame("cam3", 9)))
	require.NoError(t, b.Close())

	var n int64
	require.NoError(t, b.DB().Model(&model.FrameRecord{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestWriter_FlushesPeriodically(t *testing.T) {
	db, err := database.OpenSQLite("")
	require.NoError(t, err)
	b := New(Dependencies{DB: db, FlushInterval: 10 * time.Millisecond})
	require.NoError(t, b.Init())
	t.Cleanup(func() { _ = b.Close() })

	require.NoError(t, b.RecordVehicleState(&core.VehicleState{Tick: 1}))
	assert.Eventually(t, func() bool {
		return b.Pending()["vehicle_states"] == 0
	}, time.Second, 10*time.Millisecond)
}
