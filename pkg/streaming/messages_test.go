package streaming

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai4ce/vpr-collector/pkg/core"
)

func TestNewFramePayload_UnknownPose(t *testing.T) {
	called := false
	p := NewFramePayload(&core.FrameRecord{SensorID: "cam1", Frame: 7, FrameName: "f00000007"}, func(x, y float64) (float64, float64) {
		called = true
		return 0, 0
	})
	assert.False(t, called)

	data, err := json.Marshal(p)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Nil(t, got["x"])
	assert.Contains(t, got, "x")
	assert.NotContains(t, got, "lon")
	assert.Equal(t, "f00000007", got["frameName"])
}

func TestNewFramePayload_KnownPose(t *testing.T) {
	p := NewFramePayload(&core.FrameRecord{Pose: core.Pose{X: 1, Y: 2, Yaw: 3}, PoseKnown: true}, func(x, y float64) (float64, float64) {
		return x + 10, y + 20
	})
	require.NotNil(t, p.X)
	assert.Equal(t, 1.0, *p.X)
	assert.Equal(t, 3.0, *p.Yaw)
	assert.Equal(t, 11.0, *p.Lon)
	assert.Equal(t, 22.0, *p.Lat)
}

func TestNewVehicleStatePayload(t *testing.T) {
	s := &core.VehicleState{
		Tick:      5,
		Pose:      core.Pose{X: 1, Y: 2, Yaw: 3},
		Command:   core.ActuationCommand{Throttle: 0.5, Gear: -1, Reverse: true},
		Lights:    core.LightPosition | core.LightLowBeam,
		Autopilot: true,
	}
	p := NewVehicleStatePayload(s, nil)
	assert.Equal(t, uint64(5), p.Tick)
	assert.Equal(t, -1, p.Gear)
	assert.Equal(t, uint32(3), p.Lights)
	assert.True(t, p.Autopilot)
	assert.Nil(t, p.Lon)
}
