// pkg/core/frame.go
package core

import "time"

// SensorFrame is one camera capture delivered by the simulator.
// Raw holds Width*Height BGRA8 pixels.
type SensorFrame struct {
	SensorID string
	Frame    uint64 // simulator-assigned, monotonically increasing
	Width    int
	Height   int
	Raw      []byte
}

// FrameRecord describes one persisted frame and the pose it was stamped with.
// PoseKnown is false when the vehicle had just (re)spawned and no tick had completed.
type FrameRecord struct {
	SessionID string
	SensorID  string
	Frame     uint64
	FrameName string
	ImagePath string
	Pose      Pose
	PoseKnown bool
	Time      time.Time
}
