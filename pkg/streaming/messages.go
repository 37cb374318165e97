// Package streaming defines the JSON protocol used to stream a recording
// session to a remote collector service.
package streaming

import (
	"encoding/json"
	"time"

	"github.com/ai4ce/vpr-collector/pkg/core"
)

// Message type constants matching the streaming protocol.
const (
	TypeStartSession = "start_session"
	TypeEndSession   = "end_session"
	TypeFrame        = "frame"
	TypeVehicleState = "vehicle_state"

	TypeAck = "ack"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the server's acknowledgement response. Frame acks also
// name the sensor and frame number they confirm.
type AckMessage struct {
	Type     string `json:"type"` // always "ack"
	For      string `json:"for"`  // the message type being acknowledged
	SensorID string `json:"sensorId,omitempty"`
	Frame    uint64 `json:"frame,omitempty"`
}

// Origin is the WGS84 anchor of the simulator world.
type Origin struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// StartSessionPayload carries the session description.
type StartSessionPayload struct {
	Session *core.SessionInfo `json:"session"`
	Origin  *Origin           `json:"origin,omitempty"`
}

// FramePayload announces one saved camera frame. Pose fields are null when
// the pose was unknown at capture time.
type FramePayload struct {
	SensorID  string    `json:"sensorId"`
	Frame     uint64    `json:"frame"`
	FrameName string    `json:"frameName"`
	ImagePath string    `json:"imagePath"`
	X         *float64  `json:"x"`
	Y         *float64  `json:"y"`
	Yaw       *float64  `json:"yaw"`
	Lon       *float64  `json:"lon,omitempty"`
	Lat       *float64  `json:"lat,omitempty"`
	Time      time.Time `json:"time"`
}

// VehicleStatePayload is the per-tick ego telemetry.
type VehicleStatePayload struct {
	Tick      uint64    `json:"tick"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Yaw       float64   `json:"yaw"`
	Lon       *float64  `json:"lon,omitempty"`
	Lat       *float64  `json:"lat,omitempty"`
	Speed     float64   `json:"speed"`
	Throttle  float64   `json:"throttle"`
	Brake     float64   `json:"brake"`
	Steer     float64   `json:"steer"`
	HandBrake bool      `json:"handBrake"`
	Gear      int       `json:"gear"`
	Lights    uint32    `json:"lights"`
	Autopilot bool      `json:"autopilot"`
	Time      time.Time `json:"time"`
}

// LonLatFunc maps world metres to WGS84 degrees.
type LonLatFunc func(x, y float64) (lon, lat float64)

// NewFramePayload converts a frame record. lonLat may be nil.
func NewFramePayload(r *core.FrameRecord, lonLat LonLatFunc) FramePayload {
	p := FramePayload{
		SensorID:  r.SensorID,
		Frame:     r.Frame,
		FrameName: r.FrameName,
		ImagePath: r.ImagePath,
		Time:      r.Time,
	}
	if r.PoseKnown {
		x, y, yaw := r.Pose.X, r.Pose.Y, r.Pose.Yaw
		p.X, p.Y, p.Yaw = &x, &y, &yaw
		if lonLat != nil {
			lon, lat := lonLat(x, y)
			p.Lon, p.Lat = &lon, &lat
		}
	}
	return p
}

// NewVehicleStatePayload converts a telemetry sample. lonLat may be nil.
func NewVehicleStatePayload(s *core.VehicleState, lonLat LonLatFunc) VehicleStatePayload {
	p := VehicleStatePayload{
		Tick:      s.Tick,
		X:         s.Pose.X,
		Y:         s.Pose.Y,
		Yaw:       s.Pose.Yaw,
		Speed:     s.Speed,
		Throttle:  s.Command.Throttle,
		Brake:     s.Command.Brake,
		Steer:     s.Command.Steer,
		HandBrake: s.Command.HandBrake,
		Gear:      s.Command.Gear,
		Lights:    uint32(s.Lights),
		Autopilot: s.Autopilot,
		Time:      s.Time,
	}
	if lonLat != nil {
		lon, lat := lonLat(s.Pose.X, s.Pose.Y)
		p.Lon, p.Lat = &lon, &lat
	}
	return p
}
