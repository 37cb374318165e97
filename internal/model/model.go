// Package model holds the gorm row types of the frame index.
package model

import (
	"encoding/json"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ai4ce/vpr-collector/pkg/core"
)

// DatabaseModels lists every table, in migration order.
var DatabaseModels = []any{
	&Session{},
	&FrameRecord{},
	&VehicleState{},
}

// Session is one run of the collector.
type Session struct {
	gorm.Model
	RunID       string         `json:"runId" gorm:"size:36;uniqueIndex"`
	Root        string         `json:"root" gorm:"size:512"`
	Sensors     datatypes.JSON `json:"sensors"`
	StartTime   time.Time      `json:"startTime" gorm:"index:idx_session_start"`
	Synchronous bool           `json:"synchronous"`
	Role        string         `json:"role" gorm:"size:64"`
}

func (*Session) TableName() string {
	return "sessions"
}

// FrameRecord mirrors one data.csv row together with the sensor that produced it.
type FrameRecord struct {
	ID        uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time      time.Time `json:"time"`
	SessionID uint      `json:"sessionId" gorm:"index:idx_framerecord_session_id"`
	Session   Session   `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	SensorID  string    `json:"sensorId" gorm:"size:32;index:idx_framerecord_sensor"`
	Frame     uint64    `json:"frame" gorm:"index:idx_framerecord_frame"`
	FrameName string    `json:"frameName" gorm:"size:32"`
	ImagePath string    `json:"imagePath" gorm:"size:512"`

	PoseKnown bool       `json:"poseKnown"`
	X         float64    `json:"x"`
	Y         float64    `json:"y"`
	Yaw       float64    `json:"yaw"`
	Position  geom.Point `json:"position" gorm:"type:bytes"` // EPSG:3857 WKB
}

func (*FrameRecord) TableName() string {
	return "frame_records"
}

// VehicleState is the ego vehicle telemetry of one completed tick.
type VehicleState struct {
	ID        uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time      time.Time `json:"time"`
	SessionID uint      `json:"sessionId" gorm:"index:idx_vehiclestate_session_id"`
	Session   Session   `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	Tick      uint64    `json:"tick" gorm:"index:idx_vehiclestate_tick"`

	X         float64    `json:"x"`
	Y         float64    `json:"y"`
	Yaw       float64    `json:"yaw"`
	Position  geom.Point `json:"position" gorm:"type:bytes"`
	Speed     float64    `json:"speed"`
	Throttle  float64    `json:"throttle"`
	Brake     float64    `json:"brake"`
	Steer     float64    `json:"steer"`
	HandBrake bool       `json:"handBrake"`
	Gear      int        `json:"gear"`
	Lights    uint32     `json:"lights"`
	Autopilot bool       `json:"autopilot"`
}

func (*VehicleState) TableName() string {
	return "vehicle_states"
}

// SessionFromCore converts a session. The sensors list is stored as JSON.
func SessionFromCore(s core.SessionInfo) (Session, error) {
	sensors, err := json.Marshal(s.Sensors)
	if err != nil {
		return Session{}, err
	}
	return Session{
		RunID:       s.ID,
		Root:        s.Root,
		Sensors:     datatypes.JSON(sensors),
		StartTime:   s.StartTime,
		Synchronous: s.Synchronous,
		Role:        s.Role,
	}, nil
}

// FrameRecordFromCore converts a frame record; SessionID is stamped by the writer.
func FrameRecordFromCore(r core.FrameRecord, position geom.Point) FrameRecord {
	return FrameRecord{
		Time:      r.Time,
		SensorID:  r.SensorID,
		Frame:     r.Frame,
		FrameName: r.FrameName,
		ImagePath: r.ImagePath,
		PoseKnown: r.PoseKnown,
		X:         r.Pose.X,
		Y:         r.Pose.Y,
		Yaw:       r.Pose.Yaw,
		Position:  position,
	}
}

// VehicleStateFromCore converts a telemetry sample; SessionID is stamped by the writer.
func VehicleStateFromCore(s core.VehicleState, position geom.Point) VehicleState {
	return VehicleState{
		Time:      s.Time,
		Tick:      s.Tick,
		X:         s.Pose.X,
		Y:         s.Pose.Y,
		Yaw:       s.Pose.Yaw,
		Position:  position,
		Speed:     s.Speed,
		Throttle:  s.Command.Throttle,
		Brake:     s.Command.Brake,
		Steer:     s.Command.Steer,
		HandBrake: s.Command.HandBrake,
		Gear:      s.Command.Gear,
		Lights:    uint32(s.Lights),
		Autopilot: s.Autopilot,
	}
}
