// Package storage defines the optional backends that mirror the frame index
// and vehicle telemetry. The CSV table and JPEGs under the recording root are
// always written; a backend only adds a queryable or streamed copy.
package storage

import "github.com/ai4ce/vpr-collector/pkg/core"

// Backend is the interface all storage implementations must satisfy.
type Backend interface {
	Init() error
	Close() error

	StartSession(s *core.SessionInfo) error
	EndSession() error

	RecordFrame(r *core.FrameRecord) error
	RecordVehicleState(s *core.VehicleState) error
}

// Exportable is implemented by backends that write a file at EndSession.
type Exportable interface {
	ExportedFilePath() string
}

// Pending is implemented by backends that buffer writes.
type Pending interface {
	Pending() map[string]int
}

// UploadMetadata describes an exported session file sent to the dataset server.
type UploadMetadata struct {
	SessionID string
	Town      string
	Role      string
	Duration  float64 // seconds
	Frames    uint64
}
