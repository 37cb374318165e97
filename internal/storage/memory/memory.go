// Package memory keeps the session in memory and exports it as JSON when the
// session ends.
package memory

import (
	"errors"
	"sync"

	"github.com/ai4ce/vpr-collector/internal/config"
	"github.com/ai4ce/vpr-collector/internal/geo"
	"github.com/ai4ce/vpr-collector/pkg/core"
)

// ErrNoSession is returned by EndSession before StartSession.
var ErrNoSession = errors.New("no session started")

// SensorRecord groups the frames of one camera.
type SensorRecord struct {
	SensorID string
	Frames   []core.FrameRecord
}

// Backend stores session data in memory and exports to JSON
type Backend struct {
	cfg       config.MemoryConfig
	projector *geo.Projector

	session *core.SessionInfo
	sensors map[string]*SensorRecord
	order   []string
	states  []core.VehicleState

	lastExportPath string
	mu             sync.RWMutex
}

// New creates a memory backend. projector may be nil, in which case the
// export carries no geographic track.
func New(cfg config.MemoryConfig, projector *geo.Projector) *Backend {
	return &Backend{
		cfg:       cfg,
		projector: projector,
		sensors:   make(map[string]*SensorRecord),
	}
}

func (b *Backend) Init() error  { return nil }
func (b *Backend) Close() error { return nil }

// StartSession resets all collected data.
func (b *Backend) StartSession(s *core.SessionInfo) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	info := *s
	b.session = &info
	b.sensors = make(map[string]*SensorRecord)
	b.order = nil
	for _, id := range s.Sensors {
		b.sensorLocked(id)
	}
	b.states = nil
	b.lastExportPath = ""
	return nil
}

// EndSession writes the export file.
func (b *Backend) EndSession() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return ErrNoSession
	}
	return b.exportJSON()
}

func (b *Backend) RecordFrame(r *core.FrameRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec := b.sensorLocked(r.SensorID)
	rec.Frames = append(rec.Frames, *r)
	return nil
}

func (b *Backend) RecordVehicleState(s *core.VehicleState) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.states = append(b.states, *s)
	return nil
}

func (b *Backend) sensorLocked(id string) *SensorRecord {
	rec, ok := b.sensors[id]
	if !ok {
		rec = &SensorRecord{SensorID: id}
		b.sensors[id] = rec
		b.order = append(b.order, id)
	}
	return rec
}

// Frames returns a copy of the frames recorded for sensor.
func (b *Backend) Frames(sensor string) []core.FrameRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.sensors[sensor]
	if !ok {
		return nil
	}
	return append([]core.FrameRecord(nil), rec.Frames...)
}

// VehicleStates returns a copy of the recorded telemetry.
func (b *Backend) VehicleStates() []core.VehicleState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]core.VehicleState(nil), b.states...)
}

// ExportedFilePath returns the path of the last export, empty before EndSession.
func (b *Backend) ExportedFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}
