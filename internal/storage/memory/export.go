package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/ai4ce/vpr-collector/pkg/core"
)

// SessionExport is the root JSON structure. VehicleStates rows are
// [tick, x, y, yaw, speed, throttle, brake, steer, gear, lights, autopilot];
// Track is the driven path as GeoJSON in WGS84.
type SessionExport struct {
	ID            string           `json:"id"`
	Root          string           `json:"root"`
	Role          string           `json:"role"`
	Synchronous   bool             `json:"synchronous"`
	StartTime     string           `json:"startTime"`
	EndFrame      uint64           `json:"endFrame"`
	Sensors       []SensorJSON     `json:"sensors"`
	VehicleStates [][]any          `json:"vehicleStates"`
	Track         *geom.LineString `json:"track,omitempty"`
}

// SensorJSON lists one camera's frames as [frame, name, x, y, yaw] rows.
// Pose columns are null when the pose was unknown.
type SensorJSON struct {
	ID     string  `json:"id"`
	Frames [][]any `json:"frames"`
}

func (b *Backend) exportJSON() error {
	export := b.buildExport()

	name := fmt.Sprintf("%s_%s.json", b.session.StartTime.UTC().Format("20060102_150405"), shortID(b.session.ID))
	if b.cfg.CompressOutput {
		name += ".gz"
	}
	outputPath := filepath.Join(b.cfg.OutputDir, name)

	if err := os.MkdirAll(b.cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var err error
	if b.cfg.CompressOutput {
		err = writeGzipJSON(outputPath, export)
	} else {
		err = writeJSON(outputPath, export)
	}
	if err != nil {
		return err
	}
	b.lastExportPath = outputPath
	return nil
}

func (b *Backend) buildExport() SessionExport {
	s := b.session
	export := SessionExport{
		ID:            s.ID,
		Root:          s.Root,
		Role:          s.Role,
		Synchronous:   s.Synchronous,
		StartTime:     s.StartTime.UTC().Format(time.RFC3339),
		Sensors:       make([]SensorJSON, 0, len(b.order)),
		VehicleStates: make([][]any, 0, len(b.states)),
	}

	for _, id := range b.order {
		rec := b.sensors[id]
		sj := SensorJSON{ID: id, Frames: make([][]any, 0, len(rec.Frames))}
		for _, f := range rec.Frames {
			row := []any{f.Frame, f.FrameName, nil, nil, nil}
			if f.PoseKnown {
				row[2], row[3], row[4] = f.Pose.X, f.Pose.Y, f.Pose.Yaw
			}
			sj.Frames = append(sj.Frames, row)
			export.EndFrame = max(export.EndFrame, f.Frame)
		}
		export.Sensors = append(export.Sensors, sj)
	}

	for _, st := range b.states {
		export.VehicleStates = append(export.VehicleStates, []any{
			st.Tick, st.Pose.X, st.Pose.Y, st.Pose.Yaw, st.Speed,
			st.Command.Throttle, st.Command.Brake, st.Command.Steer, st.Command.Gear,
			uint32(st.Lights), boolToInt(st.Autopilot),
		})
		export.EndFrame = max(export.EndFrame, st.Tick)
	}

	if b.projector != nil && len(b.states) > 1 {
		poses := make([]core.Pose, 0, len(b.states))
		for _, st := range b.states {
			poses = append(poses, st.Pose)
		}
		track := b.projector.Track(poses)
		if !track.IsEmpty() {
			export.Track = &track
		}
	}
	return export
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func writeJSON(path string, data SessionExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(data)
}

func writeGzipJSON(path string, data SessionExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	if err := json.NewEncoder(gz).Encode(data); err != nil {
		return err
	}
	return gz.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
