// Package recorder correlates camera frames with the current vehicle pose and
// persists them while recording is enabled.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ai4ce/vpr-collector/internal/dispatcher"
	"github.com/ai4ce/vpr-collector/internal/pose"
	"github.com/ai4ce/vpr-collector/internal/session"
	"github.com/ai4ce/vpr-collector/pkg/core"
)

const instrumentationName = "github.com/ai4ce/vpr-collector/internal/recorder"

// FrameSink mirrors persisted frames, e.g. into a storage backend.
type FrameSink interface {
	RecordFrame(r *core.FrameRecord) error
}

// Dependencies holds the shared state every sensor handler reads.
type Dependencies struct {
	Pose    *pose.Cache
	Flag    *Flag
	Session *session.Session
	Sink    FrameSink // optional
	Logger  *slog.Logger
}

// Stats is a point-in-time view of the frame counters.
type Stats struct {
	Recorded  uint64
	Discarded uint64
	Failed    uint64
	Unknown   uint64
}

// Recorder creates one Handler per sensor and aggregates their counters.
type Recorder struct {
	deps Dependencies

	recorded  atomic.Uint64
	discarded atomic.Uint64
	failed    atomic.Uint64
	unknown   atomic.Uint64

	recordedCounter  metric.Int64Counter
	discardedCounter metric.Int64Counter
	failedCounter    metric.Int64Counter
}

// New creates a recorder. Counters are exported through the global OTel
// meter (no-op if not configured).
func New(deps Dependencies) (*Recorder, error) {
	if deps.Pose == nil || deps.Flag == nil || deps.Session == nil {
		return nil, fmt.Errorf("recorder needs pose, flag and session")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := &Recorder{deps: deps}
	m := otel.Meter(instrumentationName)

	var err error
	r.recordedCounter, err = m.Int64Counter("recorder.frames.recorded",
		metric.WithDescription("Frames written to disk"))
	if err != nil {
		return nil, fmt.Errorf("creating recorded counter: %w", err)
	}
	r.discardedCounter, err = m.Int64Counter("recorder.frames.discarded",
		metric.WithDescription("Frames dropped while recording was off"))
	if err != nil {
		return nil, fmt.Errorf("creating discarded counter: %w", err)
	}
	r.failedCounter, err = m.Int64Counter("recorder.frames.failed",
		metric.WithDescription("Frames that could not be persisted"))
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}
	return r, nil
}

// Flag returns the recording switch.
func (r *Recorder) Flag() *Flag {
	return r.deps.Flag
}

// Stats returns the counters summed over every sensor.
func (r *Recorder) Stats() Stats {
	return Stats{
		Recorded:  r.recorded.Load(),
		Discarded: r.discarded.Load(),
		Failed:    r.failed.Load(),
		Unknown:   r.unknown.Load(),
	}
}

// Handler returns the delivery handler for one sensor.
func (r *Recorder) Handler(sensor string) *Handler {
	return &Handler{
		rec:    r,
		sensor: sensor,
		attrs:  metric.WithAttributes(attribute.String("sensor", sensor)),
		logger: r.deps.Logger.With("sensor", sensor),
	}
}

// Handler persists the frames of a single sensor. Its methods run on that
// sensor's delivery goroutine.
type Handler struct {
	rec    *Recorder
	sensor string
	attrs  metric.MeasurementOption
	logger *slog.Logger
}

// Sensor returns the sensor id.
func (h *Handler) Sensor() string {
	return h.sensor
}

// HandleEvent adapts Handle to a dispatcher topic carrying core.SensorFrame
// payloads.
func (h *Handler) HandleEvent(e dispatcher.Event) error {
	switch f := e.Payload.(type) {
	case core.SensorFrame:
		return h.Handle(f)
	case *core.SensorFrame:
		return h.Handle(*f)
	default:
		return fmt.Errorf("%s: unexpected payload %T", h.sensor, e.Payload)
	}
}

// Handle records f if recording is enabled at delivery time. With recording
// off the frame is dropped without touching the filesystem.
func (h *Handler) Handle(f core.SensorFrame) error {
	ctx := context.Background()
	deps := h.rec.deps

	if !deps.Flag.Enabled() {
		h.rec.discarded.Add(1)
		h.rec.discardedCounter.Add(ctx, 1, h.attrs)
		return nil
	}

	p, known := deps.Pose.Read()
	if err := h.persist(f, p, known); err != nil {
		h.rec.failed.Add(1)
		h.rec.failedCounter.Add(ctx, 1, h.attrs)
		return err
	}

	h.rec.recorded.Add(1)
	h.rec.recordedCounter.Add(ctx, 1, h.attrs)
	if !known {
		h.rec.unknown.Add(1)
	}
	return nil
}

func (h *Handler) persist(f core.SensorFrame, p core.Pose, known bool) error {
	deps := h.rec.deps

	img, err := DecodeBGRA(f.Raw, f.Width, f.Height)
	if err != nil {
		return fmt.Errorf("%s frame %d: %w", h.sensor, f.Frame, err)
	}

	name := session.FrameName(f.Frame)
	path, err := deps.Session.WriteImage(h.sensor, name, img)
	if err != nil {
		return fmt.Errorf("%s frame %d: %w", h.sensor, f.Frame, err)
	}

	if err := deps.Session.AppendRow(session.Row{Frame: name, Pose: p, Known: known}); err != nil {
		return fmt.Errorf("%s frame %d: %w", h.sensor, f.Frame, err)
	}

	if deps.Sink != nil {
		rec := &core.FrameRecord{
			SessionID: deps.Session.Info().ID,
			SensorID:  h.sensor,
			Frame:     f.Frame,
			FrameName: name,
			ImagePath: path,
			Pose:      p,
			PoseKnown: known,
			Time:      time.Now(),
		}
		if err := deps.Sink.RecordFrame(rec); err != nil {
			h.logger.Warn("Failed to mirror frame record", "frame", f.Frame, "error", err)
		}
	}
	return nil
}
