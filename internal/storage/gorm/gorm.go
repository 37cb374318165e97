// Package gormstorage implements storage.Backend on top of gorm. Records are
// queued by the caller's goroutine and written in batches by a background
// writer, so a slow database never stalls frame delivery.
package gormstorage

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/gorm"

	"github.com/ai4ce/vpr-collector/internal/database"
	"github.com/ai4ce/vpr-collector/internal/geo"
	"github.com/ai4ce/vpr-collector/internal/model"
	"github.com/ai4ce/vpr-collector/internal/queue"
	"github.com/ai4ce/vpr-collector/pkg/core"
)

// DefaultFlushInterval is the writer period.
const DefaultFlushInterval = 2 * time.Second

// Dependencies holds all dependencies for the GORM storage backend.
// A nil DB leaves the backend in queue-only mode.
type Dependencies struct {
	DB            *gorm.DB
	Projector     *geo.Projector
	Logger        *slog.Logger
	FlushInterval time.Duration
}

type queues struct {
	Frames        *queue.Queue[model.FrameRecord]
	VehicleStates *queue.Queue[model.VehicleState]
}

// Backend implements storage.Backend with queue-based batch writes.
type Backend struct {
	deps      Dependencies
	queues    *queues
	sessionID atomic.Uint64

	writeMu sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	closed  atomic.Bool
}

func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = DefaultFlushInterval
	}
	return &Backend{
		deps: deps,
		queues: &queues{
			Frames:        queue.New[model.FrameRecord](),
			VehicleStates: queue.New[model.VehicleState](),
		},
	}
}

// DB returns the connection, nil in queue-only mode.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// Init migrates the schema and starts the writer.
func (b *Backend) Init() error {
	b.stop = make(chan struct{})
	b.done = make(chan struct{})
	if b.deps.DB == nil {
		close(b.done)
		return nil
	}
	if err := database.Migrate(b.deps.DB); err != nil {
		return err
	}
	go b.writer()
	return nil
}

// Close stops the writer and writes whatever is still queued.
func (b *Backend) Close() error {
	if b.stop == nil || !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(b.stop)
	<-b.done
	return b.Flush()
}

// StartSession inserts the session row; later records are stamped with its ID.
func (b *Backend) StartSession(s *core.SessionInfo) error {
	if b.deps.DB == nil {
		return nil
	}
	row, err := model.SessionFromCore(*s)
	if err != nil {
		return fmt.Errorf("convert session: %w", err)
	}
	if err := b.deps.DB.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	b.sessionID.Store(uint64(row.ID))
	b.deps.Logger.Debug("Session row created", "id", row.ID, "run", s.ID)
	return nil
}

// EndSession writes everything queued so far.
func (b *Backend) EndSession() error {
	return b.Flush()
}

// SessionID returns the database ID of the current session, 0 before StartSession.
func (b *Backend) SessionID() uint {
	return uint(b.sessionID.Load())
}

func (b *Backend) RecordFrame(r *core.FrameRecord) error {
	b.queues.Frames.Push(model.FrameRecordFromCore(*r, b.point(r.Pose, r.PoseKnown)))
	return nil
}

func (b *Backend) RecordVehicleState(s *core.VehicleState) error {
	b.queues.VehicleStates.Push(model.VehicleStateFromCore(*s, b.point(s.Pose, true)))
	return nil
}

func (b *Backend) point(p core.Pose, known bool) geom.Point {
	if !known || b.deps.Projector == nil {
		return geom.NewEmptyPoint(geom.DimXY)
	}
	return b.deps.Projector.PointFromPose(p)
}

// Pending reports queued rows per table.
func (b *Backend) Pending() map[string]int {
	return map[string]int{
		"frame_records":  b.queues.Frames.Len(),
		"vehicle_states": b.queues.VehicleStates.Len(),
	}
}

// Flush writes every queue now. It is a no-op in queue-only mode.
func (b *Backend) Flush() error {
	if b.deps.DB == nil {
		return nil
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	id := uint(b.sessionID.Load())
	return errors.Join(
		writeQueue(b.deps.DB, b.queues.Frames, "frame records", func(items []model.FrameRecord) {
			for i := range items {
				items[i].SessionID = id
			}
		}),
		writeQueue(b.deps.DB, b.queues.VehicleStates, "vehicle states", func(items []model.VehicleState) {
			for i := range items {
				items[i].SessionID = id
			}
		}),
	)
}

// writeQueue drains q into one transaction. On failure the items go back on
// the queue for the next cycle.
func writeQueue[T any](db *gorm.DB, q *queue.Queue[T], name string, stamp func([]T)) error {
	items := q.GetAndEmpty()
	if len(items) == 0 {
		return nil
	}
	stamp(items)
	err := db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&items).Error
	})
	if err != nil {
		q.Push(items...)
		return fmt.Errorf("error creating %s: %w", name, err)
	}
	return nil
}

func (b *Backend) writer() {
	defer close(b.done)
	ticker := time.NewTicker(b.deps.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			if err := b.Flush(); err != nil {
				b.deps.Logger.Error("DB writer failed", "error", err)
			}
		}
	}
}
