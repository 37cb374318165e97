// Package sqlitestorage keeps the frame index in an in-memory SQLite
// database and snapshots it to disk with VACUUM INTO. Writes go through the
// embedded gorm backend; this package only adds the snapshot loop.
package sqlitestorage

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ai4ce/vpr-collector/internal/database"
	"github.com/ai4ce/vpr-collector/internal/geo"
	gormstorage "github.com/ai4ce/vpr-collector/internal/storage/gorm"
)

// DumpFileName is the snapshot written into the recording root.
const DumpFileName = "index.db"

// Config holds configuration for the SQLite storage backend.
type Config struct {
	DumpInterval time.Duration
	DumpPath     string
}

// Backend wraps the GORM backend for SQLite-specific behavior.
type Backend struct {
	*gormstorage.Backend
	cfg    Config
	log    *slog.Logger
	stop   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

func New(cfg Config, projector *geo.Projector, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := database.OpenSQLite("")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite DB: %w", err)
	}
	return &Backend{
		Backend: gormstorage.New(gormstorage.Dependencies{
			DB:        db,
			Projector: projector,
			Logger:    logger,
		}),
		cfg:  cfg,
		log:  logger,
		stop: make(chan struct{}),
	}, nil
}

// Init initializes the embedded GORM backend and starts the dump loop.
func (b *Backend) Init() error {
	if err := b.Backend.Init(); err != nil {
		return err
	}
	if b.cfg.DumpPath != "" && b.cfg.DumpInterval > 0 {
		b.wg.Add(1)
		go b.dumpLoop()
	}
	return nil
}

// EndSession flushes queued rows and snapshots the database.
func (b *Backend) EndSession() error {
	if err := b.Backend.EndSession(); err != nil {
		return err
	}
	return b.Dump()
}

// Close stops the dump loop, flushes and writes a final snapshot.
func (b *Backend) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.stop)
	b.wg.Wait()
	return errors.Join(b.Backend.Close(), b.Dump())
}

// Dump writes a point-in-time snapshot to DumpPath.
func (b *Backend) Dump() error {
	if b.cfg.DumpPath == "" {
		return nil
	}
	return database.DumpMemoryDBToDisk(b.DB(), b.cfg.DumpPath)
}

// ExportedFilePath returns the snapshot path.
func (b *Backend) ExportedFilePath() string {
	return b.cfg.DumpPath
}

func (b *Backend) dumpLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			start := time.Now()
			if err := b.Backend.Flush(); err != nil {
				b.log.Error("Error flushing before dump", "error", err)
			}
			if err := b.Dump(); err != nil {
				b.log.Error("Error dumping to disk", "error", err)
			} else {
				b.log.Debug("Dumped to disk", "path", b.cfg.DumpPath, "duration", time.Since(start))
			}
		}
	}
}
