// Package postgres mirrors the frame index into PostgreSQL through the gorm
// backend's queued writer.
package postgres

import (
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/ai4ce/vpr-collector/internal/config"
	"github.com/ai4ce/vpr-collector/internal/database"
	"github.com/ai4ce/vpr-collector/internal/geo"
	gormstorage "github.com/ai4ce/vpr-collector/internal/storage/gorm"
	"github.com/ai4ce/vpr-collector/pkg/core"
)

// Dependencies holds all dependencies for the postgres backend. When DB is
// nil, Init connects using Config.
type Dependencies struct {
	Config    config.PostgresConfig
	DB        *gorm.DB
	Projector *geo.Projector
	Logger    *slog.Logger
}

// Backend implements storage.Backend. The connection is opened by Init so a
// misconfigured server fails at startup rather than on the first write.
type Backend struct {
	deps Dependencies
	*gormstorage.Backend
}

func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Backend{deps: deps}
}

func (b *Backend) Init() error {
	db := b.deps.DB
	if db == nil {
		var err error
		db, err = database.OpenPostgres(b.deps.Config)
		if err != nil {
			return err
		}
		b.deps.Logger.Info("Connected to postgres", "host", b.deps.Config.Host, "database", b.deps.Config.Database)
	}
	b.Backend = gormstorage.New(gormstorage.Dependencies{
		DB:        db,
		Projector: b.deps.Projector,
		Logger:    b.deps.Logger,
	})
	if err := b.Backend.Init(); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}
	return nil
}

// Close is safe before Init.
func (b *Backend) Close() error {
	if b.Backend == nil {
		return nil
	}
	return b.Backend.Close()
}

// StartSession requires Init.
func (b *Backend) StartSession(s *core.SessionInfo) error {
	if b.Backend == nil {
		return errNotInitialized
	}
	return b.Backend.StartSession(s)
}

var errNotInitialized = errors.New("postgres backend not initialized")
