package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/ai4ce/vpr-collector/internal/config"
	"github.com/ai4ce/vpr-collector/internal/geo"
	"github.com/ai4ce/vpr-collector/internal/storage"
	"github.com/ai4ce/vpr-collector/internal/storage/memory"
	pgstorage "github.com/ai4ce/vpr-collector/internal/storage/postgres"
	sqlitestorage "github.com/ai4ce/vpr-collector/internal/storage/sqlite"
	wsstorage "github.com/ai4ce/vpr-collector/internal/storage/websocket"
)

// createStorageBackend returns nil for the "none" type: the CSV table and
// the JPEGs are the only output then.
func createStorageBackend(cfg config.StorageConfig, root string, projector *geo.Projector, logger *slog.Logger) (storage.Backend, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "none":
		return nil, nil

	case "memory":
		return memory.New(cfg.Memory, projector), nil

	case "sqlite":
		backend, err := sqlitestorage.New(sqlitestorage.Config{
			DumpInterval: cfg.SQLite.DumpInterval,
			DumpPath:     filepath.Join(root, sqlitestorage.DumpFileName),
		}, projector, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite backend: %w", err)
		}
		return backend, nil

	case "postgres":
		return pgstorage.New(pgstorage.Dependencies{
			Config:    cfg.Postgres,
			Projector: projector,
			Logger:    logger,
		}), nil

	case "websocket":
		return wsstorage.New(wsstorage.Config{
			URL:    httpToWS(cfg.WebSocket.URL),
			Secret: cfg.WebSocket.Secret,
		}, projector, logger), nil

	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// httpToWS converts an HTTP(S) URL to a WebSocket URL.
func httpToWS(httpURL string) string {
	s := strings.TrimRight(httpURL, "/")
	s = strings.Replace(s, "https://", "wss://", 1)
	s = strings.Replace(s, "http://", "ws://", 1)
	return s
}
