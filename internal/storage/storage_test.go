package storage_test

import (
	"github.com/ai4ce/vpr-collector/internal/storage"
	gormstorage "github.com/ai4ce/vpr-collector/internal/storage/gorm"
	"github.com/ai4ce/vpr-collector/internal/storage/memory"
	"github.com/ai4ce/vpr-collector/internal/storage/postgres"
	sqlitestorage "github.com/ai4ce/vpr-collector/internal/storage/sqlite"
	"github.com/ai4ce/vpr-collector/internal/storage/websocket"
)

// Compile-time interface checks
var (
	_ storage.Backend    = (*memory.Backend)(nil)
	_ storage.Exportable = (*memory.Backend)(nil)
	_ storage.Backend    = (*gormstorage.Backend)(nil)
	_ storage.Pending    = (*gormstorage.Backend)(nil)
	_ storage.Backend    = (*sqlitestorage.Backend)(nil)
	_ storage.Exportable = (*sqlitestorage.Backend)(nil)
	_ storage.Backend    = (*postgres.Backend)(nil)
	_ storage.Backend    = (*websocket.Backend)(nil)
	_ storage.Pending    = (*websocket.Backend)(nil)
)
