package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai4ce/vpr-collector/internal/config"
	"github.com/ai4ce/vpr-collector/internal/storage/memory"
	pgstorage "github.com/ai4ce/vpr-collector/internal/storage/postgres"
	sqlitestorage "github.com/ai4ce/vpr-collector/internal/storage/sqlite"
	wsstorage "github.com/ai4ce/vpr-collector/internal/storage/websocket"
)

func TestCreateStorageBackend(t *testing.T) {
	root := t.TempDir()

	b, err := createStorageBackend(config.StorageConfig{Type: "none"}, root, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, b)

	b, err = createStorageBackend(config.StorageConfig{}, root, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, b)

	b, err = createStorageBackend(config.StorageConfig{Type: "memory"}, root, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &memory.Backend{}, b)

	b, err = createStorageBackend(config.StorageConfig{Type: "SQLite"}, root, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &sqlitestorage.Backend{}, b)
	require.NoError(t, b.Close())

	b, err = createStorageBackend(config.StorageConfig{Type: "postgres"}, root, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &pgstorage.Backend{}, b)

	b, err = createStorageBackend(config.StorageConfig{Type: "websocket"}, root, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &wsstorage.Backend{}, b)

	_, err = createStorageBackend(config.StorageConfig{Type: "mongo"}, root, nil, nil)
	assert.Error(t, err)
}

func TestHTTPToWS(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"http://localhost:5000/api/", "ws://localhost:5000/api"},
		{"https://example.org", "wss://example.org"},
		{"ws://already", "ws://already"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, httpToWS(tt.in))
	}
}
