// pkg/core/session.go
package core

import (
	"time"

	"github.com/google/uuid"
)

// SessionInfo describes one run of the collector writing into a recording root.
// The root is reused across runs; ID is unique per run.
type SessionInfo struct {
	ID          string    `json:"id"`
	Root        string    `json:"root"`
	Sensors     []string  `json:"sensors"`
	StartTime   time.Time `json:"startTime"`
	Synchronous bool      `json:"synchronous"`
	Role        string    `json:"role"`
}

// NewSessionInfo stamps a fresh run ID and start time.
func NewSessionInfo(root string, sensors []string, synchronous bool, role string) SessionInfo {
	return SessionInfo{
		ID:          uuid.NewString(),
		Root:        root,
		Sensors:     append([]string(nil), sensors...),
		StartTime:   time.Now().UTC(),
		Synchronous: synchronous,
		Role:        role,
	}
}
