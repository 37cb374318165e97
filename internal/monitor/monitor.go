// Package monitor periodically rewrites a status.txt file in the recording
// root with frame counters and queue depths.
package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ai4ce/vpr-collector/internal/recorder"
	"github.com/ai4ce/vpr-collector/internal/storage"
)

// StatusFileName is written into Dependencies.Dir.
const StatusFileName = "status.txt"

// StatsSource reports frame counters.
type StatsSource interface {
	Stats() recorder.Stats
}

// QueueSource reports per-topic queue depths.
type QueueSource interface {
	QueueSizes() map[string]int
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Dir       string
	SessionID string
	Interval  time.Duration
	Logger    *slog.Logger

	Recorder  StatsSource
	Queues    QueueSource
	Pending   storage.Pending // optional
	Recording func() bool
	Autopilot func() bool
	Ticks     func() uint64
}

// Status is one snapshot of the collector.
type Status struct {
	Time      time.Time      `json:"time"`
	Session   string         `json:"session"`
	Recording bool           `json:"recording"`
	Autopilot bool           `json:"autopilot"`
	Ticks     uint64         `json:"ticks"`
	Frames    recorder.Stats `json:"frames"`
	Queues    map[string]int `json:"queues"`
	Pending   map[string]int `json:"pending,omitempty"`
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = time.Second
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{deps: deps}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetProgramStatus returns the current status and its rendered lines.
func (s *Service) GetProgramStatus() (output []string, status Status) {
	status = Status{
		Time:    time.Now().UTC(),
		Session: s.deps.SessionID,
		Queues:  map[string]int{},
	}
	if s.deps.Recorder != nil {
		status.Frames = s.deps.Recorder.Stats()
	}
	if s.deps.Queues != nil {
		status.Queues = s.deps.Queues.QueueSizes()
	}
	if s.deps.Pending != nil {
		status.Pending = s.deps.Pending.Pending()
	}
	if s.deps.Recording != nil {
		status.Recording = s.deps.Recording()
	}
	if s.deps.Autopilot != nil {
		status.Autopilot = s.deps.Autopilot()
	}
	if s.deps.Ticks != nil {
		status.Ticks = s.deps.Ticks()
	}

	output = append(output,
		fmt.Sprintf("session   %s", status.Session),
		fmt.Sprintf("time      %s", status.Time.Format(time.RFC3339)),
		fmt.Sprintf("recording %t", status.Recording),
		fmt.Sprintf("autopilot %t", status.Autopilot),
		fmt.Sprintf("ticks     %d", status.Ticks),
	)
	for _, section := range []any{status.Frames, status.Queues, status.Pending} {
		raw, err := json.MarshalIndent(section, "", "  ")
		if err != nil {
			raw = []byte(fmt.Sprintf(`{"error": "%s"}`, err))
		}
		output = append(output, string(raw))
	}
	return output, status
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return nil
	}

	path := filepath.Join(s.deps.Dir, StatusFileName)
	statusFile, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating status file: %w", err)
	}

	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(statusFile, s.stopChan, s.done)
	return nil
}

func (s *Service) loop(statusFile *os.File, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer statusFile.Close()

	logger := s.deps.Logger
	logger.Debug("Starting status monitor", "interval", s.deps.Interval)

	t := time.NewTicker(s.deps.Interval)
	defer t.Stop()

	write := func() {
		lines, _ := s.GetProgramStatus()
		if err := rewrite(statusFile, lines); err != nil {
			logger.Error("Error writing status file", "error", err)
		}
	}

	for {
		select {
		case <-stop:
			write()
			return
		case <-t.C:
			write()
		}
	}
}

func rewrite(f *os.File, lines []string) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	for _, line := range lines {
		if _, err := f.WriteString(line + "\n"); err != nil {
			return err
		}
	}
	return nil
}

// Stop stops the status monitor after a final write.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()
	<-done
}
