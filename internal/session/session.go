// Package session manages the on-disk recording destination: one JPEG
// directory per sensor and the shared data.csv table.
package session

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/ai4ce/vpr-collector/pkg/core"
)

const (
	TableName = "data.csv"
	// Unknown is written into every pose column when no pose is available.
	Unknown            = "unknown"
	DefaultJPEGQuality = 95
)

// Header is the table's column order.
var Header = []string{"Frame", "x", "y", "yaw"}

// Row is one table entry.
type Row struct {
	Frame string
	Pose  core.Pose
	Known bool
}

// Record renders the row as table fields.
func (r Row) Record() []string {
	if !r.Known {
		return []string{r.Frame, Unknown, Unknown, Unknown}
	}
	return []string{r.Frame, FormatFloat(r.Pose.X), FormatFloat(r.Pose.Y), FormatFloat(r.Pose.Yaw)}
}

// FormatFloat renders v with full precision as the shortest text that reads
// back to the same value, keeping a ".0" suffix on integral values.
func FormatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsRune(s, '.') {
		s += ".0"
	}
	return s
}

// FrameName is the table key and image file stem for a frame number.
func FrameName(frame uint64) string {
	return fmt.Sprintf("f%08d", frame)
}

// Option configures a Session.
type Option func(*Session)

// JPEGQuality overrides DefaultJPEGQuality.
func JPEGQuality(q int) Option {
	return func(s *Session) {
		if q >= 1 && q <= 100 {
			s.quality = q
		}
	}
}

// Describe records how the session's frames were produced.
func Describe(synchronous bool, role string) Option {
	return func(s *Session) {
		s.info.Synchronous = synchronous
		s.info.Role = role
	}
}

// Session is safe for concurrent use by every sensor's delivery goroutine.
// Nothing is created on disk until the first image or row is written.
type Session struct {
	info    core.SessionInfo
	quality int

	dirs sync.Map // sensor -> struct{}

	mu    sync.Mutex
	table *os.File
}

// New describes a session rooted at root. It touches nothing on disk.
func New(root string, sensors []string, opts ...Option) *Session {
	s := &Session{
		info:    core.NewSessionInfo(root, sensors, false, ""),
		quality: DefaultJPEGQuality,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the session directory.
func (s *Session) Root() string {
	return s.info.Root
}

// Info returns the session description.
func (s *Session) Info() core.SessionInfo {
	return s.info
}

// TablePath returns the path of data.csv.
func (s *Session) TablePath() string {
	return filepath.Join(s.info.Root, TableName)
}

// ImagePath returns where the named frame of sensor is stored.
func (s *Session) ImagePath(sensor, name string) string {
	return filepath.Join(s.info.Root, sensor, name+".jpg")
}

// WriteImage encodes img as JPEG under the sensor's directory, creating the
// directory on first use, and returns the file path.
func (s *Session) WriteImage(sensor, name string, img image.Image) (string, error) {
	if _, ok := s.dirs.Load(sensor); !ok {
		if err := os.MkdirAll(filepath.Join(s.info.Root, sensor), 0o755); err != nil {
			return "", fmt.Errorf("create sensor directory: %w", err)
		}
		s.dirs.Store(sensor, struct{}{})
	}

	path := s.ImagePath(sensor, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create image: %w", err)
	}

	w := bufio.NewWriter(f)
	if err := jpeg.Encode(w, img, &jpeg.Options{Quality: s.quality}); err != nil {
		f.Close()
		return "", fmt.Errorf("encode %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	return path, nil
}

// AppendRow appends one row to data.csv with a single write. The table is
// opened for append on first use and gets a header only if it is empty.
func (s *Session) AppendRow(r Row) error {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write(r.Record()); err != nil {
		return fmt.Errorf("format row: %w", err)
	}
	cw.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.table == nil {
		header, err := s.openTable()
		if err != nil {
			return err
		}
		if header {
			hb := bytes.Buffer{}
			hw := csv.NewWriter(&hb)
			_ = hw.Write(Header)
			hw.Flush()
			if _, err := s.table.Write(append(hb.Bytes(), buf.Bytes()...)); err != nil {
				return fmt.Errorf("write table header: %w", err)
			}
			return nil
		}
	}

	if _, err := s.table.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("append row: %w", err)
	}
	return nil
}

// openTable reports whether the table was empty and needs a header.
func (s *Session) openTable() (bool, error) {
	if err := os.MkdirAll(s.info.Root, 0o755); err != nil {
		return false, fmt.Errorf("create session root: %w", err)
	}
	f, err := os.OpenFile(s.TablePath(), os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return false, fmt.Errorf("open table: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return false, fmt.Errorf("stat table: %w", err)
	}
	s.table = f
	return st.Size() == 0, nil
}

// Close closes the table file if it was opened. The session can be reused;
// a later append reopens the table.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.table == nil {
		return nil
	}
	err := s.table.Close()
	s.table = nil
	return err
}
