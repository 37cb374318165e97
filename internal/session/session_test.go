package session

import (
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai4ce/vpr-collector/pkg/core"
)

func TestFormatFloat(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{1, "1.0"},
		{90, "90.0"},
		{-3, "-3.0"},
		{0, "0.0"},
		{1.2345678901234, "1.2345678901234"},
		{-0.1, "-0.1"},
		{1e21, "1000000000000000000000.0"},
		{math.NaN(), "nan"},
		{math.Inf(-1), "-inf"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatFloat(tt.in))
	}
}

func TestFrameName(t *testing.T) {
	assert.Equal(t, "f00000042", FrameName(42))
	assert.Equal(t, "f123456789", FrameName(123456789))
}

func TestRow_Record(t *testing.T) {
	known := Row{Frame: "f00000001", Pose: core.Pose{X: 1, Y: 2.5, Yaw: -90}, Known: true}
	assert.Equal(t, []string{"f00000001", "1.0", "2.5", "-90.0"}, known.Record())

	unknown := Row{Frame: "f00000002", Pose: core.Pose{X: 1}}
	assert.Equal(t, []string{"f00000002", "unknown", "unknown", "unknown"}, unknown.Record())
}

func TestNew_TouchesNothing(t *testing.T) {
	root := filepath.Join(t.TempDir(), "run")
	s := New(root, []string{"cam1"})
	require.NoError(t, s.Close())

	_, err := os.Stat(root)
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, root, s.Root())
	assert.NotEmpty(t, s.Info().ID)
}

func TestAppendRow_CreatesTableWithHeader(t *testing.T) {
	root := filepath.Join(t.TempDir(), "run")
	s := New(root, nil)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.AppendRow(Row{Frame: "f00000042", Pose: core.Pose{X: 1, Y: 2, Yaw: 90}, Known: true}))
	require.NoError(t, s.AppendRow(Row{Frame: "f00000043"}))

	data, err := os.ReadFile(filepath.Join(root, TableName))
	require.NoError(t, err)
	assert.Equal(t, "Frame,x,y,yaw\nf00000042,1.0,2.0,90.0\nf00000043,unknown,unknown,unknown\n", string(data))
}

func TestAppendRow_NeverTruncates(t *testing.T) {
	root := t.TempDir()
	existing := "Frame,x,y,yaw\nf00000001,0.0,0.0,0.0\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, TableName), []byte(existing), 0o644))

	s := New(root, nil)
	require.NoError(t, s.AppendRow(Row{Frame: "f00000002", Pose: core.Pose{X: 1}, Known: true}))
	require.NoError(t, s.Close())

	// reopen after close appends again without a header
	require.NoError(t, s.AppendRow(Row{Frame: "f00000003", Known: true}))
	require.NoError(t, s.Close())

	data, err := os.ReadFile(filepath.Join(root, TableName))
	require.NoError(t, err)
	assert.Equal(t, existing+"f00000002,1.0,0.0,0.0\nf00000003,0.0,0.0,0.0\n", string(data))
}

func TestAppendRow_ConcurrentRowsStayWhole(t *testing.T) {
	root := t.TempDir()
	s := New(root, nil)

	var wg sync.WaitGroup
	for w := 0; w < 3; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				v := float64(w*1000 + i)
				err := s.AppendRow(Row{Frame: FrameName(uint64(i)), Pose: core.Pose{X: v, Y: v, Yaw: v}, Known: true})
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()
	require.NoError(t, s.Close())

	data, err := os.ReadFile(filepath.Join(root, TableName))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 601)
	assert.Equal(t, "Frame,x,y,yaw", lines[0])
	for _, line := range lines[1:] {
		fields := strings.Split(line, ",")
		require.Len(t, fields, 4, line)
		assert.Equal(t, fields[1], fields[2], line)
		assert.Equal(t, fields[2], fields[3], line)
	}
}

func TestWriteImage(t *testing.T) {
	root := t.TempDir()
	s := New(root, []string{"cam1"}, JPEGQuality(80))

	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.Set(0, 0, color.RGBA{R: 255, A: 255})

	path, err := s.WriteImage("cam1", FrameName(42), img)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "cam1", "f00000042.jpg"), path)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	cfg, err := jpeg.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Width)
	assert.Equal(t, 2, cfg.Height)
}

func TestDescribe(t *testing.T) {
	s := New("out", []string{"cam1", "cam2"}, Describe(true, "hero"))
	info := s.Info()
	assert.True(t, info.Synchronous)
	assert.Equal(t, "hero", info.Role)
	assert.Equal(t, []string{"cam1", "cam2"}, info.Sensors)
}
