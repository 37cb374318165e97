package recorder

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai4ce/vpr-collector/internal/dispatcher"
	"github.com/ai4ce/vpr-collector/internal/pose"
	"github.com/ai4ce/vpr-collector/internal/session"
	"github.com/ai4ce/vpr-collector/pkg/core"
)

type memorySink struct {
	mu      sync.Mutex
	records []core.FrameRecord
	err     error
}

func (s *memorySink) RecordFrame(r *core.FrameRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, *r)
	return nil
}

func frame(n uint64, w, h int) core.SensorFrame {
	raw := make([]byte, w*h*4)
	for i := 0; i < len(raw); i += 4 {
		raw[i], raw[i+1], raw[i+2], raw[i+3] = 10, 20, 30, 255
	}
	return core.SensorFrame{SensorID: "cam1", Frame: n, Width: w, Height: h, Raw: raw}
}

func newTestRecorder(t *testing.T, root string, sink FrameSink) (*Recorder, *pose.Cache, *session.Session) {
	t.Helper()
	cache := pose.New()
	sess := session.New(root, []string{"cam1", "cam2"})
	t.Cleanup(func() { sess.Close() })
	r, err := New(Dependencies{Pose: cache, Flag: &Flag{}, Session: sess, Sink: sink})
	require.NoError(t, err)
	return r, cache, sess
}

func TestFlag_Toggle(t *testing.T) {
	var f Flag
	assert.False(t, f.Enabled())
	assert.True(t, f.Toggle())
	assert.True(t, f.Enabled())
	assert.False(t, f.Toggle())
	f.Set(true)
	assert.True(t, f.Enabled())
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Dependencies{})
	assert.Error(t, err)
}

func TestHandle_DiscardTouchesNoFilesystem(t *testing.T) {
	root := filepath.Join(t.TempDir(), "run")
	r, cache, _ := newTestRecorder(t, root, nil)
	cache.Update(core.Pose{X: 1})

	h := r.Handler("cam1")
	for i := uint64(0); i < 5; i++ {
		require.NoError(t, h.Handle(frame(i, 2, 2)))
	}

	_, err := os.Stat(root)
	assert.True(t, os.IsNotExist(err), "session root must not be created")
	assert.Equal(t, Stats{Discarded: 5}, r.Stats())
}

func TestHandle_RecordsFrameAndRow(t *testing.T) {
	root := t.TempDir()
	r, cache, _ := newTestRecorder(t, root, nil)
	r.Flag().Set(true)
	cache.Update(core.Pose{X: 1.0, Y: 2.0, Yaw: 90.0})

	require.NoError(t, r.Handler("cam1").Handle(frame(42, 4, 3)))

	_, err := os.Stat(filepath.Join(root, "cam1", "f00000042.jpg"))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, "data.csv"))
	require.NoError(t, err)
	assert.Equal(t, "Frame,x,y,yaw\nf00000042,1.0,2.0,90.0\n", string(data))
	assert.Equal(t, Stats{Recorded: 1}, r.Stats())
}

func TestHandle_UnknownPoseUsesSentinel(t *testing.T) {
	root := t.TempDir()
	r, _, _ := newTestRecorder(t, root, nil)
	r.Flag().Set(true)

	require.NoError(t, r.Handler("cam2").Handle(frame(7, 2, 2)))

	data, err := os.ReadFile(filepath.Join(root, "data.csv"))
	require.NoError(t, err)
	assert.Equal(t, "Frame,x,y,yaw\nf00000007,unknown,unknown,unknown\n", string(data))
	assert.FileExists(t, filepath.Join(root, "cam2", "f00000007.jpg"))
	assert.Equal(t, Stats{Recorded: 1, Unknown: 1}, r.Stats())
}

func TestHandle_BadBufferFails(t *testing.T) {
	root := filepath.Join(t.TempDir(), "run")
	r, _, _ := newTestRecorder(t, root, nil)
	r.Flag().Set(true)

	f := frame(1, 2, 2)
	f.Raw = f.Raw[:5]
	assert.Error(t, r.Handler("cam1").Handle(f))
	assert.Equal(t, Stats{Failed: 1}, r.Stats())

	_, err := os.Stat(filepath.Join(root, "data.csv"))
	assert.True(t, os.IsNotExist(err), "no row for a frame that failed to decode")
}

func TestHandle_MirrorsToSink(t *testing.T) {
	root := t.TempDir()
	sink := &memorySink{}
	r, cache, sess := newTestRecorder(t, root, sink)
	r.Flag().Set(true)
	cache.Update(core.Pose{X: 3, Y: 4, Yaw: 5})

	require.NoError(t, r.Handler("cam1").Handle(frame(9, 2, 2)))

	want := []core.FrameRecord{{
		SessionID: sess.Info().ID,
		SensorID:  "cam1",
		Frame:     9,
		FrameName: "f00000009",
		ImagePath: filepath.Join(root, "cam1", "f00000009.jpg"),
		Pose:      core.Pose{X: 3, Y: 4, Yaw: 5},
		PoseKnown: true,
	}}
	if diff := cmp.Diff(want, sink.records, cmpopts.IgnoreFields(core.FrameRecord{}, "Time")); diff != "" {
		t.Errorf("mirrored records mismatch (-want +got):\n%s", diff)
	}
}

func TestHandle_SinkErrorDoesNotFailFrame(t *testing.T) {
	root := t.TempDir()
	r, _, _ := newTestRecorder(t, root, &memorySink{err: errors.New("db down")})
	r.Flag().Set(true)

	assert.NoError(t, r.Handler("cam1").Handle(frame(1, 2, 2)))
	assert.Equal(t, uint64(1), r.Stats().Recorded)
}

func TestHandleEvent_ThroughDispatcher(t *testing.T) {
	root := t.TempDir()
	r, cache, _ := newTestRecorder(t, root, nil)
	r.Flag().Set(true)
	cache.Update(core.Pose{X: 1, Y: 1, Yaw: 1})

	d, err := dispatcher.New(nopLogger{})
	require.NoError(t, err)
	d.Register("cam1", r.Handler("cam1").HandleEvent, dispatcher.Buffered(8), dispatcher.Blocking())
	d.Register("cam2", r.Handler("cam2").HandleEvent, dispatcher.Buffered(8), dispatcher.Blocking())

	for i := uint64(1); i <= 4; i++ {
		require.NoError(t, d.Dispatch(dispatcher.Event{Topic: "cam1", Payload: frame(i, 2, 2)}))
		f := frame(i, 2, 2)
		require.NoError(t, d.Dispatch(dispatcher.Event{Topic: "cam2", Payload: &f}))
	}
	d.Close()

	assert.Equal(t, uint64(8), r.Stats().Recorded)
	for i := uint64(1); i <= 4; i++ {
		assert.FileExists(t, filepath.Join(root, "cam1", session.FrameName(i)+".jpg"))
		assert.FileExists(t, filepath.Join(root, "cam2", session.FrameName(i)+".jpg"))
	}
}

func TestHandleEvent_RejectsUnknownPayload(t *testing.T) {
	r, _, _ := newTestRecorder(t, t.TempDir(), nil)
	assert.Error(t, r.Handler("cam1").HandleEvent(dispatcher.Event{Payload: "nope"}))
}

func TestDecodeBGRA(t *testing.T) {
	img, err := DecodeBGRA([]byte{1, 2, 3, 0, 4, 5, 6, 0}, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint8{3, 2, 1, 255, 6, 5, 4, 255}, img.Pix)

	_, err = DecodeBGRA(nil, 0, 1)
	assert.Error(t, err)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
