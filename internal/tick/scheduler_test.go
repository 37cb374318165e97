package tick

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai4ce/vpr-collector/internal/simulator"
)

type fakeDriver struct {
	mu        sync.Mutex
	settings  simulator.Settings
	applied   []simulator.Settings
	tmSync    []bool
	ticks     uint64
	waits     uint64
	tickErr   error
	applyErrN int // fail the n-th ApplySettings call (1-based), 0 never
	calls     int
}

func (f *fakeDriver) Settings(context.Context) (simulator.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings, nil
}

func (f *fakeDriver) ApplySettings(_ context.Context, s simulator.Settings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls == f.applyErrN {
		return errors.New("rpc failed")
	}
	f.settings = s
	f.applied = append(f.applied, s)
	return nil
}

func (f *fakeDriver) SetTrafficManagerSync(_ context.Context, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tmSync = append(f.tmSync, enabled)
	return nil
}

func (f *fakeDriver) Tick(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tickErr != nil {
		return 0, f.tickErr
	}
	f.ticks++
	return f.ticks, nil
}

func (f *fakeDriver) WaitForTick(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waits++
	return 1000 + f.waits, nil
}

func TestScheduler_StartSyncEnablesAndCloseRestores(t *testing.T) {
	ctx := context.Background()
	d := &fakeDriver{settings: simulator.Settings{FixedDeltaSeconds: 0}}
	s := New(d, Config{Mode: Synchronous}, nil)

	require.NoError(t, s.Start(ctx))
	assert.Equal(t, simulator.Settings{SynchronousMode: true, FixedDeltaSeconds: 0.05}, d.settings)
	assert.Equal(t, []bool{true}, d.tmSync)

	require.NoError(t, s.Close(ctx))
	assert.Equal(t, simulator.Settings{}, d.settings)
	assert.Equal(t, []bool{true, false}, d.tmSync)

	require.NoError(t, s.Close(ctx), "second close is a no-op")
	assert.Len(t, d.applied, 2)
}

func TestScheduler_StartKeepsExistingSyncDelta(t *testing.T) {
	ctx := context.Background()
	original := simulator.Settings{SynchronousMode: true, FixedDeltaSeconds: 0.1}
	d := &fakeDriver{settings: original}
	s := New(d, Config{Mode: Synchronous}, nil)

	require.NoError(t, s.Start(ctx))
	assert.Equal(t, original, d.settings)
	require.NoError(t, s.Close(ctx))
	assert.Equal(t, original, d.settings)
}

func TestScheduler_CloseRestoresAfterFailedStart(t *testing.T) {
	ctx := context.Background()
	d := &fakeDriver{applyErrN: 1}
	s := New(d, Config{Mode: Synchronous}, nil)

	assert.Error(t, s.Start(ctx))
	require.NoError(t, s.Close(ctx))
	assert.Equal(t, []simulator.Settings{{}}, d.applied, "original settings applied on teardown")
}

func TestScheduler_AsyncTouchesNoSettings(t *testing.T) {
	ctx := context.Background()
	d := &fakeDriver{}
	s := New(d, Config{Mode: Asynchronous, Autopilot: true}, nil)

	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Close(ctx))
	assert.Empty(t, d.applied)
	assert.Empty(t, d.tmSync)
}

func TestScheduler_StepModes(t *testing.T) {
	ctx := context.Background()

	d := &fakeDriver{}
	frame, err := New(d, Config{Mode: Synchronous}, nil).Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), frame)
	assert.Equal(t, uint64(0), d.waits)

	d = &fakeDriver{}
	frame, err = New(d, Config{Mode: Asynchronous}, nil).Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1001), frame)
	assert.Equal(t, uint64(0), d.ticks)
}

func TestScheduler_RunStopsOnQuit(t *testing.T) {
	d := &fakeDriver{}
	s := New(d, Config{Mode: Synchronous, Interval: time.Millisecond}, nil)

	var frames []uint64
	err := s.Run(context.Background(), func(_ context.Context, frame uint64) (bool, error) {
		frames = append(frames, frame)
		return len(frames) == 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3}, frames, "exactly one iteration per completed tick")
}

func TestScheduler_RunPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")

	d := &fakeDriver{}
	err := New(d, Config{Mode: Synchronous, Interval: time.Millisecond}, nil).Run(context.Background(),
		func(context.Context, uint64) (bool, error) { return false, boom })
	assert.ErrorIs(t, err, boom)

	d = &fakeDriver{tickErr: boom}
	err = New(d, Config{Mode: Synchronous}, nil).Run(context.Background(),
		func(context.Context, uint64) (bool, error) { return false, nil })
	assert.ErrorIs(t, err, boom)
}

func TestScheduler_RunHonoursCancel(t *testing.T) {
	d := &fakeDriver{}
	s := New(d, Config{Mode: Asynchronous, Interval: time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	n := 0
	err := s.Run(ctx, func(context.Context, uint64) (bool, error) {
		n++
		if n == 2 {
			cancel()
		}
		return false, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestScheduler_RunCadenceCapped(t *testing.T) {
	d := &fakeDriver{}
	s := New(d, Config{Mode: Synchronous, Interval: 10 * time.Millisecond}, nil)

	start := time.Now()
	n := 0
	require.NoError(t, s.Run(context.Background(), func(context.Context, uint64) (bool, error) {
		n++
		return n == 5, nil
	}))
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
}

func TestMode_String(t *testing.T) {
	assert.Equal(t, "synchronous", Synchronous.String())
	assert.Equal(t, "asynchronous", Asynchronous.String())
}
