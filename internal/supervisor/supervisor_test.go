package supervisor

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mongo-loadgen/internal/config"
	"mongo-loadgen/internal/events"
	"mongo-loadgen/internal/logger"
	"mongo-loadgen/internal/store"
	"mongo-loadgen/internal/store/memstore"
	"mongo-loadgen/internal/worker"
)

func testConfig(writers, readers, samplers int) config.Config {
	cfg := config.Default()
	cfg.Name = "test"
	cfg.Writers = writers
	cfg.Readers = readers
	cfg.Samplers = samplers
	cfg.SlowThreshold = time.Second
	cfg.SamplerInterval = 5 * time.Millisecond
	return cfg
}

func quietLoggers() (*logger.Logger, *logger.Logger, *bytes.Buffer) {
	out := &bytes.Buffer{}
	return logger.New(out, logger.LevelInfo), logger.New(&bytes.Buffer{}, logger.LevelInfo), out
}

type runResult struct {
	failures []*worker.Failure
	err      error
}

func runAsync(ctx context.Context, s *Supervisor) <-chan runResult {
	done := make(chan runResult, 1)
	go func() {
		f, err := s.Run(ctx)
		done <- runResult{failures: f, err: err}
	}()
	return done
}

func waitResult(t *testing.T, done <-chan runResult) runResult {
	t.Helper()
	select {
	case r := <-done:
		return r
	case <-time.After(10 * time.Second):
		t.Fatal("supervisor did not return")
		return runResult{}
	}
}

func TestNewBuildsUnitsInRoleOrder(t *testing.T) {
	log, errLog, _ := quietLoggers()
	s, err := New(testConfig(3, 2, 1), memstore.New("mem-1"), WithLogger(log, errLog))
	require.NoError(t, err)

	var ids []string
	for _, w := range s.Units() {
		ids = append(ids, w.ID())
	}
	assert.Equal(t, []string{"writer-1", "writer-2", "writer-3", "reader-1", "reader-2", "sampler-1"}, ids)
	assert.Equal(t, 6, s.Size())
	assert.Equal(t, 0, s.RunningCount())
	assert.NotEmpty(t, s.RunID())
}

func TestNewRejectsInvalidInput(t *testing.T) {
	_, err := New(testConfig(-1, 0, 1), memstore.New("mem-1"))
	assert.Error(t, err)

	_, err = New(testConfig(1, 0, 0), nil)
	assert.Error(t, err)
}

func TestRunEmptyPool(t *testing.T) {
	srv := memstore.New("mem-1")
	log, errLog, out := quietLoggers()

	s, err := New(testConfig(0, 0, 0), srv, WithLogger(log, errLog))
	require.NoError(t, err)
	assert.Equal(t, 0, s.Size())

	done := runAsync(context.Background(), s)
	res := waitResult(t, done)

	require.NoError(t, res.err)
	assert.NotNil(t, res.failures)
	assert.Empty(t, res.failures)
	assert.Equal(t, 0, s.RunningCount())
	assert.Equal(t, 0, srv.Calls(memstore.OpInsertOne))
	assert.Contains(t, out.String(), "All 0 workers terminated")
}

func TestNewBatchedWriters(t *testing.T) {
	cfg := testConfig(2, 0, 0)
	cfg.BatchSize = 10

	s, err := New(cfg, memstore.New("mem-1"))
	require.NoError(t, err)

	for _, u := range s.Units() {
		w, ok := u.(*worker.Writer)
		require.True(t, ok)
		assert.True(t, w.Batched())
	}
}

func TestRunSpawnsAndReapsEveryUnit(t *testing.T) {
	srv := memstore.New("mem-1")
	bus := events.NewBusWithBuffer(4096)
	sub := bus.Subscribe()
	log, errLog, out := quietLoggers()

	s, err := New(testConfig(3, 2, 1), srv, WithEventBus(bus), WithLogger(log, errLog), WithRunID("run-1"))
	require.NoError(t, err)

	done := runAsync(context.Background(), s)

	require.Eventually(t, func() bool { return srv.Size() > 0 }, 5*time.Second, time.Millisecond)
	require.NoError(t, srv.Stop())

	res := waitResult(t, done)
	require.NoError(t, res.err)
	assert.Len(t, res.failures, 6)
	assert.Equal(t, 0, s.RunningCount())
	for _, f := range res.failures {
		assert.NotEqual(t, worker.FailureCanceled, f.Kind)
		assert.ErrorIs(t, f, store.ErrUnavailable)
	}
	assert.Equal(t, 6, strings.Count(out.String(), "Child Quit"))

	bus.Close()
	var started, terminated []string
	for e := range sub {
		assert.Equal(t, "run-1", e.RunID)
		switch e.Type {
		case events.EventWorkerStarted:
			require.Empty(t, terminated, "every start precedes the first termination")
			started = append(started, e.WorkerID)
		case events.EventWorkerTerminated:
			terminated = append(terminated, e.WorkerID)
		}
	}
	assert.Equal(t, []string{"writer-1", "writer-2", "writer-3", "reader-1", "reader-2", "sampler-1"}, started)
	assert.Len(t, terminated, 6)
	assert.ElementsMatch(t, started, terminated)
}

func TestWriteFailureIsolatesOneWriter(t *testing.T) {
	srv := memstore.New("mem-1")
	boom := errors.New("injected write failure")
	srv.InjectFault(memstore.OpInsertMany, boom)
	log, errLog, _ := quietLoggers()

	cfg := testConfig(3, 1, 1)
	cfg.BatchSize = 10
	s, err := New(cfg, srv, WithLogger(log, errLog))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runAsync(ctx, s)

	require.Eventually(t, func() bool { return s.RunningCount() == 4 }, 5*time.Second, time.Millisecond)

	before := srv.Size()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 4, s.RunningCount())
	assert.Greater(t, srv.Size(), before, "surviving writers keep inserting")

	byRole := s.RunningByRole()
	assert.Equal(t, 2, byRole[worker.RoleWriter])
	assert.Equal(t, 1, byRole[worker.RoleReader])
	assert.Equal(t, 1, byRole[worker.RoleSampler])

	cancel()
	res := waitResult(t, done)
	require.Len(t, res.failures, 5)

	first := res.failures[0]
	assert.Equal(t, worker.FailureWrite, first.Kind)
	assert.Equal(t, worker.RoleWriter, first.Role)
	assert.ErrorIs(t, first, boom)
	for _, f := range res.failures[1:] {
		assert.Equal(t, worker.FailureCanceled, f.Kind)
	}
}

func TestPanicIsolatesOneWriter(t *testing.T) {
	srv := memstore.New("mem-1")
	var calls atomic.Int32
	dialer := store.DialerFunc(func(ctx context.Context) (store.Store, error) {
		if calls.Add(1) == 1 {
			panic("driver bug")
		}
		return srv.Dial(ctx)
	})
	log, errLog, _ := quietLoggers()

	s, err := New(testConfig(2, 0, 0), dialer, WithLogger(log, errLog))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runAsync(ctx, s)

	require.Eventually(t, func() bool { return s.RunningCount() == 1 && srv.Size() > 0 }, 5*time.Second, time.Millisecond)

	cancel()
	res := waitResult(t, done)
	require.Len(t, res.failures, 2)
	assert.Equal(t, worker.FailurePanic, res.failures[0].Kind)
	assert.Equal(t, worker.FailureCanceled, res.failures[1].Kind)
}

func TestRunOnlyOnce(t *testing.T) {
	srv := memstore.New("mem-1")
	require.NoError(t, srv.Stop())
	log, errLog, _ := quietLoggers()

	s, err := New(testConfig(1, 0, 0), srv, WithLogger(log, errLog))
	require.NoError(t, err)

	failures, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, worker.FailureConnect, failures[0].Kind)

	_, err = s.Run(context.Background())
	assert.Error(t, err)
}

func TestSampleObserverAndEvents(t *testing.T) {
	srv := memstore.New("mem-1")
	bus := events.NewBusWithBuffer(4096)
	sub := bus.Subscribe()
	log, errLog, _ := quietLoggers()

	var observed atomic.Int64
	s, err := New(testConfig(0, 0, 1), srv,
		WithEventBus(bus),
		WithLogger(log, errLog),
		WithRunID("run-2"),
		WithSampleObserver(func(id string, _ int64) {
			if id == "sampler-1" {
				observed.Add(1)
			}
		}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, s)
	require.Eventually(t, func() bool { return observed.Load() >= 3 }, 5*time.Second, time.Millisecond)
	cancel()
	waitResult(t, done)

	bus.Close()
	samples := 0
	for e := range sub {
		if e.Type == events.EventSample {
			samples++
			assert.Equal(t, "run-2", e.RunID)
			assert.Equal(t, "sampler-1", e.WorkerID)
		}
	}
	assert.GreaterOrEqual(t, samples, 3)
}

// 2 writers / 0 readers / 1 sampler, batch 10, 2000 ms threshold, 2 s interval
func TestEndToEndSamplerSeesFlushedBatches(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for several sampler intervals")
	}

	srv := memstore.New("mem-1")
	srv.SetDelay(5 * time.Millisecond)
	log, errLog, _ := quietLoggers()

	cfg := testConfig(2, 0, 1)
	cfg.BatchSize = 10
	cfg.SlowThreshold = 2000 * time.Millisecond
	cfg.SamplerInterval = 2 * time.Second

	var mu sync.Mutex
	var counts []int64
	s, err := New(cfg, srv, WithLogger(log, errLog), WithSampleObserver(func(_ string, n int64) {
		mu.Lock()
		counts = append(counts, n)
		mu.Unlock()
	}))
	require.NoError(t, err)

	var writers []*worker.Writer
	for _, u := range s.Units() {
		if w, ok := u.(*worker.Writer); ok {
			writers = append(writers, w)
		}
	}
	require.Len(t, writers, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runAsync(ctx, s)

	require.Eventually(t, func() bool {
		return writers[0].Flushes() >= 3 && writers[1].Flushes() >= 3
	}, 10*time.Second, time.Millisecond)

	mu.Lock()
	seen := len(counts)
	mu.Unlock()

	// 進行中だった1回を除いた次の表示を待つ
	var next int64
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		if len(counts) > seen+1 {
			next = counts[seen+1]
			return true
		}
		return false
	}, 10*time.Second, 10*time.Millisecond)

	assert.GreaterOrEqual(t, next, int64(60))
	assert.Equal(t, 3, s.RunningCount())

	cancel()
	res := waitResult(t, done)
	assert.Len(t, res.failures, 3)
}
