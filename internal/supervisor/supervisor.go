package supervisor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"mongo-loadgen/internal/config"
	"mongo-loadgen/internal/events"
	"mongo-loadgen/internal/logger"
	"mongo-loadgen/internal/store"
	"mongo-loadgen/internal/worker"
)

// Supervisor はワーカー群を起動し、全員が終了するまで待つ
type Supervisor struct {
	cfg    config.Config
	dialer store.Dialer
	runID  string

	bus      *events.Bus
	log      *logger.Logger
	errLog   *logger.Logger
	onSample func(workerID string, count int64)

	mu      sync.RWMutex
	units   []worker.Worker
	started bool
	running atomic.Int64
}

// Option はSupervisorの設定を変更する
type Option func(*Supervisor)

// WithEventBus は起動・終了イベントの発行先を設定する
func WithEventBus(bus *events.Bus) Option {
	return func(s *Supervisor) {
		s.bus = bus
	}
}

// WithLogger は標準出力と標準エラー出力のロガーを設定する
func WithLogger(log, errLog *logger.Logger) Option {
	return func(s *Supervisor) {
		if log != nil {
			s.log = log
		}
		if errLog != nil {
			s.errLog = errLog
		}
	}
}

// WithSampleObserver はSamplerがカウントを読むたびに呼ばれる関数を設定する
func WithSampleObserver(fn func(workerID string, count int64)) Option {
	return func(s *Supervisor) {
		s.onSample = fn
	}
}

// WithRunID は実行IDを固定する
func WithRunID(id string) Option {
	return func(s *Supervisor) {
		s.runID = id
	}
}

// New は設定に従ってワーカーを writer -> reader -> sampler の順に作成する
func New(cfg config.Config, dialer store.Dialer, opts ...Option) (*Supervisor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	if dialer == nil {
		return nil, errors.New("dialer is required")
	}

	s := &Supervisor{
		cfg:    cfg,
		dialer: dialer,
		runID:  uuid.NewString(),
		log:    logger.Default,
		errLog: logger.Errors,
	}
	for _, opt := range opts {
		opt(s)
	}

	wopts := s.workerOptions()
	for i := range cfg.Writers {
		s.units = append(s.units, worker.NewWriter(unitID(worker.RoleWriter, i), dialer, wopts))
	}
	for i := range cfg.Readers {
		s.units = append(s.units, worker.NewReader(unitID(worker.RoleReader, i), dialer, wopts))
	}
	for i := range cfg.Samplers {
		s.units = append(s.units, worker.NewSampler(unitID(worker.RoleSampler, i), dialer, wopts))
	}

	return s, nil
}

func unitID(role worker.Role, i int) string {
	return fmt.Sprintf("%s-%d", role, i+1)
}

func (s *Supervisor) workerOptions() worker.Options {
	return worker.Options{
		SlowThreshold:   s.cfg.SlowThreshold,
		BatchSize:       s.cfg.BatchSize,
		QueryWindow:     s.cfg.QueryWindow,
		SamplerInterval: s.cfg.SamplerInterval,
		Schema:          s.cfg.Schema,
		Log:             s.log,
		ErrLog:          s.errLog,
		OnSample:        s.observeSample,
	}
}

func (s *Supervisor) observeSample(workerID string, count int64) {
	if s.bus != nil {
		s.bus.Publish(events.NewSampleEvent(s.runID, workerID, count))
	}
	if s.onSample != nil {
		s.onSample(workerID, count)
	}
}

// Run は全ワーカーを起動し、全員が終了するまでブロックする
// 終了したワーカーは再起動しない。戻り値は終了順のFailure
func (s *Supervisor) Run(ctx context.Context) ([]*worker.Failure, error) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil, errors.New("supervisor already started")
	}
	s.started = true
	units := s.units
	s.mu.Unlock()

	s.log.Info("", "Starting %d writers, %d readers, %d samplers (run %s)",
		s.cfg.Writers, s.cfg.Readers, s.cfg.Samplers, s.runID)

	// errgroupのctxは使わない。1つの終了を他へ波及させないため
	var g errgroup.Group
	quit := make(chan *worker.Failure, len(units))

	for _, w := range units {
		s.running.Add(1)
		s.publish(events.NewWorkerStartedEvent(s.runID, w.ID(), string(w.Role())))

		g.Go(func() error {
			quit <- worker.Execute(ctx, w)
			return nil
		})
	}

	failures := make([]*worker.Failure, 0, len(units))
	for range units {
		f := <-quit
		s.running.Add(-1)
		failures = append(failures, f)

		s.log.Info(f.WorkerID, "Child Quit (%s: %v)", f.Kind, f.Err)
		s.publish(events.NewWorkerTerminatedEvent(s.runID, f.WorkerID, string(f.Role), string(f.Kind), f.Err))
	}

	if err := g.Wait(); err != nil {
		return failures, err
	}

	s.log.Info("", "All %d workers terminated", len(failures))
	return failures, nil
}

func (s *Supervisor) publish(e events.Event) {
	if s.bus != nil {
		s.bus.Publish(e)
	}
}

// Units は作成順のワーカー一覧を返す
func (s *Supervisor) Units() []worker.Worker {
	s.mu.RLock()
	defer s.mu.RUnlock()

	units := make([]worker.Worker, len(s.units))
	copy(units, s.units)
	return units
}

// Size はワーカーの総数を返す
func (s *Supervisor) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.units)
}

// RunningCount は終了していないワーカー数を返す
func (s *Supervisor) RunningCount() int {
	return int(s.running.Load())
}

// RunningByRole は役割ごとの実行中ワーカー数を返す
func (s *Supervisor) RunningByRole() map[worker.Role]int {
	counts := map[worker.Role]int{}
	for _, w := range s.Units() {
		if w.State() == worker.StateRunning {
			counts[w.Role()]++
		}
	}
	return counts
}

// RunID は実行IDを返す
func (s *Supervisor) RunID() string {
	return s.runID
}

// Config は実行中の設定を返す
func (s *Supervisor) Config() config.Config {
	return s.cfg
}
