package worker

import (
	"context"
	"sync/atomic"
	"time"

	"mongo-loadgen/internal/store"
)

// Sampler は毎回新しい接続でドキュメント数を数えて表示する
type Sampler struct {
	unit
	dialer   store.Dialer
	interval time.Duration
	onSample func(workerID string, count int64)

	samples atomic.Int64
	last    atomic.Int64
}

// NewSampler は新しいSamplerを作成する
func NewSampler(id string, dialer store.Dialer, opts Options) *Sampler {
	opts = opts.withDefaults()
	return &Sampler{
		unit:     newUnit(id, RoleSampler, opts),
		dialer:   dialer,
		interval: opts.SamplerInterval,
		onSample: opts.OnSample,
	}
}

// Run は 接続 -> カウント -> 表示 -> 切断 -> 待機 を繰り返す
func (s *Sampler) Run(ctx context.Context) *Failure {
	for {
		if f := s.checkContext(ctx); f != nil {
			return f
		}

		n, f := s.sample(ctx)
		if f != nil {
			return f
		}

		s.samples.Add(1)
		s.last.Store(n)
		s.log.Info(s.id, "%d Records in collection", n)
		if s.onSample != nil {
			s.onSample(s.id, n)
		}

		if f := s.sleep(ctx); f != nil {
			return f
		}
	}
}

// sample は1回分の接続とカウントを行う
func (s *Sampler) sample(ctx context.Context) (int64, *Failure) {
	st, err := s.dialer.Dial(ctx)
	if err != nil {
		return 0, s.failOp(ctx, FailureConnect, err)
	}
	defer s.closeQuietly(st)

	n, err := st.Count(ctx)
	if err != nil {
		return 0, s.failOp(ctx, FailureCount, err)
	}
	return n, nil
}

func (s *Sampler) sleep(ctx context.Context) *Failure {
	if s.interval <= 0 {
		return nil
	}
	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return s.fail(FailureCanceled, ctx.Err())
	case <-timer.C:
		return nil
	}
}

// Samples はカウントを読んだ回数を返す
func (s *Sampler) Samples() int64 {
	return s.samples.Load()
}

// Last は最後に読んだカウントを返す
func (s *Sampler) Last() int64 {
	return s.last.Load()
}
