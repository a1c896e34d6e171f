package worker

import (
	"context"
	"fmt"
	"sync/atomic"

	"mongo-loadgen/internal/latency"
	"mongo-loadgen/internal/record"
	"mongo-loadgen/internal/store"
)

// Writer はレコードを生成して書き込み続ける
type Writer struct {
	unit
	dialer store.Dialer
	gen    *record.Generator
	batch  *Batcher // nil の場合は1件ずつ書き込む
	timer  *latency.Timer

	inserted atomic.Int64
	flushes  atomic.Int64
}

// NewWriter は新しいWriterを作成する
func NewWriter(id string, dialer store.Dialer, opts Options) *Writer {
	opts = opts.withDefaults()
	w := &Writer{
		unit:   newUnit(id, RoleWriter, opts),
		dialer: dialer,
		gen:    record.NewGenerator(opts.Schema, opts.NewRand()),
		timer:  latency.NewTimer(id, opts.SlowThreshold, opts.Log),
	}
	if opts.BatchSize > 1 {
		w.batch = NewBatcher(opts.BatchSize)
	}
	return w
}

// Run は接続を1本開き、書き込みエラーが起きるまでループする
func (w *Writer) Run(ctx context.Context) *Failure {
	st, err := w.dialer.Dial(ctx)
	if err != nil {
		return w.failOp(ctx, FailureConnect, err)
	}
	defer w.closeQuietly(st)

	for {
		if f := w.checkContext(ctx); f != nil {
			return f
		}

		rec := w.gen.Next()

		if w.batch == nil {
			sample, err := w.timer.Measure(latency.OpAppend, func() error {
				return st.InsertOne(ctx, rec)
			})
			if err != nil {
				return w.failOp(ctx, FailureWrite, err)
			}
			w.inserted.Add(1)
			w.timer.Report(sample)
			continue
		}

		if !w.batch.Add(rec) {
			continue
		}

		n := w.batch.Pending()
		sample, err := w.timer.Measure(latency.OpBulkAppend, func() error {
			return w.batch.Flush(ctx, st)
		})
		if err != nil {
			return w.failOp(ctx, FailureWrite, err)
		}
		w.inserted.Add(int64(n))
		w.flushes.Add(1)
		w.timer.Report(sample)
	}
}

// Inserted はストアが受け付けたレコード数を返す
func (w *Writer) Inserted() int64 {
	return w.inserted.Load()
}

// Flushes はバルク書き込みの成功回数を返す
func (w *Writer) Flushes() int64 {
	return w.flushes.Load()
}

// Generated は生成したレコード数を返す（Run終了後に呼ぶ）
func (w *Writer) Generated() int64 {
	return w.gen.Generated()
}

// Pending は送信されずに残ったレコード数を返す（Run終了後に呼ぶ）
func (w *Writer) Pending() int {
	if w.batch == nil {
		return 0
	}
	return w.batch.Pending()
}

// Batched はバルク書き込みを使うかどうかを返す
func (w *Writer) Batched() bool {
	return w.batch != nil
}

func (w *Writer) String() string {
	if w.batch == nil {
		return fmt.Sprintf("%s (single insert)", w.id)
	}
	return fmt.Sprintf("%s (batch %d)", w.id, w.batch.Size())
}
