package worker

import (
	"context"
	"sync/atomic"

	"mongo-loadgen/internal/latency"
	"mongo-loadgen/internal/record"
	"mongo-loadgen/internal/store"
)

// DefaultQueryWindow はReaderが1回の検索で読み切る最大件数
const DefaultQueryWindow = 5

// sensorIndex はReaderが起動時に用意するインデックス
var sensorIndex = store.IndexSpec{Field: record.SensorField}

// Reader はランダムなsensor値で検索し続ける
type Reader struct {
	unit
	dialer store.Dialer
	gen    *record.Generator
	timer  *latency.Timer
	window int

	queries atomic.Int64
	matched atomic.Int64
}

// NewReader は新しいReaderを作成する
func NewReader(id string, dialer store.Dialer, opts Options) *Reader {
	opts = opts.withDefaults()
	window := opts.QueryWindow
	if window <= 0 {
		window = DefaultQueryWindow
	}
	return &Reader{
		unit:   newUnit(id, RoleReader, opts),
		dialer: dialer,
		gen:    record.NewGenerator(opts.Schema, opts.NewRand()),
		timer:  latency.NewTimer(id, opts.SlowThreshold, opts.Log),
		window: window,
	}
}

// Run は接続を1本開き、インデックスを一度だけ用意してから検索を繰り返す
func (r *Reader) Run(ctx context.Context) *Failure {
	st, err := r.dialer.Dial(ctx)
	if err != nil {
		return r.failOp(ctx, FailureConnect, err)
	}
	defer r.closeQuietly(st)

	if err := st.EnsureIndex(ctx, sensorIndex); err != nil && !store.IsIndexExists(err) {
		return r.failOp(ctx, FailureIndex, err)
	}

	for {
		if f := r.checkContext(ctx); f != nil {
			return f
		}

		key := r.gen.QueryKey()
		sample, err := r.timer.Measure(latency.OpQuery, func() error {
			return r.query(ctx, st, key)
		})
		if err != nil {
			return r.failOp(ctx, FailureRead, err)
		}
		r.queries.Add(1)
		r.timer.Report(sample)
	}
}

// query は検索を実行し、window件かカーソル終端まで読み切る
func (r *Reader) query(ctx context.Context, st store.Store, key int64) (err error) {
	cur, err := st.Find(ctx, store.Filter{Field: record.SensorField, Value: key}, r.window)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := cur.Close(ctx); err == nil && cerr != nil {
			err = cerr
		}
	}()

	for n := 0; n < r.window && cur.Next(ctx); n++ {
		r.matched.Add(1)
	}
	return cur.Err()
}

// Queries は完了した検索回数を返す
func (r *Reader) Queries() int64 {
	return r.queries.Load()
}

// Matched は読み出したドキュメント数の累計を返す
func (r *Reader) Matched() int64 {
	return r.matched.Load()
}

// Window は1回の検索で読む最大件数を返す
func (r *Reader) Window() int {
	return r.window
}
