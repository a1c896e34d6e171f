// Package latency measures single store operations and reports the slow ones.
package latency

import (
	"time"

	"mongo-loadgen/internal/logger"
)

// OpKind は計測対象の操作種別
type OpKind string

const (
	OpAppend     OpKind = "Append"
	OpBulkAppend OpKind = "Bulk append"
	OpQuery      OpKind = "Query"
)

// Sample は1回分の計測結果
type Sample struct {
	Kind    OpKind
	Elapsed time.Duration
}

// Millis は経過時間をミリ秒（切り捨て）で返す
func (s Sample) Millis() int64 {
	return s.Elapsed.Milliseconds()
}

// Timer は操作の所要時間を計測し、閾値を超えたものを報告する
type Timer struct {
	workerID  string
	threshold time.Duration
	log       *logger.Logger
	now       func() time.Time
}

// NewTimer は新しいTimerを作成する
// log が nil の場合は logger.Default を使用
func NewTimer(workerID string, threshold time.Duration, log *logger.Logger) *Timer {
	if log == nil {
		log = logger.Default
	}
	return &Timer{
		workerID:  workerID,
		threshold: threshold,
		log:       log,
		now:       time.Now,
	}
}

// Measure は fn の直前と直後で時刻を取り、成否に関係なく所要時間を返す
func (t *Timer) Measure(kind OpKind, fn func() error) (Sample, error) {
	start := t.now()
	err := fn()
	end := t.now()

	return Sample{Kind: kind, Elapsed: end.Sub(start)}, err
}

// Slow は閾値を厳密に超えたかどうかを返す
func (t *Timer) Slow(s Sample) bool {
	return s.Millis() > t.threshold.Milliseconds()
}

// Report は遅い操作を1行出力し、出力したかどうかを返す
func (t *Timer) Report(s Sample) bool {
	if !t.Slow(s) {
		return false
	}
	t.log.Info(t.workerID, "%s took %d milliseconds", s.Kind, s.Millis())
	return true
}

// Threshold は閾値を返す
func (t *Timer) Threshold() time.Duration {
	return t.threshold
}
