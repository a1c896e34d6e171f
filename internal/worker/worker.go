package worker

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"mongo-loadgen/internal/logger"
	"mongo-loadgen/internal/record"
	"mongo-loadgen/internal/store"
)

// Role はワーカーの役割
type Role string

const (
	RoleWriter  Role = "writer"
	RoleReader  Role = "reader"
	RoleSampler Role = "sampler"
)

// State はワーカーの状態
// 遷移は Running -> Terminated のみ
type State int32

const (
	StateRunning State = iota
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// FailureKind は終了理由の分類
type FailureKind string

const (
	FailureConnect  FailureKind = "connect"
	FailureWrite    FailureKind = "write"
	FailureRead     FailureKind = "read"
	FailureCount    FailureKind = "count"
	FailureIndex    FailureKind = "index"
	FailureCanceled FailureKind = "canceled"
	FailurePanic    FailureKind = "panic"
	FailureExited   FailureKind = "exited"
)

// Failure はワーカーが Terminated に遷移した理由
type Failure struct {
	Role     Role
	WorkerID string
	Kind     FailureKind
	Err      error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", f.Role, f.WorkerID, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Worker は1つの独立した実行単位
type Worker interface {
	ID() string
	Role() Role
	State() State
	// Run は致命的なエラーが起きるまで戻らない
	Run(ctx context.Context) *Failure
}

// Options はワーカー共通の設定
type Options struct {
	SlowThreshold   time.Duration // 遅い操作として報告する閾値
	BatchSize       int           // 1以下でバッファなし
	QueryWindow     int           // Readerが読み切る最大件数
	SamplerInterval time.Duration // Samplerの待機時間
	Schema          record.Schema

	Log    *logger.Logger // 標準出力（nilでlogger.Default）
	ErrLog *logger.Logger // 標準エラー出力（nilでlogger.Errors）

	// NewRand はワーカーごとに1回呼ばれる（nilでrecord.NewSource）
	NewRand func() *rand.Rand

	// OnSample はSamplerがカウントを読むたびに呼ばれる
	OnSample func(workerID string, count int64)
}

func (o Options) withDefaults() Options {
	if o.Log == nil {
		o.Log = logger.Default
	}
	if o.ErrLog == nil {
		o.ErrLog = logger.Errors
	}
	if o.NewRand == nil {
		o.NewRand = record.NewSource
	}
	if o.Schema == "" {
		o.Schema = record.SchemaMinimal
	}
	return o
}

// unit は全ロール共通の状態
type unit struct {
	id     string
	role   Role
	state  atomic.Int32
	log    *logger.Logger
	errLog *logger.Logger
}

func newUnit(id string, role Role, opts Options) unit {
	return unit{id: id, role: role, log: opts.Log, errLog: opts.ErrLog}
}

// ID はワーカーIDを返す
func (u *unit) ID() string {
	return u.id
}

// Role は役割を返す
func (u *unit) Role() Role {
	return u.role
}

// State は現在の状態を返す
func (u *unit) State() State {
	return State(u.state.Load())
}

func (u *unit) markTerminated() {
	u.state.Store(int32(StateTerminated))
}

// fail は Terminated に遷移し、ストアのエラーを標準エラー出力に書いて理由を返す
func (u *unit) fail(kind FailureKind, err error) *Failure {
	u.markTerminated()
	if kind != FailureCanceled {
		u.errLog.Error(u.id, "Error : %v", err)
	}
	return &Failure{Role: u.role, WorkerID: u.id, Kind: kind, Err: err}
}

// failOp はctxのキャンセルに起因するエラーをcanceledとして分類する
func (u *unit) failOp(ctx context.Context, kind FailureKind, err error) *Failure {
	if ctx.Err() != nil {
		return u.fail(FailureCanceled, err)
	}
	return u.fail(kind, err)
}

// checkContext は外部からのキャンセルを終了理由に変換する
func (u *unit) checkContext(ctx context.Context) *Failure {
	if err := ctx.Err(); err != nil {
		return u.fail(FailureCanceled, err)
	}
	return nil
}

// closeQuietly は接続を閉じる。キャンセル済みのctxでも閉じられるよう新しいctxを使う
func (u *unit) closeQuietly(st store.Store) {
	if err := st.Close(context.Background()); err != nil {
		u.log.Debug(u.id, "close: %v", err)
	}
}

// Execute はワーカーを実行し、panicを含むあらゆる終了をFailureに変換する
// 1つのワーカーの異常が他のワーカーに波及しないようにする
func Execute(ctx context.Context, w Worker) (f *Failure) {
	defer func() {
		if r := recover(); r != nil {
			if m, ok := w.(interface{ markTerminated() }); ok {
				m.markTerminated()
			}
			f = &Failure{Role: w.Role(), WorkerID: w.ID(), Kind: FailurePanic, Err: errors.Errorf("panic: %v", r)}
		}
	}()

	f = w.Run(ctx)
	if f == nil {
		if m, ok := w.(interface{ markTerminated() }); ok {
			m.markTerminated()
		}
		f = &Failure{Role: w.Role(), WorkerID: w.ID(), Kind: FailureExited, Err: errors.New("worker returned without failure")}
	}
	return f
}
