// Package store defines the narrow operation contract the load workers use
// against a document store: insert-one, insert-bulk, find, count and
// create-index.
package store

import (
	"context"

	"github.com/pkg/errors"
)

// ErrIndexExists はインデックスが既に存在することを表す
// ワーカーはこれを成功として扱う
var ErrIndexExists = errors.New("index already exists")

// ErrUnavailable はストアに到達できないことを表す
var ErrUnavailable = errors.New("store unavailable")

// unavailableError はErrUnavailableと原因の両方に一致する
type unavailableError struct {
	cause error
}

func (e *unavailableError) Error() string {
	return ErrUnavailable.Error() + ": " + e.cause.Error()
}

func (e *unavailableError) Unwrap() []error {
	return []error{ErrUnavailable, e.cause}
}

// Unavailable はcauseをErrUnavailableとして包む。causeのチェーンも保持する
func Unavailable(cause error) error {
	if cause == nil {
		return ErrUnavailable
	}
	return &unavailableError{cause: cause}
}

// Filter はフィールドの完全一致条件
type Filter struct {
	Field string
	Value int64
}

// IndexSpec は単一フィールドのインデックス定義
type IndexSpec struct {
	Field      string
	Descending bool
}

// Name はストア上のインデックス名（field_1 / field_-1）を返す
func (s IndexSpec) Name() string {
	if s.Descending {
		return s.Field + "_-1"
	}
	return s.Field + "_1"
}

// Cursor は検索結果のカーソル
type Cursor interface {
	Next(ctx context.Context) bool
	Err() error
	Close(ctx context.Context) error
}

// Store は1本の接続上で行うストア操作
type Store interface {
	InsertOne(ctx context.Context, doc any) error
	InsertMany(ctx context.Context, docs []any) error
	Find(ctx context.Context, filter Filter, limit int) (Cursor, error)
	Count(ctx context.Context) (int64, error)
	EnsureIndex(ctx context.Context, spec IndexSpec) error
	Close(ctx context.Context) error
}

// Dialer は新しい接続を開く
type Dialer interface {
	Dial(ctx context.Context) (Store, error)
}

// DialerFunc は関数をDialerとして扱うアダプタ
type DialerFunc func(ctx context.Context) (Store, error)

// Dial はf(ctx)を呼ぶ
func (f DialerFunc) Dial(ctx context.Context) (Store, error) {
	return f(ctx)
}

// IsIndexExists はerrがErrIndexExistsを含むかどうかを返す
func IsIndexExists(err error) bool {
	return errors.Is(err, ErrIndexExists)
}
