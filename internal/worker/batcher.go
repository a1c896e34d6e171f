package worker

import (
	"context"

	"mongo-loadgen/internal/record"
	"mongo-loadgen/internal/store"
)

// Batcher はWriterが専有する書き込みバッファ
// 満杯になったら1回のバルク書き込みで送る。部分的なバッファは送らない
type Batcher struct {
	size int
	buf  []any
}

// NewBatcher は新しいBatcherを作成する
// size が 1 未満の場合は 1 として扱う
func NewBatcher(size int) *Batcher {
	if size < 1 {
		size = 1
	}
	return &Batcher{
		size: size,
		buf:  make([]any, 0, size),
	}
}

// Add はレコードを追加し、満杯になったかどうかを返す
func (b *Batcher) Add(rec record.Record) bool {
	b.buf = append(b.buf, rec)
	return len(b.buf) >= b.size
}

// Flush はバッファ全体を1回のInsertManyで送り、成否に関係なくバッファを空にする
func (b *Batcher) Flush(ctx context.Context, st store.Store) error {
	err := st.InsertMany(ctx, b.buf)
	clear(b.buf)
	b.buf = b.buf[:0]
	return err
}

// Pending は未送信のレコード数を返す
func (b *Batcher) Pending() int {
	return len(b.buf)
}

// Size はバッチサイズを返す
func (b *Batcher) Size() int {
	return b.size
}
