package memstore

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"

	"mongo-loadgen/internal/store"
)

var errConnClosed = errors.New("connection closed")

// conn はServerへの1本の接続
type conn struct {
	srv    *Server
	closed atomic.Bool
}

var _ store.Store = (*conn)(nil)

func (c *conn) begin(ctx context.Context, op Op) error {
	if c.closed.Load() {
		return errConnClosed
	}
	return c.srv.begin(ctx, op)
}

func (c *conn) InsertOne(ctx context.Context, doc any) error {
	if err := c.begin(ctx, OpInsertOne); err != nil {
		return errors.Wrap(err, "insert")
	}
	raw, err := marshal(doc)
	if err != nil {
		return err
	}

	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	return c.srv.insertLocked(raw)
}

// InsertMany は順序付きバルク書き込み。途中で失敗した場合それ以前の分は残る
func (c *conn) InsertMany(ctx context.Context, docs []any) error {
	if err := c.begin(ctx, OpInsertMany); err != nil {
		return errors.Wrapf(err, "bulk insert of %d documents", len(docs))
	}

	raws := make([]bson.Raw, 0, len(docs))
	for _, doc := range docs {
		raw, err := marshal(doc)
		if err != nil {
			return err
		}
		raws = append(raws, raw)
	}

	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	for i, raw := range raws {
		if err := c.srv.insertLocked(raw); err != nil {
			return errors.Wrapf(err, "bulk insert failed at document %d", i)
		}
	}
	c.srv.bulks = append(c.srv.bulks, len(raws))
	return nil
}

func (c *conn) Find(ctx context.Context, filter store.Filter, limit int) (store.Cursor, error) {
	if err := c.begin(ctx, OpFind); err != nil {
		return nil, errors.Wrapf(err, "find %s=%d", filter.Field, filter.Value)
	}

	c.srv.mu.RLock()
	defer c.srv.mu.RUnlock()

	var matched []bson.Raw
	for _, raw := range c.srv.docs {
		v, ok := raw.Lookup(filter.Field).Int64OK()
		if !ok || v != filter.Value {
			continue
		}
		matched = append(matched, raw)
		if limit > 0 && len(matched) == limit {
			break
		}
	}
	return &cursor{docs: matched, pos: -1}, nil
}

func (c *conn) Count(ctx context.Context) (int64, error) {
	if err := c.begin(ctx, OpCount); err != nil {
		return 0, errors.Wrap(err, "count")
	}

	c.srv.mu.RLock()
	defer c.srv.mu.RUnlock()
	return int64(len(c.srv.docs)), nil
}

func (c *conn) EnsureIndex(ctx context.Context, spec store.IndexSpec) error {
	if err := c.begin(ctx, OpEnsureIndex); err != nil {
		return errors.Wrapf(err, "create index %s", spec.Name())
	}

	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()

	name := spec.Name()
	if _, exists := c.srv.indexes[name]; exists && c.srv.rejectDuplicateIndex {
		return errors.Wrapf(store.ErrIndexExists, "index %s", name)
	}
	c.srv.indexes[name] = struct{}{}
	return nil
}

func (c *conn) Close(_ context.Context) error {
	if c.closed.Swap(true) {
		return errConnClosed
	}
	c.srv.openConns.Add(-1)
	return nil
}

// cursor はFindの結果をメモリ上で走査する
type cursor struct {
	docs   []bson.Raw
	pos    int
	err    error
	closed bool
}

func (c *cursor) Next(ctx context.Context) bool {
	if c.closed || c.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}
	if c.pos+1 >= len(c.docs) {
		return false
	}
	c.pos++
	return true
}

// Current は現在位置のドキュメントを返す
func (c *cursor) Current() bson.Raw {
	if c.pos < 0 || c.pos >= len(c.docs) {
		return nil
	}
	return c.docs[c.pos]
}

func (c *cursor) Err() error {
	return c.err
}

func (c *cursor) Close(_ context.Context) error {
	c.closed = true
	return nil
}
