// Package mongostore implements the store contract on the official MongoDB
// Go driver.
package mongostore

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"mongo-loadgen/internal/store"
)

// インデックス重複を表すサーバーエラーコード
const (
	codeIndexExists           = 68
	codeIndexOptionsConflict  = 85
	codeIndexKeySpecsConflict = 86
)

// Options は接続先の設定
type Options struct {
	URI            string
	Database       string
	Collection     string
	AppName        string
	ConnectTimeout time.Duration
}

// Dialer は呼ばれるたびに新しいmongo.Clientを作成する
type Dialer struct {
	opts Options
}

var _ store.Dialer = (*Dialer)(nil)

// NewDialer は新しいDialerを作成する
func NewDialer(opts Options) *Dialer {
	return &Dialer{opts: opts}
}

// Dial は接続を開き、pingで到達性を確認する
func (d *Dialer) Dial(ctx context.Context) (store.Store, error) {
	clientOpts := options.Client().ApplyURI(d.opts.URI)
	if d.opts.AppName != "" {
		clientOpts.SetAppName(d.opts.AppName)
	}
	if d.opts.ConnectTimeout > 0 {
		clientOpts.SetConnectTimeout(d.opts.ConnectTimeout)
		clientOpts.SetServerSelectionTimeout(d.opts.ConnectTimeout)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %s", d.opts.URI)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrapf(store.Unavailable(err), "ping %s", d.opts.URI)
	}

	return &Store{
		client: client,
		coll:   client.Database(d.opts.Database).Collection(d.opts.Collection),
	}, nil
}

// Store は1つのmongo.Client上のコレクション操作
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
}

var _ store.Store = (*Store)(nil)

// InsertOne は1件書き込む
func (s *Store) InsertOne(ctx context.Context, doc any) error {
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return errors.Wrap(err, "insert")
	}
	return nil
}

// InsertMany はバッファ全体を1回のバルク書き込みで送る
func (s *Store) InsertMany(ctx context.Context, docs []any) error {
	if len(docs) == 0 {
		return nil
	}
	if _, err := s.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true)); err != nil {
		return errors.Wrapf(err, "bulk insert of %d documents", len(docs))
	}
	return nil
}

// Find は完全一致検索を行い、最大limit件を返すカーソルを開く
func (s *Store) Find(ctx context.Context, filter store.Filter, limit int) (store.Cursor, error) {
	findOpts := options.Find()
	if limit > 0 {
		findOpts.SetLimit(int64(limit)).SetBatchSize(batchSize(limit))
	}

	cur, err := s.coll.Find(ctx, bson.D{{Key: filter.Field, Value: filter.Value}}, findOpts)
	if err != nil {
		return nil, errors.Wrapf(err, "find %s=%d", filter.Field, filter.Value)
	}
	return cur, nil
}

// batchSize はlimitをドライバのint32に収める
func batchSize(limit int) int32 {
	return int32(min(limit, math.MaxInt32))
}

// Count は無条件でドキュメント数を数える
func (s *Store) Count(ctx context.Context) (int64, error) {
	n, err := s.coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, errors.Wrap(err, "count")
	}
	return n, nil
}

// EnsureIndex はインデックスを作成する
// 同一定義の再作成はサーバー側で成功扱いになる。競合はErrIndexExistsに変換する
func (s *Store) EnsureIndex(ctx context.Context, spec store.IndexSpec) error {
	direction := 1
	if spec.Descending {
		direction = -1
	}

	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: spec.Field, Value: direction}},
	})
	if err == nil {
		return nil
	}
	if isIndexConflict(err) {
		return errors.Wrapf(store.ErrIndexExists, "index %s: %v", spec.Name(), err)
	}
	return errors.Wrapf(err, "create index %s", spec.Name())
}

// Close はクライアントを切断する
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func isIndexConflict(err error) bool {
	var cmdErr mongo.CommandError
	if !errors.As(err, &cmdErr) {
		return false
	}
	switch cmdErr.Code {
	case codeIndexExists, codeIndexOptionsConflict, codeIndexKeySpecsConflict:
		return true
	default:
		return false
	}
}
