package memstore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"mongo-loadgen/internal/logger"
	"mongo-loadgen/internal/store"
)

// Op はストア操作の種別
type Op int

const (
	OpDial Op = iota
	OpInsertOne
	OpInsertMany
	OpFind
	OpCount
	OpEnsureIndex
)

func (o Op) String() string {
	switch o {
	case OpDial:
		return "dial"
	case OpInsertOne:
		return "insert_one"
	case OpInsertMany:
		return "insert_many"
	case OpFind:
		return "find"
	case OpCount:
		return "count"
	case OpEnsureIndex:
		return "ensure_index"
	default:
		return "unknown"
	}
}

// Status はサーバーの状態を表す
type Status int

const (
	StatusStopped Status = iota
	StatusRunning
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Server はインメモリのドキュメントコレクションを1つ持つストア
type Server struct {
	id     string
	status Status
	delay  time.Duration

	rejectDuplicateIndex bool

	mu      sync.RWMutex
	docs    []bson.Raw
	ids     map[primitive.ObjectID]struct{}
	indexes map[string]struct{}
	faults  map[Op][]error
	calls   map[Op]int
	bulks   []int

	openConns atomic.Int64
}

var _ store.Dialer = (*Server)(nil)

// New は新しいサーバーを作成する（起動状態）
func New(id string) *Server {
	return &Server{
		id:      id,
		status:  StatusRunning,
		ids:     make(map[primitive.ObjectID]struct{}),
		indexes: make(map[string]struct{}),
		faults:  make(map[Op][]error),
		calls:   make(map[Op]int),
	}
}

// ID はサーバーIDを返す
func (s *Server) ID() string {
	return s.id
}

// Start はサーバーを起動する
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusRunning {
		return errors.Errorf("server %s is already running", s.id)
	}
	s.status = StatusRunning

	logger.Debug(s.id, "Server started")
	return nil
}

// Stop はサーバーを停止する。以降の操作は全てErrUnavailableで失敗する
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusStopped {
		return errors.Errorf("server %s is already stopped", s.id)
	}
	s.status = StatusStopped

	logger.Debug(s.id, "Server stopped")
	return nil
}

// Status はサーバーの現在のステータスを返す
func (s *Server) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// SetDelay は全操作に加える遅延を設定する
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Delay は現在の遅延設定を返す
func (s *Server) Delay() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.delay
}

// RejectDuplicateIndex を有効にすると既存インデックスの再作成がErrIndexExistsを返す
func (s *Server) RejectDuplicateIndex(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectDuplicateIndex = reject
}

// InjectFault は次のop操作を1回だけerrで失敗させる
// 複数回呼ぶと順番に消費される
func (s *Server) InjectFault(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = append(s.faults[op], err)
}

// Calls はopの呼び出し回数（失敗を含む）を返す
func (s *Server) Calls(op Op) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[op]
}

// BulkSizes は成功したバルク書き込みの件数を順に返す
func (s *Server) BulkSizes() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sizes := make([]int, len(s.bulks))
	copy(sizes, s.bulks)
	return sizes
}

// Size は保存済みドキュメント数を返す
func (s *Server) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Documents は保存済みドキュメントのコピーを返す
func (s *Server) Documents() []bson.Raw {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]bson.Raw, len(s.docs))
	copy(docs, s.docs)
	return docs
}

// HasIndex はインデックスが作成済みかどうかを返す
func (s *Server) HasIndex(spec store.IndexSpec) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.indexes[spec.Name()]
	return ok
}

// OpenConns は開いている接続数を返す
func (s *Server) OpenConns() int64 {
	return s.openConns.Load()
}

// Dial は新しい接続を開く
func (s *Server) Dial(ctx context.Context) (store.Store, error) {
	if err := s.begin(ctx, OpDial); err != nil {
		return nil, errors.Wrapf(err, "dial %s", s.id)
	}
	s.openConns.Add(1)
	return &conn{srv: s}, nil
}

// begin は遅延を適用し、呼び出しを記録し、注入された障害と停止状態を確認する
func (s *Server) begin(ctx context.Context, op Op) error {
	if d := s.Delay(); d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[op]++
	if queue := s.faults[op]; len(queue) > 0 {
		err := queue[0]
		s.faults[op] = queue[1:]
		return err
	}
	if s.status != StatusRunning {
		return store.ErrUnavailable
	}
	return ctx.Err()
}

// insertLocked はドキュメントをBSONに変換して保存する
func (s *Server) insertLocked(raw bson.Raw) error {
	id, ok := raw.Lookup("_id").ObjectIDOK()
	if !ok {
		id = primitive.NewObjectID()
	}
	if _, dup := s.ids[id]; dup {
		return errors.Errorf("E11000 duplicate key error: _id %s", id.Hex())
	}
	s.ids[id] = struct{}{}
	s.docs = append(s.docs, raw)
	return nil
}

func marshal(doc any) (bson.Raw, error) {
	data, err := bson.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "marshal document")
	}
	return bson.Raw(data), nil
}
