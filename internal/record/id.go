package record

import (
	"encoding/binary"
	"math/rand/v2"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const counterMask = 0xFFFFFF

// IDGenerator はワーカー単位のObjectID生成器
// レイアウト: 4バイトの秒タイムスタンプ + 5バイトのランダム接頭辞 + 3バイトのカウンタ
// 1つのワーカーが専有する前提でスレッドセーフではない
type IDGenerator struct {
	prefix  [5]byte
	counter uint32
	now     func() time.Time
}

// NewIDGenerator は乱数源から接頭辞とカウンタ初期値を一度だけ引いて生成器を作成する
func NewIDGenerator(rng *rand.Rand) *IDGenerator {
	g := &IDGenerator{
		counter: rng.Uint32() & counterMask,
		now:     time.Now,
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], rng.Uint64())
	copy(g.prefix[:], buf[:5])
	return g
}

// Next は次のIDを返す
func (g *IDGenerator) Next() primitive.ObjectID {
	var id primitive.ObjectID
	binary.BigEndian.PutUint32(id[0:4], uint32(g.now().Unix()))
	copy(id[4:9], g.prefix[:])

	g.counter = (g.counter + 1) & counterMask
	id[9] = byte(g.counter >> 16)
	id[10] = byte(g.counter >> 8)
	id[11] = byte(g.counter)
	return id
}
