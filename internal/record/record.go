package record

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	// SensorField はReaderが検索・インデックスに使うフィールド
	SensorField = "sensor"

	// ValueBound はMinimalスキーマのvalueの上限（排他）
	ValueBound = 65535

	// LowCardinality はlowcardの法
	LowCardinality = 500

	// RisingFallingTotal はrising + fallingの一定値
	RisingFallingTotal int64 = 10_000_000_000

	fillerLength = 512
)

// Schema は生成するドキュメントの形を表す
type Schema string

const (
	SchemaMinimal  Schema = "minimal"
	SchemaExtended Schema = "extended"
)

// Valid はスキーマ名が既知かどうかを返す
func (s Schema) Valid() bool {
	return s == SchemaMinimal || s == SchemaExtended
}

// Record はストアに書き込まれる1件のドキュメント
type Record interface {
	RecordID() primitive.ObjectID
}

// Minimal は最小スキーマのドキュメント
type Minimal struct {
	ID     primitive.ObjectID `bson:"_id"`
	Sensor int64              `bson:"sensor"`
	Value  int32              `bson:"value"`
}

func (m Minimal) RecordID() primitive.ObjectID { return m.ID }

// SubDocument はExtendedに埋め込まれるサブドキュメント
type SubDocument struct {
	Text string             `bson:"text"`
	ID   primitive.ObjectID `bson:"id"`
}

// Extended は拡張スキーマのドキュメント
type Extended struct {
	ID      primitive.ObjectID `bson:"_id"`
	Rising  int64              `bson:"rising"`
	Falling int64              `bson:"falling"`
	Random  int32              `bson:"random"`
	LowCard int32              `bson:"lowcard"`
	OtherID primitive.ObjectID `bson:"otherid"`
	Sub     SubDocument        `bson:"sub"`
}

func (e Extended) RecordID() primitive.ObjectID { return e.ID }

// Generator は疑似乱数でドキュメントを生成する
// ワーカーごとに1つ作成し、共有しない
type Generator struct {
	schema   Schema
	rng      *rand.Rand
	ids      *IDGenerator
	inserted int64
	filler   string
}

// NewSource はワーカー起動時に一度だけシードされる乱数源を返す
func NewSource() *rand.Rand {
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// NewGenerator は新しいGeneratorを作成する
func NewGenerator(schema Schema, rng *rand.Rand) *Generator {
	g := &Generator{
		schema: schema,
		rng:    rng,
		ids:    NewIDGenerator(rng),
	}
	if schema == SchemaExtended {
		g.filler = strings.Repeat("loadgen ", fillerLength/8)
	}
	return g
}

// Next は次のドキュメントを生成する
func (g *Generator) Next() Record {
	id := g.ids.Next()

	switch g.schema {
	case SchemaExtended:
		n := g.inserted
		g.inserted++
		random := g.rng.Int32()
		return Extended{
			ID:      id,
			Rising:  n,
			Falling: RisingFallingTotal - n,
			Random:  random,
			LowCard: random % LowCardinality,
			OtherID: id,
			Sub: SubDocument{
				Text: g.filler,
				ID:   id,
			},
		}
	default:
		g.inserted++
		return Minimal{
			ID:     id,
			Sensor: g.rng.Int64(),
			Value:  int32(g.rng.IntN(ValueBound)),
		}
	}
}

// QueryKey はReader用のsensor値を返す
// 書き込み済みデータとは無関係に生成されるため、ほぼ一致しない
func (g *Generator) QueryKey() int64 {
	return g.rng.Int64()
}

// Generated はこれまでに生成した件数を返す
func (g *Generator) Generated() int64 {
	return g.inserted
}

// Schema は生成中のスキーマを返す
func (g *Generator) Schema() Schema {
	return g.schema
}

// String はデバッグ用の表現を返す
func (g *Generator) String() string {
	return fmt.Sprintf("generator(%s, %d generated)", g.schema, g.inserted)
}
