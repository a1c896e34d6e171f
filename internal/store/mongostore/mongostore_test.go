package mongostore

import (
	"context"
	"fmt"
	"math"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"mongo-loadgen/internal/record"
	"mongo-loadgen/internal/store"
)

// MONGOLOAD_TEST_URI が設定されている場合のみ実サーバーに接続する
func testDialer(t *testing.T) *Dialer {
	t.Helper()

	uri := os.Getenv("MONGOLOAD_TEST_URI")
	if uri == "" {
		t.Skip("MONGOLOAD_TEST_URI not set")
	}
	return NewDialer(Options{
		URI:            uri,
		Database:       "mongoload_test",
		Collection:     fmt.Sprintf("data_%s", uuid.NewString()),
		AppName:        "mongoload-test",
		ConnectTimeout: 5 * time.Second,
	})
}

func TestDialUnreachable(t *testing.T) {
	d := NewDialer(Options{
		URI:            "mongodb://127.0.0.1:1",
		Database:       "ctest",
		Collection:     "data",
		ConnectTimeout: 200 * time.Millisecond,
	})

	_, err := d.Dial(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrUnavailable)
}

func TestBatchSizeFitsInt32(t *testing.T) {
	assert.Equal(t, int32(5), batchSize(5))
	assert.Equal(t, int32(math.MaxInt32), batchSize(math.MaxInt32))
	assert.Equal(t, int32(math.MaxInt32), batchSize(math.MaxInt32+1))
}

func TestDialMalformedURI(t *testing.T) {
	d := NewDialer(Options{URI: "not-a-uri", Database: "ctest", Collection: "data"})

	_, err := d.Dial(context.Background())
	assert.Error(t, err)
}

func TestStoreRoundTrip(t *testing.T) {
	d := testDialer(t)
	ctx := context.Background()

	st, err := d.Dial(ctx)
	require.NoError(t, err)
	defer func() { _ = st.Close(ctx) }()

	ms := st.(*Store)
	defer func() { _ = ms.coll.Drop(ctx) }()

	gen := record.NewGenerator(record.SchemaMinimal, record.NewSource())
	require.NoError(t, st.InsertOne(ctx, gen.Next()))

	batch := make([]any, 0, 10)
	for range 10 {
		batch = append(batch, gen.Next())
	}
	require.NoError(t, st.InsertMany(ctx, batch))

	n, err := st.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)

	spec := store.IndexSpec{Field: record.SensorField}
	require.NoError(t, st.EnsureIndex(ctx, spec))
	require.NoError(t, st.EnsureIndex(ctx, spec), "re-creating an identical index is not an error")

	target := batch[3].(record.Minimal)
	cur, err := st.Find(ctx, store.Filter{Field: record.SensorField, Value: target.Sensor}, 5)
	require.NoError(t, err)
	found := 0
	for cur.Next(ctx) {
		found++
	}
	require.NoError(t, cur.Err())
	require.NoError(t, cur.Close(ctx))
	assert.GreaterOrEqual(t, found, 1)
}

func TestInsertDuplicateIDFails(t *testing.T) {
	d := testDialer(t)
	ctx := context.Background()

	st, err := d.Dial(ctx)
	require.NoError(t, err)
	defer func() { _ = st.Close(ctx) }()
	defer func() { _ = st.(*Store).coll.Drop(ctx) }()

	doc := record.Minimal{ID: primitive.NewObjectID(), Sensor: 1, Value: 2}
	require.NoError(t, st.InsertOne(ctx, doc))
	assert.Error(t, st.InsertOne(ctx, doc))
}
