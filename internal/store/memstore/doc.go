// Package memstore provides an in-memory document store that satisfies the
// store contract.
//
// A Server holds one collection of BSON documents. Each Dial returns a new
// connection; connections are cheap but are counted so callers can verify
// connection lifetimes.
//
// # Basic Usage
//
//	srv := memstore.New("mem-1")
//	st, err := srv.Dial(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close(ctx)
//
//	_ = st.InsertOne(ctx, record.Minimal{ID: primitive.NewObjectID(), Sensor: 7})
//	n, _ := st.Count(ctx)
//
// # Fault Injection
//
// InjectFault queues a one-shot error for the next call of an operation.
// SetDelay slows every operation down. Stop makes every subsequent
// operation, including Dial, fail with store.ErrUnavailable.
//
// # Thread Safety
//
// A Server is safe for concurrent use by many connections. A single
// connection, like a driver client, is owned by one worker.
package memstore
