// Package worker provides the three load-generating worker roles.
//
// A Writer generates records and inserts them, either one at a time or in
// bulk through a Batcher. A Reader ensures the sensor index exists and then
// issues bounded exact-match queries with random keys. A Sampler opens a
// fresh connection on every iteration, counts the collection, prints the
// count and sleeps.
//
// # Basic Usage
//
//	opts := worker.Options{
//	    SlowThreshold: 2 * time.Second,
//	    BatchSize:     1000,
//	}
//	w := worker.NewWriter("writer-1", dialer, opts)
//	failure := worker.Execute(ctx, w) // blocks until the writer dies
//	fmt.Println(failure.Kind, failure.Err)
//
// # Lifecycle
//
// Every worker is Running from construction and moves to Terminated
// exactly once, when Run returns a *Failure. There is no restart and no
// stop request: the only exits are a store error, a canceled context or a
// recovered panic.
//
// # Ownership
//
// A worker owns its connection, its record generator and (for writers)
// its batch buffer. Nothing is shared between workers except the store.
package worker
