// Package supervisor spawns the worker pool and reaps its members.
//
// A Supervisor is built from a config.Config and a store.Dialer. It creates
// the configured number of writers, readers and samplers, in that order,
// and runs each one as an independent goroutine. A worker that fails is
// logged and reported on the event bus; it is never restarted and no other
// worker is affected.
//
// # Basic Usage
//
//	sup, err := supervisor.New(config.Default(), mongostore.NewDialer(opts))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Blocks until every worker has terminated
//	failures, err := sup.Run(context.Background())
//
// # Observing a Run
//
// Pass WithEventBus to receive worker_started, worker_terminated and sample
// events. Subscribers with a small buffer may miss events in large pools;
// Bus.Dropped reports how many were skipped.
package supervisor
