// Package reconcile keeps a local item collection in step with the remote
// list service.
//
// # Overview
//
// An Engine owns the local Item Store, a durable snapshot (persist.Persister)
// and a remote client. Local mutations are applied to the store and written
// to disk before the call returns; the remote is updated asynchronously:
//
//	CreateOrUpdate / Delete / Toggle
//	     │
//	     ├── store.Upsert / store.Remove      (synchronous)
//	     ├── persister.Save                   (synchronous, error returned)
//	     └── goroutine                        (*Task handle)
//	            ├── Clean → create | replace | delete one item
//	            └── Dirty → push the whole collection, adopt the result
//
// # States
//
// The engine is either Clean (local matched remote when last observed) or
// Dirty (divergence suspected). It starts Dirty. Any remote failure makes it
// Dirty, a stale-revision rejection included; only a successful full
// exchange (Refresh, Sync, or the push triggered by a mutation while Dirty)
// makes it Clean again. There is no retry timer: recovery happens on the
// next mutation or refresh.
//
// # Merging
//
// Full exchanges fold the remote list into the store through a
// MergeStrategy. RemoteAuthoritative, the default, lets every remote item
// overwrite its local copy. LastWriterWins compares modification dates
// instead. Items that exist only locally are kept, and the engine is Clean
// after any successful exchange.
//
// Open fetches first and reads the snapshot only when the remote is
// unreachable, so the remote list is what a fresh engine starts from.
// A later failed Refresh does not reload the snapshot over items already in
// memory.
//
// # Usage
//
//	p, _ := persist.New(persist.FormatJSON, dir, "TodoItems", nil)
//	c, _ := remote.New(remote.Options{BaseURL: url, Token: token})
//	engine := reconcile.New(item.NewStore(), p, c, nil)
//	if err := engine.Open(ctx); err != nil {
//	    return err // neither the remote nor a local snapshot was readable
//	}
//	task, err := engine.CreateOrUpdate(ctx, item.New("Buy milk"))
//	if err != nil {
//	    log.Printf("saved in memory only: %v", err)
//	}
//	_ = task.Wait() // remote outcome; failures only mark the engine Dirty
//
// # Concurrency
//
// Engine methods expect a single caller at a time, matching one stream of
// user actions. Remote tasks run concurrently with later mutations and may
// finish out of order; each takes the engine lock only to touch the store,
// snapshot and tracker.
package reconcile
