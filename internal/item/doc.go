// Package item defines the to-do item model and the in-memory item store.
//
// # Items
//
// An Item is identified by an opaque ID assigned on the client when the item
// is created. The ID never changes; every other field except CreationDate is
// mutable:
//
//	it := item.New("Buy milk",
//	    item.WithImportance(item.Important),
//	    item.WithDeadline(time.Now().Add(24*time.Hour)),
//	)
//
// # Store
//
// Store keeps items keyed by ID in insertion order. Every write is an upsert:
// an unseen ID is appended, a known ID is replaced at its current position.
//
//	store := item.NewStore()
//	store.Upsert(it)
//	store.Remove(it.ID) // no-op when absent
//	done := store.Count(item.Completed)
//
// The store holds no locks. Callers that share a store between goroutines
// must serialize access themselves (the reconcile engine does).
package item
