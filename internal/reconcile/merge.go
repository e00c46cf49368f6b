package reconcile

import (
	"fmt"
	"strings"

	"github.com/todosync/todosync/internal/item"
)

// MergeStrategy folds a remote list into the local store.
type MergeStrategy interface {
	// Merge applies remote to store. Items only present locally are kept.
	Merge(store *item.Store, remote []item.Item)

	// Name identifies the strategy in configuration and logs.
	Name() string
}

// RemoteAuthoritative upserts every remote item over its local counterpart.
// A local edit made concurrently with another device's edit of the same item
// is discarded.
type RemoteAuthoritative struct{}

func (RemoteAuthoritative) Merge(store *item.Store, remote []item.Item) {
	for _, it := range remote {
		store.Upsert(it)
	}
}

func (RemoteAuthoritative) Name() string { return "remote" }

// LastWriterWins keeps whichever copy of an item changed last, comparing
// modification dates (creation dates for never modified items). Ties go to
// the remote. Remote timestamps have one second resolution, so a local edit
// within the same second as a remote one wins.
type LastWriterWins struct{}

func (LastWriterWins) Merge(store *item.Store, remote []item.Item) {
	for _, r := range remote {
		if l, ok := store.Get(r.ID); ok && r.LastChanged().Before(l.LastChanged()) {
			continue
		}
		store.Upsert(r)
	}
}

func (LastWriterWins) Name() string { return "lww" }

// ParseStrategy returns the strategy named s ("remote" or "lww").
// The empty string selects RemoteAuthoritative.
func ParseStrategy(s string) (MergeStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "remote", "remote-authoritative":
		return RemoteAuthoritative{}, nil
	case "lww", "last-writer-wins":
		return LastWriterWins{}, nil
	}
	return nil, fmt.Errorf("unknown merge strategy %q (want remote or lww)", s)
}
