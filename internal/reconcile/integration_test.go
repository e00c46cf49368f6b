package reconcile

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/todosync/todosync/internal/item"
	"github.com/todosync/todosync/internal/persist"
	"github.com/todosync/todosync/internal/remote"
)

func newServerEngine(t *testing.T, format persist.Format) (*Engine, *remote.Server) {
	t.Helper()
	srv := remote.NewServer(remote.ServerOptions{Token: "tok"})
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)

	c, err := remote.New(remote.Options{BaseURL: hs.URL, Token: "tok"})
	if err != nil {
		t.Fatal(err)
	}
	p, err := persist.New(format, t.TempDir(), "TodoItems", quiet)
	if err != nil {
		t.Fatal(err)
	}
	e := New(nil, p, c, &Config{Logger: quiet})
	t.Cleanup(func() { _ = e.Close() })
	return e, srv
}

func TestEngine_AgainstServer(t *testing.T) {
	for _, format := range []persist.Format{persist.FormatJSON, persist.FormatSQLite} {
		t.Run(string(format), func(t *testing.T) {
			e, srv := newServerEngine(t, format)
			ctx := context.Background()

			srv.Seed([]item.Item{item.New("from phone", item.WithID("P"), item.WithCreationDate(created))})
			if err := e.Open(ctx); err != nil {
				t.Fatal(err)
			}
			if e.State() != Clean || e.Revision() != 1 {
				t.Fatalf("after open: state %s rev %d", e.State(), e.Revision())
			}

			task, err := e.CreateOrUpdate(ctx, item.New("laptop", item.WithID("L"), item.WithCreationDate(created)))
			if err != nil {
				t.Fatal(err)
			}
			if err := task.Wait(); err != nil {
				t.Fatalf("create failed: %v", err)
			}
			if !sameIDs(srv.Snapshot(), "P", "L") || e.Revision() != 2 {
				t.Fatalf("server = %v rev %d", ids(srv.Snapshot()), e.Revision())
			}

			// Edit while the server is down: kept locally, engine dirty.
			srv.SetOffline(true)
			task, _ = e.Toggle(ctx, "P")
			if err := task.Wait(); !errors.Is(err, remote.ErrRemote) {
				t.Fatalf("toggle while offline = %v", err)
			}
			if e.State() != Dirty {
				t.Fatalf("state = %s, want dirty", e.State())
			}

			// Next mutation after recovery pushes everything.
			srv.SetOffline(false)
			task, _ = e.Delete(ctx, "L")
			if err := task.Wait(); err != nil {
				t.Fatalf("recovery push failed: %v", err)
			}
			if e.State() != Clean {
				t.Errorf("state = %s, want clean", e.State())
			}
			snap := srv.Snapshot()
			if !sameIDs(snap, "P") || !snap[0].IsDone {
				t.Errorf("server = %+v, want toggled P only", snap)
			}
		})
	}
}

// Another client bumps the revision: the next single-item call is rejected
// and treated like any other failure.
func TestEngine_StaleRevisionCollapsesToDirty(t *testing.T) {
	e, srv := newServerEngine(t, persist.FormatJSON)
	ctx := context.Background()

	if err := e.Open(ctx); err != nil {
		t.Fatal(err)
	}
	srv.Seed([]item.Item{item.New("elsewhere", item.WithID("O"), item.WithCreationDate(created))})

	task, _ := e.CreateOrUpdate(ctx, item.New("mine", item.WithID("M"), item.WithCreationDate(created)))
	if err := task.Wait(); !errors.Is(err, remote.ErrConflict) {
		t.Fatalf("create with stale revision = %v, want conflict", err)
	}
	if e.State() != Dirty {
		t.Fatalf("state = %s, want dirty", e.State())
	}

	if err := e.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	// The fetch succeeded, so the engine is clean even though M exists
	// only locally; an explicit Sync sends it.
	if !sameIDs(e.CurrentItems(), "M", "O") || e.State() != Clean {
		t.Errorf("items = %v state %s", ids(e.CurrentItems()), e.State())
	}
	if err := e.Sync(ctx); err != nil {
		t.Fatal(err)
	}
	if e.State() != Clean || len(srv.Snapshot()) != 2 {
		t.Errorf("after sync: state %s, server %v", e.State(), ids(srv.Snapshot()))
	}
}

func TestEngine_SnapshotSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	srv := remote.NewServer(remote.ServerOptions{})
	hs := httptest.NewServer(srv.Handler())
	defer hs.Close()
	ctx := context.Background()

	open := func() *Engine {
		c, err := remote.New(remote.Options{BaseURL: hs.URL})
		if err != nil {
			t.Fatal(err)
		}
		p := persist.NewCSVFile(filepath.Join(dir, "TodoItems.csv"), quiet)
		return New(nil, p, c, &Config{Logger: quiet})
	}

	first := open()
	if err := first.Open(ctx); err != nil {
		t.Fatal(err)
	}
	srv.SetOffline(true)
	task, _ := first.CreateOrUpdate(ctx, item.New("offline note", item.WithID("N"), item.WithCreationDate(created)))
	_ = task.Wait()
	_ = first.Close()

	// Restart, still offline: the snapshot is the source of truth.
	second := open()
	defer second.Close()
	if err := second.Open(ctx); err != nil {
		t.Fatalf("Open offline with snapshot = %v", err)
	}
	if !sameIDs(second.CurrentItems(), "N") || second.State() != Dirty {
		t.Errorf("items = %v state %s", ids(second.CurrentItems()), second.State())
	}

	// The server comes back: the next mutation pushes everything.
	srv.SetOffline(false)
	task, _ = second.CreateOrUpdate(ctx, item.New("back online", item.WithID("B"), item.WithCreationDate(created)))
	if task.Op != OpPushAll {
		t.Errorf("task op = %s, want push", task.Op)
	}
	if err := task.Wait(); err != nil {
		t.Fatal(err)
	}
	if !sameIDs(srv.Snapshot(), "N", "B") || second.State() != Clean {
		t.Errorf("server = %v state %s", ids(srv.Snapshot()), second.State())
	}
}

func TestEngine_DeletedElsewhereStaysDeleted(t *testing.T) {
	dir := t.TempDir()
	srv := remote.NewServer(remote.ServerOptions{})
	hs := httptest.NewServer(srv.Handler())
	defer hs.Close()
	ctx := context.Background()

	open := func() *Engine {
		c, err := remote.New(remote.Options{BaseURL: hs.URL})
		if err != nil {
			t.Fatal(err)
		}
		return New(nil, persist.NewJSONFile(filepath.Join(dir, "TodoItems.json"), quiet), c, &Config{Logger: quiet})
	}

	srv.Seed([]item.Item{
		item.New("a", item.WithID("A"), item.WithCreationDate(created)),
		item.New("b", item.WithID("B"), item.WithCreationDate(created)),
	})
	first := open()
	if err := first.Open(ctx); err != nil {
		t.Fatal(err)
	}
	_ = first.Close()

	// Another device removes B.
	other, err := remote.New(remote.Options{BaseURL: hs.URL})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := other.FetchAll(ctx); err != nil {
		t.Fatal(err)
	}
	if _, _, err := other.DeleteItem(ctx, "B"); err != nil {
		t.Fatal(err)
	}

	second := open()
	defer second.Close()
	if err := second.Open(ctx); err != nil {
		t.Fatal(err)
	}
	if !sameIDs(second.CurrentItems(), "A") || second.State() != Clean {
		t.Fatalf("after Open: items %v state %s", ids(second.CurrentItems()), second.State())
	}
	task, _ := second.Toggle(ctx, "A")
	if err := task.Wait(); err != nil {
		t.Fatal(err)
	}
	if snap := srv.Snapshot(); !sameIDs(snap, "A") || !snap[0].IsDone {
		t.Errorf("server = %+v, want toggled A only", snap)
	}
}
