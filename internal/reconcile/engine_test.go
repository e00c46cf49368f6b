package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/todosync/todosync/internal/item"
	"github.com/todosync/todosync/internal/persist"
	"github.com/todosync/todosync/internal/remote"
)

var (
	created = time.Date(2023, 6, 1, 9, 30, 0, 0, time.UTC)
	quiet   = log.New(io.Discard, "", 0)
)

// fakeRemote is an in-process stand-in for remote.Client.
type fakeRemote struct {
	mu       sync.Mutex
	list     []item.Item
	revision int64
	fail     error
	calls    []string
	pushed   [][]item.Item

	// pushResult, if set, is the list PushAll stores and returns instead of
	// echoing the pushed items.
	pushResult []item.Item

	// createGate, if set, blocks CreateItem until closed.
	createGate chan struct{}
}

var errNetwork = &remote.Error{Op: "test", Err: errors.New("connection refused")}

func (f *fakeRemote) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.fail
}

func (f *fakeRemote) setFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
}

func (f *fakeRemote) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRemote) FetchAll(ctx context.Context) ([]item.Item, int64, error) {
	if err := f.record("fetch"); err != nil {
		return nil, 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]item.Item(nil), f.list...), f.revision, nil
}

func (f *fakeRemote) PushAll(ctx context.Context, items []item.Item) ([]item.Item, int64, error) {
	if err := f.record("push"); err != nil {
		return nil, 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, append([]item.Item(nil), items...))
	f.list = append([]item.Item(nil), items...)
	if f.pushResult != nil {
		f.list = append([]item.Item(nil), f.pushResult...)
	}
	f.revision++
	return append([]item.Item(nil), f.list...), f.revision, nil
}

func (f *fakeRemote) CreateItem(ctx context.Context, it item.Item) (item.Item, int64, error) {
	if f.createGate != nil {
		<-f.createGate
	}
	if err := f.record("create:" + it.ID); err != nil {
		return item.Item{}, 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.list = append(f.list, it)
	f.revision++
	return it, f.revision, nil
}

func (f *fakeRemote) ReplaceItem(ctx context.Context, it item.Item) (item.Item, int64, error) {
	if err := f.record("replace:" + it.ID); err != nil {
		return item.Item{}, 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.list {
		if f.list[i].ID == it.ID {
			f.list[i] = it
			f.revision++
			return it, f.revision, nil
		}
	}
	return item.Item{}, 0, &remote.Error{Op: "replace", StatusCode: http.StatusNotFound}
}

func (f *fakeRemote) DeleteItem(ctx context.Context, id string) (item.Item, int64, error) {
	if err := f.record("delete:" + id); err != nil {
		return item.Item{}, 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.list {
		if f.list[i].ID == id {
			deleted := f.list[i]
			f.list = append(f.list[:i], f.list[i+1:]...)
			f.revision++
			return deleted, f.revision, nil
		}
	}
	return item.Item{}, 0, &remote.Error{Op: "delete", StatusCode: http.StatusNotFound}
}

func (f *fakeRemote) Revision() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revision
}

// failingPersister fails every Save.
type failingPersister struct{ persist.Persister }

func (failingPersister) Save(ctx context.Context, items []item.Item) error {
	return fmt.Errorf("%w: disk full", persist.ErrIO)
}

// limitedPersister saves successfully a fixed number of times, then fails.
type limitedPersister struct {
	persist.Persister
	mu   sync.Mutex
	left int
}

func (p *limitedPersister) Save(ctx context.Context, items []item.Item) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.left == 0 {
		return fmt.Errorf("%w: disk full", persist.ErrIO)
	}
	p.left--
	return p.Persister.Save(ctx, items)
}

func newTestEngine(t *testing.T, r Remote) (*Engine, persist.Persister) {
	t.Helper()
	p := persist.NewJSONFile(filepath.Join(t.TempDir(), "TodoItems.json"), quiet)
	e := New(nil, p, r, &Config{Logger: quiet})
	t.Cleanup(func() { _ = e.Close() })
	return e, p
}

func ids(items []item.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func sameIDs(a []item.Item, want ...string) bool {
	got := ids(a)
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestEngine_InitialStateIsDirty(t *testing.T) {
	e, _ := newTestEngine(t, &fakeRemote{})
	if e.State() != Dirty {
		t.Errorf("new engine state = %s, want dirty", e.State())
	}
}

// Empty store, remote holds two items at revision 5.
func TestEngine_RefreshAdoptsRemote(t *testing.T) {
	r := &fakeRemote{
		list: []item.Item{
			item.New("one", item.WithID("A"), item.WithCreationDate(created)),
			item.New("two", item.WithID("B"), item.WithCreationDate(created)),
		},
		revision: 5,
	}
	e, p := newTestEngine(t, r)

	if err := e.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if !sameIDs(e.CurrentItems(), "A", "B") {
		t.Errorf("items = %v, want [A B]", ids(e.CurrentItems()))
	}
	if e.State() != Clean {
		t.Errorf("state = %s, want clean", e.State())
	}
	if e.Revision() != 5 {
		t.Errorf("revision = %d, want 5", e.Revision())
	}

	saved, err := p.Load(context.Background())
	if err != nil || !sameIDs(saved, "A", "B") {
		t.Errorf("snapshot = %v, %v; want [A B]", ids(saved), err)
	}
}

func TestEngine_RefreshIsIdempotent(t *testing.T) {
	r := &fakeRemote{
		list:     []item.Item{item.New("one", item.WithID("A"), item.WithCreationDate(created))},
		revision: 3,
	}
	e, _ := newTestEngine(t, r)
	ctx := context.Background()

	if err := e.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	before, rev := e.CurrentItems(), e.Revision()

	if err := e.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	after := e.CurrentItems()
	if len(before) != len(after) || !before[0].Equal(after[0]) || e.Revision() != rev {
		t.Errorf("second refresh changed state: %v@%d -> %v@%d", before, rev, after, e.Revision())
	}
	if e.State() != Clean {
		t.Errorf("state = %s, want clean", e.State())
	}
}

// Clean engine, edit fails remotely: Dirty, edit retained.
func TestEngine_FailedReplaceMarksDirty(t *testing.T) {
	x := item.New("original", item.WithID("X"), item.WithCreationDate(created))
	r := &fakeRemote{list: []item.Item{x}, revision: 1}
	e, p := newTestEngine(t, r)
	ctx := context.Background()

	if err := e.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	r.setFail(errNetwork)

	x.Text = "edited"
	task, err := e.CreateOrUpdate(ctx, x.Touch(created.Add(time.Hour)))
	if err != nil {
		t.Fatalf("CreateOrUpdate failed: %v", err)
	}
	if task.Op != OpReplace {
		t.Errorf("task op = %s, want replace", task.Op)
	}
	if err := task.Wait(); !errors.Is(err, remote.ErrRemote) {
		t.Errorf("task error = %v, want remote error", err)
	}

	calls := r.Calls()
	if last := calls[len(calls)-1]; last != "replace:X" {
		t.Errorf("last call = %s, want replace:X", last)
	}
	if e.State() != Dirty {
		t.Errorf("state = %s, want dirty", e.State())
	}
	if got, _ := e.Get("X"); got.Text != "edited" {
		t.Errorf("local edit lost: %+v", got)
	}
	saved, _ := p.Load(ctx)
	if len(saved) != 1 || saved[0].Text != "edited" {
		t.Errorf("edit not persisted: %+v", saved)
	}
}

// Dirty engine, create pushes the whole collection and adopts the result.
func TestEngine_DirtyMutationPushesAll(t *testing.T) {
	r := &fakeRemote{revision: 8}
	e, _ := newTestEngine(t, r)
	ctx := context.Background()

	// Populate locally while the remote is unreachable.
	r.setFail(errNetwork)
	existing := item.New("existing", item.WithID("E"), item.WithCreationDate(created))
	task, err := e.CreateOrUpdate(ctx, existing)
	if err != nil {
		t.Fatal(err)
	}
	_ = task.Wait()
	r.setFail(nil)

	y := item.New("new", item.WithID("Y"), item.WithCreationDate(created))
	task, err = e.CreateOrUpdate(ctx, y)
	if err != nil {
		t.Fatal(err)
	}
	if task.Op != OpPushAll {
		t.Errorf("task op = %s, want push", task.Op)
	}
	if err := task.Wait(); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	if len(r.pushed) != 1 || !sameIDs(r.pushed[0], "E", "Y") {
		t.Fatalf("pushed = %v, want one push of [E Y]", r.pushed)
	}
	if !sameIDs(e.CurrentItems(), "E", "Y") {
		t.Errorf("items = %v, want [E Y]", ids(e.CurrentItems()))
	}
	if e.State() != Clean {
		t.Errorf("state = %s, want clean", e.State())
	}
	if e.Revision() != 9 {
		t.Errorf("revision = %d, want 9", e.Revision())
	}
}

// Deleting an item whose create is still in flight: the remote delete is
// attempted, fails, and the item stays deleted locally.
func TestEngine_DeleteUnpushedItem(t *testing.T) {
	gate := make(chan struct{})
	r := &fakeRemote{revision: 1, createGate: gate}
	e, _ := newTestEngine(t, r)
	ctx := context.Background()

	if err := e.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	y := item.New("never pushed", item.WithID("Y"), item.WithCreationDate(created))
	createTask, err := e.CreateOrUpdate(ctx, y)
	if err != nil {
		t.Fatal(err)
	}

	deleteTask, err := e.Delete(ctx, "Y")
	if err != nil {
		t.Fatal(err)
	}
	if deleteTask.Op != OpDelete {
		t.Errorf("task op = %s, want delete", deleteTask.Op)
	}
	if err := deleteTask.Wait(); !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("delete error = %v, want not found", err)
	}
	if e.State() != Dirty {
		t.Errorf("state = %s, want dirty", e.State())
	}

	close(gate)
	_ = createTask.Wait()

	if _, ok := e.Get("Y"); ok {
		t.Error("deleted item must stay absent locally")
	}
	if e.State() != Dirty {
		t.Errorf("state after create completes = %s, want dirty", e.State())
	}
}

func TestEngine_CleanCreateAndDelete(t *testing.T) {
	r := &fakeRemote{}
	e, _ := newTestEngine(t, r)
	ctx := context.Background()

	if err := e.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	a := item.New("a", item.WithID("A"), item.WithCreationDate(created))
	task, _ := e.CreateOrUpdate(ctx, a)
	if task.Op != OpCreate || task.Wait() != nil {
		t.Fatalf("create task = %s, %v", task.Op, task.Err())
	}
	task, _ = e.Delete(ctx, "A")
	if task.Wait() != nil {
		t.Fatalf("delete failed: %v", task.Err())
	}

	want := []string{"fetch", "create:A", "delete:A"}
	if got := r.Calls(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
	if e.State() != Clean {
		t.Errorf("state = %s, want clean", e.State())
	}
}

func TestEngine_RefreshFailureFallsBackToSnapshot(t *testing.T) {
	r := &fakeRemote{fail: errNetwork}
	e, p := newTestEngine(t, r)
	ctx := context.Background()

	snapshot := []item.Item{item.New("offline", item.WithID("S"), item.WithCreationDate(created))}
	if err := p.Save(ctx, snapshot); err != nil {
		t.Fatal(err)
	}

	if err := e.Refresh(ctx); err != nil {
		t.Fatalf("Refresh with snapshot should succeed, got %v", err)
	}
	if !sameIDs(e.CurrentItems(), "S") {
		t.Errorf("items = %v, want [S]", ids(e.CurrentItems()))
	}
	if e.State() != Dirty {
		t.Errorf("state = %s, want dirty", e.State())
	}
	if !errors.Is(e.DirtyReason(), remote.ErrRemote) {
		t.Errorf("dirty reason = %v", e.DirtyReason())
	}
}

func TestEngine_RefreshWithoutAnyData(t *testing.T) {
	e, _ := newTestEngine(t, &fakeRemote{fail: errNetwork})

	err := e.Refresh(context.Background())
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("Refresh = %v, want ErrNoData", err)
	}
	if !errors.Is(err, persist.ErrNotFound) {
		t.Errorf("ErrNoData should wrap the load error, got %v", err)
	}
}

// The server answers a push with its own list: one item normalised, one
// added by another client. Each returned item is upserted and the engine is
// clean, including the local-only item the server did not echo.
func TestEngine_DirtyPushAdoptsServerList(t *testing.T) {
	r := &fakeRemote{revision: 8}
	e, p := newTestEngine(t, r)
	ctx := context.Background()

	r.setFail(errNetwork)
	x := item.New("local", item.WithID("X"), item.WithCreationDate(created))
	task, _ := e.CreateOrUpdate(ctx, x)
	_ = task.Wait()
	r.setFail(nil)

	r.pushResult = []item.Item{
		item.New("new (normalised)", item.WithID("Y"), item.WithCreationDate(created)),
		item.New("from another client", item.WithID("Z"), item.WithCreationDate(created)),
	}
	task, _ = e.CreateOrUpdate(ctx, item.New("new", item.WithID("Y"), item.WithCreationDate(created)))
	if task.Op != OpPushAll {
		t.Fatalf("task op = %s, want push", task.Op)
	}
	if err := task.Wait(); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	if e.State() != Clean {
		t.Errorf("state = %s (%v), want clean", e.State(), e.DirtyReason())
	}
	if e.Revision() != 9 {
		t.Errorf("revision = %d, want 9", e.Revision())
	}
	if !sameIDs(e.CurrentItems(), "X", "Y", "Z") {
		t.Errorf("items = %v, want [X Y Z]", ids(e.CurrentItems()))
	}
	if got, _ := e.Get("Y"); got.Text != "new (normalised)" {
		t.Errorf("Y = %q, want the server's copy", got.Text)
	}
	saved, _ := p.Load(ctx)
	if !sameIDs(saved, "X", "Y", "Z") {
		t.Errorf("snapshot = %v", ids(saved))
	}
}

func TestEngine_RefreshWithLocalOnlyItemsIsClean(t *testing.T) {
	r := &fakeRemote{fail: errNetwork}
	e, _ := newTestEngine(t, r)
	ctx := context.Background()

	task, _ := e.CreateOrUpdate(ctx, item.New("made offline", item.WithID("L"), item.WithCreationDate(created)))
	_ = task.Wait()

	r.setFail(nil)
	r.list = []item.Item{item.New("remote", item.WithID("R"), item.WithCreationDate(created))}
	r.revision = 2
	if err := e.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if !sameIDs(e.CurrentItems(), "L", "R") {
		t.Errorf("items = %v, want [L R]", ids(e.CurrentItems()))
	}
	if e.State() != Clean {
		t.Errorf("state = %s (%v), want clean", e.State(), e.DirtyReason())
	}
}

// An item deleted on another device is still in this device's snapshot.
// Open must start from the remote list so the item is not pushed back.
func TestEngine_OpenPrefersRemoteOverSnapshot(t *testing.T) {
	a := item.New("a", item.WithID("A"), item.WithCreationDate(created))
	b := item.New("b", item.WithID("B"), item.WithCreationDate(created))
	r := &fakeRemote{list: []item.Item{a}, revision: 3}
	e, p := newTestEngine(t, r)
	ctx := context.Background()

	if err := p.Save(ctx, []item.Item{a, b}); err != nil {
		t.Fatal(err)
	}
	if err := e.Open(ctx); err != nil {
		t.Fatal(err)
	}
	if !sameIDs(e.CurrentItems(), "A") || e.State() != Clean {
		t.Fatalf("after Open: items %v state %s", ids(e.CurrentItems()), e.State())
	}

	task, _ := e.Toggle(ctx, "A")
	if task.Op != OpReplace {
		t.Errorf("task op = %s, want replace", task.Op)
	}
	if err := task.Wait(); err != nil {
		t.Fatal(err)
	}
	if !sameIDs(r.list, "A") || len(r.pushed) != 0 {
		t.Errorf("remote = %v, pushes %d; B must stay deleted", ids(r.list), len(r.pushed))
	}
	saved, _ := p.Load(ctx)
	if !sameIDs(saved, "A") {
		t.Errorf("snapshot = %v, want [A]", ids(saved))
	}
}

// An edit whose save failed lives only in memory. A failed Refresh must not
// bring the older snapshot copy back over it.
func TestEngine_FailedRefreshKeepsUnsavedEdit(t *testing.T) {
	x := item.New("old", item.WithID("X"), item.WithCreationDate(created))
	r := &fakeRemote{list: []item.Item{x}, revision: 1}
	p := &limitedPersister{
		Persister: persist.NewJSONFile(filepath.Join(t.TempDir(), "TodoItems.json"), quiet),
		left:      1,
	}
	e := New(nil, p, r, &Config{Logger: quiet})
	t.Cleanup(func() { _ = e.Close() })
	ctx := context.Background()

	if err := e.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	r.setFail(errNetwork)

	x.Text = "new"
	task, err := e.CreateOrUpdate(ctx, x.Touch(created.Add(time.Hour)))
	if !errors.Is(err, persist.ErrIO) {
		t.Fatalf("CreateOrUpdate error = %v, want ErrIO", err)
	}
	_ = task.Wait()

	if err := e.Refresh(ctx); err != nil {
		t.Fatalf("Refresh = %v, want nil", err)
	}
	if got, _ := e.Get("X"); got.Text != "new" {
		t.Errorf("X = %q after failed refresh, want the unsaved edit", got.Text)
	}
	if e.State() != Dirty {
		t.Errorf("state = %s, want dirty", e.State())
	}
}

func TestEngine_SaveErrorKeepsMemoryChange(t *testing.T) {
	r := &fakeRemote{}
	p := failingPersister{persist.NewJSONFile(filepath.Join(t.TempDir(), "x.json"), quiet)}
	e := New(nil, p, r, &Config{Logger: quiet})
	defer e.Wait()

	task, err := e.CreateOrUpdate(context.Background(), item.New("kept", item.WithID("K")))
	if !errors.Is(err, persist.ErrIO) {
		t.Errorf("CreateOrUpdate error = %v, want ErrIO", err)
	}
	if task == nil {
		t.Fatal("remote task must still start when the save fails")
	}
	if _, ok := e.Get("K"); !ok {
		t.Error("in-memory change must survive a failed save")
	}
}

func TestEngine_RejectsInvalidItem(t *testing.T) {
	r := &fakeRemote{}
	e, _ := newTestEngine(t, r)

	_, err := e.CreateOrUpdate(context.Background(), item.New("   "))
	if !errors.Is(err, item.ErrInvalid) {
		t.Errorf("error = %v, want ErrInvalid", err)
	}
	if len(e.CurrentItems()) != 0 || len(r.Calls()) != 0 {
		t.Error("invalid item must not be applied or sent")
	}
}

func TestEngine_Toggle(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	r := &fakeRemote{}
	p := persist.NewJSONFile(filepath.Join(t.TempDir(), "t.json"), quiet)
	e := New(nil, p, r, &Config{Logger: quiet, Now: func() time.Time { return now }})
	defer e.Wait()
	ctx := context.Background()

	if _, err := e.Toggle(ctx, "missing"); !errors.Is(err, ErrUnknownItem) {
		t.Errorf("Toggle(missing) = %v, want ErrUnknownItem", err)
	}

	task, _ := e.CreateOrUpdate(ctx, item.New("t", item.WithID("T"), item.WithCreationDate(created)))
	_ = task.Wait()
	if _, err := e.Toggle(ctx, "T"); err != nil {
		t.Fatal(err)
	}

	got, _ := e.Get("T")
	if !got.IsDone || got.ModificationDate == nil || !got.ModificationDate.Equal(now) {
		t.Errorf("toggled item = %+v", got)
	}
	if e.CompletedCount() != 1 {
		t.Errorf("CompletedCount() = %d, want 1", e.CompletedCount())
	}
}

func TestEngine_WithoutRemote(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()

	if err := e.Refresh(ctx); !errors.Is(err, ErrNoData) {
		t.Errorf("Refresh = %v, want ErrNoData", err)
	}
	task, err := e.CreateOrUpdate(ctx, item.New("local only"))
	if err != nil {
		t.Fatal(err)
	}
	if err := task.Wait(); !errors.Is(err, ErrOffline) {
		t.Errorf("task error = %v, want ErrOffline", err)
	}
	if err := e.Sync(ctx); !errors.Is(err, ErrOffline) {
		t.Errorf("Sync = %v, want ErrOffline", err)
	}
	if e.Refresh(ctx) != nil {
		t.Error("Refresh should succeed once a snapshot exists")
	}
	if e.State() != Dirty || e.Revision() != 0 {
		t.Errorf("state = %s rev %d", e.State(), e.Revision())
	}
}

func TestEngine_Events(t *testing.T) {
	r := &fakeRemote{revision: 4}
	e, _ := newTestEngine(t, r)
	ctx := context.Background()

	var (
		mu     sync.Mutex
		events []EventKind
	)
	unsubscribe := e.Observe(func(ev Event) {
		mu.Lock()
		events = append(events, ev.Kind)
		mu.Unlock()
	})

	if err := e.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	task, _ := e.CreateOrUpdate(ctx, item.New("a", item.WithID("A")))
	_ = task.Wait()
	task, _ = e.Delete(ctx, "A")
	_ = task.Wait()
	unsubscribe()
	_ = e.Refresh(ctx)

	want := []EventKind{EventStateChanged, EventSynced, EventItemSaved, EventItemDeleted}
	mu.Lock()
	defer mu.Unlock()
	if fmt.Sprint(events) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", events, want)
	}
}

func TestEngine_SyncPushesEverything(t *testing.T) {
	r := &fakeRemote{
		list:     []item.Item{item.New("stale", item.WithID("OLD"), item.WithCreationDate(created))},
		revision: 1,
	}
	e, _ := newTestEngine(t, r)
	ctx := context.Background()

	e.ReplaceLocal([]item.Item{item.New("mine", item.WithID("M"), item.WithCreationDate(created))})
	if !errors.Is(e.DirtyReason(), ErrExternalEdit) {
		t.Errorf("dirty reason = %v", e.DirtyReason())
	}
	if err := e.Sync(ctx); err != nil {
		t.Fatal(err)
	}
	if !sameIDs(r.list, "M") || e.State() != Clean {
		t.Errorf("remote = %v, state %s", ids(r.list), e.State())
	}
}
