package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/todosync/todosync/internal/item"
	"github.com/todosync/todosync/internal/persist"
)

var (
	// ErrNoData is returned by Refresh when the remote is unreachable and
	// no local snapshot exists either.
	ErrNoData = errors.New("could not load items")

	// ErrOffline is the outcome of remote work on an engine without a
	// remote.
	ErrOffline = errors.New("no remote configured")

	// ErrUnknownItem is returned when a mutation names an id the store does
	// not hold.
	ErrUnknownItem = errors.New("no such item")

	// ErrExternalEdit is the Dirty reason after the snapshot was changed by
	// another process.
	ErrExternalEdit = errors.New("local snapshot edited externally")
)

// Remote is the subset of remote.Client the engine uses.
type Remote interface {
	FetchAll(ctx context.Context) ([]item.Item, int64, error)
	PushAll(ctx context.Context, items []item.Item) ([]item.Item, int64, error)
	CreateItem(ctx context.Context, it item.Item) (item.Item, int64, error)
	ReplaceItem(ctx context.Context, it item.Item) (item.Item, int64, error)
	DeleteItem(ctx context.Context, id string) (item.Item, int64, error)
	Revision() int64
}

// Config holds optional engine settings.
type Config struct {
	Strategy MergeStrategy    // default RemoteAuthoritative
	Logger   *log.Logger      // default stderr with "[sync] " prefix
	Now      func() time.Time // default time.Now
}

// Engine reconciles a local store with a remote list.
type Engine struct {
	mu        sync.Mutex
	store     *item.Store
	persister persist.Persister

	remote   Remote
	tracker  *Tracker
	strategy MergeStrategy
	logger   *log.Logger
	now      func() time.Time
	tasks    sync.WaitGroup

	obsMu     sync.Mutex
	observers map[int]func(Event)
	nextObs   int
}

// New creates an engine. store may be nil for an empty store, r may be nil
// for an engine that never leaves the Dirty state, and cfg may be nil for
// defaults.
func New(store *item.Store, p persist.Persister, r Remote, cfg *Config) *Engine {
	if store == nil {
		store = item.NewStore()
	}
	if cfg == nil {
		cfg = &Config{}
	}
	e := &Engine{
		store:     store,
		persister: p,
		remote:    r,
		tracker:   NewTracker(),
		strategy:  cfg.Strategy,
		logger:    cfg.Logger,
		now:       cfg.Now,
		observers: make(map[int]func(Event)),
	}
	if e.strategy == nil {
		e.strategy = RemoteAuthoritative{}
	}
	if e.logger == nil {
		e.logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if e.now == nil {
		e.now = time.Now
	}

	e.tracker.Subscribe(func(s State) {
		e.logger.Printf("State changed to %s", s)
		e.emit(Event{Kind: EventStateChanged, State: s})
	})
	return e
}

// Open is what an application does on start: a Refresh into the empty
// store. The durable snapshot is read only if the remote cannot be reached,
// so items deleted elsewhere do not come back from an old snapshot.
func (e *Engine) Open(ctx context.Context) error {
	return e.Refresh(ctx)
}

// LoadLocal upserts the durable snapshot into the store and returns the
// number of items read. The state is not changed. Callers that want to push
// a snapshot as it is, without fetching first, load it with LoadLocal and
// then call Sync.
func (e *Engine) LoadLocal(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	items, err := e.persister.Load(ctx)
	if err != nil {
		return 0, err
	}
	for _, it := range items {
		e.store.Upsert(it)
	}
	return len(items), nil
}

// Refresh fetches the remote list and merges it into the store.
//
// When the remote cannot be reached the engine becomes Dirty. An empty
// store is then filled from the durable snapshot; a store that already
// holds items is left alone, since it may carry edits the snapshot missed.
// Refresh returns nil unless the store stays empty because no snapshot
// could be read, in which case the error matches ErrNoData.
func (e *Engine) Refresh(ctx context.Context) error {
	if e.remote == nil {
		return e.fallback(ctx, ErrOffline)
	}

	items, rev, err := e.remote.FetchAll(ctx)
	if err != nil {
		e.logger.Printf("Refresh failed, falling back to local snapshot: %v", err)
		return e.fallback(ctx, err)
	}
	e.logger.Printf("Fetched %d items at revision %d", len(items), rev)
	return e.adopt(ctx, items, rev)
}

// Sync pushes the whole local collection and adopts the server's result.
// Unlike mutations it blocks until the exchange completes.
func (e *Engine) Sync(ctx context.Context) error {
	if e.remote == nil {
		return ErrOffline
	}
	e.mu.Lock()
	snapshot := e.store.List()
	e.mu.Unlock()
	return e.pushAll(ctx, snapshot)
}

// CreateOrUpdate upserts it locally, saves the snapshot, and starts the
// matching remote call. A non-nil error means the snapshot could not be
// written; the in-memory change is kept regardless. Invalid items are
// rejected with item.ErrInvalid and not applied.
func (e *Engine) CreateOrUpdate(ctx context.Context, it item.Item) (*Task, error) {
	if err := it.Validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	_, existed := e.store.Get(it.ID)
	e.store.Upsert(it)
	saveErr := e.saveLocked(ctx)
	snapshot, dirty := e.snapshotIfDirtyLocked()
	e.mu.Unlock()

	e.emit(Event{Kind: EventItemSaved, Item: &it, ID: it.ID})

	var task *Task
	switch {
	case dirty:
		task = e.spawn(ctx, OpPushAll, it.ID, func(ctx context.Context) error {
			return e.pushAll(ctx, snapshot)
		})
	case existed:
		task = e.spawn(ctx, OpReplace, it.ID, func(ctx context.Context) error {
			_, _, err := e.remote.ReplaceItem(ctx, it)
			return e.settle(OpReplace, it.ID, err)
		})
	default:
		task = e.spawn(ctx, OpCreate, it.ID, func(ctx context.Context) error {
			_, _, err := e.remote.CreateItem(ctx, it)
			return e.settle(OpCreate, it.ID, err)
		})
	}

	if saveErr != nil {
		return task, fmt.Errorf("failed to persist items: %w", saveErr)
	}
	return task, nil
}

// Toggle flips the completion flag of id and stamps its modification date.
func (e *Engine) Toggle(ctx context.Context, id string) (*Task, error) {
	e.mu.Lock()
	it, ok := e.store.Get(id)
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownItem, id)
	}
	return e.CreateOrUpdate(ctx, it.Toggled(e.now()))
}

// Delete removes id locally, saves the snapshot, and starts the remote
// delete. The local removal is never rolled back.
func (e *Engine) Delete(ctx context.Context, id string) (*Task, error) {
	e.mu.Lock()
	e.store.Remove(id)
	saveErr := e.saveLocked(ctx)
	snapshot, dirty := e.snapshotIfDirtyLocked()
	e.mu.Unlock()

	e.emit(Event{Kind: EventItemDeleted, ID: id})

	var task *Task
	if dirty {
		task = e.spawn(ctx, OpPushAll, id, func(ctx context.Context) error {
			return e.pushAll(ctx, snapshot)
		})
	} else {
		task = e.spawn(ctx, OpDelete, id, func(ctx context.Context) error {
			_, _, err := e.remote.DeleteItem(ctx, id)
			return e.settle(OpDelete, id, err)
		})
	}

	if saveErr != nil {
		return task, fmt.Errorf("failed to persist items: %w", saveErr)
	}
	return task, nil
}

// ReplaceLocal resets the store to items, which were read from a snapshot
// another process wrote, and marks the engine Dirty.
func (e *Engine) ReplaceLocal(items []item.Item) {
	e.mu.Lock()
	e.store.Replace(items)
	e.mu.Unlock()
	e.tracker.MarkDirty(ErrExternalEdit)
}

// CurrentItems returns the items in display order.
func (e *Engine) CurrentItems() []item.Item {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.List()
}

// Get returns the item with the given id.
func (e *Engine) Get(id string) (item.Item, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Get(id)
}

// CompletedCount returns the number of done items.
func (e *Engine) CompletedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Count(item.Completed)
}

// State returns the current sync state.
func (e *Engine) State() State {
	return e.tracker.State()
}

// DirtyReason returns the error behind the current Dirty state, or nil.
func (e *Engine) DirtyReason() error {
	return e.tracker.Reason()
}

// Subscribe registers fn for state transitions.
func (e *Engine) Subscribe(fn func(State)) (unsubscribe func()) {
	return e.tracker.Subscribe(fn)
}

// Watch streams state transitions until ctx is done.
func (e *Engine) Watch(ctx context.Context) <-chan State {
	return e.tracker.Watch(ctx)
}

// Revision returns the last revision received from the remote.
func (e *Engine) Revision() int64 {
	if e.remote == nil {
		return 0
	}
	return e.remote.Revision()
}

// Strategy returns the merge strategy in use.
func (e *Engine) Strategy() MergeStrategy {
	return e.strategy
}

// SnapshotPath returns the location of the durable snapshot.
func (e *Engine) SnapshotPath() string {
	return e.persister.Path()
}

// Wait blocks until every started remote task has finished.
func (e *Engine) Wait() {
	e.tasks.Wait()
}

// Close waits for remote tasks and releases the persister.
func (e *Engine) Close() error {
	e.Wait()
	return e.persister.Close()
}

// spawn runs fn in a goroutine detached from ctx's cancellation.
func (e *Engine) spawn(ctx context.Context, op Op, id string, fn func(context.Context) error) *Task {
	t := newTask(op, id)
	if e.remote == nil {
		t.finish(ErrOffline)
		return t
	}

	ctx = context.WithoutCancel(ctx)
	e.tasks.Add(1)
	go func() {
		defer e.tasks.Done()
		t.finish(fn(ctx))
	}()
	return t
}

// settle records the outcome of a single-item call.
func (e *Engine) settle(op Op, id string, err error) error {
	if err != nil {
		e.logger.Printf("Remote %s of %s failed, marking dirty: %v", op, id, err)
		e.tracker.MarkDirty(err)
		return err
	}
	return nil
}

func (e *Engine) pushAll(ctx context.Context, snapshot []item.Item) error {
	items, rev, err := e.remote.PushAll(ctx, snapshot)
	if err != nil {
		e.logger.Printf("Full sync of %d items failed: %v", len(snapshot), err)
		e.tracker.MarkDirty(err)
		return err
	}
	e.logger.Printf("Pushed %d items, server holds %d at revision %d", len(snapshot), len(items), rev)
	return e.adopt(ctx, items, rev)
}

// adopt merges a full remote list, saves, and settles the state.
func (e *Engine) adopt(ctx context.Context, remote []item.Item, rev int64) error {
	e.mu.Lock()
	e.strategy.Merge(e.store, remote)
	count := e.store.Len()
	saveErr := e.saveLocked(ctx)
	e.mu.Unlock()

	e.tracker.MarkClean()
	e.emit(Event{Kind: EventSynced, Revision: rev, Count: count})

	if saveErr != nil {
		return fmt.Errorf("failed to persist items: %w", saveErr)
	}
	return nil
}

// fallback marks the engine Dirty and, if the store is empty, loads the
// durable snapshot into it.
func (e *Engine) fallback(ctx context.Context, cause error) error {
	e.tracker.MarkDirty(cause)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.store.Len() > 0 {
		return nil
	}
	items, err := e.persister.Load(ctx)
	if err != nil {
		if !errors.Is(err, persist.ErrNotFound) {
			e.logger.Printf("WARNING: failed to load local snapshot: %v", err)
		}
		return fmt.Errorf("%w: %w", ErrNoData, err)
	}
	e.store.Replace(items)
	e.logger.Printf("Loaded %d items from %s", len(items), e.persister.Path())
	return nil
}

// saveLocked writes the store to the snapshot. Callers must hold e.mu.
func (e *Engine) saveLocked(ctx context.Context) error {
	if err := e.persister.Save(ctx, e.store.List()); err != nil {
		e.logger.Printf("WARNING: failed to save %s: %v", e.persister.Path(), err)
		return err
	}
	return nil
}

// snapshotIfDirtyLocked returns a copy of the store when a full push is
// due. Callers must hold e.mu.
func (e *Engine) snapshotIfDirtyLocked() ([]item.Item, bool) {
	if e.remote == nil || e.tracker.State() != Dirty {
		return nil, false
	}
	return e.store.List(), true
}
