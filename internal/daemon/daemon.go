package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/todosync/todosync/internal/item"
	"github.com/todosync/todosync/internal/persist"
	"github.com/todosync/todosync/internal/reconcile"
)

// Config holds configuration for the daemon.
type Config struct {
	// RefreshInterval is how often to refresh from the remote.
	// Zero disables periodic refresh.
	RefreshInterval time.Duration

	// DebounceInterval is how long the snapshot must stay quiet before it
	// is reloaded. This batches the several events of one save together.
	DebounceInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RefreshInterval:  0,
		DebounceInterval: 200 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Stats counts what the daemon has done since it started.
type Stats struct {
	Reloads      int       // external edits adopted
	Refreshes    int       // periodic refreshes attempted
	LastActivity time.Time // zero until the first reload or refresh
}

// Daemon keeps an engine in step with edits other processes make to its
// snapshot file, and optionally refreshes from the remote on a timer.
type Daemon struct {
	engine    *reconcile.Engine
	persister persist.Persister
	config    *Config

	watcher   *FileWatcher
	pending   time.Time // time of the latest unprocessed event, zero if none
	pendingMu sync.Mutex

	statsMu sync.Mutex
	stats   Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon for engine, reading the snapshot through persister.
//
// Use Start() to begin watching.
func New(engine *reconcile.Engine, persister persist.Persister, config *Config) (*Daemon, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if persister == nil {
		return nil, fmt.Errorf("persister cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}

	watcher, err := NewFileWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		engine:    engine,
		persister: persister,
		config:    config,
		watcher:   watcher,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// The daemon will:
// 1. Refresh the engine from the remote
// 2. Start watching the snapshot file
// 3. Reload the snapshot after external edits, with debouncing
// 4. Refresh periodically if configured
//
// This blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if err := d.engine.Refresh(ctx); err != nil {
		if !errors.Is(err, reconcile.ErrNoData) {
			return fmt.Errorf("initial refresh failed: %w", err)
		}
		d.config.Logger.Printf("Starting with an empty list: %v", err)
	}

	path := d.persister.Path()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := d.watcher.Start(path); err != nil {
		return fmt.Errorf("failed to watch snapshot: %w", err)
	}
	d.config.Logger.Printf("Watching: %s", path)

	d.wg.Add(2)
	go d.watchFileEvents()
	go d.processChangeQueue()
	if d.config.RefreshInterval > 0 {
		d.wg.Add(1)
		go d.refreshLoop()
	}

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon and waits for in-flight remote
// tasks.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()

	if err := d.watcher.Stop(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}

	d.wg.Wait()
	d.engine.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// Stats returns a copy of the activity counters.
func (d *Daemon) Stats() Stats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.stats
}

// ReloadSnapshot loads the snapshot and, if it differs from the engine's
// items, adopts it and pushes it to the remote. It reports whether the
// engine changed.
func (d *Daemon) ReloadSnapshot(ctx context.Context) (bool, error) {
	items, err := d.persister.Load(ctx)
	if err != nil {
		if errors.Is(err, persist.ErrNotFound) {
			d.config.Logger.Printf("Snapshot %s removed, keeping in-memory items", d.persister.Path())
			return false, nil
		}
		return false, fmt.Errorf("failed to reload snapshot: %w", err)
	}

	if sameItems(items, d.engine.CurrentItems()) {
		return false, nil
	}

	d.config.Logger.Printf("Snapshot changed externally, adopting %d items", len(items))
	d.engine.ReplaceLocal(items)
	d.record(func(s *Stats) { s.Reloads++ })

	if err := d.engine.Sync(ctx); err != nil {
		d.config.Logger.Printf("Push after external edit failed: %v", err)
	}
	return true, nil
}

func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			d.config.Logger.Printf("File event: %s %s", event.Op, event.Path)
			d.queueChange()

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func (d *Daemon) queueChange() {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	d.pending = time.Now()
}

func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges reloads the snapshot once it has been quiet for
// the debounce interval.
func (d *Daemon) processPendingChanges() {
	d.pendingMu.Lock()
	due := !d.pending.IsZero() && time.Since(d.pending) >= d.config.DebounceInterval
	if due {
		d.pending = time.Time{}
	}
	d.pendingMu.Unlock()

	if !due {
		return
	}
	if _, err := d.ReloadSnapshot(d.ctx); err != nil {
		d.config.Logger.Printf("Error reloading snapshot: %v", err)
	}
}

func (d *Daemon) refreshLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.record(func(s *Stats) { s.Refreshes++ })
			if err := d.engine.Refresh(d.ctx); err != nil {
				d.config.Logger.Printf("Error refreshing: %v", err)
			}
		}
	}
}

func (d *Daemon) record(fn func(*Stats)) {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	fn(&d.stats)
	d.stats.LastActivity = time.Now()
}

// sameItems compares two lists at one-second precision, the finest all
// snapshot formats and the remote share.
func sameItems(a, b []item.Item) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !truncated(a[i]).Equal(truncated(b[i])) {
			return false
		}
	}
	return true
}

func truncated(it item.Item) item.Item {
	it.CreationDate = it.CreationDate.Truncate(time.Second)
	if it.Deadline != nil {
		d := it.Deadline.Truncate(time.Second)
		it.Deadline = &d
	}
	if it.ModificationDate != nil {
		m := it.ModificationDate.Truncate(time.Second)
		it.ModificationDate = &m
	}
	return it
}
