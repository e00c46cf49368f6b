package reconcile

import (
	"context"
	"sync"
)

// State is the sync relationship between the local store and the remote.
type State int

const (
	// Dirty means local and remote may have diverged. It is the zero value:
	// nothing is known to be consistent before the first successful
	// exchange.
	Dirty State = iota

	// Clean means the local store matched the remote when last observed.
	Clean
)

func (s State) String() string {
	switch s {
	case Clean:
		return "clean"
	case Dirty:
		return "dirty"
	}
	return "unknown"
}

// Tracker holds the Dirty/Clean flag of one engine and notifies subscribers
// on transitions. It is safe for concurrent use.
type Tracker struct {
	// notifyMu serialises transitions with their notifications so
	// subscribers observe them in order.
	notifyMu sync.Mutex

	mu     sync.Mutex
	state  State
	reason error
	subs   map[int]func(State)
	nextID int
}

// NewTracker returns a tracker in the Dirty state.
func NewTracker() *Tracker {
	return &Tracker{
		state: Dirty,
		subs:  make(map[int]func(State)),
	}
}

// State returns the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Reason returns the error that last made the tracker Dirty, or nil.
func (t *Tracker) Reason() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

// MarkDirty records divergence. It reports whether the state changed.
func (t *Tracker) MarkDirty(reason error) bool {
	return t.set(Dirty, reason)
}

// MarkClean records a successful full exchange. It reports whether the
// state changed.
func (t *Tracker) MarkClean() bool {
	return t.set(Clean, nil)
}

func (t *Tracker) set(s State, reason error) bool {
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()

	t.mu.Lock()
	t.reason = reason
	if t.state == s {
		t.mu.Unlock()
		return false
	}
	t.state = s
	subs := make([]func(State), 0, len(t.subs))
	for _, fn := range t.subs {
		subs = append(subs, fn)
	}
	t.mu.Unlock()

	for _, fn := range subs {
		fn(s)
	}
	return true
}

// Subscribe registers fn to be called with the new state after every
// transition. fn must not call MarkDirty or MarkClean. The returned
// function removes the subscription.
func (t *Tracker) Subscribe(fn func(State)) (unsubscribe func()) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

// Watch returns a channel receiving the state after each transition until
// ctx is done, at which point the channel is closed. A slow reader only
// sees the latest state.
func (t *Tracker) Watch(ctx context.Context) <-chan State {
	ch := make(chan State, 1)
	var (
		mu     sync.Mutex
		closed bool
	)

	unsubscribe := t.Subscribe(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- s:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- s
		}
	})

	go func() {
		<-ctx.Done()
		unsubscribe()
		mu.Lock()
		closed = true
		close(ch)
		mu.Unlock()
	}()
	return ch
}
