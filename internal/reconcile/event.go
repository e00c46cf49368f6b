package reconcile

import (
	"time"

	"github.com/todosync/todosync/internal/item"
)

// EventKind identifies what an Event reports.
type EventKind string

const (
	EventStateChanged EventKind = "state_change"
	EventItemSaved    EventKind = "item_saved"
	EventItemDeleted  EventKind = "item_deleted"
	EventSynced       EventKind = "sync_complete"
)

// Event describes something observable that happened inside an Engine.
type Event struct {
	Kind     EventKind
	Time     time.Time
	State    State      // EventStateChanged
	Item     *item.Item // EventItemSaved
	ID       string     // EventItemSaved, EventItemDeleted
	Revision int64      // EventSynced
	Count    int        // EventSynced: items held after the merge
}

// Observe registers fn to receive every event. fn is called synchronously
// from the goroutine that caused the event and must not block. The returned
// function removes the observer.
func (e *Engine) Observe(fn func(Event)) (unsubscribe func()) {
	e.obsMu.Lock()
	id := e.nextObs
	e.nextObs++
	e.observers[id] = fn
	e.obsMu.Unlock()

	return func() {
		e.obsMu.Lock()
		delete(e.observers, id)
		e.obsMu.Unlock()
	}
}

func (e *Engine) emit(ev Event) {
	ev.Time = e.now()

	e.obsMu.Lock()
	fns := make([]func(Event), 0, len(e.observers))
	for _, fn := range e.observers {
		fns = append(fns, fn)
	}
	e.obsMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
