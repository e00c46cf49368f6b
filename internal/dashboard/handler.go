package dashboard

import (
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/todosync/todosync/internal/item"
	"github.com/todosync/todosync/internal/reconcile"
)

// Source is the part of a sync engine the dashboard reads from.
// *reconcile.Engine satisfies it.
type Source interface {
	CurrentItems() []item.Item
	State() reconcile.State
	Revision() int64
	Observe(fn func(reconcile.Event)) (unsubscribe func())
}

// StateChangeData reports a transition between clean and dirty
type StateChangeData struct {
	State string `json:"state"`
}

// ItemUpdateData contains item change information
type ItemUpdateData struct {
	ID         string     `json:"id"`
	Action     string     `json:"action"` // saved, deleted
	Text       string     `json:"text,omitempty"`
	Importance string     `json:"importance,omitempty"`
	Done       bool       `json:"done,omitempty"`
	Deadline   *time.Time `json:"deadline,omitempty"`
}

// SyncCompleteData contains sync completion information
type SyncCompleteData struct {
	Revision int64 `json:"revision"`
	Items    int   `json:"items"`
}

// StatsData contains item statistics
type StatsData struct {
	Total     int    `json:"total"`
	Done      int    `json:"done"`
	Pending   int    `json:"pending"`
	Important int    `json:"important"`
	Overdue   int    `json:"overdue"`
	State     string `json:"state"`
	Revision  int64  `json:"revision"`
}

// Handler turns engine events into dashboard messages.
type Handler struct {
	server *Server
	source Source
	logger *log.Logger
	now    func() time.Time
}

// NewHandler creates a handler that feeds server from source.
func NewHandler(server *Server, source Source, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}
	return &Handler{
		server: server,
		source: source,
		logger: logger,
		now:    time.Now,
	}
}

// Attach subscribes to the source's events and greets new clients with the
// current stats. The returned function detaches the handler.
func (h *Handler) Attach() (detach func()) {
	h.server.OnConnect(func() Message {
		return h.message(MessageTypeStats, h.Stats())
	})
	return h.source.Observe(h.OnEvent)
}

// OnEvent broadcasts the message for ev, followed by fresh stats when the
// item counts may have changed.
func (h *Handler) OnEvent(ev reconcile.Event) {
	switch ev.Kind {
	case reconcile.EventStateChanged:
		h.logger.Printf("State changed: %s", ev.State)
		h.broadcast(MessageTypeStateChange, StateChangeData{State: ev.State.String()}, ev.Time)

	case reconcile.EventItemSaved:
		data := ItemUpdateData{ID: ev.ID, Action: "saved"}
		if ev.Item != nil {
			data.Text = ev.Item.Text
			data.Importance = string(ev.Item.Importance)
			data.Done = ev.Item.IsDone
			data.Deadline = ev.Item.Deadline
		}
		h.broadcast(MessageTypeItemUpdate, data, ev.Time)
		h.broadcastStats()

	case reconcile.EventItemDeleted:
		h.broadcast(MessageTypeItemUpdate, ItemUpdateData{ID: ev.ID, Action: "deleted"}, ev.Time)
		h.broadcastStats()

	case reconcile.EventSynced:
		h.logger.Printf("Sync complete: %d items at revision %d", ev.Count, ev.Revision)
		h.broadcast(MessageTypeSyncComplete, SyncCompleteData{Revision: ev.Revision, Items: ev.Count}, ev.Time)
		h.broadcastStats()
	}
}

// Stats computes the current statistics from the source.
func (h *Handler) Stats() StatsData {
	now := h.now()
	items := h.source.CurrentItems()

	stats := StatsData{
		Total:    len(items),
		State:    h.source.State().String(),
		Revision: h.source.Revision(),
	}
	for _, it := range items {
		if it.IsDone {
			stats.Done++
			continue
		}
		stats.Pending++
		if it.Importance == item.Important {
			stats.Important++
		}
		if it.Deadline != nil && it.Deadline.Before(now) {
			stats.Overdue++
		}
	}
	return stats
}

func (h *Handler) broadcastStats() {
	h.server.Broadcast(h.message(MessageTypeStats, h.Stats()))
}

func (h *Handler) broadcast(typ MessageType, data any, at time.Time) {
	msg := h.message(typ, data)
	if !at.IsZero() {
		msg.Timestamp = at
	}
	h.server.Broadcast(msg)
}

func (h *Handler) message(typ MessageType, data any) Message {
	msg := Message{Type: typ, Timestamp: h.now()}
	raw, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return msg
	}
	msg.Data = raw
	return msg
}
