package remote

import (
	"time"

	"github.com/todosync/todosync/internal/item"
)

// RevisionHeader carries the client's last known revision on mutations.
const RevisionHeader = "X-Last-Known-Revision"

// MsgUnsynchronized is the server's reason for rejecting a stale revision.
const MsgUnsynchronized = "unsynchronized data"

// DefaultClientID is sent as last_updated_by when none is configured.
const DefaultClientID = "todosync"

// Element is the wire form of an item.
type Element struct {
	ID            string  `json:"id"`
	Text          string  `json:"text"`
	Importance    string  `json:"importance"`
	Deadline      *int64  `json:"deadline,omitempty"`
	Done          bool    `json:"done"`
	Color         *string `json:"color,omitempty"`
	CreatedAt     int64   `json:"created_at"`
	ChangedAt     int64   `json:"changed_at"`
	LastUpdatedBy string  `json:"last_updated_by"`
}

// ListResponse is returned by GET and PATCH on the list.
type ListResponse struct {
	Status   string    `json:"status"`
	List     []Element `json:"list"`
	Revision int64     `json:"revision"`
}

// ElementResponse is returned by the single-element endpoints.
type ElementResponse struct {
	Status   string  `json:"status,omitempty"`
	Element  Element `json:"element"`
	Revision int64   `json:"revision"`
}

// ListRequest is the PATCH body.
type ListRequest struct {
	List []Element `json:"list"`
}

// ElementRequest is the POST and PUT body.
type ElementRequest struct {
	Element Element `json:"element"`
}

// ErrorResponse is the body of a rejected request.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Wire importance values.
const (
	wireLow       = "low"
	wireBasic     = "basic"
	wireImportant = "important"
)

func importanceToWire(imp item.Importance) string {
	switch imp {
	case item.Unimportant:
		return wireLow
	case item.Important:
		return wireImportant
	default:
		return wireBasic
	}
}

func importanceFromWire(s string) item.Importance {
	switch s {
	case wireLow:
		return item.Unimportant
	case wireImportant:
		return item.Important
	default:
		return item.Normal
	}
}

// ToElement converts an item to its wire form.
func ToElement(it item.Item, clientID string) Element {
	el := Element{
		ID:            it.ID,
		Text:          it.Text,
		Importance:    importanceToWire(it.Importance),
		Done:          it.IsDone,
		CreatedAt:     it.CreationDate.Unix(),
		ChangedAt:     it.LastChanged().Unix(),
		LastUpdatedBy: clientID,
	}
	if it.Deadline != nil {
		d := it.Deadline.Unix()
		el.Deadline = &d
	}
	return el
}

// FromElement converts a wire element to an item. A changed_at equal to
// created_at is read as "never modified".
func FromElement(el Element) item.Item {
	it := item.Item{
		ID:           el.ID,
		Text:         el.Text,
		Importance:   importanceFromWire(el.Importance),
		IsDone:       el.Done,
		CreationDate: time.Unix(el.CreatedAt, 0).UTC(),
	}
	if el.Deadline != nil {
		d := time.Unix(*el.Deadline, 0).UTC()
		it.Deadline = &d
	}
	if el.ChangedAt != 0 && el.ChangedAt != el.CreatedAt {
		m := time.Unix(el.ChangedAt, 0).UTC()
		it.ModificationDate = &m
	}
	return it
}

func toElements(items []item.Item, clientID string) []Element {
	out := make([]Element, 0, len(items))
	for _, it := range items {
		out = append(out, ToElement(it, clientID))
	}
	return out
}

func fromElements(els []Element) []item.Item {
	out := make([]item.Item, 0, len(els))
	for _, el := range els {
		out = append(out, FromElement(el))
	}
	return out
}
