package item

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalid is returned by Validate when an item violates the model's
// invariants.
var ErrInvalid = errors.New("invalid item")

// Importance is the user-assigned priority of an item.
type Importance string

const (
	Unimportant Importance = "unimportant"
	Normal      Importance = "normal"
	Important   Importance = "important"
)

// ParseImportance converts a string to an Importance.
// The empty string parses as Normal.
func ParseImportance(s string) (Importance, error) {
	switch Importance(strings.ToLower(strings.TrimSpace(s))) {
	case "", Normal:
		return Normal, nil
	case Unimportant:
		return Unimportant, nil
	case Important:
		return Important, nil
	}
	return Normal, fmt.Errorf("unknown importance %q", s)
}

// Valid reports whether i is one of the three known values.
func (i Importance) Valid() bool {
	switch i {
	case Unimportant, Normal, Important:
		return true
	}
	return false
}

// Item is a single to-do entry.
type Item struct {
	ID               string
	Text             string
	Importance       Importance
	Deadline         *time.Time
	IsDone           bool
	CreationDate     time.Time
	ModificationDate *time.Time
}

// Option customizes an item built by New.
type Option func(*Item)

// WithID overrides the generated identifier.
func WithID(id string) Option {
	return func(it *Item) { it.ID = id }
}

// WithImportance sets the importance.
func WithImportance(imp Importance) Option {
	return func(it *Item) { it.Importance = imp }
}

// WithDeadline sets the deadline.
func WithDeadline(t time.Time) Option {
	return func(it *Item) { it.Deadline = &t }
}

// WithDone sets the completion flag.
func WithDone(done bool) Option {
	return func(it *Item) { it.IsDone = done }
}

// WithCreationDate overrides the creation time (defaults to now).
func WithCreationDate(t time.Time) Option {
	return func(it *Item) { it.CreationDate = t }
}

// WithModificationDate sets the last modification time.
func WithModificationDate(t time.Time) Option {
	return func(it *Item) { it.ModificationDate = &t }
}

// New creates an item with a fresh ID, normal importance and the current
// time as creation date.
func New(text string, opts ...Option) Item {
	it := Item{
		ID:           NewID(),
		Text:         text,
		Importance:   Normal,
		CreationDate: time.Now(),
	}
	for _, opt := range opts {
		opt(&it)
	}
	return it
}

// NewID returns a new random identifier in the upper-case UUID form used by
// the mobile clients of the list service.
func NewID() string {
	return strings.ToUpper(uuid.NewString())
}

// Validate checks the invariants every stored item must satisfy.
func (it Item) Validate() error {
	if it.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalid)
	}
	if strings.TrimSpace(it.Text) == "" {
		return fmt.Errorf("%w: text is required", ErrInvalid)
	}
	if !it.Importance.Valid() {
		return fmt.Errorf("%w: unknown importance %q", ErrInvalid, it.Importance)
	}
	if it.CreationDate.IsZero() {
		return fmt.Errorf("%w: creation date is required", ErrInvalid)
	}
	return nil
}

// Touch returns a copy of it with the modification date set to now.
func (it Item) Touch(now time.Time) Item {
	it.ModificationDate = &now
	return it
}

// Toggled returns a copy of it with the completion flag flipped and the
// modification date set to now.
func (it Item) Toggled(now time.Time) Item {
	it.IsDone = !it.IsDone
	return it.Touch(now)
}

// LastChanged returns the modification date, or the creation date for items
// that were never modified.
func (it Item) LastChanged() time.Time {
	if it.ModificationDate != nil {
		return *it.ModificationDate
	}
	return it.CreationDate
}

// Equal reports whether two items carry the same values. Times are compared
// with time.Time.Equal so that location differences do not matter.
func (it Item) Equal(o Item) bool {
	return it.ID == o.ID &&
		it.Text == o.Text &&
		it.Importance == o.Importance &&
		it.IsDone == o.IsDone &&
		it.CreationDate.Equal(o.CreationDate) &&
		timePtrEqual(it.Deadline, o.Deadline) &&
		timePtrEqual(it.ModificationDate, o.ModificationDate)
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
