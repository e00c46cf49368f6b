package item

// Store is an ordered in-memory collection of items keyed by ID.
type Store struct {
	items []Item
	index map[string]int
}

// NewStore creates a store holding the given items. Later duplicates of an
// ID replace earlier ones.
func NewStore(items ...Item) *Store {
	s := &Store{index: make(map[string]int)}
	for _, it := range items {
		s.Upsert(it)
	}
	return s
}

// Upsert inserts it when its ID is unseen, otherwise replaces the existing
// entry in place. It reports whether the item was newly inserted.
func (s *Store) Upsert(it Item) bool {
	if i, ok := s.index[it.ID]; ok {
		s.items[i] = it
		return false
	}
	s.index[it.ID] = len(s.items)
	s.items = append(s.items, it)
	return true
}

// Remove deletes the item with the given ID. Removing an absent ID is a
// no-op. It reports whether an item was removed.
func (s *Store) Remove(id string) bool {
	i, ok := s.index[id]
	if !ok {
		return false
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	delete(s.index, id)
	for j := i; j < len(s.items); j++ {
		s.index[s.items[j].ID] = j
	}
	return true
}

// Get returns the item with the given ID.
func (s *Store) Get(id string) (Item, bool) {
	i, ok := s.index[id]
	if !ok {
		return Item{}, false
	}
	return s.items[i], true
}

// List returns a copy of the items in insertion order.
func (s *Store) List() []Item {
	out := make([]Item, len(s.items))
	copy(out, s.items)
	return out
}

// Len returns the number of items.
func (s *Store) Len() int {
	return len(s.items)
}

// Count returns how many items satisfy pred.
func (s *Store) Count(pred func(Item) bool) int {
	n := 0
	for _, it := range s.items {
		if pred(it) {
			n++
		}
	}
	return n
}

// Replace discards the current contents and loads items in order.
func (s *Store) Replace(items []Item) {
	s.items = s.items[:0]
	s.index = make(map[string]int, len(items))
	for _, it := range items {
		s.Upsert(it)
	}
}

// Completed matches items that are done.
func Completed(it Item) bool { return it.IsDone }

// Pending matches items that are not done.
func Pending(it Item) bool { return !it.IsDone }
