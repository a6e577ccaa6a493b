package pagination

import (
	"sort"

	"github.com/engly817chat/engly-client/internal/core"
)

// Store is a room's ordered message list. Items stay sorted by
// (CreatedAt, ID) and no id appears twice. Store is not safe for concurrent
// use; Controller guards it.
type Store struct {
	items []core.Message
	ids   map[string]struct{}
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{ids: make(map[string]struct{})}
}

// Len returns the number of messages.
func (s *Store) Len() int {
	return len(s.items)
}

// Has reports whether a message with id is present.
func (s *Store) Has(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// Get returns the message with id.
func (s *Store) Get(id string) (core.Message, bool) {
	if !s.Has(id) {
		return core.Message{}, false
	}
	// Recent messages are looked up most often.
	for i := len(s.items) - 1; i >= 0; i-- {
		if s.items[i].ID == id {
			return s.items[i], true
		}
	}
	return core.Message{}, false
}

// Insert places msg at its ordered position. It returns false when the id is
// already present or empty.
func (s *Store) Insert(msg core.Message) bool {
	if msg.ID == "" || s.Has(msg.ID) {
		return false
	}
	s.ids[msg.ID] = struct{}{}

	n := len(s.items)
	if n == 0 || core.Less(s.items[n-1], msg) {
		s.items = append(s.items, msg)
		return true
	}

	i := sort.Search(n, func(i int) bool { return core.Less(msg, s.items[i]) })
	s.items = append(s.items, core.Message{})
	copy(s.items[i+1:], s.items[i:])
	s.items[i] = msg
	return true
}

// Merge inserts every message not already present and returns the inserted
// ones in ascending order.
func (s *Store) Merge(msgs []core.Message) []core.Message {
	added := make([]core.Message, 0, len(msgs))
	for _, m := range msgs {
		if s.Insert(m) {
			added = append(added, m)
		}
	}
	sort.SliceStable(added, func(i, j int) bool { return core.Less(added[i], added[j]) })
	return added
}

// Items returns a copy of the ordered messages.
func (s *Store) Items() []core.Message {
	out := make([]core.Message, len(s.items))
	copy(out, s.items)
	return out
}
