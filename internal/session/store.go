package session

import (
	"sort"
	"sync"

	"github.com/Willytecheira/nexus-wa-core-sub001/internal/adapter"
	"github.com/Willytecheira/nexus-wa-core-sub001/internal/domain"
)

// entry is one resident session. Field access is serialized by mu; epoch is
// bumped on every restart/destroy so callbacks bound to a torn-down adapter
// instance are discarded instead of mutating the successor's state.
type entry struct {
	mu     sync.Mutex
	epoch  int
	sess   domain.Session
	client adapter.Client
}

// Store is the in-memory session registry, the source of truth while the
// process is alive. One Store per Manager; nothing ambient.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func NewStore() *Store {
	return &Store{entries: make(map[string]*entry)}
}

func (s *Store) put(id string, sess domain.Session) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := &entry{sess: sess}
	s.entries[id] = e
	return e
}

func (s *Store) get(id string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}

// remove detaches the entry so a second destroy observes not-found.
func (s *Store) remove(id string) (*entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	return e, ok
}

func (s *Store) ids() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.entries))
	for id := range s.entries {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// snapshot copies every resident session, oldest first.
func (s *Store) snapshot() []domain.Session {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]domain.Session, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.sess)
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
