package jetbridge

import "sync"

// Store is the registry a Bridge resolves AckRefs against. Entries are
// write-once: put happens exactly once per ref, before the ref is handed
// out, and nothing ever mutates an entry afterwards. Reads may come from
// arbitrarily many goroutines.
type Store struct {
	mu sync.RWMutex
	m  map[AckRef]AckConfig
}

func NewStore() *Store {
	return &Store{
		m: make(map[AckRef]AckConfig),
	}
}

func (s *Store) put(ref AckRef, conf AckConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.m[ref] = conf
}

func (s *Store) get(ref AckRef) (AckConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conf, ok := s.m[ref]
	return conf, ok
}
