package poster

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Result is the outcome of an asynchronous load.
type Result struct {
	Data []byte
	Err  error
}

// failure is a remembered fetch error.
type failure struct {
	err     error
	expires time.Time
}

// IsExpired returns true once the failure should no longer be replayed.
func (f failure) IsExpired() bool {
	return time.Now().After(f.expires)
}

// store holds successful fetches. Implementations are guarded by Cache.mu.
type store interface {
	get(key string) ([]byte, bool)
	add(key string, data []byte)
	len() int
	purge()
}

// mapStore never evicts.
type mapStore struct {
	entries map[string][]byte
}

func newMapStore() *mapStore {
	return &mapStore{entries: make(map[string][]byte)}
}

func (s *mapStore) get(key string) ([]byte, bool) {
	data, ok := s.entries[key]
	return data, ok
}

func (s *mapStore) add(key string, data []byte) {
	if old, ok := s.entries[key]; ok {
		CacheSize.Sub(float64(len(old)))
	}
	s.entries[key] = data
	CacheSize.Add(float64(len(data)))
}

func (s *mapStore) len() int { return len(s.entries) }

func (s *mapStore) purge() {
	for _, data := range s.entries {
		CacheSize.Sub(float64(len(data)))
	}
	s.entries = make(map[string][]byte)
}

// lruStore bounds the number of entries.
type lruStore struct {
	lru *lru.Cache[string, []byte]
}

func newLRUStore(size int) (*lruStore, error) {
	l, err := lru.NewWithEvict[string, []byte](size, func(_ string, data []byte) {
		CacheSize.Sub(float64(len(data)))
	})
	if err != nil {
		return nil, err
	}
	return &lruStore{lru: l}, nil
}

func (s *lruStore) get(key string) ([]byte, bool) {
	return s.lru.Get(key)
}

func (s *lruStore) add(key string, data []byte) {
	if old, ok := s.lru.Peek(key); ok {
		CacheSize.Sub(float64(len(old)))
	}
	s.lru.Add(key, data)
	CacheSize.Add(float64(len(data)))
}

func (s *lruStore) len() int { return s.lru.Len() }

func (s *lruStore) purge() { s.lru.Purge() }
