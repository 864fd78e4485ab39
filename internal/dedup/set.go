package dedup

import "github.com/hashicorp/golang-lru/v2/simplelru"

// BoundedSet is a recency-ordered set that evicts its least recently added
// member once it grows past capacity. It is not safe for concurrent use;
// owners clone it before deriving a new generation. A nil set is empty and
// ignores Add and Remove.
type BoundedSet[K comparable] struct {
	capacity int
	lru      *simplelru.LRU[K, struct{}]
}

// NewBoundedSet returns an empty set. Non-positive capacity uses
// DefaultCapacity.
func NewBoundedSet[K comparable](capacity int) *BoundedSet[K] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	// NewLRU only fails for a non-positive size.
	lru, _ := simplelru.NewLRU[K, struct{}](capacity, nil)
	return &BoundedSet[K]{capacity: capacity, lru: lru}
}

// Add inserts key, or marks it newest if present. It returns the keys
// evicted to stay within capacity.
func (s *BoundedSet[K]) Add(key K) (evicted []K) {
	if s == nil {
		return nil
	}
	if !s.lru.Contains(key) && s.lru.Len() >= s.capacity {
		if oldest, _, ok := s.lru.GetOldest(); ok {
			evicted = append(evicted, oldest)
		}
	}
	s.lru.Add(key, struct{}{})
	return evicted
}

// Has reports membership without changing recency.
func (s *BoundedSet[K]) Has(key K) bool {
	if s == nil {
		return false
	}
	return s.lru.Contains(key)
}

// Remove deletes key if present.
func (s *BoundedSet[K]) Remove(key K) {
	if s == nil {
		return
	}
	s.lru.Remove(key)
}

// Len returns the number of members.
func (s *BoundedSet[K]) Len() int {
	if s == nil {
		return 0
	}
	return s.lru.Len()
}

// Cap returns the capacity.
func (s *BoundedSet[K]) Cap() int {
	if s == nil {
		return DefaultCapacity
	}
	return s.capacity
}

// Keys returns members from oldest to newest.
func (s *BoundedSet[K]) Keys() []K {
	if s == nil {
		return nil
	}
	return s.lru.Keys()
}

// Clone returns an independent copy with the same order and capacity. A nil
// receiver clones to an empty set of default capacity.
func (s *BoundedSet[K]) Clone() *BoundedSet[K] {
	if s == nil {
		return NewBoundedSet[K](DefaultCapacity)
	}
	out := NewBoundedSet[K](s.capacity)
	for _, key := range s.lru.Keys() {
		out.lru.Add(key, struct{}{})
	}
	return out
}
