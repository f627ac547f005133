package crawler

import "sync"

// VisitedSet records, per user id, the deepest remaining depth at which
// the user has been dispatched for expansion during one crawl. It is shared
// by every concurrent branch of that crawl.
type VisitedSet struct {
	mu     sync.Mutex
	depths map[int64]int
}

// NewVisitedSet creates an empty visited set
func NewVisitedSet() *VisitedSet {
	return &VisitedSet{
		depths: make(map[int64]int),
	}
}

// Claim marks id as dispatched at depth.
// Returns true if the caller should expand id, false if id was already
// claimed at the same or a greater depth.
func (v *VisitedSet) Claim(id int64, depth int) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if prev, ok := v.depths[id]; ok && prev >= depth {
		return false
	}
	v.depths[id] = depth
	return true
}

// Size returns the number of distinct ids claimed so far
func (v *VisitedSet) Size() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.depths)
}
