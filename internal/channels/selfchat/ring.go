package selfchat

import "sync"

// ring is a bounded set with FIFO eviction, used for the dedup layers.
type ring struct {
	mu    sync.Mutex
	cap   int
	seen  map[string]struct{}
	order []string
}

func newRing(capacity int) *ring {
	return &ring{cap: capacity, seen: make(map[string]struct{}, capacity)}
}

// remember adds key and reports whether it was new.
func (r *ring) remember(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[key]; ok {
		return false
	}
	if len(r.order) >= r.cap {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.seen, oldest)
	}
	r.seen[key] = struct{}{}
	r.order = append(r.order, key)
	return true
}

func (r *ring) contains(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.seen[key]
	return ok
}
