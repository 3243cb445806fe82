package cache

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// ticket is held by every in-progress remote read or load of a key. A write
// based on what that operation read may only happen through commit, and only
// while the ticket has not been marked stale by an eviction.
type ticket struct {
	mu    sync.Mutex
	stale bool
}

// commit runs fn unless the ticket is stale. Eviction blocks on a running
// commit, so fn can never land after the eviction that supersedes it.
func (t *ticket) commit(fn func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stale {
		return false
	}
	fn()
	return true
}

func (t *ticket) markStale() {
	t.mu.Lock()
	t.stale = true
	t.mu.Unlock()
}

// flights coalesces concurrent loads of a key and tracks the tickets of
// in-progress reads. Entries exist only while an operation is running.
type flights struct {
	group singleflight.Group

	mu   sync.Mutex
	live map[string]map[*ticket]struct{}
}

func newFlights() *flights {
	return &flights{live: make(map[string]map[*ticket]struct{})}
}

func (f *flights) begin(key string) *ticket {
	t := &ticket{}
	f.mu.Lock()
	set, ok := f.live[key]
	if !ok {
		set = make(map[*ticket]struct{})
		f.live[key] = set
	}
	set[t] = struct{}{}
	f.mu.Unlock()
	return t
}

func (f *flights) end(key string, t *ticket) {
	f.mu.Lock()
	if set, ok := f.live[key]; ok {
		delete(set, t)
		if len(set) == 0 {
			delete(f.live, key)
		}
	}
	f.mu.Unlock()
}

// invalidate marks every ticket of key stale and detaches the running load,
// so later callers start a fresh one.
func (f *flights) invalidate(key string) {
	f.mu.Lock()
	tickets := make([]*ticket, 0, len(f.live[key]))
	for t := range f.live[key] {
		tickets = append(tickets, t)
	}
	f.mu.Unlock()

	f.group.Forget(key)
	for _, t := range tickets {
		t.markStale()
	}
}

// invalidateAll is invalidate for every key with a running operation.
func (f *flights) invalidateAll() {
	f.mu.Lock()
	keys := make([]string, 0, len(f.live))
	var tickets []*ticket
	for key, set := range f.live {
		keys = append(keys, key)
		for t := range set {
			tickets = append(tickets, t)
		}
	}
	f.mu.Unlock()

	for _, key := range keys {
		f.group.Forget(key)
	}
	for _, t := range tickets {
		t.markStale()
	}
}

// inFlight reports the number of keys with a running operation.
func (f *flights) inFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}
