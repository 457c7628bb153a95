package service

import "sync"

// stampedeTracker counts cache misses in progress per key. A count above one means
// callers missed the same city at the same time.
type stampedeTracker struct {
	mu     sync.Mutex
	misses map[string]int
}

func newStampedeTracker() *stampedeTracker {
	return &stampedeTracker{misses: make(map[string]int)}
}

// begin records a miss for key and returns how many misses for it are now in progress.
// Every begin must be paired with end.
func (st *stampedeTracker) begin(key string) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.misses[key]++
	return st.misses[key]
}

func (st *stampedeTracker) end(key string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.misses[key] <= 1 {
		delete(st.misses, key)
		return
	}
	st.misses[key]--
}
