// Package traffic keeps sliding windows of conversational turn outcomes. The http I/O
// mode reads them to decide whether the assistant is degraded.
package traffic

import (
	"sync"
	"time"
)

// Outcome classifies how a turn ended.
type Outcome int

const (
	// Answered turns produced a real reply, from a handler or the fallback model.
	Answered Outcome = iota
	// Apologized turns ended with one of the fixed apology strings.
	Apologized
	// Denied turns were rejected by the rate limiter before reaching the assistant.
	Denied
)

// retention bounds memory; windows longer than this see truncated history.
const retention = 10 * time.Minute

var defaultTracker Tracker

// Record adds one outcome to the process-wide tracker.
func Record(o Outcome) {
	defaultTracker.Record(o)
}

// RequestCount returns the number of outcomes of any kind within the window.
func RequestCount(window time.Duration) int {
	return defaultTracker.RequestCount(window)
}

// DenialCount returns the number of denials within the window.
func DenialCount(window time.Duration) int {
	return defaultTracker.DenialCount(window)
}

// ErrorRate returns (apologies, answered+apologies) within the window.
func ErrorRate(window time.Duration) (errors, total int) {
	return defaultTracker.ErrorRate(window)
}

// Reset clears all recorded outcomes. For tests only.
func Reset() {
	defaultTracker.Reset()
}

// Tracker maintains one timestamp slice per outcome. The zero value is ready to use.
type Tracker struct {
	mu    sync.Mutex
	times [3][]time.Time
	now   func() time.Time
}

func (t *Tracker) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}

// Record adds one outcome and drops entries older than the retention period.
func (t *Tracker) Record(o Outcome) {
	if o < Answered || o > Denied {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock()
	t.times[o] = append(t.times[o], now)
	t.pruneLocked(now)
}

func (t *Tracker) RequestCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock().Add(-window)
	n := 0
	for _, ts := range t.times {
		n += countSince(ts, cutoff)
	}
	return n
}

func (t *Tracker) DenialCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countSince(t.times[Denied], t.clock().Add(-window))
}

// ErrorRate excludes denials: a turn the limiter rejected says nothing about upstream health.
func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock().Add(-window)
	errors = countSince(t.times[Apologized], cutoff)
	return errors, errors + countSince(t.times[Answered], cutoff)
}

func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.times {
		t.times[i] = nil
	}
}

// countSince counts timestamps at or after cutoff. Slices are append-only in time order.
func countSince(times []time.Time, cutoff time.Time) int {
	i := len(times)
	for i > 0 && !times[i-1].Before(cutoff) {
		i--
	}
	return len(times) - i
}

func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-retention)
	for o, ts := range t.times {
		i := 0
		for i < len(ts) && ts[i].Before(cutoff) {
			i++
		}
		if i > 0 {
			t.times[o] = append(ts[:0], ts[i:]...)
		}
	}
}
