package service

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/drone/internal/models"
)

// lookup is one backend location search shared by every caller that missed the cache
// for the same key. loc and err are written once, before done is closed.
type lookup struct {
	done chan struct{}
	loc  models.Location
	err  error
}

// requestCoalescer collapses concurrent cache misses for a key into one backend call.
type requestCoalescer struct {
	mu       sync.Mutex
	inFlight map[string]*lookup
	timeout  time.Duration
}

func newRequestCoalescer(timeout time.Duration) *requestCoalescer {
	return &requestCoalescer{
		inFlight: make(map[string]*lookup),
		timeout:  timeout,
	}
}

// GetOrDo returns the result of the lookup in flight for key, starting fn when there is
// none. fn runs detached from the starting caller's cancellation and is bounded by the
// coalescer timeout, so one caller giving up does not fail the others. shared reports
// whether the caller joined a lookup another caller started.
func (rc *requestCoalescer) GetOrDo(ctx context.Context, key string, fn func(context.Context) (models.Location, error)) (loc models.Location, shared bool, err error) {
	rc.mu.Lock()
	l, ok := rc.inFlight[key]
	if !ok {
		l = &lookup{done: make(chan struct{})}
		rc.inFlight[key] = l
		go rc.run(context.WithoutCancel(ctx), key, l, fn)
	}
	rc.mu.Unlock()

	select {
	case <-l.done:
		return l.loc, ok, l.err
	case <-ctx.Done():
		return models.Location{}, ok, ctx.Err()
	}
}

func (rc *requestCoalescer) run(ctx context.Context, key string, l *lookup, fn func(context.Context) (models.Location, error)) {
	ctx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()
	l.loc, l.err = fn(ctx)

	rc.mu.Lock()
	delete(rc.inFlight, key)
	rc.mu.Unlock()
	close(l.done)
}
