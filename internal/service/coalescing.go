package service

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/weather-chart-service/internal/models"
)

// inFlightRequest is one upstream fill that several callers may wait for.
// result and err are written once, before done is closed.
type inFlightRequest struct {
	done   chan struct{}
	result models.ForecastPayload
	err    error
}

// requestCoalescer lets concurrent misses for the same key share one fill.
type requestCoalescer struct {
	mu       sync.Mutex
	inFlight map[string]*inFlightRequest
	timeout  time.Duration
}

// newRequestCoalescer creates a new requestCoalescer with the specified timeout.
func newRequestCoalescer(timeout time.Duration) *requestCoalescer {
	return &requestCoalescer{
		inFlight: make(map[string]*inFlightRequest),
		timeout:  timeout,
	}
}

// GetOrDo joins the in-flight fill for key, or starts one running fn. shared reports
// whether the caller joined an existing fill. The fill runs detached from the
// starting caller's cancellation, bounded by the coalescer timeout, so a canceled
// leader does not fail its waiters. Each caller waits at most the timeout.
func (rc *requestCoalescer) GetOrDo(ctx context.Context, key string, fn func(ctx context.Context) (models.ForecastPayload, error)) (payload models.ForecastPayload, shared bool, err error) {
	rc.mu.Lock()
	req, shared := rc.inFlight[key]
	if !shared {
		req = &inFlightRequest{done: make(chan struct{})}
		rc.inFlight[key] = req
		go rc.run(ctx, key, req, fn)
	}
	rc.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()
	select {
	case <-req.done:
		if req.err != nil {
			return nil, shared, req.err
		}
		return req.result.Clone(), shared, nil
	case <-waitCtx.Done():
		return nil, shared, waitCtx.Err()
	}
}

func (rc *requestCoalescer) run(ctx context.Context, key string, req *inFlightRequest, fn func(ctx context.Context) (models.ForecastPayload, error)) {
	fillCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rc.timeout)
	defer cancel()

	req.result, req.err = fn(fillCtx)

	// Remove before waking waiters so later arrivals start a fresh fill.
	rc.mu.Lock()
	delete(rc.inFlight, key)
	rc.mu.Unlock()
	close(req.done)
}

// inFlightCount returns the number of keys with a fill in progress.
func (rc *requestCoalescer) inFlightCount() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.inFlight)
}
