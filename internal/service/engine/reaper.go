package engine

import (
	"context"
	"log"
	"sync"
	"time"
)

// DefaultSweepInterval is how often the reaper looks for idle sessions.
const DefaultSweepInterval = time.Minute

// Reaper periodically evicts sessions idle past the timeout, together with
// their queues. It is the only automatic session-removal path.
type Reaper struct {
	engine   *Engine
	interval time.Duration
	timeout  time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewReaper builds a reaper sweeping every interval, evicting sessions idle
// longer than timeout.
func NewReaper(engine *Engine, interval, timeout time.Duration) *Reaper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Reaper{
		engine:   engine,
		interval: interval,
		timeout:  timeout,
	}
}

// Start launches the sweep loop. Calling Start on a running reaper is a
// no-op.
func (r *Reaper) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return
	}

	sweepCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true

	go r.run(sweepCtx)
}

// Stop halts the loop and waits for it to finish.
func (r *Reaper) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()

	cancel()
	<-done
}

// IsRunning reports whether the sweep loop is active.
func (r *Reaper) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Reaper) run(ctx context.Context) {
	defer func() {
		r.mu.Lock()
		r.running = false
		close(r.done)
		r.mu.Unlock()
	}()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[reaper] stopping")
			return
		case <-ticker.C:
			r.Sweep(time.Now())
		}
	}
}

// Sweep evicts every session idle past the timeout as of now. Exposed so a
// single pass can be driven directly.
func (r *Reaper) Sweep(now time.Time) int {
	keys := r.engine.store.ExpiredKeys(now, r.timeout)
	for _, key := range keys {
		r.engine.Deactivate(key)
	}
	if len(keys) > 0 {
		log.Printf("[reaper] evicted %d idle session(s)", len(keys))
	}
	return len(keys)
}
