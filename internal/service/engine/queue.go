package engine

import "sync"

// convQueue buffers pending inbound texts for one conversation key. The gate
// mutex is the per-key exclusive guard: whoever holds it is the only worker
// draining this key.
type convQueue struct {
	mu      sync.Mutex
	pending []string
	gate    sync.Mutex
}

// push appends text and returns the resulting queue length.
func (q *convQueue) push(text string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, text)
	return len(q.pending)
}

// pop removes and returns the oldest pending text.
func (q *convQueue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return "", false
	}
	text := q.pending[0]
	q.pending = q.pending[1:]
	return text, true
}

func (q *convQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// queueSet owns the key → queue mapping. Queues are created lazily on first
// enqueue and dropped together with their session on deactivation.
type queueSet struct {
	mu     sync.Mutex
	queues map[string]*convQueue
}

func newQueueSet() *queueSet {
	return &queueSet{queues: make(map[string]*convQueue)}
}

// enqueue appends text to the key's queue, creating it if needed, and
// returns the queue plus its new length.
func (qs *queueSet) enqueue(key, text string) (*convQueue, int) {
	qs.mu.Lock()
	q, ok := qs.queues[key]
	if !ok {
		q = &convQueue{}
		qs.queues[key] = q
	}
	qs.mu.Unlock()

	return q, q.push(text)
}

// drop discards the key's queue and any still-pending texts.
func (qs *queueSet) drop(key string) {
	qs.mu.Lock()
	delete(qs.queues, key)
	qs.mu.Unlock()
}

func (qs *queueSet) len() int {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	return len(qs.queues)
}
