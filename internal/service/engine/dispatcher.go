package engine

import (
	"fmt"
	"log"
	"math/rand/v2"
	"strings"

	"github.com/vtrenkov/chatrelay/internal/service/ai"
)

// HandleInbound is the entry point for every inbound text. It interprets the
// lifecycle triggers and queues ordinary payload for the key's worker.
// Ordinary text for a conversation that is not in AI mode is ignored.
func (e *Engine) HandleInbound(key, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	switch {
	case strings.EqualFold(text, e.cfg.StopTrigger):
		if !e.store.IsActive(key) {
			return
		}
		e.Deactivate(key)
		log.Printf("[dispatch] session deactivated key=%s", key)
		e.deliver.Deliver(key, noticeDeactivated)

	case strings.EqualFold(text, e.cfg.ActivateTrigger):
		if e.store.IsActive(key) {
			return
		}
		backend := e.pickBackend()
		e.store.Activate(key, backend.String())
		log.Printf("[dispatch] session activated key=%s backend=%s", key, backend)
		e.deliver.Deliver(key, fmt.Sprintf(noticeActivatedFmt, backend.Label(), e.cfg.StopTrigger))

	default:
		if !e.store.IsActive(key) {
			return
		}
		e.store.Touch(key)
		q, length := e.queues.enqueue(key, text)
		// Spawn only on the empty→one transition; the queue's gate is what
		// actually keeps drains exclusive if this check ever races.
		if length == 1 {
			go e.drain(key, q)
		}
	}
}

// pickBackend chooses uniformly among the registered backends, as the
// session's fixed model for its whole lifetime.
func (e *Engine) pickBackend() ai.Backend {
	backends := make([]ai.Backend, 0, len(e.backends))
	for b := range e.backends {
		backends = append(backends, b)
	}
	return backends[rand.IntN(len(backends))]
}
