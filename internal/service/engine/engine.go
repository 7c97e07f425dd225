package engine

import (
	"fmt"
	"time"

	"github.com/vtrenkov/chatrelay/internal/model/convo"
	"github.com/vtrenkov/chatrelay/internal/service/ai"
	"github.com/vtrenkov/chatrelay/internal/service/quota"
	"github.com/vtrenkov/chatrelay/internal/service/session"
)

// Deliverer pushes a text to a conversation, fire-and-forget. Delivery
// outcomes never feed back into engine state.
type Deliverer interface {
	Deliver(conversationKey, text string)
}

// Config carries the engine's tunables.
type Config struct {
	// ActivateTrigger and StopTrigger are matched case-insensitively against
	// the whole inbound text.
	ActivateTrigger string
	StopTrigger     string
	// DelayMin/DelayMax bound the pacing pause before every generation call.
	// DelayMax == 0 disables pacing; DelayMin == DelayMax gives a fixed pause.
	DelayMin time.Duration
	DelayMax time.Duration
}

// Engine ties the session store, quota guard, generation backends, and
// delivery transport into the per-conversation relay described above:
// strictly ordered processing with at most one in-flight generation per key.
type Engine struct {
	store    *session.Store
	guard    *quota.Guard
	backends map[ai.Backend]ai.Generator
	deliver  Deliverer
	cfg      Config
	queues   *queueSet
}

// New wires an engine. At least one generator must be registered.
func New(store *session.Store, guard *quota.Guard, generators []ai.Generator, deliver Deliverer, cfg Config) (*Engine, error) {
	if len(generators) == 0 {
		return nil, fmt.Errorf("at least one generation backend is required")
	}
	if cfg.ActivateTrigger == "" || cfg.StopTrigger == "" {
		return nil, fmt.Errorf("activation and stop triggers must be configured")
	}

	backends := make(map[ai.Backend]ai.Generator, len(generators))
	for _, g := range generators {
		backends[g.Backend()] = g
	}

	return &Engine{
		store:    store,
		guard:    guard,
		backends: backends,
		deliver:  deliver,
		cfg:      cfg,
		queues:   newQueueSet(),
	}, nil
}

// Store exposes the session store for read-only HTTP surfaces.
func (e *Engine) Store() *session.Store { return e.store }

// Session returns the read-only session view for key.
func (e *Engine) Session(key string) (convo.Session, bool) {
	return e.store.Get(key)
}

// Deactivate removes the session and its queue, discarding pending texts.
// Safe to call for keys that were never activated.
func (e *Engine) Deactivate(key string) {
	e.store.Deactivate(key)
	e.queues.drop(key)
}
