package engine

import (
	"context"
	"errors"
	"log"
	"math/rand/v2"
	"time"

	"github.com/vtrenkov/chatrelay/internal/model/convo"
	"github.com/vtrenkov/chatrelay/internal/service/ai"
)

const (
	noticeActivatedFmt = "AI mode enabled. Model: %s. Send %q to exit."
	noticeDeactivated  = "AI mode disabled."
	noticeQuota        = "Daily AI limit reached. Try again tomorrow."
	noticeFailure      = "The AI is having trouble right now. Please try again later."
	noticeUnreachable  = "Could not reach the AI service. Please try again later."
)

// drain is the worker loop for one conversation key. The gate's try-acquire
// means a racy double spawn degrades to one worker proceeding while the loser
// exits immediately. After releasing, the holder re-checks the queue so a
// text enqueued in the release window is never stranded.
func (e *Engine) drain(key string, q *convQueue) {
	for {
		if !q.gate.TryLock() {
			return
		}
		e.drainLocked(key, q)
		q.gate.Unlock()

		if q.size() == 0 {
			return
		}
	}
}

// drainLocked processes pending texts in strict arrival order until the
// queue empties. Each text is consumed exactly once, success or not.
func (e *Engine) drainLocked(key string, q *convQueue) {
	for {
		text, ok := q.pop()
		if !ok {
			return
		}

		// A concurrent deactivation discards the backlog silently: the
		// conversation already left AI mode.
		if !e.store.IsActive(key) {
			continue
		}

		e.pace()

		if !e.guard.CheckAndReserve(ai.EstimateCost(text)) {
			log.Printf("[worker] quota exhausted key=%s", key)
			e.deliver.Deliver(key, noticeQuota)
			continue
		}

		gen := e.generatorFor(key)
		if gen == nil {
			continue
		}

		history, ok := e.store.Snapshot(key)
		if !ok {
			continue
		}

		reply, err := gen.Generate(context.Background(), history, text)
		if err != nil {
			// The attempt still counts as activity; history stays untouched.
			e.store.Touch(key)
			log.Printf("[worker] generation failed key=%s: %v", key, err)
			e.deliver.Deliver(key, noticeFor(err))
			continue
		}

		e.guard.Record(reply.Cost)
		e.store.AppendTurn(key, convo.RoleUser, text)
		e.store.AppendTurn(key, convo.RoleAssistant, reply.Text)
		e.store.Touch(key)
		e.deliver.Deliver(key, reply.Text)
	}
}

// generatorFor resolves the session's fixed backend to its generator.
// Returns nil when the session vanished or its backend is not registered.
func (e *Engine) generatorFor(key string) ai.Generator {
	tag, ok := e.store.Backend(key)
	if !ok {
		return nil
	}
	backend, ok := ai.ParseBackend(tag)
	if !ok {
		log.Printf("[worker] unknown backend tag key=%s tag=%s", key, tag)
		return nil
	}
	return e.backends[backend]
}

// pace pauses before every external call. Uniform random within the
// configured range; a zero range disables the pause.
func (e *Engine) pace() {
	if e.cfg.DelayMax <= 0 {
		return
	}
	delay := e.cfg.DelayMin
	if e.cfg.DelayMax > e.cfg.DelayMin {
		delay += time.Duration(rand.Int64N(int64(e.cfg.DelayMax - e.cfg.DelayMin)))
	}
	time.Sleep(delay)
}

// noticeFor picks the user-visible text for a failed generation. The failure
// kind only changes the wording, never the control flow.
func noticeFor(err error) string {
	var genErr *ai.Error
	if errors.As(err, &genErr) && genErr.Kind == ai.FailNetwork {
		return noticeUnreachable
	}
	return noticeFailure
}
