package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vtrenkov/chatrelay/internal/model/convo"
	"github.com/vtrenkov/chatrelay/internal/service/ai"
	"github.com/vtrenkov/chatrelay/internal/service/quota"
	"github.com/vtrenkov/chatrelay/internal/service/session"
)

// stubGenerator echoes input, optionally failing, and tracks how many calls
// run concurrently.
type stubGenerator struct {
	fail       error
	cost       int64
	delay      time.Duration
	inFlight   atomic.Int32
	maxSeen    atomic.Int32
	totalCalls atomic.Int32
}

func (g *stubGenerator) Backend() ai.Backend { return ai.BackendOpenAI }

func (g *stubGenerator) Generate(_ context.Context, _ []convo.Turn, text string) (ai.Reply, error) {
	current := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		seen := g.maxSeen.Load()
		if current <= seen || g.maxSeen.CompareAndSwap(seen, current) {
			break
		}
	}
	g.totalCalls.Add(1)

	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	if g.fail != nil {
		return ai.Reply{}, g.fail
	}
	return ai.Reply{Text: "echo:" + text, Cost: g.cost}, nil
}

// captureDeliverer records everything delivered per conversation.
type captureDeliverer struct {
	mu  sync.Mutex
	got map[string][]string
}

func newCaptureDeliverer() *captureDeliverer {
	return &captureDeliverer{got: make(map[string][]string)}
}

func (d *captureDeliverer) Deliver(key, text string) {
	d.mu.Lock()
	d.got[key] = append(d.got[key], text)
	d.mu.Unlock()
}

func (d *captureDeliverer) delivered(key string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.got[key]))
	copy(out, d.got[key])
	return out
}

func (d *captureDeliverer) count(key string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.got[key])
}

func testConfig() Config {
	return Config{
		ActivateTrigger: "AI CHAT",
		StopTrigger:     "STOP AI",
		// No pacing so tests stay fast.
		DelayMin: 0,
		DelayMax: 0,
	}
}

func newTestEngine(t *testing.T, gen ai.Generator, limit int64) (*Engine, *captureDeliverer) {
	t.Helper()
	deliverer := newCaptureDeliverer()
	eng, err := New(session.NewStore(20), quota.NewGuard(limit), []ai.Generator{gen}, deliverer, testConfig())
	if err != nil {
		t.Fatalf("New err: %v", err)
	}
	return eng, deliverer
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestActivationAndDeactivationAcks(t *testing.T) {
	gen := &stubGenerator{cost: 1}
	eng, deliverer := newTestEngine(t, gen, 1000)

	eng.HandleInbound("A", "ai chat")
	if !eng.Store().IsActive("A") {
		t.Fatal("expected session active after trigger")
	}
	waitFor(t, func() bool { return deliverer.count("A") == 1 })

	// Re-activation is silent.
	eng.HandleInbound("A", "AI CHAT")
	if got := deliverer.count("A"); got != 1 {
		t.Fatalf("expected no second activation ack, got %d deliveries", got)
	}

	eng.HandleInbound("A", "stop ai")
	if eng.Store().IsActive("A") {
		t.Fatal("expected session gone after stop trigger")
	}
	waitFor(t, func() bool { return deliverer.count("A") == 2 })

	// Stop without a session is silent.
	eng.HandleInbound("A", "STOP AI")
	if got := deliverer.count("A"); got != 2 {
		t.Fatalf("expected no ack for redundant stop, got %d deliveries", got)
	}
}

func TestOrdinaryTextWithoutSessionIsIgnored(t *testing.T) {
	gen := &stubGenerator{cost: 1}
	eng, deliverer := newTestEngine(t, gen, 1000)

	eng.HandleInbound("A", "hello?")

	time.Sleep(20 * time.Millisecond)
	if got := deliverer.count("A"); got != 0 {
		t.Fatalf("expected silence for inactive conversation, got %d deliveries", got)
	}
	if calls := gen.totalCalls.Load(); calls != 0 {
		t.Fatalf("expected no generation calls, got %d", calls)
	}
}

func TestRepliesArriveInArrivalOrder(t *testing.T) {
	gen := &stubGenerator{cost: 1}
	eng, deliverer := newTestEngine(t, gen, 1000)

	eng.HandleInbound("A", "AI CHAT")
	waitFor(t, func() bool { return deliverer.count("A") == 1 })

	eng.HandleInbound("A", "hi")
	eng.HandleInbound("A", "how are you")
	waitFor(t, func() bool { return deliverer.count("A") == 3 })

	got := deliverer.delivered("A")[1:]
	want := []string{"echo:hi", "echo:how are you"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delivery %d: got %q want %q", i, got[i], want[i])
		}
	}

	history, _ := eng.Store().Snapshot("A")
	if len(history) != 4 {
		t.Fatalf("expected 4 history turns, got %d", len(history))
	}
	if history[3].Role != convo.RoleAssistant || history[3].Text != "echo:how are you" {
		t.Fatalf("unexpected final turn: %+v", history[3])
	}
}

func TestSingleWorkerPerKey(t *testing.T) {
	gen := &stubGenerator{cost: 1, delay: 5 * time.Millisecond}
	eng, deliverer := newTestEngine(t, gen, 100000)

	eng.HandleInbound("A", "AI CHAT")
	waitFor(t, func() bool { return deliverer.count("A") == 1 })

	const n = 15
	for i := 0; i < n; i++ {
		eng.HandleInbound("A", fmt.Sprintf("msg-%d", i))
	}
	waitFor(t, func() bool { return deliverer.count("A") == n+1 })

	if peak := gen.maxSeen.Load(); peak > 1 {
		t.Fatalf("observed %d concurrent generations for one key", peak)
	}

	// FIFO across the whole burst.
	replies := deliverer.delivered("A")[1:]
	for i, reply := range replies {
		if want := fmt.Sprintf("echo:msg-%d", i); reply != want {
			t.Fatalf("reply %d: got %q want %q", i, reply, want)
		}
	}
}

func TestWorkersForDifferentKeysRunIndependently(t *testing.T) {
	gen := &stubGenerator{cost: 1, delay: 5 * time.Millisecond}
	eng, deliverer := newTestEngine(t, gen, 100000)

	keys := []string{"A", "B", "C"}
	for _, key := range keys {
		eng.HandleInbound(key, "AI CHAT")
	}
	for _, key := range keys {
		key := key
		waitFor(t, func() bool { return deliverer.count(key) == 1 })
		eng.HandleInbound(key, "ping "+key)
	}
	for _, key := range keys {
		key := key
		waitFor(t, func() bool { return deliverer.count(key) == 2 })
		if got := deliverer.delivered(key)[1]; got != "echo:ping "+key {
			t.Fatalf("cross-conversation mixup: key %s got %q", key, got)
		}
	}
}

func TestQuotaExceededSkipsGeneration(t *testing.T) {
	gen := &stubGenerator{cost: 500}
	eng, deliverer := newTestEngine(t, gen, 100)

	eng.HandleInbound("A", "AI CHAT")
	waitFor(t, func() bool { return deliverer.count("A") == 1 })

	eng.HandleInbound("A", "first")
	waitFor(t, func() bool { return deliverer.count("A") == 2 })
	if got := deliverer.delivered("A")[1]; got != "echo:first" {
		t.Fatalf("expected first reply generated, got %q", got)
	}

	// Recorded cost now exceeds the daily ceiling: everything else gets the
	// quota notice until rollover.
	for i := 0; i < 3; i++ {
		eng.HandleInbound("A", fmt.Sprintf("more-%d", i))
	}
	waitFor(t, func() bool { return deliverer.count("A") == 5 })

	for _, got := range deliverer.delivered("A")[2:] {
		if got != noticeQuota {
			t.Fatalf("expected quota notice, got %q", got)
		}
	}
	if calls := gen.totalCalls.Load(); calls != 1 {
		t.Fatalf("expected exactly one generation call, got %d", calls)
	}
}

func TestGenerationFailureDeliversNotice(t *testing.T) {
	gen := &stubGenerator{fail: errors.New("upstream exploded")}
	eng, deliverer := newTestEngine(t, gen, 1000)

	eng.HandleInbound("A", "AI CHAT")
	waitFor(t, func() bool { return deliverer.count("A") == 1 })
	before, _ := eng.Store().Get("A")

	time.Sleep(10 * time.Millisecond)
	eng.HandleInbound("A", "one")
	eng.HandleInbound("A", "two")
	waitFor(t, func() bool { return deliverer.count("A") == 3 })

	for _, got := range deliverer.delivered("A")[1:] {
		if got != noticeFailure {
			t.Fatalf("expected failure notice, got %q", got)
		}
	}

	history, _ := eng.Store().Snapshot("A")
	if len(history) != 0 {
		t.Fatalf("failure must not mutate history, got %d turns", len(history))
	}

	after, _ := eng.Store().Get("A")
	if !after.LastActivity.After(before.LastActivity) {
		t.Fatal("failed attempt should still count as activity")
	}
}

func TestNetworkFailureUsesUnreachableNotice(t *testing.T) {
	gen := &stubGenerator{fail: &ai.Error{Kind: ai.FailNetwork, Backend: ai.BackendOpenAI, Err: errors.New("dial tcp: timeout")}}
	eng, deliverer := newTestEngine(t, gen, 1000)

	eng.HandleInbound("A", "AI CHAT")
	waitFor(t, func() bool { return deliverer.count("A") == 1 })

	eng.HandleInbound("A", "hello")
	waitFor(t, func() bool { return deliverer.count("A") == 2 })

	if got := deliverer.delivered("A")[1]; got != noticeUnreachable {
		t.Fatalf("expected unreachable notice, got %q", got)
	}
}

func TestDeactivationDiscardsBacklog(t *testing.T) {
	gen := &stubGenerator{cost: 1, delay: 30 * time.Millisecond}
	eng, deliverer := newTestEngine(t, gen, 100000)

	eng.HandleInbound("A", "AI CHAT")
	waitFor(t, func() bool { return deliverer.count("A") == 1 })

	for i := 0; i < 5; i++ {
		eng.HandleInbound("A", fmt.Sprintf("msg-%d", i))
	}
	// Deactivate while the worker is mid-drain; remaining items are
	// discarded without notices.
	waitFor(t, func() bool { return gen.totalCalls.Load() >= 1 })
	eng.HandleInbound("A", "STOP AI")

	waitFor(t, func() bool { return eng.queues.len() == 0 })
	if eng.Store().IsActive("A") {
		t.Fatal("expected session gone")
	}

	// Allow the drain to finish, then confirm nothing else was delivered
	// beyond replies produced before deactivation plus the stop ack.
	time.Sleep(250 * time.Millisecond)
	calls := gen.totalCalls.Load()
	if calls >= 5 {
		t.Fatalf("expected backlog to be discarded, but %d generations ran", calls)
	}

	eng.HandleInbound("A", "anything")
	time.Sleep(50 * time.Millisecond)
	if eng.Store().IsActive("A") {
		t.Fatal("ordinary text must not reactivate")
	}
}

func TestReaperEvictsIdleSessions(t *testing.T) {
	gen := &stubGenerator{cost: 1}
	eng, deliverer := newTestEngine(t, gen, 1000)

	eng.HandleInbound("A", "AI CHAT")
	waitFor(t, func() bool { return deliverer.count("A") == 1 })

	timeout := 30 * time.Minute
	reaper := NewReaper(eng, time.Minute, timeout)

	if evicted := reaper.Sweep(time.Now()); evicted != 0 {
		t.Fatalf("expected no eviction yet, got %d", evicted)
	}

	if evicted := reaper.Sweep(time.Now().Add(timeout + time.Minute)); evicted != 1 {
		t.Fatalf("expected one eviction, got %d", evicted)
	}
	if eng.Store().IsActive("A") {
		t.Fatal("expected session evicted")
	}
	if eng.queues.len() != 0 {
		t.Fatal("expected queue removed with the session")
	}
}

func TestReaperStartStop(t *testing.T) {
	gen := &stubGenerator{cost: 1}
	eng, _ := newTestEngine(t, gen, 1000)

	reaper := NewReaper(eng, 10*time.Millisecond, time.Hour)
	reaper.Start(context.Background())
	if !reaper.IsRunning() {
		t.Fatal("expected reaper running after Start")
	}
	// Second Start is a no-op.
	reaper.Start(context.Background())

	reaper.Stop()
	if reaper.IsRunning() {
		t.Fatal("expected reaper stopped after Stop")
	}
	// Second Stop is a no-op.
	reaper.Stop()
}

func TestLosingSpawnRacerExitsImmediately(t *testing.T) {
	gen := &stubGenerator{cost: 1, delay: 20 * time.Millisecond}
	eng, deliverer := newTestEngine(t, gen, 100000)

	eng.HandleInbound("A", "AI CHAT")
	waitFor(t, func() bool { return deliverer.count("A") == 1 })

	q, _ := eng.queues.enqueue("A", "held")
	// Simulate a racy double spawn: both drains target the same queue; the
	// gate lets exactly one of them proceed.
	go eng.drain("A", q)
	go eng.drain("A", q)

	waitFor(t, func() bool { return deliverer.count("A") == 2 })
	if peak := gen.maxSeen.Load(); peak > 1 {
		t.Fatalf("double spawn leaked into %d concurrent drains", peak)
	}
	if got := deliverer.delivered("A")[1]; got != "echo:held" {
		t.Fatalf("unexpected delivery %q", got)
	}
}

func TestPaceBoundsDelay(t *testing.T) {
	gen := &stubGenerator{cost: 1}
	deliverer := newCaptureDeliverer()
	cfg := testConfig()
	cfg.DelayMin = 5 * time.Millisecond
	cfg.DelayMax = 10 * time.Millisecond

	eng, err := New(session.NewStore(20), quota.NewGuard(1000), []ai.Generator{gen}, deliverer, cfg)
	if err != nil {
		t.Fatalf("New err: %v", err)
	}

	eng.HandleInbound("A", "AI CHAT")
	waitFor(t, func() bool { return deliverer.count("A") == 1 })

	start := time.Now()
	eng.HandleInbound("A", "hi")
	waitFor(t, func() bool { return deliverer.count("A") == 2 })

	if elapsed := time.Since(start); elapsed < cfg.DelayMin {
		t.Fatalf("reply arrived before the pacing delay: %v", elapsed)
	}
}

func TestNewRequiresBackendAndTriggers(t *testing.T) {
	deliverer := newCaptureDeliverer()
	store := session.NewStore(20)
	guard := quota.NewGuard(1000)

	if _, err := New(store, guard, nil, deliverer, testConfig()); err == nil {
		t.Fatal("expected error without backends")
	}

	cfg := testConfig()
	cfg.ActivateTrigger = ""
	if _, err := New(store, guard, []ai.Generator{&stubGenerator{}}, deliverer, cfg); err == nil {
		t.Fatal("expected error without triggers")
	}
}
