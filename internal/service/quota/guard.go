package quota

import (
	"sync"
	"time"
)

// Guard tracks approximate generation cost consumed today against a daily
// ceiling. One Guard serves the whole process.
//
// The CheckAndReserve/Record pair is deliberately not atomic across callers:
// workers for different conversations can both pass the check before either
// records, so usage may overshoot the ceiling by roughly one request per
// in-flight worker. This is a soft limit by design, not a race to fix.
type Guard struct {
	mu          sync.Mutex
	usedToday   int64
	dayStamp    string
	limitPerDay int64
	now         func() time.Time
}

// NewGuard builds a guard with the given daily ceiling in cost units.
func NewGuard(limitPerDay int64) *Guard {
	g := &Guard{
		limitPerDay: limitPerDay,
		now:         time.Now,
	}
	g.dayStamp = dayOf(g.now())
	return g
}

// CheckAndReserve reports whether a call with the given estimated cost may
// proceed. Rolls the counter over first when the calendar day changed. The
// caller records the actual cost afterwards via Record.
func (g *Guard) CheckAndReserve(estimated int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rolloverLocked()
	return g.usedToday+estimated <= g.limitPerDay
}

// Record adds actual consumed cost to today's counter.
func (g *Guard) Record(cost int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rolloverLocked()
	g.usedToday += cost
}

// Remaining returns how much of today's budget is left.
func (g *Guard) Remaining() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rolloverLocked()
	left := g.limitPerDay - g.usedToday
	if left < 0 {
		return 0
	}
	return left
}

func (g *Guard) rolloverLocked() {
	today := dayOf(g.now())
	if today != g.dayStamp {
		g.dayStamp = today
		g.usedToday = 0
	}
}

func dayOf(t time.Time) string {
	return t.Format("2006-01-02")
}
