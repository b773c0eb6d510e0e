package testutil

import (
	"fmt"
	"sync"
	"time"

	"verhist/internal/history"
)

// ManualClock is a history.Clock that only moves when a test advances it,
// so version and operation timestamps can be asserted exactly.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock(t time.Time) *ManualClock {
	return &ManualClock{now: t}
}

// FixedClock starts at 2024-01-15 10:30:00 UTC.
func FixedClock() *ManualClock {
	return NewManualClock(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC))
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// SequentialIDs issues "id-1", "id-2", ... Project creation and every push
// attempt each draw one ID, so tests can predict blob locations.
type SequentialIDs struct {
	mu     sync.Mutex
	issued int
}

func NewSequentialIDs() *SequentialIDs {
	return &SequentialIDs{}
}

func (g *SequentialIDs) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.issued++
	return fmt.Sprintf("id-%d", g.issued)
}

// Last returns the most recently issued ID, or "" if none was issued.
func (g *SequentialIDs) Last() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.issued == 0 {
		return ""
	}
	return fmt.Sprintf("id-%d", g.issued)
}

var (
	_ history.Clock       = (*ManualClock)(nil)
	_ history.IDGenerator = (*SequentialIDs)(nil)
)
