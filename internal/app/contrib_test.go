package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/voxhall/voxhall/internal/app"
	"github.com/voxhall/voxhall/internal/domain"
)

// countingCrediter records credit calls so tests can observe accrual
// without touching a real store.
type countingCrediter struct {
	mu     sync.Mutex
	totals map[string]int64
}

func newCountingCrediter() *countingCrediter {
	return &countingCrediter{totals: make(map[string]int64)}
}

func (c *countingCrediter) CreditMember(ctx context.Context, userID domain.UserID, serverID domain.ServerID, amount int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totals[string(userID)+"/"+string(serverID)] += amount
	return nil
}

func (c *countingCrediter) total(userID, serverID string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totals[userID+"/"+serverID]
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

func TestContribAccruesWhileActive(t *testing.T) {
	credits := newCountingCrediter()
	ct := app.NewContribTimers(context.Background(), 5*time.Millisecond, credits)
	defer ct.Stop("c1")

	ct.Start("c1", "u1", "s1", "ch1")
	if !waitFor(t, time.Second, func() bool { return credits.total("u1", "s1") >= 2 }) {
		t.Fatalf("no accrual observed, total = %d", credits.total("u1", "s1"))
	}
	if ch, ok := ct.Active("c1"); !ok || ch != "ch1" {
		t.Fatalf("Active = %s, %v", ch, ok)
	}
}

func TestContribStopsAccrual(t *testing.T) {
	credits := newCountingCrediter()
	ct := app.NewContribTimers(context.Background(), 5*time.Millisecond, credits)

	ct.Start("c1", "u1", "s1", "ch1")
	waitFor(t, time.Second, func() bool { return credits.total("u1", "s1") >= 1 })
	ct.Stop("c1")

	if _, ok := ct.Active("c1"); ok {
		t.Fatal("timer still registered after Stop")
	}
	frozen := credits.total("u1", "s1")
	time.Sleep(30 * time.Millisecond)
	if got := credits.total("u1", "s1"); got != frozen {
		t.Fatalf("accrual continued after Stop: %d -> %d", frozen, got)
	}
}

func TestContribStopIdempotent(t *testing.T) {
	ct := app.NewContribTimers(context.Background(), time.Hour, newCountingCrediter())
	ct.Start("c1", "u1", "s1", "ch1")
	ct.Stop("c1")
	ct.Stop("c1")
	ct.Stop("never-started")
}

func TestContribStartReplacesExisting(t *testing.T) {
	credits := newCountingCrediter()
	ct := app.NewContribTimers(context.Background(), time.Hour, credits)
	defer ct.Stop("c1")

	ct.Start("c1", "u1", "s1", "ch1")
	ct.Start("c1", "u1", "s1", "ch2")

	if ch, ok := ct.Active("c1"); !ok || ch != "ch2" {
		t.Fatalf("Active = %s, %v, want ch2", ch, ok)
	}
	// One stop must clear the only live timer.
	ct.Stop("c1")
	if _, ok := ct.Active("c1"); ok {
		t.Fatal("timer survived Stop after replacement")
	}
}

func TestContribBaseContextCancelKillsTimers(t *testing.T) {
	credits := newCountingCrediter()
	ctx, cancel := context.WithCancel(context.Background())
	ct := app.NewContribTimers(ctx, 5*time.Millisecond, credits)

	ct.Start("c1", "u1", "s1", "ch1")
	waitFor(t, time.Second, func() bool { return credits.total("u1", "s1") >= 1 })
	cancel()

	time.Sleep(15 * time.Millisecond)
	frozen := credits.total("u1", "s1")
	time.Sleep(30 * time.Millisecond)
	if got := credits.total("u1", "s1"); got != frozen {
		t.Fatalf("accrual continued after shutdown: %d -> %d", frozen, got)
	}
}
