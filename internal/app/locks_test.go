package app

import (
	"sync"
	"testing"

	"github.com/voxhall/voxhall/internal/domain"
)

func lockTableSize(e *Engine) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.locks)
}

func TestLockUserReleasesEntry(t *testing.T) {
	e := &Engine{locks: make(map[domain.UserID]*userLock)}

	unlock := e.lockUser("u1")
	if n := lockTableSize(e); n != 1 {
		t.Fatalf("lock table size while held = %d", n)
	}
	unlock()
	if n := lockTableSize(e); n != 0 {
		t.Fatalf("lock table size after release = %d", n)
	}
}

// Contended entries survive until the last holder releases; the table
// never retains entries for users with no transition in flight.
func TestLockUserContention(t *testing.T) {
	e := &Engine{locks: make(map[domain.UserID]*userLock)}

	const workers = 8
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := e.lockUser("u1")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	if counter != workers {
		t.Fatalf("counter = %d, lock did not serialize", counter)
	}
	if n := lockTableSize(e); n != 0 {
		t.Fatalf("lock table size after all released = %d", n)
	}
}
