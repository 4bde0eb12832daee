package orchestrator

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
)

func TestWorkersRunTasksInOrder(t *testing.T) {
	p := newSessionWorkers(zerolog.Nop())

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		i := i
		last := i == 9
		p.submit("s1", func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			if last {
				close(done)
			}
		})
	}
	<-done

	mu.Lock()
	defer mu.Unlock()
	for i, got := range order {
		if got != i {
			t.Fatalf("task %d ran out of order: %v", i, order)
		}
	}
}

// Every task accepted by submit must run, even when retire races the
// submission.
func TestWorkersAcceptedTaskSurvivesConcurrentRetire(t *testing.T) {
	p := newSessionWorkers(zerolog.Nop())

	var accepted, ran int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if p.submit("s1", func() { atomic.AddInt64(&ran, 1) }) {
				atomic.AddInt64(&accepted, 1)
			}
		}()
		go func() {
			defer wg.Done()
			p.retire("s1")
		}()
	}
	wg.Wait()
	p.retire("s1")

	waitFor(t, func() bool {
		return atomic.LoadInt64(&ran) == atomic.LoadInt64(&accepted)
	})
}

func TestWorkersRunCompletesAfterRetire(t *testing.T) {
	p := newSessionWorkers(zerolog.Nop())

	p.submit("s1", func() {})
	p.retire("s1")

	// A retired session gets a fresh worker on the next submission
	executed := false
	if !p.run("s1", func() { executed = true }) {
		t.Fatal("run failed after retire")
	}
	if !executed {
		t.Fatal("task did not execute")
	}

	p.retire("s1")
	if p.count() != 0 {
		t.Errorf("expected no live workers, got %d", p.count())
	}
}
