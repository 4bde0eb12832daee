package orchestrator

import (
	"sync"

	"github.com/rs/zerolog"
)

// sessionWorker serializes all work touching one session. Tasks run in
// arrival order on a dedicated goroutine, so a slow responder call delays
// only its own session.
type sessionWorker struct {
	tasks chan func()
	quit  chan struct{}
}

// sessionWorkers manages one worker per live session
type sessionWorkers struct {
	mu      sync.Mutex
	workers map[string]*sessionWorker
	logger  zerolog.Logger
}

func newSessionWorkers(logger zerolog.Logger) *sessionWorkers {
	return &sessionWorkers{
		workers: make(map[string]*sessionWorker),
		logger:  logger,
	}
}

// submit enqueues a task for the session, returning false if the worker's
// buffer is full. Callers treat false as overload and surface an error.
// The channel send happens under the mutex: a concurrent retire either
// runs before (submit then creates a fresh worker) or after (the retiring
// worker drains the task before exiting), so an accepted task always runs.
func (p *sessionWorkers) submit(sessionID string, fn func()) bool {
	p.mu.Lock()
	w, ok := p.workers[sessionID]
	if !ok {
		w = &sessionWorker{
			tasks: make(chan func(), 256),
			quit:  make(chan struct{}),
		}
		p.workers[sessionID] = w
		go w.loop()
	}

	select {
	case w.tasks <- fn:
		p.mu.Unlock()
		return true
	default:
		p.mu.Unlock()
		p.logger.Warn().Str("session_id", sessionID).Msg("session worker buffer full, dropping task")
		return false
	}
}

// run enqueues a task and waits for it to finish. Used for agent actions
// whose caller needs the outcome before deciding the next step.
func (p *sessionWorkers) run(sessionID string, fn func()) bool {
	done := make(chan struct{})
	ok := p.submit(sessionID, func() {
		defer close(done)
		fn()
	})
	if !ok {
		return false
	}
	<-done
	return true
}

// retire removes the session's worker once the session has ended. The
// worker drains what it already accepted, then exits. quit is closed under
// the same mutex submit sends under, so no task can land after the drain.
func (p *sessionWorkers) retire(sessionID string) {
	p.mu.Lock()
	if w, ok := p.workers[sessionID]; ok {
		delete(p.workers, sessionID)
		close(w.quit)
	}
	p.mu.Unlock()
}

// count returns the number of live workers
func (p *sessionWorkers) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

func (w *sessionWorker) loop() {
	for {
		select {
		case fn := <-w.tasks:
			fn()
		case <-w.quit:
			for {
				select {
				case fn := <-w.tasks:
					fn()
				default:
					return
				}
			}
		}
	}
}
