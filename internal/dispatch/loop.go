// Package dispatch implements the single-owner-goroutine executor used
// by Channel and AuthManager to serialize state transitions without
// per-field mutexes (spec.md §5's "single-threaded cooperative"
// concurrency model). Every state mutation runs on the Loop's own
// goroutine; callers either wait for it to finish (Run) or fire-and-
// forget (Post), the same run-on-owner idiom the teacher uses for its
// order book's single writer goroutine.
package dispatch

// Loop serializes arbitrary work onto one goroutine.
type Loop struct {
	work chan func()
	done chan struct{}
}

// New starts a Loop's goroutine. Callers must Close it once done.
func New() *Loop {
	l := &Loop{
		work: make(chan func()),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	for {
		select {
		case fn := <-l.work:
			fn()
		case <-l.done:
			return
		}
	}
}

// Run schedules fn on the owner goroutine and blocks until it returns.
// Calling Run from inside another Run/Post on the same Loop deadlocks,
// matching the teacher's single-writer convention of never re-entering
// its own dispatch loop.
func (l *Loop) Run(fn func()) {
	reply := make(chan struct{})
	select {
	case l.work <- func() { fn(); close(reply) }:
		<-reply
	case <-l.done:
	}
}

// Post schedules fn to run on the owner goroutine without waiting for
// it to complete. It does wait until the owner goroutine accepts fn, so
// a caller blocks while the Loop is busy with earlier work, and work
// posted from one goroutine runs in the order it was posted. Used for
// inbound frame delivery.
func (l *Loop) Post(fn func()) {
	select {
	case l.work <- fn:
	case <-l.done:
	}
}

// Close stops the Loop. Pending Post calls queued after Close are
// dropped; a Run call racing with Close returns without invoking fn.
func (l *Loop) Close() {
	select {
	case <-l.done:
	default:
		close(l.done)
	}
}
