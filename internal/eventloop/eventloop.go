// Package eventloop defines the host event loop as an external collaborator
// (spec.md §5): timer and readiness callbacks delivered on a single
// cooperative goroutine, never blocking, never running two callbacks for
// the same loop instance concurrently.
package eventloop

import (
	"sync"
	"time"
)

// EventLoop is the interface internal/authfsm drives its state machine
// through. Production code and tests alike can supply any implementation;
// goroutineLoop below is the default.
type EventLoop interface {
	// ScheduleTimer arranges for fn to run after d, on the loop's single
	// callback goroutine. Used once per session, with d=0, to schedule the
	// initial OpInit step (spec.md §4.4: "the dispatcher returns to its
	// caller before any I/O happens").
	ScheduleTimer(d time.Duration, fn func())
	// WatchReady arranges for fn to run once ready becomes readable (closes).
	// Returns a Watch the caller can Cancel before ready fires, to re-arm on
	// the same OpID without leaking the previous watch.
	WatchReady(ready <-chan struct{}, fn func()) Watch
}

// Watch is a single pending WatchReady registration.
type Watch interface {
	// Cancel prevents fn from running if it has not already started.
	// Idempotent.
	Cancel()
}

// goroutineLoop is the default EventLoop: one dedicated goroutine drains a
// queue of callbacks in submission order, so no two callbacks for this loop
// instance ever run concurrently — the single-threaded cooperative model
// spec.md §5 requires.
type goroutineLoop struct {
	callbacks chan func()
}

// New constructs a running goroutineLoop. It has no stop method; its
// goroutine lives for the process lifetime.
func New() EventLoop {
	l := &goroutineLoop{callbacks: make(chan func(), 256)}
	go l.run()

	return l
}

func (l *goroutineLoop) run() {
	for fn := range l.callbacks {
		fn()
	}
}

func (l *goroutineLoop) ScheduleTimer(d time.Duration, fn func()) {
	if d <= 0 {
		l.callbacks <- fn

		return
	}

	time.AfterFunc(d, func() { l.callbacks <- fn })
}

func (l *goroutineLoop) WatchReady(ready <-chan struct{}, fn func()) Watch {
	w := &goroutineWatch{cancel: make(chan struct{})}

	go func() {
		select {
		case <-ready:
			select {
			case <-w.cancel:
			default:
				l.callbacks <- fn
			}
		case <-w.cancel:
		}
	}()

	return w
}

type goroutineWatch struct {
	cancel chan struct{}
	once   sync.Once
}

func (w *goroutineWatch) Cancel() {
	w.once.Do(func() { close(w.cancel) })
}
