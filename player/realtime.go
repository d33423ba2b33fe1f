package player

import (
	"sync"
	"time"
)

// RealtimeLoop is the reference EventLoop implementation: it funnels
// timer firings and externally posted callbacks through a single
// channel drained by one goroutine, so a Player driven by it sees the
// single-threaded cooperative execution model its state machine assumes
// even though the timer and the poster run on different goroutines.
type RealtimeLoop struct {
	events chan func()
	done   chan struct{}

	mu    sync.Mutex
	timer *time.Timer
}

// NewRealtimeLoop constructs a RealtimeLoop with a modestly buffered
// dispatch channel, enough to absorb a burst of posted callbacks without
// blocking their callers.
func NewRealtimeLoop() *RealtimeLoop {
	return &RealtimeLoop{
		events: make(chan func(), 64),
		done:   make(chan struct{}),
	}
}

// ArmTimer implements EventLoop.
func (l *RealtimeLoop) ArmTimer(d time.Duration, cb func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
	}
	l.timer = time.AfterFunc(d, func() {
		select {
		case l.events <- cb:
		case <-l.done:
		}
	})
}

// DisarmTimer implements EventLoop.
func (l *RealtimeLoop) DisarmTimer() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

// BreakLoop implements EventLoop, causing a blocked RunLoop to return.
func (l *RealtimeLoop) BreakLoop() {
	select {
	case <-l.done:
	default:
		close(l.done)
	}
}

// RunLoop implements EventLoop, dispatching callbacks serially until
// BreakLoop is called.
func (l *RealtimeLoop) RunLoop() {
	for {
		select {
		case cb := <-l.events:
			cb()
		case <-l.done:
			return
		}
	}
}

// Post schedules cb to run on the loop's dispatch goroutine, serialized
// with any in-flight timer callback. Used by callers outside the loop
// goroutine (e.g. an HTTP handler driving GotoTime) to stay inside the
// single-threaded execution contract.
func (l *RealtimeLoop) Post(cb func()) {
	select {
	case l.events <- cb:
	case <-l.done:
	}
}
