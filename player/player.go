// Package player drives a Sequencer against a wall clock, exposing the
// state machine described by SPEC_FULL.md §4.3. It never touches a clock
// or a MIDI-out transport directly; both are supplied by the caller
// through the EventLoop interface and the EventCallback, which keeps this
// package usable in a test harness, a CLI, or a GUI event loop alike.
package player

import (
	"math"
	"time"

	"github.com/bep/debounce"
	"github.com/google/uuid"

	"github.com/anselm-k/fmidi/seq"
	"github.com/anselm-k/fmidi/smf"
	"github.com/anselm-k/fmidi/util"
)

// State is one of the player's four states (SPEC_FULL.md §4.3).
type State int

const (
	Idle State = iota
	Running
	Finished
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Finished:
		return "finished"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	minSpeed = 0.01
	maxSpeed = 10.0
)

// EventLoop is the external monotonic-clock collaborator a Player is
// driven by. Implementations must guarantee that ArmTimer callbacks and
// any externally posted callbacks never run concurrently with each other
// (SPEC_FULL.md §4.3's "single-threaded cooperative execution model").
type EventLoop interface {
	// ArmTimer schedules cb to run once, after d has elapsed. Re-arming
	// from within cb itself must be safe.
	ArmTimer(d time.Duration, cb func())
	// DisarmTimer cancels any pending timer. A no-op if none is armed.
	DisarmTimer()
	// BreakLoop asks a blocking RunLoop to return.
	BreakLoop()
	// RunLoop blocks, dispatching timer and posted callbacks, until
	// BreakLoop is called.
	RunLoop()
}

// EventCallback receives one sequencer event as the player reaches it.
type EventCallback func(seq.Event)

// FinishCallback fires exactly once when the sequence runs to its end.
type FinishCallback func()

// Player drives a Sequencer's events against wall-clock time via an
// EventLoop, implementing start/stop/rewind/seek/speed-change on top of
// it (SPEC_FULL.md §3.5, §4.3).
type Player struct {
	ID uuid.UUID

	loop EventLoop
	smf  *smf.SMF
	seq  *seq.Sequencer

	state       State
	speed       float64
	currentTime float64

	haveEvent bool
	curEvent  seq.Event

	onEvent  EventCallback
	onFinish FinishCallback

	debounced func(func())
}

// New builds a Player over s, driven by loop, with default speed 1.0. s
// must outlive the Player.
func New(s *smf.SMF, loop EventLoop, onEvent EventCallback, onFinish FinishCallback) *Player {
	return &Player{
		ID:       uuid.New(),
		loop:     loop,
		smf:      s,
		seq:      seq.New(s),
		state:    Idle,
		speed:    1.0,
		onEvent:  onEvent,
		onFinish: onFinish,
	}
}

// State reports the player's current state.
func (p *Player) State() State { return p.state }

// CurrentTime reports the player's current position, in seconds.
func (p *Player) CurrentTime() float64 { return p.currentTime }

// Start transitions Idle/Stopped to Running and arms the next event's
// timer.
func (p *Player) Start() {
	if p.state == Running {
		return
	}
	p.state = Running
	p.scheduleNext()
}

// Stop disarms the timer and transitions to Stopped. The caller is
// responsible for emitting its own all-notes-off after Stop, per
// SPEC_FULL.md §4.3.
func (p *Player) Stop() {
	if p.state != Running {
		return
	}
	p.loop.DisarmTimer()
	p.state = Stopped
}

// Rewind resets the sequencer and current time to zero. State is
// unchanged, per SPEC_FULL.md §4.3's transition table; a running player
// keeps running from time zero.
func (p *Player) Rewind() {
	running := p.state == Running
	if running {
		p.loop.DisarmTimer()
	}
	p.seq.Rewind()
	p.currentTime = 0
	p.haveEvent = false
	if running {
		p.scheduleNext()
	}
}

// SetSpeed changes playback speed, clamping illegal arguments (zero,
// negative, NaN, or out-of-range values) into [minSpeed, maxSpeed] rather
// than rejecting them. If the player is running, the outstanding deadline
// is rescaled from the current time rather than tracked exactly, since the
// EventLoop contract exposes no way to query elapsed time on an armed timer.
func (p *Player) SetSpeed(speed float64) {
	if math.IsNaN(speed) {
		speed = minSpeed
	}
	p.speed = util.Clamp(speed, minSpeed, maxSpeed)
	if p.state == Running {
		p.loop.DisarmTimer()
		p.scheduleNext()
	}
}

// GotoTime seeks the sequencer to t and passes the surviving events (per
// Sequencer.Seek's suppression rules) to the event callback in order.
func (p *Player) GotoTime(t float64) {
	running := p.state == Running
	if running {
		p.loop.DisarmTimer()
	}
	for _, e := range p.seq.Seek(t) {
		if p.onEvent != nil {
			p.onEvent(e)
		}
	}
	p.currentTime = t
	p.haveEvent = false
	if running {
		p.scheduleNext()
	}
}

// DebouncedGotoTime wraps GotoTime with a per-Player debouncer, so an
// interactive caller (a seek slider) can call it on every input event
// without flooding the sequencer with intermediate seeks.
func (p *Player) DebouncedGotoTime(d time.Duration, t float64) {
	if p.debounced == nil {
		p.debounced = debounce.New(d)
	}
	p.debounced(func() { p.GotoTime(t) })
}

// scheduleNext arms a timer for exactly the wall-clock delay until the
// next pending event, or finishes the player if the sequence is
// exhausted. It never tracks elapsed time explicitly: on fire,
// currentTime becomes exactly the fired event's virtual time.
func (p *Player) scheduleNext() {
	if !p.haveEvent {
		e, ok := p.seq.PeekEvent()
		if !ok {
			p.finish()
			return
		}
		p.curEvent = e
		p.haveEvent = true
	}

	wait := util.Max(p.curEvent.Time-p.currentTime, 0)
	delay := time.Duration(wait / p.speed * float64(time.Second))
	p.loop.ArmTimer(delay, p.onTimerFire)
}

func (p *Player) onTimerFire() {
	if p.state != Running {
		return
	}
	e, ok := p.seq.NextEvent()
	if !ok {
		p.finish()
		return
	}
	p.currentTime = e.Time
	p.haveEvent = false
	if p.onEvent != nil {
		p.onEvent(e)
	}
	p.scheduleNext()
}

func (p *Player) finish() {
	p.state = Finished
	if p.onFinish != nil {
		p.onFinish()
	}
	p.state = Idle
}
