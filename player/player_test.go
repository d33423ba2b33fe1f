package player

import (
	"testing"
	"time"

	"github.com/anselm-k/fmidi/seq"
	"github.com/anselm-k/fmidi/smf"
)

// fakeLoop is a deterministic, single-threaded EventLoop stand-in: it
// never actually sleeps. Fire runs the pending callback (if any)
// synchronously, letting tests drive the player one event at a time.
type fakeLoop struct {
	pending func()
	delay   time.Duration
	broken  bool
}

func (l *fakeLoop) ArmTimer(d time.Duration, cb func()) {
	l.pending = cb
	l.delay = d
}

func (l *fakeLoop) DisarmTimer() { l.pending = nil }
func (l *fakeLoop) BreakLoop()   { l.broken = true }
func (l *fakeLoop) RunLoop() {
	for !l.broken && l.pending != nil {
		l.Fire()
	}
}

// Fire invokes and clears the pending callback, if any.
func (l *fakeLoop) Fire() {
	cb := l.pending
	l.pending = nil
	if cb != nil {
		cb()
	}
}

func track(events ...smf.Event) smf.SMF {
	return smf.SMF{Format: 0, TrackCount: 1, DeltaUnit: 480, Tracks: []smf.Track{{Events: events}}}
}

func tempoMeta(us uint32) smf.Event {
	return smf.Event{Type: smf.EventMeta, Delta: 0, Data: []byte{0x51, byte(us >> 16), byte(us >> 8), byte(us)}}
}

func TestPlayerEmitsEventsInOrder(t *testing.T) {
	s := track(
		tempoMeta(500000),
		smf.Event{Type: smf.EventMessage, Delta: 480, Data: []byte{0x90, 60, 64}},
		smf.Event{Type: smf.EventMessage, Delta: 480, Data: []byte{0x80, 60, 0}},
		smf.Event{Type: smf.EventMeta, Delta: 0, Data: []byte{0x2F}},
	)

	var got []seq.Event
	finished := false
	loop := &fakeLoop{}
	p := New(&s, loop, func(e seq.Event) { got = append(got, e) }, func() { finished = true })

	p.Start()
	for loop.pending != nil {
		loop.Fire()
	}

	if !finished {
		t.Fatalf("expected finish callback to fire")
	}
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	if got[1].Time < 0.499 || got[1].Time > 0.501 {
		t.Fatalf("note-on time = %v, want ~0.5", got[1].Time)
	}
	if p.State() != Idle {
		t.Fatalf("state after finish = %v, want Idle", p.State())
	}
}

func TestPlayerStopDisarmsTimer(t *testing.T) {
	s := track(
		smf.Event{Type: smf.EventMessage, Delta: 480, Data: []byte{0x90, 60, 64}},
		smf.Event{Type: smf.EventMeta, Delta: 0, Data: []byte{0x2F}},
	)
	loop := &fakeLoop{}
	p := New(&s, loop, func(seq.Event) {}, func() {})

	p.Start()
	if loop.pending == nil {
		t.Fatalf("expected timer armed after start")
	}
	p.Stop()
	if loop.pending != nil {
		t.Fatalf("expected timer disarmed after stop")
	}
	if p.State() != Stopped {
		t.Fatalf("state = %v, want Stopped", p.State())
	}
}

func TestPlayerRewindResetsTime(t *testing.T) {
	s := track(
		smf.Event{Type: smf.EventMessage, Delta: 480, Data: []byte{0x90, 60, 64}},
		smf.Event{Type: smf.EventMeta, Delta: 0, Data: []byte{0x2F}},
	)
	loop := &fakeLoop{}
	p := New(&s, loop, func(seq.Event) {}, func() {})
	p.Start()
	loop.Fire()
	if p.CurrentTime() == 0 {
		t.Fatalf("expected nonzero time after first event")
	}
	p.Rewind()
	if p.CurrentTime() != 0 {
		t.Fatalf("expected time reset to 0 after rewind, got %v", p.CurrentTime())
	}
}

func TestPlayerGotoTimeSuppressesNotes(t *testing.T) {
	s := track(
		tempoMeta(500000),
		smf.Event{Type: smf.EventMessage, Delta: 0, Data: []byte{0x90, 60, 64}},
		smf.Event{Type: smf.EventMeta, Delta: 960, Data: []byte{0x2F}},
	)
	loop := &fakeLoop{}
	var got []seq.Event
	p := New(&s, loop, func(e seq.Event) { got = append(got, e) }, func() {})

	p.GotoTime(5.0)

	for _, e := range got {
		if e.Type == smf.EventMessage && e.Data[0]&0xF0 == 0x90 {
			t.Fatalf("note-on leaked through GotoTime suppression")
		}
	}
}

func TestPlayerSpeedClampedAndRescalesDeadline(t *testing.T) {
	s := track(
		smf.Event{Type: smf.EventMessage, Delta: 480, Data: []byte{0x90, 60, 64}},
		smf.Event{Type: smf.EventMeta, Delta: 0, Data: []byte{0x2F}},
	)
	loop := &fakeLoop{}
	p := New(&s, loop, func(seq.Event) {}, func() {})
	p.Start()
	base := loop.delay
	p.SetSpeed(2.0)
	if loop.delay >= base {
		t.Fatalf("expected rescaled delay to shrink at 2x speed: base=%v got=%v", base, loop.delay)
	}
	p.SetSpeed(100) // clamps to maxSpeed
	if p.speed != maxSpeed {
		t.Fatalf("speed = %v, want clamped to %v", p.speed, maxSpeed)
	}

	p.SetSpeed(0)
	if p.speed != minSpeed {
		t.Fatalf("speed after SetSpeed(0) = %v, want clamped to %v", p.speed, minSpeed)
	}
	p.SetSpeed(-5)
	if p.speed != minSpeed {
		t.Fatalf("speed after SetSpeed(-5) = %v, want clamped to %v", p.speed, minSpeed)
	}
}
