package seq

import (
	"testing"

	"github.com/anselm-k/fmidi/smf"
)

// tempoMeta builds a set-tempo meta event.
func tempoMeta(delta uint32, us uint32) smf.Event {
	return smf.Event{
		Type:  smf.EventMeta,
		Delta: delta,
		Data:  []byte{0x51, byte(us >> 16), byte(us >> 8), byte(us)},
	}
}

func noteOn(delta uint32, channel, note, vel byte) smf.Event {
	return smf.Event{Type: smf.EventMessage, Delta: delta, Data: []byte{0x90 | channel, note, vel}}
}

func noteOff(delta uint32, channel, note byte) smf.Event {
	return smf.Event{Type: smf.EventMessage, Delta: delta, Data: []byte{0x80 | channel, note, 0x40}}
}

func endOfTrack(delta uint32) smf.Event {
	return smf.Event{Type: smf.EventMeta, Delta: delta, Data: []byte{0x2F}}
}

// TestTempoMath reproduces SPEC_FULL.md §8's scenario: a PPQN-480 file with
// a 500000us tempo event at tick 0 places the event at tick 480 at t≈0.5s.
func TestTempoMath(t *testing.T) {
	s := &smf.SMF{
		Format: 0, TrackCount: 1, DeltaUnit: 480,
		Tracks: []smf.Track{{Events: []smf.Event{
			tempoMeta(0, 500000),
			noteOn(480, 0, 60, 64),
			endOfTrack(0),
		}}},
	}
	sq := New(s)

	e1, ok := sq.NextEvent()
	if !ok || e1.Time != 0 {
		t.Fatalf("tempo event: time=%v ok=%v", e1.Time, ok)
	}
	e2, ok := sq.NextEvent()
	if !ok {
		t.Fatalf("expected note-on event")
	}
	if e2.Time < 0.499 || e2.Time > 0.501 {
		t.Fatalf("note-on time = %v, want ~0.5", e2.Time)
	}
}

// TestMonotonicity checks testable property 3: time is nondecreasing
// across successive NextEvent calls, merging two tracks.
func TestMonotonicity(t *testing.T) {
	s := &smf.SMF{
		Format: 1, TrackCount: 2, DeltaUnit: 96,
		Tracks: []smf.Track{
			{Events: []smf.Event{noteOn(0, 0, 60, 64), noteOff(96, 0, 60), endOfTrack(0)}},
			{Events: []smf.Event{noteOn(48, 1, 64, 64), noteOff(96, 1, 64), endOfTrack(0)}},
		},
	}
	sq := New(s)

	var last float64
	count := 0
	for {
		e, ok := sq.NextEvent()
		if !ok {
			break
		}
		if e.Time < last {
			t.Fatalf("time went backwards: %v after %v", e.Time, last)
		}
		last = e.Time
		count++
	}
	if count != 4 {
		t.Fatalf("got %d events, want 4", count)
	}
}

// TestNextEventTiesBreakByTrackIndex checks that two tracks with events at the
// same absolute tick are merged with the lower track index first.
func TestNextEventTiesBreakByTrackIndex(t *testing.T) {
	s := &smf.SMF{
		Format: 1, TrackCount: 2, DeltaUnit: 96,
		Tracks: []smf.Track{
			{Events: []smf.Event{noteOn(0, 1, 10, 64), endOfTrack(0)}},
			{Events: []smf.Event{noteOn(0, 0, 20, 64), endOfTrack(0)}},
		},
	}
	sq := New(s)
	e, ok := sq.NextEvent()
	if !ok || e.Track != 0 {
		t.Fatalf("expected track 0 to win the tie, got track %d", e.Track)
	}
}

// TestSeekSuppressesNotesAndSynthesizesAllNotesOff checks testable
// property 4: seeking suppresses note-on/off and emits synthetic
// all-notes-off for channels left with outstanding notes.
func TestSeekSuppressesNotesAndSynthesizesAllNotesOff(t *testing.T) {
	s := &smf.SMF{
		Format: 0, TrackCount: 1, DeltaUnit: 480,
		Tracks: []smf.Track{{Events: []smf.Event{
			tempoMeta(0, 500000),
			noteOn(0, 0, 60, 64),
			endOfTrack(960),
		}}},
	}
	sq := New(s)

	events := sq.Seek(10.0)

	for _, e := range events {
		if e.Type == smf.EventMessage && (e.Data[0]&0xF0 == 0x90 || e.Data[0]&0xF0 == 0x80) {
			t.Fatalf("note event leaked through seek suppression: %+v", e)
		}
	}

	found := false
	for _, e := range events {
		if e.Type == smf.EventMessage && e.Data[0] == 0xB0 && e.Data[1] == 0x7B {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected synthetic all-notes-off for channel 0, got %+v", events)
	}
}

func TestSMPTEDeltaSeconds(t *testing.T) {
	unit := uint16(0xE250) // -30 fps, 80 ticks/frame
	got := deltaSeconds(80, unit, initialTempo)
	if got < 0.0332 || got > 0.0334 {
		t.Fatalf("got %v, want ~1/30s", got)
	}
}
