// Package seq merges the independent tracks of a parsed SMF into one
// monotonic, timestamped event stream, tracking tempo changes and note
// state as it goes. It is the layer between the raw parsers (smf, mus,
// xmi) and the wall-clock player.
package seq

import (
	"github.com/anselm-k/fmidi/smf"
	"github.com/anselm-k/fmidi/util"
)

// Event is one item of the merged stream: an event from some track,
// tagged with the absolute wall-clock time (in seconds since the start of
// playback) at which it should be actioned.
type Event struct {
	Time  float64
	Track int
	smf.Event
}

const initialTempo = 500000 // microseconds per quarter note, per SPEC_FULL.md §3.4

// trackState tracks one track's read cursor through the merge.
type trackState struct {
	iter        smf.TrackIter
	pending     *smf.Event
	pendingTick uint64
	tick        uint64
	exhausted   bool
}

// fetch advances past the current pending event (if any) and pulls the
// next one, skipping over (and consuming) end-of-track markers rather
// than ever surfacing them — an exhausted track simply stops competing
// for the next merge slot.
func (ts *trackState) fetch() {
	for {
		e, ok := ts.iter.Next()
		if !ok {
			ts.pending = nil
			ts.exhausted = true
			return
		}
		ts.tick += uint64(e.Delta)
		if e.IsEndOfTrack() {
			ts.pending = nil
			ts.exhausted = true
			return
		}
		ts.pending = e
		ts.pendingTick = ts.tick
		return
	}
}

// Sequencer merges an SMF's tracks into a single time-ordered stream. It
// borrows the SMF and holds only cursors into it (SPEC_FULL.md §3.4).
type Sequencer struct {
	smf    *smf.SMF
	tracks []trackState

	tempo    uint32 // microseconds per quarter note
	lastTick uint64
	elapsed  float64
	noteVel  map[uint16]byte // channel<<8|note -> last note-on velocity
}

// New builds a Sequencer over s, positioned at the start.
func New(s *smf.SMF) *Sequencer {
	sq := &Sequencer{smf: s}
	sq.Rewind()
	return sq
}

// Rewind resets the sequencer to time zero, as if freshly constructed.
func (sq *Sequencer) Rewind() {
	sq.tracks = make([]trackState, len(sq.smf.Tracks))
	for i := range sq.tracks {
		sq.tracks[i].iter = sq.smf.TrackIterator(i)
		sq.tracks[i].fetch()
	}
	sq.tempo = initialTempo
	sq.lastTick = 0
	sq.elapsed = 0
	sq.noteVel = make(map[uint16]byte)
}

// chooseTrack returns the index of the non-exhausted track with the
// lowest pending absolute tick, ties broken by lowest track index, or -1
// if every track is exhausted.
func (sq *Sequencer) chooseTrack() int {
	best := -1
	var bestTick uint64
	for i := range sq.tracks {
		t := &sq.tracks[i]
		if t.exhausted {
			continue
		}
		if best == -1 || t.pendingTick < bestTick {
			best = i
			bestTick = t.pendingTick
		}
	}
	return best
}

// deltaSeconds converts a tick delta to seconds under the sequencer's
// current tempo and the SMF's division, per SPEC_FULL.md §4.4.3.
func deltaSeconds(delta uint64, unit uint16, tempoUS uint32) float64 {
	if unit&0x8000 != 0 {
		framesPerSecond := -int8(unit >> 8)
		ticksPerFrame := unit & 0xFF
		if framesPerSecond == 0 || ticksPerFrame == 0 {
			return 0
		}
		return float64(delta) / (float64(ticksPerFrame) * float64(framesPerSecond))
	}
	if unit == 0 {
		return 0
	}
	return float64(delta) * float64(tempoUS) / (float64(unit) * 1e6)
}

// noteKey packs a channel and note number into the note-velocity map key.
func noteKey(channel, note byte) uint16 { return uint16(channel)<<8 | uint16(note) }

// trackNote updates the outstanding-note map for a Message event, per
// SPEC_FULL.md §4.4.1 step 4.
func trackNote(noteVel map[uint16]byte, e *smf.Event) {
	if e.Type != smf.EventMessage || len(e.Data) < 3 {
		return
	}
	status := e.Data[0]
	channel := status & 0x0F
	switch status & 0xF0 {
	case 0x90:
		if e.Data[2] == 0 {
			delete(noteVel, noteKey(channel, e.Data[1]))
		} else {
			noteVel[noteKey(channel, e.Data[1])] = e.Data[2]
		}
	case 0x80:
		delete(noteVel, noteKey(channel, e.Data[1]))
	}
}

// isTempoMeta reports whether e is a set-tempo meta event and, if so,
// its microseconds-per-quarter-note value.
func isTempoMeta(e *smf.Event) (uint32, bool) {
	if e.Type != smf.EventMeta || len(e.Data) < 4 || e.Data[0] != 0x51 {
		return 0, false
	}
	return uint32(e.Data[1])<<16 | uint32(e.Data[2])<<8 | uint32(e.Data[3]), true
}

// NextEvent returns the next event of the merged stream in absolute
// order, or reports false once every track is exhausted.
func (sq *Sequencer) NextEvent() (Event, bool) {
	idx := sq.chooseTrack()
	if idx == -1 {
		return Event{}, false
	}
	t := &sq.tracks[idx]
	chosen := *t.pending
	chosenTick := t.pendingTick

	delta := chosenTick - sq.lastTick
	sq.elapsed += deltaSeconds(delta, sq.smf.DeltaUnit, sq.tempo)
	sq.lastTick = chosenTick

	if tempoUS, ok := isTempoMeta(&chosen); ok {
		sq.tempo = tempoUS
	}
	trackNote(sq.noteVel, &chosen)

	t.fetch()

	return Event{Time: sq.elapsed, Track: idx, Event: chosen}, true
}

// passable reports whether an event survives seek's side-effect
// suppression rules (SPEC_FULL.md §4.4.2): tempo, time signature,
// program change, control change, pitch bend and channel aftertouch pass
// through; note-on, note-off, polyphonic aftertouch and sysex are
// suppressed.
func passable(e *smf.Event) bool {
	switch e.Type {
	case smf.EventMeta:
		return true
	case smf.EventMessage:
		if len(e.Data) == 0 {
			return false
		}
		switch e.Data[0] & 0xF0 {
		case 0x80, 0x90, 0xA0: // note-off, note-on, poly aftertouch
			return false
		case 0xF0: // sysex and system messages
			return false
		default: // program change, control change, channel aftertouch, pitch bend
			return true
		}
	default: // escape, XMI markers
		return false
	}
}

// Seek fast-forwards (or rewinds and replays) to targetSeconds, returning
// the events that survive side-effect suppression in the order they
// occurred, followed by a synthetic all-notes-off for every channel with
// an outstanding note at the target time.
func (sq *Sequencer) Seek(targetSeconds float64) []Event {
	if targetSeconds < sq.elapsed {
		sq.Rewind()
	}

	var out []Event
	for sq.elapsed <= targetSeconds {
		next, ok := sq.PeekEvent()
		if !ok {
			break
		}
		if next.Time > targetSeconds {
			break
		}
		ev, _ := sq.NextEvent()
		if passable(&ev.Event) {
			out = append(out, ev)
		}
	}

	channels := make(map[byte]bool)
	for key := range sq.noteVel {
		channels[byte(key>>8)] = true
	}
	for _, channel := range util.Keys(channels) {
		out = append(out, Event{
			Time:  sq.elapsed,
			Track: -1,
			Event: smf.Event{Type: smf.EventMessage, Delta: 0, Data: []byte{0xB0 | channel, 0x7B, 0x00}},
		})
	}
	sq.noteVel = make(map[uint16]byte)

	return out
}

// PeekEvent returns the next event without consuming it.
func (sq *Sequencer) PeekEvent() (Event, bool) {
	idx := sq.chooseTrack()
	if idx == -1 {
		return Event{}, false
	}
	t := &sq.tracks[idx]
	delta := t.pendingTick - sq.lastTick
	time := sq.elapsed + deltaSeconds(delta, sq.smf.DeltaUnit, sq.tempo)
	return Event{Time: time, Track: idx, Event: *t.pending}, true
}
