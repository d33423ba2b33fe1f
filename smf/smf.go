// Package smf implements a tolerant reader and writer for Standard MIDI
// File data, plus the merging-ready track/event model the seq and player
// packages build on. Real-world SMF files routinely violate the format in
// small ways (declared track lengths that lie, running status that leaks
// across track boundaries, duplicated end-of-track markers); Parse applies
// a fixed, documented set of recovery heuristics for exactly the cases
// documented on readTracks and readTrackEvents in parse.go rather than
// attempting to guess at anything broader.
package smf

// EventType classifies an Event's payload.
type EventType int

const (
	// EventMeta is a file-only event beginning with 0xFF: data[0] is the
	// meta tag, data[1:] is the tag's payload.
	EventMeta EventType = iota
	// EventMessage is a complete MIDI wire message, including fully
	// reassembled system-exclusive messages (0xF0 ... 0xF7).
	EventMessage
	// EventEscape is an 0xF7-escaped byte string, stored without its
	// framing byte.
	EventEscape
	// EventXMITimbre carries the patch/bank pairs from an XMI TIMB chunk.
	// It has no SMF wire representation and is dropped on Write.
	EventXMITimbre
	// EventXMIBranchPoint carries a branch id from an XMI RBRN chunk. It
	// has no SMF wire representation and is dropped on Write.
	EventXMIBranchPoint
)

func (t EventType) String() string {
	switch t {
	case EventMeta:
		return "meta"
	case EventMessage:
		return "message"
	case EventEscape:
		return "escape"
	case EventXMITimbre:
		return "xmi-timbre"
	case EventXMIBranchPoint:
		return "xmi-branch-point"
	default:
		return "unknown"
	}
}

// Event is one record in a track: a delta time in ticks since the
// previous event on the same track, and a type-tagged payload.
type Event struct {
	Type  EventType
	Delta uint32
	Data  []byte
}

// MetaTag returns the meta tag byte for a Meta event. Callers must check
// Type == EventMeta first.
func (e *Event) MetaTag() byte { return e.Data[0] }

// IsEndOfTrack reports whether e is an end-of-track meta event, accepting
// both the standard 0x2F tag and the tolerated 0x3F alias (see
// SPEC_FULL.md §9 Open Question (b)).
func (e *Event) IsEndOfTrack() bool {
	return e.Type == EventMeta && (e.Data[0] == 0x2F || e.Data[0] == 0x3F)
}

// StatusByte returns the leading status byte of a Message event. Callers
// must check Type == EventMessage first.
func (e *Event) StatusByte() byte { return e.Data[0] }

// Track is an ordered sequence of events. See SPEC_FULL.md §9 for why this
// implementation represents a track as a plain slice rather than a
// byte-packed region: Go has no flexible-array-member analogue, and a
// slice already satisfies the "iterate in order, no leftover bytes"
// invariant the original design achieves through manual alignment.
type Track struct {
	Events []Event
}

// TrackIter walks a Track's events in order. It borrows from the SMF it
// was created from and must not be used after that SMF is discarded.
type TrackIter struct {
	smf   *SMF
	Track int
	pos   int
}

// Next returns the next event and advances the iterator, or reports false
// once the track is exhausted.
func (it *TrackIter) Next() (*Event, bool) {
	trk := &it.smf.Tracks[it.Track]
	if it.pos >= len(trk.Events) {
		return nil, false
	}
	e := &trk.Events[it.pos]
	it.pos++
	return e, true
}

// SMF is the parsed, immutable-after-construction in-memory model of a
// Standard MIDI File.
type SMF struct {
	Format     uint16
	TrackCount uint16
	DeltaUnit  uint16
	Tracks     []Track
}

// TrackIterator returns a fresh iterator over the given track index.
func (s *SMF) TrackIterator(track int) TrackIter {
	return TrackIter{smf: s, Track: track}
}

// IsSMPTE reports whether DeltaUnit encodes an SMPTE-based (frame-rate)
// division rather than a PPQN (ticks-per-quarter-note) division.
func (s *SMF) IsSMPTE() bool {
	return s.DeltaUnit&0x8000 != 0
}

// MessageSize returns the total wire size (status byte included) of a
// channel or system message given its status byte, or 0 if id does not
// begin a fixed-size message (sysex and meta/escape are handled
// separately by the parser). Mirrors fmidi_message_sizeof exactly.
// Exported for the xmi package, which reads the same fixed-size channel
// messages from its own distinct chunked container format.
func MessageSize(id byte) int {
	return messageSize(id)
}

func messageSize(id byte) int {
	if id&0x80 == 0 {
		return 0
	}
	if id&0xF0 != 0xF0 {
		sizes := [8]int{3, 3, 3, 3, 2, 2, 3, 0}
		return sizes[(id>>4)&0x7]
	}
	sizes := [16]int{0, 2, 3, 2, 1, 1, 1, 0, 1, 1, 1, 1, 1, 1, 1, 1}
	return sizes[id&0xF]
}
