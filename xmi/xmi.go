// Package xmi parses the Extended MIDI (XMI) format used by many early-90s
// DOS games, translating it into the same SMF model the smf package
// produces. XMI is a distilled-away feature of the original spec this
// module was built from; it's carried here because the original source
// this library derives from implements it and nothing in SPEC_FULL.md's
// non-goals excludes it (see SPEC_FULL.md §4.6, §9).
package xmi

import (
	"bytes"
	"sort"

	"github.com/anselm-k/fmidi/bytestream"
	"github.com/anselm-k/fmidi/errs"
	"github.com/anselm-k/fmidi/smf"
)

// header is the 20-byte "FORM ... XDIRINFO ..." prefix identify.Detect and
// Parse both look for; XMI files routinely carry junk before it.
var header = []byte{
	'F', 'O', 'R', 'M', 0, 0, 0, 14,
	'X', 'D', 'I', 'R', 'I', 'N', 'F', 'O', 0, 0, 0, 2,
}

// timbre is one TIMB chunk entry (a patch/bank pair for a General MIDI
// instrument override).
type timbre struct {
	patch, bank byte
}

// branchPoint is one RBRN chunk entry: a named position in the event
// stream, given as a byte offset into the EVNT chunk's data.
type branchPoint struct {
	id   uint16
	dest uint32
}

// pendingNoteOff is a scheduled synthetic note-off, queued when its
// triggering note-on's duration is read and resolved against later
// events' accumulated deltas.
type pendingNoteOff struct {
	delta   uint32
	channel byte
	note    byte
	vel     byte
}

// Detect reports whether data begins (after skipping any leading bytes)
// with the XMI header signature.
func Detect(data []byte) bool {
	return bytes.Contains(data, header)
}

// Parse decodes an XMI byte buffer into an SMF: format 2 if it contains
// more than one track, else format 0.
func Parse(data []byte, maxSize int) (*smf.SMF, error) {
	if len(data) > maxSize {
		return nil, errs.New(errs.TooLarge, "xmi: input of %d bytes exceeds %d byte limit", len(data), maxSize)
	}
	idx := bytes.Index(data, header)
	if idx < 0 {
		return nil, errs.New(errs.Format, "xmi: missing FORM XDIRINFO header")
	}
	data = data[idx:]
	if len(data)%2 != 0 {
		// Some files (e.g. The Lost Vikings) omit the trailing pad byte a
		// well-formed IFF container should carry when its total length is odd.
		data = append(data, 0)
	}

	r := bytestream.New(data[len(header):])

	ntracks, err := r.ReadUintLE(2)
	if err != nil {
		return nil, wrapErr(err, "xmi: truncated track count")
	}
	if ntracks < 1 {
		return nil, errs.New(errs.Format, "xmi: track count is zero")
	}
	if err := expectMagic(r, "CAT "); err != nil {
		return nil, err
	}
	catSize, err := r.ReadUintBE(4)
	if err != nil {
		return nil, wrapErr(err, "xmi: truncated CAT size")
	}
	if uint32(r.Remaining()) < catSize {
		return nil, errs.New(errs.Eof, "xmi: CAT chunk declares %d bytes, only %d remain", catSize, r.Remaining())
	}
	if err := expectMagic(r, "XMID"); err != nil {
		return nil, err
	}

	tracks := make([]smf.Track, ntracks)
	var firstTempoUS uint32
	haveTempo := false
	for i := uint32(0); i < ntracks; i++ {
		events, tempoUS, sawTempo, err := readTrack(r)
		if err != nil {
			return nil, err
		}
		tracks[i] = smf.Track{Events: events}
		if i == 0 && sawTempo {
			firstTempoUS, haveTempo = tempoUS, true
		}
		if r.Pos()%2 != 0 {
			r.Skip(1)
		}
	}

	format := uint16(0)
	if ntracks > 1 {
		format = 2
	}
	result := &smf.SMF{Format: format, TrackCount: uint16(ntracks), DeltaUnit: 60, Tracks: tracks}
	scaleToPPQN(result, firstTempoUS, haveTempo)
	return result, nil
}

func expectMagic(r *bytestream.Reader, want string) error {
	got, err := r.Read(4)
	if err != nil {
		return wrapErr(err, "xmi: truncated "+want+" magic")
	}
	if !bytes.Equal(got, []byte(want)) {
		return errs.New(errs.Format, "xmi: expected %q magic, got %q", want, got)
	}
	return nil
}

func wrapErr(err error, msg string) error {
	if err == bytestream.ErrEOF {
		return errs.New(errs.Eof, "%s", msg)
	}
	return errs.New(errs.Format, "%s", msg)
}

// readTrack decodes one "FORM ... XMID" sub-form: an optional TIMB, an
// optional RBRN, and a mandatory EVNT chunk. It also reports the track's
// first tempo meta event, recovered before readEvents drops it, so Parse
// can derive the file's delta-unit multiplier from it.
func readTrack(r *bytestream.Reader) (events []smf.Event, firstTempoUS uint32, sawTempo bool, err error) {
	if err := expectMagic(r, "FORM"); err != nil {
		return nil, 0, false, err
	}
	formSize, err := r.ReadUintBE(4)
	if err != nil {
		return nil, 0, false, wrapErr(err, "xmi: truncated FORM size")
	}
	formData, err := r.Read(int(formSize))
	if err != nil {
		return nil, 0, false, wrapErr(err, "xmi: FORM chunk shorter than declared")
	}
	form := bytestream.New(formData)

	if err := expectMagic(form, "XMID"); err != nil {
		return nil, 0, false, err
	}

	var timbres []timbre
	var branches []branchPoint
	haveEvnt := false

	for !form.AtEnd() {
		id, err := form.Read(4)
		if err != nil {
			return nil, 0, false, wrapErr(err, "xmi: truncated chunk id")
		}
		chunkLen, err := form.ReadUintBE(4)
		if err != nil {
			return nil, 0, false, wrapErr(err, "xmi: truncated chunk length")
		}
		chunkData, err := form.Read(int(chunkLen))
		if err != nil {
			return nil, 0, false, wrapErr(err, "xmi: chunk shorter than declared")
		}
		chunk := bytestream.New(chunkData)

		switch string(id) {
		case "TIMB":
			timbres, err = readTimbres(chunk)
			if err != nil {
				return nil, 0, false, err
			}
		case "RBRN":
			branches, err = readBranches(chunk)
			if err != nil {
				return nil, 0, false, err
			}
		case "EVNT":
			events, firstTempoUS, sawTempo, err = readEvents(chunk, timbres, branches)
			if err != nil {
				return nil, 0, false, err
			}
			haveEvnt = true
		}

		if chunkLen%2 != 0 {
			form.Skip(1)
		}
	}

	if !haveEvnt {
		return nil, 0, false, errs.New(errs.Format, "xmi: track has no EVNT chunk")
	}
	return events, firstTempoUS, sawTempo, nil
}

func readTimbres(r *bytestream.Reader) ([]timbre, error) {
	count, err := r.ReadUintLE(2)
	if err != nil {
		return nil, wrapErr(err, "xmi: truncated TIMB count")
	}
	out := make([]timbre, count)
	for i := range out {
		patch, err := r.ReadByte()
		if err != nil {
			return nil, wrapErr(err, "xmi: truncated TIMB entry")
		}
		bank, err := r.ReadByte()
		if err != nil {
			return nil, wrapErr(err, "xmi: truncated TIMB entry")
		}
		out[i] = timbre{patch: patch, bank: bank}
	}
	return out, nil
}

func readBranches(r *bytestream.Reader) ([]branchPoint, error) {
	count, err := r.ReadUintLE(2)
	if err != nil {
		return nil, wrapErr(err, "xmi: truncated RBRN count")
	}
	out := make([]branchPoint, count)
	for i := range out {
		id, err := r.ReadUintLE(2)
		if err != nil {
			return nil, wrapErr(err, "xmi: truncated RBRN entry")
		}
		if id >= 128 {
			return nil, errs.New(errs.Format, "xmi: branch id %d out of range", id)
		}
		dest, err := r.ReadUintLE(4)
		if err != nil {
			return nil, wrapErr(err, "xmi: truncated RBRN entry")
		}
		out[i] = branchPoint{id: uint16(id), dest: dest}
	}
	return out, nil
}

// readEvents decodes an EVNT chunk's packed event stream. Note durations
// are stored as an interval following the note-on rather than a paired
// note-off; readEvents schedules each as a pendingNoteOff and resolves it
// against later events' accumulated deltas, mirroring the source
// implementation's cascading-subtract algorithm exactly. It also reports
// the first tempo meta observed, since that value never reaches the
// event stream itself but still determines the file's delta-unit.
func readEvents(r *bytestream.Reader, timbres []timbre, branches []branchPoint) (events []smf.Event, firstTempoUS uint32, sawTempo bool, err error) {
	for _, tb := range timbres {
		events = append(events, smf.Event{
			Type: smf.EventXMITimbre, Delta: 0, Data: []byte{tb.patch, tb.bank},
		})
	}

	var pending []pendingNoteOff

	for {
		branchStart := r.Pos()

		var delta uint32
		var status byte
		for {
			b, err := r.ReadByte()
			if err != nil {
				return nil, 0, false, wrapErr(err, "xmi: truncated event interval")
			}
			status = b
			if status&0x80 != 0 {
				break
			}
			delta += uint32(status)
		}

		branchID, isBranch := findBranch(branches, uint32(branchStart))

		if isBranch {
			events = append(events, smf.Event{
				Type: smf.EventXMIBranchPoint, Delta: delta, Data: []byte{byte(branchID)},
			})
			delta = 0
		}

		pending, delta = emitDueNoteOffs(pending, delta, &events)

		switch {
		case status == 0xFF:
			tag, rerr := r.ReadByte()
			if rerr != nil {
				return nil, 0, false, wrapErr(rerr, "xmi: truncated meta tag")
			}
			length, rerr := r.ReadVLQ()
			if rerr != nil {
				return nil, 0, false, wrapErr(rerr, "xmi: truncated meta length")
			}
			payload, rerr := r.Read(int(length))
			if rerr != nil {
				return nil, 0, false, wrapErr(rerr, "xmi: meta payload shorter than declared")
			}
			if tag == 0x2F {
				events = append(events, endAllNoteOffs(&pending)...)
				events = append(events, smf.Event{Type: smf.EventMeta, Delta: 0, Data: []byte{0x2F}})
				return events, firstTempoUS, sawTempo, nil
			}
			if tag == 0x51 { // tempo changes are dropped from the stream (SPEC_FULL.md §4.6) but still drive delta-unit scaling
				if !sawTempo && length == 3 {
					firstTempoUS = uint32(payload[0])<<16 | uint32(payload[1])<<8 | uint32(payload[2])
					sawTempo = true
				}
			} else {
				data := make([]byte, length+1)
				data[0] = tag
				copy(data[1:], payload)
				events = append(events, smf.Event{Type: smf.EventMeta, Delta: delta, Data: data})
			}

		case status == 0xF0:
			length, rerr := r.ReadVLQ()
			if rerr != nil {
				return nil, 0, false, wrapErr(rerr, "xmi: truncated sysex length")
			}
			payload, rerr := r.Read(int(length))
			if rerr != nil {
				return nil, 0, false, wrapErr(rerr, "xmi: sysex payload shorter than declared")
			}
			data := make([]byte, length+1)
			data[0] = 0xF0
			copy(data[1:], payload)
			events = append(events, smf.Event{Type: smf.EventMessage, Delta: delta, Data: data})

		case status == 0xF7:
			return nil, 0, false, errs.New(errs.Format, "xmi: bare escape status not supported")

		case status&0xF0 == 0x90:
			r.SetPos(r.Pos() - 1)
			data, rerr := r.Read(3)
			if rerr != nil {
				return nil, 0, false, wrapErr(rerr, "xmi: truncated note-on")
			}
			interval, rerr := r.ReadVLQ()
			if rerr != nil {
				return nil, 0, false, wrapErr(rerr, "xmi: truncated note duration")
			}
			msg := append([]byte(nil), data...)
			events = append(events, smf.Event{Type: smf.EventMessage, Delta: delta, Data: msg})
			pending = append(pending, pendingNoteOff{
				delta: interval, channel: data[0] & 0x0F, note: data[1], vel: data[2],
			})

		default:
			size := smf.MessageSize(status)
			r.SetPos(r.Pos() - 1)
			data, rerr := r.Read(size)
			if rerr != nil {
				return nil, 0, false, wrapErr(rerr, "xmi: truncated channel message")
			}
			events = append(events, smf.Event{Type: smf.EventMessage, Delta: delta, Data: append([]byte(nil), data...)})
		}
	}
}

func findBranch(branches []branchPoint, pos uint32) (uint16, bool) {
	for _, b := range branches {
		if b.dest == pos {
			return b.id, true
		}
	}
	return 0, false
}

// emitDueNoteOffs implements the source algorithm's cascading subtraction:
// sorted by remaining delta, every pending note-off whose delta has fully
// elapsed is emitted (consuming that much of delta and of every later
// pending note-off's remaining delta), leaving the rest still pending.
func emitDueNoteOffs(pending []pendingNoteOff, delta uint32, events *[]smf.Event) ([]pendingNoteOff, uint32) {
	sort.Slice(pending, func(i, j int) bool { return pending[i].delta < pending[j].delta })

	i := 0
	for ; i < len(pending); i++ {
		xn := pending[i]
		if delta < xn.delta {
			break
		}
		*events = append(*events, smf.Event{
			Type: smf.EventMessage, Delta: xn.delta,
			Data: []byte{0x80 | xn.channel, xn.note, xn.vel},
		})
		delta -= xn.delta
		for k := i + 1; k < len(pending); k++ {
			pending[k].delta -= xn.delta
		}
	}
	rest := append([]pendingNoteOff(nil), pending[i:]...)
	for k := range rest {
		rest[k].delta -= delta
	}
	return rest, delta
}

// endAllNoteOffs flushes every remaining pending note-off at end-of-track,
// as if an infinite delta had elapsed.
func endAllNoteOffs(pending *[]pendingNoteOff) []smf.Event {
	var events []smf.Event
	rest, _ := emitDueNoteOffs(*pending, ^uint32(0), &events)
	*pending = rest
	return events
}

// scaleToPPQN rewrites s's DeltaUnit and every event's Delta from XMI's
// fixed 60 Hz clock into a PPQN-style division, mirroring
// fmidi_xmi_update_unit exactly: these are two independent quantities, not
// one factor applied twice. DeltaUnit is assigned directly from track 0's
// first tempo meta (µs per quarter note) — never multiplied into the 60
// seed — so playback stays tempo-invariant (raw ticks already encode fixed
// real time at 60 Hz). The per-event multiplier is a fixed 3 whenever a
// tempo was found, or 1 otherwise; it is never derived from the tempo
// value itself. Files with no initial tempo keep DeltaUnit at 60 and every
// Delta unscaled.
func scaleToPPQN(s *smf.SMF, tempoUS uint32, haveTempo bool) {
	multiplier := uint32(1)
	if haveTempo {
		multiplier = 3
		s.DeltaUnit = uint16(tempoUS * multiplier * 120 / 1000000)
	}
	if multiplier == 1 {
		return
	}
	for ti := range s.Tracks {
		for ei := range s.Tracks[ti].Events {
			s.Tracks[ti].Events[ei].Delta *= multiplier
		}
	}
}
