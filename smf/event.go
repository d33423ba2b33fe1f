package smf

import (
	"bytes"

	"github.com/anselm-k/fmidi/bytestream"
	"github.com/anselm-k/fmidi/errs"
)

// readEvent decodes one event starting at the reader's current position,
// dispatching on the status byte per SPEC_FULL.md §4.1.3. It returns a
// slice because a single sysex fragment can split into multiple complete
// Message events (see readSysexEvent).
func readEvent(r *bytestream.Reader, runningStatus *byte) ([]Event, error) {
	delta, err := r.ReadVLQ()
	if err != nil {
		return nil, err
	}
	id, err := r.ReadByte()
	if err != nil {
		return nil, err
	}

	switch id {
	case 0xFF:
		return readMetaEvent(r, delta)
	case 0xF7:
		return readEscapeEvent(r, delta)
	case 0xF0:
		return readSysexEvent(r, delta)
	default:
		if id&0x80 != 0 {
			*runningStatus = id
		} else {
			id = *runningStatus
			if err := r.SetPos(r.Pos() - 1); err != nil {
				return nil, err
			}
		}
		return readMessageEvent(r, id, delta)
	}
}

func readMetaEvent(r *bytestream.Reader, delta uint32) ([]Event, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}

	if tag == 0x2F || tag == 0x3F {
		consumeEndOfTrackTail(r)
		return []Event{{Type: EventMeta, Delta: delta, Data: []byte{tag}}}, nil
	}

	length, err := r.ReadVLQ()
	if err != nil {
		return nil, err
	}
	payload, err := r.Read(int(length))
	if err != nil {
		return nil, bytestream.ErrEOF
	}
	data := make([]byte, 1+len(payload))
	data[0] = tag
	copy(data[1:], payload)
	return []Event{{Type: EventMeta, Delta: delta, Data: data}}, nil
}

// consumeEndOfTrackTail tolerates the two ways broken encoders mangle
// end-of-track meta events: an omitted trailing zero length byte, or one
// or more duplicated end-of-track events immediately following. Neither
// condition is an error; this only ever consumes bytes it recognizes,
// restoring the cursor the moment the pattern breaks.
func consumeEndOfTrackTail(r *bytestream.Reader) {
	if r.SkipByte(0x00) != nil {
		// Some encoders omit the trailing zero-length byte entirely.
		return
	}
	for {
		offset := r.Pos()
		ok := tryReadVLQ(r) && trySkipByte(r, 0xFF) && (trySkipByte(r, 0x2F) || trySkipByte(r, 0x3F))
		if !ok {
			r.SetPos(offset)
			return
		}
		r.SkipByte(0x00) // optional; ignore whether it was present
	}
}

func tryReadVLQ(r *bytestream.Reader) bool {
	_, err := r.ReadVLQ()
	return err == nil
}

func trySkipByte(r *bytestream.Reader, want byte) bool {
	return r.SkipByte(want) == nil
}

func readEscapeEvent(r *bytestream.Reader, delta uint32) ([]Event, error) {
	length, err := r.ReadVLQ()
	if err != nil {
		return nil, err
	}
	data, err := r.Read(int(length))
	if err != nil {
		return nil, bytestream.ErrEOF
	}
	cp := append([]byte(nil), data...)
	return []Event{{Type: EventEscape, Delta: delta, Data: cp}}, nil
}

// readSysexEvent implements the full system-exclusive reassembly logic of
// SPEC_FULL.md §4.1.3: splitting concatenated sysex fragments at internal
// 0xF7 bytes, discarding trailing garbage, and reassembling Casio-style
// multi-part sysex spread across several VLQ-delimited continuation
// fragments. Every event synthesized here carries the same delta — the
// one VLQ delta that preceded the original 0xF0 status byte — matching
// the source library's behavior exactly.
func readSysexEvent(r *bytestream.Reader, delta uint32) ([]Event, error) {
	var events []Event

	partLen, err := r.ReadVLQ()
	if err != nil {
		return nil, err
	}
	first, err := r.Read(int(partLen))
	if err != nil {
		return nil, bytestream.ErrEOF
	}
	part := append([]byte(nil), first...)

	syxbuf := []byte{0xF0}
	for {
		idx := bytes.IndexByte(part, 0xF7)
		if idx < 0 {
			break
		}
		syxbuf = append(syxbuf, part[:idx+1]...)
		events = append(events, Event{Type: EventMessage, Delta: delta, Data: append([]byte(nil), syxbuf...)})

		part = part[idx+1:]
		if len(part) == 0 {
			return events, nil
		}
		if part[0] != 0xF0 {
			return events, nil // trailing garbage after the last complete sysex; discard
		}
		part = part[1:]
		syxbuf = []byte{0xF0}
	}

	// No terminating 0xF7 in the initial fragment: this may be a
	// Casio-style sysex split across multiple continuation fragments.
	foundIdx := -1
	term := false
	for !term {
		term = foundIdx >= 0
		if term && foundIdx+1 != len(part) {
			return nil, errs.New(errs.Format, "smf: excess bytes after sysex terminator in continuation fragment")
		}
		syxbuf = append(syxbuf, part...)

		if term {
			break
		}

		savedOffset := r.Pos()
		contDelta, err1 := r.ReadVLQ()
		_ = contDelta
		var contID byte
		var err2 error
		if err1 == nil {
			contID, err2 = r.ReadByte()
		}
		haveCont := err1 == nil && err2 == nil && contID == 0xF7
		if !haveCont {
			r.SetPos(savedOffset)
			syxbuf = append(syxbuf, 0xF7)
			term = true
			break
		}

		pl, err := r.ReadVLQ()
		if err != nil {
			return nil, err
		}
		p, err := r.Read(int(pl))
		if err != nil {
			return nil, bytestream.ErrEOF
		}
		part = append([]byte(nil), p...)
		foundIdx = bytes.IndexByte(part, 0xF7)
	}

	events = append(events, Event{Type: EventMessage, Delta: delta, Data: append([]byte(nil), syxbuf...)})
	return events, nil
}

func readMessageEvent(r *bytestream.Reader, id byte, delta uint32) ([]Event, error) {
	size := messageSize(id)
	if size <= 0 {
		return nil, errs.New(errs.Format, "smf: invalid status byte %#x", id)
	}
	rest, err := r.Read(size - 1)
	if err != nil {
		return nil, bytestream.ErrEOF
	}
	data := make([]byte, size)
	data[0] = id
	copy(data[1:], rest)
	return []Event{{Type: EventMessage, Delta: delta, Data: data}}, nil
}
