// Package bytestream provides a bounded cursor over an in-memory buffer,
// with the big-endian/little-endian integer reads and variable-length
// quantity (VLQ) reads the SMF, MUS and XMI parsers all need. It never
// reads past the end of the buffer; every method reports failure by
// returning one of the two sentinel errors below rather than panicking.
package bytestream

import "errors"

// ErrEOF means a read ran past the end of the buffer.
var ErrEOF = errors.New("bytestream: end of input")

// ErrFormat means a read succeeded structurally but the bytes read violate
// an encoding rule (e.g. a variable-length quantity longer than 4 bytes,
// or a byte that didn't match what SkipByte expected).
var ErrFormat = errors.New("bytestream: invalid encoding")

// Reader is a cursor over a byte slice it does not own; callers must not
// mutate the slice while a Reader is in use over it.
type Reader struct {
	data []byte
	pos  int
}

// New wraps data in a Reader starting at position 0.
func New(data []byte) *Reader {
	return &Reader{data: data}
}

// Len returns the total length of the underlying buffer.
func (r *Reader) Len() int { return len(r.data) }

// Pos returns the current cursor position.
func (r *Reader) Pos() int { return r.pos }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.data) - r.pos }

// AtEnd reports whether the cursor has reached the end of the buffer.
func (r *Reader) AtEnd() bool { return r.pos >= len(r.data) }

// SetPos moves the cursor to an absolute position, failing if it would
// land outside the buffer.
func (r *Reader) SetPos(pos int) error {
	if pos < 0 || pos > len(r.data) {
		return ErrEOF
	}
	r.pos = pos
	return nil
}

// Skip advances the cursor by n bytes without reading them.
func (r *Reader) Skip(n int) error {
	if n < 0 || len(r.data)-r.pos < n {
		return ErrEOF
	}
	r.pos += n
	return nil
}

// Peek returns the next n bytes without advancing the cursor. The returned
// slice aliases the underlying buffer.
func (r *Reader) Peek(n int) ([]byte, bool) {
	if n < 0 || n > len(r.data)-r.pos {
		return nil, false
	}
	return r.data[r.pos : r.pos+n], true
}

// Read returns the next n bytes and advances the cursor past them. The
// returned slice aliases the underlying buffer; callers that need to
// retain it beyond the Reader's own lifetime must copy it.
func (r *Reader) Read(n int) ([]byte, error) {
	b, ok := r.Peek(n)
	if !ok {
		return nil, ErrEOF
	}
	r.pos += n
	return b, nil
}

// PeekByte returns the next byte without advancing the cursor.
func (r *Reader) PeekByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, ErrEOF
	}
	return r.data[r.pos], nil
}

// ReadByte returns the next byte and advances the cursor.
func (r *Reader) ReadByte() (byte, error) {
	b, err := r.PeekByte()
	if err != nil {
		return 0, err
	}
	r.pos++
	return b, nil
}

// SkipByte checks that the next byte equals want, consuming it if so.
// The cursor is left unchanged if the byte doesn't match or the buffer is
// exhausted.
func (r *Reader) SkipByte(want byte) error {
	got, err := r.PeekByte()
	if err != nil {
		return err
	}
	if got != want {
		return ErrFormat
	}
	r.pos++
	return nil
}

// ReadUintBE reads an n-byte (n <= 4) big-endian unsigned integer.
func (r *Reader) ReadUintBE(n int) (uint32, error) {
	b, err := r.Read(n)
	if err != nil {
		return 0, err
	}
	var v uint32
	for _, x := range b {
		v = v<<8 | uint32(x)
	}
	return v, nil
}

// ReadUintLE reads an n-byte (n <= 4) little-endian unsigned integer.
func (r *Reader) ReadUintLE(n int) (uint32, error) {
	b, err := r.Read(n)
	if err != nil {
		return 0, err
	}
	var v uint32
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint32(b[i])
	}
	return v, nil
}

// doReadVLQ reads a variable-length quantity without committing the
// cursor advance, so callers can implement both Read and Peek semantics
// from the same decode logic. It returns the number of bytes consumed so
// far even on error, matching the source library's behavior of advancing
// the cursor by a full 4 bytes when a VLQ overruns its maximum length —
// callers rely on this to reposition and detect the specific "VLQ format
// error" case during track-level recovery.
func (r *Reader) doReadVLQ() (value uint32, length int, err error) {
	cont := true
	for cont && length < 4 {
		if r.pos+length >= len(r.data) {
			return 0, length, ErrEOF
		}
		b := r.data[r.pos+length]
		value = value<<7 | uint32(b&0x7f)
		cont = b&0x80 != 0
		length++
	}
	if cont {
		return 0, length, ErrFormat
	}
	return value, length, nil
}

// ReadVLQ reads a big-endian base-128 variable-length quantity (7 data
// bits per byte, high bit set on all but the last byte), advancing the
// cursor past it. A VLQ longer than 4 bytes is a format error; on that
// error the cursor still advances by the 4 bytes examined.
func (r *Reader) ReadVLQ() (uint32, error) {
	v, n, err := r.doReadVLQ()
	r.pos += n
	return v, err
}

// PeekVLQ reads a VLQ without advancing the cursor, used by the track
// recovery logic to classify a format error at a fixed offset.
func (r *Reader) PeekVLQ() (uint32, error) {
	v, _, err := r.doReadVLQ()
	return v, err
}
