// Package identify sniffs a byte buffer's format and dispatches to the
// right parser, so callers that don't know in advance whether they're
// holding an SMF, MUS or XMI file don't have to guess.
package identify

import (
	"bytes"

	"github.com/anselm-k/fmidi/mus"
	"github.com/anselm-k/fmidi/smf"
	"github.com/anselm-k/fmidi/xmi"
)

// Format is one of the file formats this module can parse.
type Format int

const (
	Unknown Format = iota
	SMF
	MUS
	XMI
)

func (f Format) String() string {
	switch f {
	case SMF:
		return "smf"
	case MUS:
		return "mus"
	case XMI:
		return "xmi"
	default:
		return "unknown"
	}
}

var (
	smfMagic = []byte("MThd")
	rmiHead  = []byte("RIFF")
	rmiTag   = []byte("RMIDdata")
	musMagic = []byte("MUS\x1a")
)

// Detect identifies data's format by magic bytes, mirroring
// fmidi_mem_identify: a bare "MThd" at offset 0 or 0x80 (some Sound
// Canvas MIDI collections carry a leading 0x80-byte pad), an
// "RIFF"..."RMIDdata"-wrapped SMF, an XMI FORM/XDIRINFO header, or a MUS
// magic. Any other content is Unknown.
func Detect(data []byte) Format {
	for _, offset := range [2]int{0x00, 0x80} {
		if len(data) >= offset+4 && bytes.Equal(data[offset:offset+4], smfMagic) {
			return SMF
		}
	}
	if len(data) >= 16 && bytes.Equal(data[:4], rmiHead) && bytes.Equal(data[8:16], rmiTag) {
		return SMF
	}
	if xmi.Detect(data) {
		return XMI
	}
	if len(data) >= 4 && bytes.Equal(data[:4], musMagic) {
		return MUS
	}
	return Unknown
}

// Parse detects data's format and dispatches to the matching parser,
// applying maxSize as the shared size cap for the SMF and XMI readers
// (SPEC_FULL.md §4.1.5); the MUS reader keeps its own fixed 64KB cap
// regardless of maxSize. Data with no recognized magic is handed to the SMF
// reader, which scans forward for an "MThd" header anywhere in the buffer.
func Parse(data []byte, maxSize int) (*smf.SMF, Format, error) {
	switch f := Detect(data); f {
	case SMF:
		s, err := smf.Parse(data, smf.WithMaxSize(maxSize))
		return s, f, err
	case XMI:
		s, err := xmi.Parse(data, maxSize)
		return s, f, err
	case MUS:
		s, err := mus.Parse(data)
		return s, f, err
	default:
		s, err := smf.Parse(data, smf.WithMaxSize(maxSize))
		if err != nil {
			return nil, Unknown, err
		}
		return s, SMF, nil
	}
}
