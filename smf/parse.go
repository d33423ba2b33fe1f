package smf

import (
	"bytes"
	"errors"

	"github.com/anselm-k/fmidi/bytestream"
	"github.com/anselm-k/fmidi/errs"
)

// DefaultMaxSize bounds how large an input buffer Parse will accept before
// failing with errs.TooLarge, matching the size-cap requirement in
// SPEC_FULL.md §4.1.5. It's generous enough for any real-world SMF file
// while still catching a caller accidentally handing the parser something
// that isn't a MIDI file at all.
const DefaultMaxSize = 64 * 1024 * 1024

var (
	mthd = []byte("MThd")
	mtrk = []byte("MTrk")
)

type config struct {
	maxSize int
}

// Option configures a call to Parse.
type Option func(*config)

// WithMaxSize overrides DefaultMaxSize.
func WithMaxSize(n int) Option {
	return func(c *config) { c.maxSize = n }
}

func defaultConfig() config {
	return config{maxSize: DefaultMaxSize}
}

// Parse decodes an SMF byte buffer, applying the recovery heuristics
// described in SPEC_FULL.md §4.1. On success it returns a fully populated,
// immutable SMF. On failure it returns an *errs.Error identifying why.
func Parse(data []byte, opts ...Option) (*SMF, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if len(data) > cfg.maxSize {
		return nil, errs.New(errs.TooLarge, "smf: input of %d bytes exceeds configured limit of %d", len(data), cfg.maxSize)
	}

	r := bytestream.New(data)

	if !scanForHeader(r) {
		return nil, errs.New(errs.Format, "smf: no MThd header found")
	}
	if err := r.Skip(4); err != nil {
		return nil, wrapReaderErr(err, "smf: truncated header")
	}

	headerLen, err := r.ReadUintBE(4)
	if err != nil {
		return nil, wrapReaderErr(err, "smf: truncated header length")
	}
	format, err := r.ReadUintBE(2)
	if err != nil {
		return nil, wrapReaderErr(err, "smf: truncated format field")
	}
	trackCount, err := r.ReadUintBE(2)
	if err != nil {
		return nil, wrapReaderErr(err, "smf: truncated track count field")
	}
	deltaUnit, err := r.ReadUintBE(2)
	if err != nil {
		return nil, wrapReaderErr(err, "smf: truncated delta unit field")
	}
	if trackCount < 1 || headerLen < 6 {
		return nil, errs.New(errs.Format, "smf: invalid header (tracks=%d headerlen=%d)", trackCount, headerLen)
	}
	if err := r.Skip(int(headerLen) - 6); err != nil {
		return nil, wrapReaderErr(err, "smf: truncated header padding")
	}

	tracks, err := readTracks(r, int(trackCount))
	if err != nil {
		return nil, err
	}

	return &SMF{
		Format:     uint16(format),
		TrackCount: uint16(len(tracks)),
		DeltaUnit:  uint16(deltaUnit),
		Tracks:     tracks,
	}, nil
}

// scanForHeader advances r to the start of the first "MThd" magic,
// tolerating arbitrary leading garbage. It reports false if the buffer is
// exhausted first.
func scanForHeader(r *bytestream.Reader) bool {
	for {
		if peek, ok := r.Peek(4); ok && bytes.Equal(peek, mthd) {
			return true
		}
		if err := r.Skip(1); err != nil {
			return false
		}
	}
}

func wrapReaderErr(err error, msg string) error {
	if errors.Is(err, bytestream.ErrEOF) {
		return errs.New(errs.Eof, "%s", msg)
	}
	return errs.New(errs.Format, "%s", msg)
}

// readTracks implements the per-track loop of SPEC_FULL.md §4.1.2-§4.1.4.
// Running status is declared once, outside the loop, because the source
// format's running status is (deliberately, per SPEC_FULL.md §9 Open
// Question (a)) preserved across track boundaries.
func readTracks(r *bytestream.Reader, wantTracks int) ([]Track, error) {
	var tracks []Track
	var runningStatus byte

	for i := 0; i < wantTracks; i++ {
		trackOffset := r.Pos()

		magic, err := r.Read(4)
		if err != nil {
			// Fewer tracks than announced in the header; stop here,
			// excluding this (never-started) track entirely.
			break
		}
		if !bytes.Equal(magic, mtrk) {
			if r.AtEnd() {
				break
			}
			return nil, errs.New(errs.Format, "smf: expected MTrk magic at offset %d", trackOffset)
		}
		trackLen, err := r.ReadUintBE(4)
		if err != nil {
			return nil, wrapReaderErr(err, "smf: truncated track length")
		}

		regionStart := r.Pos()
		trackLenGood := probeTrackLength(r, regionStart, int(trackLen))
		if err := r.SetPos(regionStart); err != nil {
			return nil, wrapReaderErr(err, "smf: internal cursor error")
		}

		events, readErr, stop := readTrackEvents(r, &runningStatus, trackOffset, regionStart, int(trackLen), trackLenGood)
		if readErr != nil {
			return nil, readErr
		}

		tracks = append(tracks, Track{Events: events})

		if trackLenGood {
			if err := r.SetPos(regionStart + int(trackLen)); err != nil {
				return nil, wrapReaderErr(err, "smf: internal cursor error")
			}
		}
		if stop {
			break
		}
	}

	return tracks, nil
}

// probeTrackLength speculatively skips the declared track length and
// checks whether the cursor then lands at end-of-input or immediately
// before the next "MTrk" magic. It restores nothing; callers must reset
// the cursor themselves.
func probeTrackLength(r *bytestream.Reader, regionStart, trackLen int) bool {
	if err := r.SetPos(regionStart + trackLen); err != nil {
		return false
	}
	if r.AtEnd() {
		return true
	}
	peek, ok := r.Peek(4)
	return ok && bytes.Equal(peek, mtrk)
}

// readTrackEvents reads one track's events, applying the §4.1.4 recovery
// rules. It returns the events successfully read, a hard error (if any
// unrecoverable condition was hit), and whether the caller should stop
// reading further tracks after this one.
func readTrackEvents(r *bytestream.Reader, runningStatus *byte, trackOffset, regionStart, trackLen int, trackLenGood bool) ([]Event, error, bool) {
	var events []Event
	endOfTrack := false
	var pendingErr error

	for !endOfTrack {
		evtOffset := r.Pos()
		evts, err := readEvent(r, runningStatus)
		if err != nil {
			pendingErr = err
			r.SetPos(evtOffset) // let the recovery logic re-inspect from here
			break
		}
		last := evts[len(evts)-1]
		endOfTrack = last.IsEndOfTrack()
		if trackLenGood && r.Pos() > regionStart+trackLen {
			return nil, errs.New(errs.Format, "smf: event overruns declared track length at offset %d", trackOffset), false
		}
		events = append(events, evts...)
	}

	stop := false
	if !endOfTrack {
		switch {
		case errors.Is(pendingErr, bytestream.ErrEOF):
			stop = true
		case errors.Is(pendingErr, bytestream.ErrFormat):
			evtOffset := r.Pos()
			if _, peekErr := r.PeekVLQ(); errors.Is(peekErr, bytestream.ErrFormat) {
				if !trackLenGood {
					stop = true
				}
				// else: tolerate, fall through to region-end skip below.
			} else {
				return nil, errs.New(errs.Format, "smf: unrecoverable format error at offset %d", evtOffset), false
			}
		default:
			return nil, pendingErr, false
		}
	} else if trackLenGood {
		events = append(events, readTrailingEndOfTrackTolerance(r, runningStatus, regionStart, trackLen, &stop)...)
	}

	return events, nil, stop
}

// readTrailingEndOfTrackTolerance implements §4.1.2 step 5: zero-delta meta
// events (such as duplicated end-of-track markers) that follow end-of-track
// within a declared-good region are tolerated and attached to this track.
func readTrailingEndOfTrackTolerance(r *bytestream.Reader, runningStatus *byte, regionStart, trackLen int, stop *bool) []Event {
	var extra []Event
	for {
		head, ok := r.Peek(2)
		if !ok || head[0] != 0x00 || head[1] != 0xFF {
			break
		}
		before := r.Pos()
		evts, err := readEvent(r, runningStatus)
		if err != nil {
			if errors.Is(err, bytestream.ErrEOF) {
				*stop = true
			}
			r.SetPos(before)
			break
		}
		if r.Pos() > regionStart+trackLen {
			r.SetPos(before)
			break
		}
		extra = append(extra, evts...)
	}
	return extra
}
