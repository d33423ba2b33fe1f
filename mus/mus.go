// Package mus parses the DMX MUS format (id Software's compact
// MIDI-alternative used by Doom and its contemporaries) into the same SMF
// model the smf package produces, per SPEC_FULL.md §4.2.
package mus

import (
	"bytes"

	"github.com/anselm-k/fmidi/bytestream"
	"github.com/anselm-k/fmidi/errs"
	"github.com/anselm-k/fmidi/smf"
)

// MaxSize bounds MUS input, distinct from and much smaller than the SMF
// reader's cap (SPEC_FULL.md §4.1.5): real MUS files are score data for a
// single song and were never expected to exceed a few tens of kilobytes.
const MaxSize = 65536

var magic = []byte{'M', 'U', 'S', 0x1A}

// musToMIDIChannel remaps MUS's channel numbering (which reserves channel
// 15 for percussion) onto standard MIDI channel 9.
var musToMIDIChannel = [16]byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 10, 11, 12, 13, 14, 15, 9}

var controllerRemap = map[byte]byte{
	1: 0, 2: 1, 3: 7, 4: 10, 5: 11, 6: 91, 7: 93, 8: 64, 9: 67,
}

var systemControllerRemap = map[byte]byte{
	10: 120, 11: 123, 12: 126, 13: 127, 14: 121,
}

// Parse decodes a MUS byte buffer into a single-track SMF, format 0,
// delta_unit 70 (the DMX 140 Hz tick expressed as a PPQN-120-BPM
// equivalent).
func Parse(data []byte) (*smf.SMF, error) {
	if len(data) > MaxSize {
		return nil, errs.New(errs.TooLarge, "mus: input of %d bytes exceeds %d byte limit", len(data), MaxSize)
	}
	if len(data) < len(magic) || !bytes.Equal(data[:len(magic)], magic) {
		return nil, errs.New(errs.Format, "mus: missing MUS magic")
	}

	r := bytestream.New(data[len(magic):])

	scoreLen, err := r.ReadUintLE(2)
	_ = scoreLen
	if err != nil {
		return nil, wrapErr(err)
	}
	scoreStart, err := r.ReadUintLE(2)
	if err != nil {
		return nil, wrapErr(err)
	}
	channels, err := r.ReadUintLE(2)
	_ = channels
	if err != nil {
		return nil, wrapErr(err)
	}
	secChannels, err := r.ReadUintLE(2)
	_ = secChannels
	if err != nil {
		return nil, wrapErr(err)
	}
	instrCount, err := r.ReadUintLE(2)
	if err != nil {
		return nil, wrapErr(err)
	}
	if err := r.Skip(2); err != nil {
		return nil, wrapErr(err)
	}
	for i := uint32(0); i < instrCount; i++ {
		if _, err := r.ReadUintLE(2); err != nil {
			return nil, wrapErr(err)
		}
	}

	if err := r.SetPos(int(scoreStart)); err != nil {
		return nil, errs.New(errs.Format, "mus: score_start %d beyond header", scoreStart)
	}

	events, err := readScore(r)
	if err != nil {
		return nil, err
	}

	return &smf.SMF{
		Format:     0,
		TrackCount: 1,
		DeltaUnit:  70,
		Tracks:     []smf.Track{{Events: events}},
	}, nil
}

func wrapErr(err error) error {
	return errs.New(errs.Format, "mus: truncated header: %v", err)
}

func readScore(r *bytestream.Reader) ([]smf.Event, error) {
	var events []smf.Event
	var noteVelocity [16]byte
	for ch := range noteVelocity {
		noteVelocity[ch] = 64
	}

	for ch := byte(0); ch < 16; ch++ {
		events = append(events, smf.Event{
			Type:  smf.EventMessage,
			Delta: 0,
			Data:  []byte{0xB0 | ch, 7, 127},
		})
	}

	var evDelta uint32
	scoreEnd := false
	for !scoreEnd {
		desc, err := r.ReadByte()
		if err != nil {
			return nil, errs.New(errs.Format, "mus: truncated event descriptor")
		}

		last := desc&0x80 != 0
		evType := (desc >> 4) & 7
		channel := musToMIDIChannel[desc&0xF]

		var midi []byte

		switch evType {
		case 0: // release note
			note, err := r.ReadByte()
			if err != nil {
				return nil, errs.New(errs.Format, "mus: truncated release event")
			}
			midi = []byte{0x80 | channel, note & 0x7F, 64}

		case 1: // play note
			note, err := r.ReadByte()
			if err != nil {
				return nil, errs.New(errs.Format, "mus: truncated play event")
			}
			if note&0x80 != 0 {
				vel, err := r.ReadByte()
				if err != nil {
					return nil, errs.New(errs.Format, "mus: truncated play velocity")
				}
				noteVelocity[channel&0xF] = vel & 0x7F
			}
			midi = []byte{0x90 | channel, note & 0x7F, noteVelocity[channel&0xF]}

		case 2: // pitch wheel
			v, err := r.ReadByte()
			if err != nil {
				return nil, errs.New(errs.Format, "mus: truncated pitch wheel event")
			}
			var bend uint32
			if v < 128 {
				bend = uint32(v) << 6
			} else {
				bend = 8192 + uint32(v-128)*8191/127
			}
			midi = []byte{0xE0 | channel, byte(bend & 0x7F), byte(bend >> 7)}

		case 3: // system event
			sub, err := r.ReadByte()
			if err != nil {
				return nil, errs.New(errs.Format, "mus: truncated system event")
			}
			if cc, ok := systemControllerRemap[sub&0x7F]; ok {
				midi = []byte{0xB0 | channel, cc, 0}
			}

		case 4: // change controller
			sub, err := r.ReadByte()
			if err != nil {
				return nil, errs.New(errs.Format, "mus: truncated controller event")
			}
			val, err := r.ReadByte()
			if err != nil {
				return nil, errs.New(errs.Format, "mus: truncated controller value")
			}
			if sub&0x7F == 0 {
				midi = []byte{0xC0 | channel, val & 0x7F}
			} else if cc, ok := controllerRemap[sub&0x7F]; ok {
				midi = []byte{0xB0 | channel, cc, val & 0x7F}
			}

		case 5: // measure end
			// dropped

		case 6: // score end
			scoreEnd = true

		case 7: // unknown
			if err := r.Skip(1); err != nil {
				return nil, errs.New(errs.Format, "mus: truncated unknown event")
			}
		}

		var deltaInc uint32
		if last {
			deltaInc, err = r.ReadVLQ()
			if err != nil {
				return nil, errs.New(errs.Format, "mus: truncated trailing delta")
			}
		}

		if len(midi) > 0 {
			events = append(events, smf.Event{Type: smf.EventMessage, Delta: evDelta, Data: midi})
			evDelta = 0
		}
		evDelta += deltaInc
	}

	events = append(events, smf.Event{Type: smf.EventMeta, Delta: evDelta, Data: []byte{0x2F}})
	return events, nil
}
