package mus

import (
	"bytes"
	"testing"
)

// buildFixture assembles a minimal MUS file: magic + 12-byte header (no
// instruments) + score bytes, matching SPEC_FULL.md §8 scenario 5.
func buildFixture(score []byte) []byte {
	buf := &bytes.Buffer{}
	buf.Write(magic)
	scoreStart := uint16(12) // 5x u16 header field + 2 reserved bytes, relative to end of magic
	writeLE16(buf, uint16(len(score)))
	writeLE16(buf, scoreStart)
	writeLE16(buf, 1) // channels
	writeLE16(buf, 0) // secondary channels
	writeLE16(buf, 0) // instrument count
	buf.Write([]byte{0, 0})
	buf.Write(score)
	return buf.Bytes()
}

func writeLE16(buf *bytes.Buffer, v uint16) {
	buf.WriteByte(byte(v))
	buf.WriteByte(byte(v >> 8))
}

func TestParseNoteOnOffAndEnd(t *testing.T) {
	// play note 48 vel 64 (velocity byte present, high bit set on note byte)
	// on channel 0, delta-tagged with 1 tick to the next event, then
	// release note 48, then score end.
	score := []byte{
		0x90, 0x30 | 0x80, 0x40, 0x01, // last=1 type=1(play) chan=0; note=0x30|0x80 (vel follows), vel=0x40; trailing VLQ delta = 1
		0x00, 0x30, // type=0(release) chan=0; note=0x30
		0x60, // type=6(end) chan=0
	}
	data := buildFixture(score)

	s, err := Parse(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Format != 0 || s.DeltaUnit != 70 || len(s.Tracks) != 1 {
		t.Fatalf("got format=%d delta=%d tracks=%d", s.Format, s.DeltaUnit, len(s.Tracks))
	}

	events := s.Tracks[0].Events
	if len(events) != 16+2+1 { // 16 initial CC7, play, release, end-of-track
		t.Fatalf("got %d events, want %d: %+v", len(events), 16+2+1, events)
	}
	for ch := 0; ch < 16; ch++ {
		want := []byte{0xB0 | byte(ch), 7, 127}
		if !bytes.Equal(events[ch].Data, want) {
			t.Fatalf("initial CC event %d = % x, want % x", ch, events[ch].Data, want)
		}
	}
	play := events[16]
	if !bytes.Equal(play.Data, []byte{0x90, 0x30, 0x40}) {
		t.Fatalf("play event = % x", play.Data)
	}
	release := events[17]
	if !bytes.Equal(release.Data, []byte{0x80, 0x30, 0x64}) {
		t.Fatalf("release event = % x", release.Data)
	}
	if release.Delta != 1 {
		t.Fatalf("release delta = %d, want 1", release.Delta)
	}
	end := events[18]
	if end.Type.String() != "meta" || end.Data[0] != 0x2F {
		t.Fatalf("end event = %+v", end)
	}
}

func TestParseRejectsBadMagic(t *testing.T) {
	if _, err := Parse([]byte("not a mus file")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParseRejectsOversize(t *testing.T) {
	big := make([]byte, MaxSize+1)
	copy(big, magic)
	if _, err := Parse(big); err == nil {
		t.Fatalf("expected TooLarge error")
	}
}
