package smf

import (
	"bytes"
	"testing"

	gomidismf "gitlab.com/gomidi/midi/v2/smf"
)

// TestCrossValidateAgainstGomidi decodes a small set of well-formed fixture
// files with both this package's from-scratch parser and the gomidi/midi/v2
// library the teacher codebase used to delegate all of its MIDI reading to.
// It's a cheap oracle for "did we get the track/format numbers right" on
// inputs simple enough that the two libraries' recovery heuristics can't
// possibly diverge; it is not a replacement for the recovery-heuristic
// tests in parse_test.go, which exercise behavior gomidi doesn't attempt to
// replicate at all.
func TestCrossValidateAgainstGomidi(t *testing.T) {
	fixtures := [][]byte{
		{
			'M', 'T', 'h', 'd', 0x00, 0x00, 0x00, 0x06, 0x00, 0x00, 0x00, 0x01, 0x01, 0xE0,
			'M', 'T', 'r', 'k', 0x00, 0x00, 0x00, 0x04, 0x00, 0xFF, 0x2F, 0x00,
		},
		{
			'M', 'T', 'h', 'd', 0x00, 0x00, 0x00, 0x06, 0x00, 0x01, 0x00, 0x02, 0x00, 0x60,
			'M', 'T', 'r', 'k', 0x00, 0x00, 0x00, 0x04, 0x00, 0xFF, 0x2F, 0x00,
			'M', 'T', 'r', 'k', 0x00, 0x00, 0x00, 0x08,
			0x00, 0x90, 0x3C, 0x40, 0x60, 0xFF, 0x2F, 0x00,
		},
	}

	for i, fixture := range fixtures {
		ours, err := Parse(fixture)
		if err != nil {
			t.Fatalf("fixture %d: our parser failed: %v", i, err)
		}
		theirs, err := gomidismf.ReadFrom(bytes.NewReader(fixture))
		if err != nil {
			t.Fatalf("fixture %d: gomidi failed: %v", i, err)
		}
		if len(ours.Tracks) != len(theirs.Tracks) {
			t.Fatalf("fixture %d: track count mismatch: ours=%d gomidi=%d", i, len(ours.Tracks), len(theirs.Tracks))
		}
	}
}
