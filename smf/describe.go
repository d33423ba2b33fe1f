package smf

import (
	"fmt"
	"strings"

	"github.com/anselm-k/fmidi/util"
)

// Describe renders s as a human-readable S-expression, purely for
// debugging (SPEC_FULL.md §4.8/§6.5). Its exact syntax may change between
// releases without notice; nothing in this module parses its own output.
func Describe(s *SMF) string {
	var b strings.Builder
	fmt.Fprintf(&b, "(midi-file :format %d :delta-unit %#04x", s.Format, s.DeltaUnit)
	for i, tr := range s.Tracks {
		lengths := make([]int, len(tr.Events))
		for j, evt := range tr.Events {
			lengths[j] = len(evt.Data)
		}
		fmt.Fprintf(&b, "\n  (track %d :data-bytes %d", i, util.SumDurations(lengths))
		for _, evt := range tr.Events {
			b.WriteString("\n    ")
			describeEvent(&b, &evt)
		}
		b.WriteString(")")
	}
	b.WriteString(")")
	return b.String()
}

func describeEvent(b *strings.Builder, evt *Event) {
	switch evt.Type {
	case EventMeta:
		fmt.Fprintf(b, "(meta :delta %d %s)", evt.Delta, describeMeta(evt))
	case EventMessage:
		fmt.Fprintf(b, "(message :delta %d %s)", evt.Delta, describeMessage(evt))
	case EventEscape:
		fmt.Fprintf(b, "(escape :delta %d :length %d)", evt.Delta, len(evt.Data))
	case EventXMITimbre:
		fmt.Fprintf(b, "(xmi-timbre :delta %d :length %d)", evt.Delta, len(evt.Data))
	case EventXMIBranchPoint:
		fmt.Fprintf(b, "(xmi-branch-point :delta %d :id %d)", evt.Delta, evt.Data[0])
	}
}

func describeMeta(evt *Event) string {
	tag := evt.Data[0]
	payload := evt.Data[1:]
	switch tag {
	case 0x2F, 0x3F:
		return ":end-of-track"
	case 0x51:
		if len(payload) == 3 {
			usPerQuarter := uint32(payload[0])<<16 | uint32(payload[1])<<8 | uint32(payload[2])
			bpm := 0.0
			if usPerQuarter > 0 {
				bpm = 60000000.0 / float64(usPerQuarter)
			}
			return fmt.Sprintf(":tempo %d :bpm %.2f", usPerQuarter, bpm)
		}
	case 0x58:
		if len(payload) == 4 {
			return fmt.Sprintf(":time-signature %d/%d", payload[0], 1<<payload[1])
		}
	case 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07:
		text := string(payload)
		if len(text) > 40 {
			text = text[:40] + "..."
		}
		return fmt.Sprintf(":text %q", text)
	}
	return fmt.Sprintf(":tag %#02x :length %d", tag, len(payload))
}

func describeMessage(evt *Event) string {
	status := evt.Data[0]
	if status == 0xF0 {
		return fmt.Sprintf(":sysex :length %d", len(evt.Data))
	}
	name := "unknown"
	switch status & 0xF0 {
	case 0x80:
		name = "note-off"
	case 0x90:
		name = "note-on"
	case 0xA0:
		name = "poly-aftertouch"
	case 0xB0:
		name = "control-change"
	case 0xC0:
		name = "program-change"
	case 0xD0:
		name = "channel-aftertouch"
	case 0xE0:
		name = "pitch-bend"
	}
	return fmt.Sprintf(":%s :channel %d :data %v", name, status&0x0F, evt.Data[1:])
}
