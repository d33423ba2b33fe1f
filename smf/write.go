package smf

import (
	"bytes"
	"io"

	"github.com/anselm-k/fmidi/errs"
)

func writeUint16BE(buf *bytes.Buffer, v uint16) {
	buf.WriteByte(byte(v >> 8))
	buf.WriteByte(byte(v))
}

func writeUint32BE(buf *bytes.Buffer, v uint32) {
	buf.WriteByte(byte(v >> 24))
	buf.WriteByte(byte(v >> 16))
	buf.WriteByte(byte(v >> 8))
	buf.WriteByte(byte(v))
}

// writeVLQ encodes v as a big-endian base-128 variable-length quantity,
// matching write_vlq in the source library: it always emits at least one
// byte, and shifts start at the highest nonzero 7-bit group.
func writeVLQ(buf *bytes.Buffer, v uint32) {
	var groups [4]byte
	n := 0
	groups[0] = byte(v & 0x7f)
	n = 1
	v >>= 7
	for v > 0 && n < 4 {
		groups[n] = byte(v&0x7f) | 0x80
		v >>= 7
		n++
	}
	for i := n - 1; i >= 0; i-- {
		buf.WriteByte(groups[i])
	}
}

// Encode serializes smf to its SMF wire representation.
func Encode(s *SMF) []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("MThd")
	writeUint32BE(buf, 6)
	writeUint16BE(buf, s.Format)
	writeUint16BE(buf, uint16(len(s.Tracks)))
	writeUint16BE(buf, s.DeltaUnit)

	for _, tr := range s.Tracks {
		body := &bytes.Buffer{}
		runningStatus := -1
		for _, evt := range tr.Events {
			writeEvent(body, &evt, &runningStatus)
		}
		buf.WriteString("MTrk")
		writeUint32BE(buf, uint32(body.Len()))
		buf.Write(body.Bytes())
	}
	return buf.Bytes()
}

func writeEvent(body *bytes.Buffer, evt *Event, runningStatus *int) {
	switch evt.Type {
	case EventMeta:
		writeVLQ(body, evt.Delta)
		body.WriteByte(0xFF)
		tag := evt.Data[0]
		if tag == 0x3F {
			tag = 0x2F // §9 Open Question (b): normalize the tolerated alias on write.
		}
		body.WriteByte(tag)
		writeVLQ(body, uint32(len(evt.Data)-1))
		body.Write(evt.Data[1:])
		*runningStatus = -1

	case EventMessage:
		writeVLQ(body, evt.Delta)
		status := evt.Data[0]
		switch {
		case status == 0xF0:
			body.WriteByte(0xF0)
			writeVLQ(body, uint32(len(evt.Data)-1))
			body.Write(evt.Data[1:])
			*runningStatus = -1
		case int(status) == *runningStatus && status < 0xF0:
			// Running status is only applied to channel messages.
			body.Write(evt.Data[1:])
		default:
			body.Write(evt.Data)
			*runningStatus = int(status)
		}

	case EventEscape:
		writeVLQ(body, evt.Delta)
		body.WriteByte(0xF7)
		writeVLQ(body, uint32(len(evt.Data)))
		body.Write(evt.Data)
		*runningStatus = -1

	case EventXMITimbre, EventXMIBranchPoint:
		// No SMF wire representation; dropped on write per SPEC_FULL.md §4.5.
	}
}

// WriteTo serializes smf and writes it to w, reporting errs.InputIO on any
// short write.
func WriteTo(s *SMF, w io.Writer) error {
	data := Encode(s)
	n, err := w.Write(data)
	if err != nil {
		return errs.New(errs.InputIO, "smf: write failed: %v", err)
	}
	if n != len(data) {
		return errs.New(errs.InputIO, "smf: short write (%d of %d bytes)", n, len(data))
	}
	return nil
}
