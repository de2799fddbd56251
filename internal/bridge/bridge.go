// Package bridge provides optional, off-by-default hardware taps that
// mirror simulated WLAN traffic onto a real serial line or SocketCAN
// interface for hardware-in-the-loop tracing. Taps are mirror-only:
// attaching or detaching one never gates or originates protocol
// traffic — the CSMA/CA core (internal/csma, internal/ap) runs
// entirely in-memory against internal/medium regardless of whether any
// tap is attached. Each mirrored event is chunked into the teacher's
// can.Frame carrier and funneled through the same AsyncTx fan-in writer
// the teacher uses for its two hardware backends.
package bridge

import (
	"encoding/binary"

	"github.com/jhamm/wlansim/internal/can"
)

// Event tags the kind of WLAN frame being mirrored, carried in the low
// byte of the chunk's CAN ID so a trace reader can tell RTS/CTS/ACK/DATA
// apart without re-parsing the wire layout.
type Event uint8

const (
	EventRTS Event = iota + 1
	EventCTS
	EventACK
	EventDATA
)

// chunks splits data into can.Frame-sized pieces (at most maxChunk
// bytes of payload each), tagging every chunk with ev in the CAN ID's
// low byte and a monotonically increasing sequence number in the next
// two bytes so a receiver can reassemble ordering even if chunks
// interleave with another event's chunks on the same tap.
func chunks(ev Event, seq uint16, data []byte, maxChunk int) []can.Frame {
	if maxChunk <= 0 || maxChunk > 64 {
		maxChunk = 64
	}
	var out []can.Frame
	for i := 0; i < len(data) || (len(data) == 0 && i == 0); i += maxChunk {
		end := i + maxChunk
		if end > len(data) {
			end = len(data)
		}
		var f can.Frame
		id := uint32(ev)
		id |= uint32(seq) << 8
		f.CANID = id
		piece := data[i:end]
		f.Len = uint8(len(piece))
		copy(f.Data[:], piece)
		out = append(out, f)
		if len(data) == 0 {
			break
		}
	}
	return out
}

// decodeEvent extracts the Event tag and sequence number a chunk was
// stamped with.
func decodeEvent(f can.Frame) (Event, uint16) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], f.CANID)
	return Event(b[0]), uint16(b[1]) | uint16(b[2])<<8
}
