// Package wire encodes and decodes the fixed-layout RTS, CTS, ACK and DATA
// frames exchanged between stations and the access point.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// Subtype identifies the kind of control frame carried in the FC field.
type Subtype uint16

const (
	RTSSubtype Subtype = 0x0B00
	CTSSubtype Subtype = 0x0C00
	ACKSubtype Subtype = 0x0D00
)

func (s Subtype) String() string {
	switch s {
	case RTSSubtype:
		return "RTS"
	case CTSSubtype:
		return "CTS"
	case ACKSubtype:
		return "ACK"
	default:
		return fmt.Sprintf("Subtype(0x%04X)", uint16(s))
	}
}

// Addr is a 6-byte, left-justified, zero-padded station address.
type Addr [6]byte

// NewAddr zero-pads or truncates name to a 6-byte address.
func NewAddr(name string) Addr {
	var a Addr
	copy(a[:], name)
	return a
}

// String returns the address with trailing zero bytes stripped.
func (a Addr) String() string {
	n := len(a)
	for n > 0 && a[n-1] == 0 {
		n--
	}
	return string(a[:n])
}

var crcTable = crc32.MakeTable(crc32.Castagnoli)

func checksum(b []byte) uint32 { return crc32.Checksum(b, crcTable) }

var (
	// ErrSubtype is returned when a decoded frame's FC field does not carry
	// the expected subtype.
	ErrSubtype = errors.New("wire: unexpected frame subtype")
	// ErrChecksum is returned when the trailing FCS does not validate.
	ErrChecksum = errors.New("wire: checksum validation failed")
	// ErrTruncated is returned when fewer bytes than the frame layout
	// requires are available.
	ErrTruncated = errors.New("wire: truncated frame")
)

const (
	RTSLen    = 20
	CTSACKLen = 14
	fcsLen    = 4
)

// RTS is the Request-To-Send control frame.
type RTS struct {
	D     uint16 // payload length the sender intends to transmit next
	Addr1 Addr   // sender
	Addr2 Addr   // final destination
}

// EncodeRTS serializes r into its 20-byte wire form, appending the FCS.
func EncodeRTS(r RTS) []byte {
	b := make([]byte, RTSLen)
	binary.LittleEndian.PutUint16(b[0:2], uint16(RTSSubtype))
	binary.LittleEndian.PutUint16(b[2:4], r.D)
	copy(b[4:10], r.Addr1[:])
	copy(b[10:16], r.Addr2[:])
	binary.LittleEndian.PutUint32(b[16:20], checksum(b[:16]))
	return b
}

// DecodeRTS validates and parses a 20-byte RTS frame.
func DecodeRTS(b []byte) (RTS, error) {
	var r RTS
	if len(b) < RTSLen {
		return r, fmt.Errorf("rts: %w", ErrTruncated)
	}
	b = b[:RTSLen]
	if Subtype(binary.LittleEndian.Uint16(b[0:2])) != RTSSubtype {
		return r, fmt.Errorf("rts: %w", ErrSubtype)
	}
	if checksum(b[:16]) != binary.LittleEndian.Uint32(b[16:20]) {
		return r, fmt.Errorf("rts: %w", ErrChecksum)
	}
	r.D = binary.LittleEndian.Uint16(b[2:4])
	copy(r.Addr1[:], b[4:10])
	copy(r.Addr2[:], b[10:16])
	return r, nil
}

// CTSACK is the shared layout for CTS and ACK control frames.
type CTSACK struct {
	Subtype Subtype
	D       uint16
	Addr1   Addr
}

// EncodeCTSACK serializes a CTS or ACK frame (selected by sub) naming addr1.
func EncodeCTSACK(sub Subtype, addr1 Addr) []byte {
	b := make([]byte, CTSACKLen)
	binary.LittleEndian.PutUint16(b[0:2], uint16(sub))
	binary.LittleEndian.PutUint16(b[2:4], 1)
	copy(b[4:10], addr1[:])
	binary.LittleEndian.PutUint32(b[10:14], checksum(b[:10]))
	return b
}

// DecodeCTSACK validates and parses a 14-byte CTS/ACK frame, requiring its
// subtype to equal want.
func DecodeCTSACK(want Subtype, b []byte) (CTSACK, error) {
	var f CTSACK
	if len(b) < CTSACKLen {
		return f, fmt.Errorf("%s: %w", want, ErrTruncated)
	}
	b = b[:CTSACKLen]
	got := Subtype(binary.LittleEndian.Uint16(b[0:2]))
	if got != want {
		return f, fmt.Errorf("%s: %w", want, ErrSubtype)
	}
	if checksum(b[:10]) != binary.LittleEndian.Uint32(b[10:14]) {
		return f, fmt.Errorf("%s: %w", want, ErrChecksum)
	}
	f.Subtype = got
	f.D = binary.LittleEndian.Uint16(b[2:4])
	copy(f.Addr1[:], b[4:10])
	return f, nil
}

// EncodeDATA serializes payload followed by its FCS.
func EncodeDATA(payload []byte) []byte {
	b := make([]byte, len(payload)+fcsLen)
	copy(b, payload)
	binary.LittleEndian.PutUint32(b[len(payload):], checksum(payload))
	return b
}

// DecodeDATA validates a DATA frame of exactly size payload bytes plus FCS.
func DecodeDATA(b []byte, size int) ([]byte, error) {
	if len(b) < size+fcsLen {
		return nil, fmt.Errorf("data: %w", ErrTruncated)
	}
	payload := b[:size]
	fcs := binary.LittleEndian.Uint32(b[size : size+fcsLen])
	if checksum(payload) != fcs {
		return nil, fmt.Errorf("data: %w", ErrChecksum)
	}
	out := make([]byte, size)
	copy(out, payload)
	return out, nil
}
