package api

import (
	"crypto/rand"
	"errors"
	"fmt"
)

// FrameKind is the one-byte frame type identifier used on the wire.
type FrameKind byte

const (
	KindTransmitRequest         FrameKind = 0x90
	KindTransmitStatus          FrameKind = 0x8B
	KindAtCommand               FrameKind = 0x08
	KindAtCommandResponse       FrameKind = 0x88
	KindRemoteAtCommand         FrameKind = 0x17
	KindRemoteAtCommandResponse FrameKind = 0x97
	KindNull                    FrameKind = 0xFF
)

const (
	frameDelim = 0x7E

	// BroadcastAddr targets every reachable node on the mesh.
	BroadcastAddr uint64 = 0xFFFF

	// reservedNetAddr is the 16-bit network address field; the firmware
	// expects 0xFFFE when addressing by 64-bit address.
	reservedNetAddr uint16 = 0xFFFE
)

var (
	// ErrFrame reports a malformed or undersized frame buffer.
	ErrFrame = errors.New("malformed frame")
	// ErrPayload reports an outbound payload exceeding the frame size limit.
	ErrPayload = errors.New("payload exceeds frame size limit")
)

func (k FrameKind) String() string {
	switch k {
	case KindTransmitRequest:
		return "transmit_request"
	case KindTransmitStatus:
		return "transmit_status"
	case KindAtCommand:
		return "at_command"
	case KindAtCommandResponse:
		return "at_command_response"
	case KindRemoteAtCommand:
		return "remote_at_command"
	case KindRemoteAtCommandResponse:
		return "remote_at_command_response"
	case KindNull:
		return "null"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(k))
	}
}

// Frame is an outbound API-mode frame that can encode itself to wire bytes.
type Frame interface {
	Kind() FrameKind
	Encode() ([]byte, error)
}

// Checksum computes the API-mode checksum over frame[3:], which callers
// append as the final byte. Summing frame[3:] together with that byte,
// mod 256, yields zero.
func Checksum(frame []byte) (byte, error) {
	if len(frame) < 5 {
		return 0, fmt.Errorf("checksum: frame shorter than minimum: %w", ErrFrame)
	}

	var sum byte
	for _, b := range frame[3:] {
		sum += b
	}

	return 0xFF - sum, nil
}

// randomFrameID draws the per-request frame id byte. The id is carried in
// the reply but never validated against it; the protocol is used strictly
// one request at a time.
func randomFrameID() (byte, error) {
	var b [1]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("draw frame id: %w", err)
	}

	return b[0], nil
}
