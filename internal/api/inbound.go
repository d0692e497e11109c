package api

import (
	"encoding/binary"
	"fmt"
)

// Minimum accumulated buffer sizes for the offset decoders below. The raw
// buffer starts at the 0x7E delimiter and ends at the checksum byte.
const (
	TransmitStatusLen      = 11
	minAtResponseLen       = 9
	minRemoteAtResponseLen = 19
)

// TransmitStatus reports the outcome of a transmit request.
type TransmitStatus struct {
	FrameID         byte
	RetryCount      byte
	DeliverStatus   byte
	DiscoveryStatus byte
	Raw             []byte
}

// AtCommandResponse carries the register value (or write acknowledgement)
// for a local AT command.
type AtCommandResponse struct {
	FrameID byte
	Cmd     string
	Status  byte
	Data    []byte
	Raw     []byte
}

// RemoteAtCommandResponse is an AT response relayed from a remote node.
type RemoteAtCommandResponse struct {
	FrameID  byte
	DestAddr uint64
	Cmd      string
	Status   byte
	Data     []byte
	Raw      []byte
}

// Reply is the decoded inbound frame, tagged by Kind. Exactly the variant
// matching Kind is non-nil; a Null reply carries nothing.
type Reply struct {
	Kind     FrameKind
	Status   *TransmitStatus
	At       *AtCommandResponse
	RemoteAt *RemoteAtCommandResponse
}

// FrameID returns the correlation id byte of the decoded variant, or zero
// for a Null reply.
func (r Reply) FrameID() byte {
	switch {
	case r.Status != nil:
		return r.Status.FrameID
	case r.At != nil:
		return r.At.FrameID
	case r.RemoteAt != nil:
		return r.RemoteAt.FrameID
	default:
		return 0
	}
}

// Raw returns the accumulated wire bytes the reply was decoded from.
func (r Reply) Raw() []byte {
	switch {
	case r.Status != nil:
		return r.Status.Raw
	case r.At != nil:
		return r.At.Raw
	case r.RemoteAt != nil:
		return r.RemoteAt.Raw
	default:
		return nil
	}
}

// Decode slices the accumulated raw buffer using the fixed offsets of the
// expected reply kind. The buffer is everything read off the transport for
// one reply, delimiter through checksum; the declared length field is not
// trusted, every offset is checked against what was actually read.
func Decode(raw []byte, kind FrameKind) (Reply, error) {
	if kind == KindNull {
		return Reply{Kind: KindNull}, nil
	}
	if len(raw) == 0 {
		return Reply{}, fmt.Errorf("decode %s: empty buffer: %w", kind, ErrFrame)
	}

	switch kind {
	case KindTransmitStatus:
		return decodeTransmitStatus(raw)
	case KindAtCommandResponse:
		return decodeAtResponse(raw)
	case KindRemoteAtCommandResponse:
		return decodeRemoteAtResponse(raw)
	default:
		return Reply{}, fmt.Errorf("decode: %s is not an inbound kind: %w", kind, ErrFrame)
	}
}

func decodeTransmitStatus(raw []byte) (Reply, error) {
	if len(raw) < TransmitStatusLen {
		return Reply{}, fmt.Errorf("decode transmit status: %d of %d bytes: %w", len(raw), TransmitStatusLen, ErrFrame)
	}

	return Reply{
		Kind: KindTransmitStatus,
		Status: &TransmitStatus{
			FrameID:         raw[4],
			RetryCount:      raw[7],
			DeliverStatus:   raw[8],
			DiscoveryStatus: raw[9],
			Raw:             raw,
		},
	}, nil
}

func decodeAtResponse(raw []byte) (Reply, error) {
	if len(raw) < minAtResponseLen {
		return Reply{}, fmt.Errorf("decode at response: %d of %d bytes: %w", len(raw), minAtResponseLen, ErrFrame)
	}

	var data []byte
	if len(raw) > minAtResponseLen {
		data = raw[8 : len(raw)-1]
	}

	return Reply{
		Kind: KindAtCommandResponse,
		At: &AtCommandResponse{
			FrameID: raw[4],
			Cmd:     string(raw[5:7]),
			Status:  raw[7],
			Data:    data,
			Raw:     raw,
		},
	}, nil
}

func decodeRemoteAtResponse(raw []byte) (Reply, error) {
	if len(raw) < minRemoteAtResponseLen {
		return Reply{}, fmt.Errorf("decode remote at response: %d of %d bytes: %w", len(raw), minRemoteAtResponseLen, ErrFrame)
	}

	var data []byte
	if len(raw) > minRemoteAtResponseLen {
		data = raw[18 : len(raw)-1]
	}

	return Reply{
		Kind: KindRemoteAtCommandResponse,
		RemoteAt: &RemoteAtCommandResponse{
			FrameID:  raw[4],
			DestAddr: binary.BigEndian.Uint64(raw[5:13]),
			Cmd:      string(raw[15:17]),
			Status:   raw[17],
			Data:     data,
			Raw:      raw,
		},
	}, nil
}
