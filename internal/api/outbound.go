package api

import (
	"encoding/binary"
	"fmt"
)

// Per-kind ceilings on the variable part of an outbound frame. The u16
// length field counts every byte from the kind id through the last field,
// so the payload ceiling is 65535 minus the kind's header overhead.
const (
	maxTransmitPayload      = 65535 - 111
	maxAtCommandParam       = 65535 - 4
	maxRemoteAtCommandParam = 65535 - 15
)

// MessagingMode selects the routing behavior requested from the firmware.
type MessagingMode byte

const (
	ModePointToPoint MessagingMode = 0x1
	ModeRepeater     MessagingMode = 0x2
	ModeDigiMesh     MessagingMode = 0x3
)

// TransmitRequestOptions is the options bitmask of a transmit request.
type TransmitRequestOptions struct {
	DisableAck              bool
	DisableRouteDiscovery   bool
	EnableUnicastNack       bool
	EnableUnicastTraceRoute bool
	Mode                    MessagingMode
}

// Compile packs the options into the single wire byte: bits 0-3 are the
// flags, bits 6-7 the messaging mode.
func (o TransmitRequestOptions) Compile() byte {
	var val byte
	if o.DisableAck {
		val |= 1 << 0
	}
	if o.DisableRouteDiscovery {
		val |= 1 << 1
	}
	if o.EnableUnicastNack {
		val |= 1 << 2
	}
	if o.EnableUnicastTraceRoute {
		val |= 1 << 3
	}

	return byte(o.Mode)<<6 | val
}

// TransmitRequest sends an arbitrary payload to a 64-bit destination
// address, or to the whole mesh via BroadcastAddr.
type TransmitRequest struct {
	DestAddr        uint64
	BroadcastRadius byte
	Options         *TransmitRequestOptions
	Payload         []byte
}

func (f TransmitRequest) Kind() FrameKind { return KindTransmitRequest }

func (f TransmitRequest) Encode() ([]byte, error) {
	if len(f.Payload) > maxTransmitPayload {
		return nil, fmt.Errorf("transmit request payload %d bytes: %w", len(f.Payload), ErrPayload)
	}
	id, err := randomFrameID()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, 18+len(f.Payload))
	buf = append(buf, frameDelim, 0, 0, byte(KindTransmitRequest), id)
	buf = binary.BigEndian.AppendUint64(buf, f.DestAddr)
	buf = binary.BigEndian.AppendUint16(buf, reservedNetAddr)
	buf = append(buf, f.BroadcastRadius)
	if f.Options != nil {
		buf = append(buf, f.Options.Compile())
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, f.Payload...)

	return sealFrame(buf)
}

// AtCommand queries or sets a two-letter configuration register on the
// local node. A nil Param reads the register; a non-nil one writes it.
type AtCommand struct {
	Cmd   string
	Param []byte
}

func (f AtCommand) Kind() FrameKind { return KindAtCommand }

func (f AtCommand) Encode() ([]byte, error) {
	if len(f.Cmd) != 2 {
		return nil, fmt.Errorf("at command %q is not two characters: %w", f.Cmd, ErrFrame)
	}
	if len(f.Param) > maxAtCommandParam {
		return nil, fmt.Errorf("at command parameter %d bytes: %w", len(f.Param), ErrPayload)
	}
	id, err := randomFrameID()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, 8+len(f.Param))
	buf = append(buf, frameDelim, 0, 0, byte(KindAtCommand), id)
	buf = append(buf, f.Cmd...)
	buf = append(buf, f.Param...)

	return sealFrame(buf)
}

// RemoteAtCommand addresses an AT register on a remote node by its 64-bit
// address.
type RemoteAtCommand struct {
	DestAddr uint64
	Options  byte
	Cmd      string
	Param    []byte
}

func (f RemoteAtCommand) Kind() FrameKind { return KindRemoteAtCommand }

func (f RemoteAtCommand) Encode() ([]byte, error) {
	if len(f.Cmd) != 2 {
		return nil, fmt.Errorf("remote at command %q is not two characters: %w", f.Cmd, ErrFrame)
	}
	if len(f.Param) > maxRemoteAtCommandParam {
		return nil, fmt.Errorf("remote at command parameter %d bytes: %w", len(f.Param), ErrPayload)
	}
	id, err := randomFrameID()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, 19+len(f.Param))
	buf = append(buf, frameDelim, 0, 0, byte(KindRemoteAtCommand), id)
	buf = binary.BigEndian.AppendUint64(buf, f.DestAddr)
	buf = binary.BigEndian.AppendUint16(buf, reservedNetAddr)
	buf = append(buf, f.Options)
	buf = append(buf, f.Cmd...)
	buf = append(buf, f.Param...)

	return sealFrame(buf)
}

// sealFrame back-patches the length field now that the final size is known
// and appends the checksum.
func sealFrame(buf []byte) ([]byte, error) {
	// #nosec G115 -- the per-kind payload ceilings above bound len(buf)-3 to u16.
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(buf)-3))
	sum, err := Checksum(buf)
	if err != nil {
		return nil, err
	}

	return append(buf, sum), nil
}
