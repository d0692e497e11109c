package api

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"
)

func TestEncodeChecksumSumsToZero(t *testing.T) {
	frames := []Frame{
		AtCommand{Cmd: "NI"},
		AtCommand{Cmd: "NI", Param: []byte("node-7")},
		TransmitRequest{DestAddr: BroadcastAddr, Payload: []byte("hello mesh")},
		RemoteAtCommand{DestAddr: 0x0013A20040A12345, Cmd: "SH"},
	}

	for _, f := range frames {
		encoded, err := f.Encode()
		if err != nil {
			t.Fatalf("encode %s: %v", f.Kind(), err)
		}
		var sum byte
		for _, b := range encoded[3:] {
			sum += b
		}
		if sum != 0 {
			t.Fatalf("%s: bytes [3,len) plus checksum sum to 0x%02x, want 0", f.Kind(), sum)
		}
	}
}

func TestEncodeLengthFieldCountsKindThroughLastField(t *testing.T) {
	frames := []Frame{
		AtCommand{Cmd: "VR"},
		TransmitRequest{DestAddr: 0x1122, Payload: []byte{0xDE, 0xAD}},
		RemoteAtCommand{DestAddr: 0x1122, Cmd: "NI", Param: []byte{0x01}},
	}

	for _, f := range frames {
		encoded, err := f.Encode()
		if err != nil {
			t.Fatalf("encode %s: %v", f.Kind(), err)
		}
		declared := int(binary.BigEndian.Uint16(encoded[1:3]))
		if declared != len(encoded)-4 {
			t.Fatalf("%s: declared length %d, want %d", f.Kind(), declared, len(encoded)-4)
		}
	}
}

func TestEncodeTransmitRequestPayloadLimit(t *testing.T) {
	ok := TransmitRequest{DestAddr: BroadcastAddr, Payload: make([]byte, 65424)}
	if _, err := ok.Encode(); err != nil {
		t.Fatalf("encode 65424-byte payload: %v", err)
	}

	over := TransmitRequest{DestAddr: BroadcastAddr, Payload: make([]byte, 65425)}
	_, err := over.Encode()
	if !errors.Is(err, ErrPayload) {
		t.Fatalf("expected ErrPayload for 65425-byte payload, got %v", err)
	}
}

func TestEncodeAtCommandRejectsBadCommandLength(t *testing.T) {
	for _, cmd := range []string{"", "N", "NID"} {
		if _, err := (AtCommand{Cmd: cmd}).Encode(); !errors.Is(err, ErrFrame) {
			t.Fatalf("expected ErrFrame for command %q, got %v", cmd, err)
		}
	}
}

func TestEncodeAtCommandDecodesBackToCommand(t *testing.T) {
	encoded, err := AtCommand{Cmd: "NI"}.Encode()
	if err != nil {
		t.Fatalf("encode at command: %v", err)
	}

	reply, err := Decode(encoded, KindAtCommandResponse)
	if err != nil {
		t.Fatalf("decode at response offsets: %v", err)
	}
	if reply.At == nil {
		t.Fatalf("expected at response variant, got %+v", reply)
	}
	if reply.At.Cmd != "NI" {
		t.Fatalf("expected command NI, got %q", reply.At.Cmd)
	}
}

func TestEncodeTransmitRequestWireLayout(t *testing.T) {
	opts := &TransmitRequestOptions{DisableAck: true, Mode: ModeDigiMesh}
	encoded, err := TransmitRequest{
		DestAddr:        0x0102030405060708,
		BroadcastRadius: 2,
		Options:         opts,
		Payload:         []byte{0xAA},
	}.Encode()
	if err != nil {
		t.Fatalf("encode transmit request: %v", err)
	}

	if encoded[0] != 0x7E {
		t.Fatalf("expected delimiter 0x7E, got 0x%02x", encoded[0])
	}
	if encoded[3] != byte(KindTransmitRequest) {
		t.Fatalf("expected kind id 0x90, got 0x%02x", encoded[3])
	}
	if got := binary.BigEndian.Uint64(encoded[5:13]); got != 0x0102030405060708 {
		t.Fatalf("expected dest addr 0x0102030405060708, got 0x%016x", got)
	}
	if got := binary.BigEndian.Uint16(encoded[13:15]); got != 0xFFFE {
		t.Fatalf("expected reserved net addr 0xFFFE, got 0x%04x", got)
	}
	if encoded[15] != 2 {
		t.Fatalf("expected broadcast radius 2, got %d", encoded[15])
	}
	if encoded[16] != opts.Compile() {
		t.Fatalf("expected options byte 0x%02x, got 0x%02x", opts.Compile(), encoded[16])
	}
	if !bytes.Equal(encoded[17:len(encoded)-1], []byte{0xAA}) {
		t.Fatalf("payload not at expected offset: % x", encoded)
	}
}

func TestTransmitRequestOptionsCompile(t *testing.T) {
	cases := []struct {
		opts TransmitRequestOptions
		want byte
	}{
		{TransmitRequestOptions{Mode: ModePointToPoint}, 0x40},
		{TransmitRequestOptions{Mode: ModeRepeater}, 0x80},
		{TransmitRequestOptions{Mode: ModeDigiMesh}, 0xC0},
		{TransmitRequestOptions{DisableAck: true, Mode: ModeDigiMesh}, 0xC1},
		{TransmitRequestOptions{DisableRouteDiscovery: true, EnableUnicastNack: true, Mode: ModePointToPoint}, 0x46},
		{TransmitRequestOptions{EnableUnicastTraceRoute: true, Mode: ModeRepeater}, 0x88},
	}

	for _, c := range cases {
		if got := c.opts.Compile(); got != c.want {
			t.Fatalf("options %+v compiled to 0x%02x, want 0x%02x", c.opts, got, c.want)
		}
	}
}

func TestReplyForDispatch(t *testing.T) {
	if spec := ReplyFor(KindTransmitRequest); spec.Kind != KindTransmitStatus || spec.FixedLen != TransmitStatusLen || spec.Timeout != 0 {
		t.Fatalf("unexpected transmit request reply spec: %+v", spec)
	}
	if spec := ReplyFor(KindAtCommand); spec.Kind != KindAtCommandResponse || spec.Timeout != 100*time.Millisecond || spec.FixedLen != 0 {
		t.Fatalf("unexpected at command reply spec: %+v", spec)
	}
	if spec := ReplyFor(KindRemoteAtCommand); spec.Kind != KindRemoteAtCommandResponse || spec.Timeout != 3*time.Second {
		t.Fatalf("unexpected remote at command reply spec: %+v", spec)
	}
	if spec := ReplyFor(KindNull); spec.Kind != KindNull {
		t.Fatalf("unexpected null reply spec: %+v", spec)
	}
}
