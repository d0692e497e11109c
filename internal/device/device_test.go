package device

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/meshkit/digimesh/internal/api"
	"github.com/meshkit/digimesh/internal/transport"
)

// fakePort scripts the byte stream a modem would produce. Each non-nil
// segment is served byte by byte; a nil segment models a quiet read window
// and yields one ErrTimeout.
type fakePort struct {
	segments   [][]byte
	writes     [][]byte
	timeout    time.Duration
	timeoutLog []time.Duration
}

func newFakePort(segments ...[]byte) *fakePort {
	return &fakePort{segments: segments, timeout: transport.DefaultReadTimeout}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.writes = append(p.writes, append([]byte(nil), b...))
	return len(b), nil
}

func (p *fakePort) ReadExact(b []byte) error {
	filled := 0
	for filled < len(b) {
		for len(p.segments) > 0 && p.segments[0] != nil && len(p.segments[0]) == 0 {
			p.segments = p.segments[1:]
		}
		if len(p.segments) == 0 {
			return transport.ErrTimeout
		}
		if p.segments[0] == nil {
			p.segments = p.segments[1:]
			return transport.ErrTimeout
		}
		n := copy(b[filled:], p.segments[0])
		p.segments[0] = p.segments[0][n:]
		filled += n
	}
	return nil
}

func (p *fakePort) ReadTimeout() time.Duration { return p.timeout }

func (p *fakePort) SetReadTimeout(d time.Duration) error {
	p.timeout = d
	p.timeoutLog = append(p.timeoutLog, d)
	return nil
}

func (p *fakePort) Clone() (transport.Port, error) { return p, nil }

func (p *fakePort) Close() error { return nil }

// atResponseFrame builds a complete 0x88 reply with a valid length field
// and checksum.
func atResponseFrame(cmd string, data []byte) []byte {
	buf := []byte{0x7E, 0, 0, 0x88, 0x01}
	buf = append(buf, cmd...)
	buf = append(buf, 0x00)
	buf = append(buf, data...)
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(buf)-3))
	var sum byte
	for _, b := range buf[3:] {
		sum += b
	}
	return append(buf, 0xFF-sum)
}

// identitySegments scripts the five AT replies the session constructor
// consumes: SH, SL, NI, HV, VR, each followed by a quiet window.
func identitySegments() [][]byte {
	return [][]byte{
		atResponseFrame("SH", []byte{0x00, 0x13, 0xA2, 0x00}), nil,
		atResponseFrame("SL", []byte{0x40, 0xA1, 0x23, 0x45}), nil,
		atResponseFrame("NI", []byte("ROOM-A")), nil,
		atResponseFrame("HV", []byte{0x52, 0x41}), nil,
		atResponseFrame("VR", []byte{0x10, 0x0F}), nil,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDevice(t *testing.T, extra ...[]byte) (*Device, *fakePort) {
	t.Helper()
	port := newFakePort(append(identitySegments(), extra...)...)
	d, err := New(port, Options{GuardInterval: time.Millisecond, Logger: testLogger()})
	if err != nil {
		t.Fatalf("build session: %v", err)
	}
	return d, port
}

func TestNewResolvesAndCachesIdentity(t *testing.T) {
	d, port := newTestDevice(t)

	id := d.Identity()
	if id.Addr != 0x0013A20040A12345 {
		t.Fatalf("expected address 0x0013a20040a12345, got 0x%016x", id.Addr)
	}
	if id.NodeID != "ROOM-A" {
		t.Fatalf("expected node id ROOM-A, got %q", id.NodeID)
	}
	if id.HardwareVersion != 0x5241 {
		t.Fatalf("expected hardware version 0x5241, got 0x%04x", id.HardwareVersion)
	}
	if id.FirmwareVersion != 0x100F {
		t.Fatalf("expected firmware version 0x100f, got 0x%04x", id.FirmwareVersion)
	}
	if len(port.writes) != 5 {
		t.Fatalf("expected 5 identity queries, got %d", len(port.writes))
	}
}

func TestFirmwareVersionServedFromCacheAfterFirstQuery(t *testing.T) {
	d, port := newTestDevice(t)
	queries := len(port.writes)

	first, err := d.FirmwareVersion()
	if err != nil {
		t.Fatalf("firmware version: %v", err)
	}
	second, err := d.FirmwareVersion()
	if err != nil {
		t.Fatalf("firmware version from cache: %v", err)
	}
	if first != second {
		t.Fatalf("cache mismatch: %d vs %d", first, second)
	}
	if len(port.writes) != queries {
		t.Fatalf("expected cached reads to issue no queries, got %d new writes", len(port.writes)-queries)
	}
}

func TestNewFailsWhenIdentityQueryGetsNoReply(t *testing.T) {
	// Only the SH reply arrives; the SL drain comes back empty.
	port := newFakePort(atResponseFrame("SH", []byte{0, 0, 0, 1}), nil)

	_, err := New(port, Options{GuardInterval: time.Millisecond, Logger: testLogger()})
	if !errors.Is(err, api.ErrFrame) {
		t.Fatalf("expected ErrFrame from empty reply buffer, got %v", err)
	}
}

func TestNewFailsOnWrongWidthIdentityPayload(t *testing.T) {
	port := newFakePort(atResponseFrame("SH", []byte{0x01, 0x02}), nil)

	_, err := New(port, Options{GuardInterval: time.Millisecond, Logger: testLogger()})
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode for 2-byte SH payload, got %v", err)
	}
}

func TestSendSwapsAndRestoresReadTimeout(t *testing.T) {
	d, port := newTestDevice(t, atResponseFrame("DB", []byte{0x28}), nil)

	if _, err := d.Send(api.AtCommand{Cmd: "DB"}); err != nil {
		t.Fatalf("send at command: %v", err)
	}

	if port.timeout != transport.DefaultReadTimeout {
		t.Fatalf("expected ambient timeout restored, got %v", port.timeout)
	}
	log := port.timeoutLog
	if len(log) < 2 || log[len(log)-2] != 100*time.Millisecond || log[len(log)-1] != transport.DefaultReadTimeout {
		t.Fatalf("expected swap to 100ms then restore, got %v", log)
	}
}

func TestSendRestoresTimeoutWhenDecodeFails(t *testing.T) {
	d, port := newTestDevice(t) // no reply scripted

	_, err := d.Send(api.AtCommand{Cmd: "DB"})
	if !errors.Is(err, api.ErrFrame) {
		t.Fatalf("expected ErrFrame for quiet reply window, got %v", err)
	}
	if port.timeout != transport.DefaultReadTimeout {
		t.Fatalf("expected ambient timeout restored after failure, got %v", port.timeout)
	}
}

func TestSendTransmitRequestReadsFixedStatus(t *testing.T) {
	status := []byte{0x7E, 0x00, 0x07, 0x8B, 0x47, 0xFF, 0xFE, 0x01, 0x00, 0x02, 0x33}
	d, port := newTestDevice(t, status)
	swaps := len(port.timeoutLog)

	reply, err := d.Send(api.TransmitRequest{DestAddr: api.BroadcastAddr, Payload: []byte("ping")})
	if err != nil {
		t.Fatalf("send transmit request: %v", err)
	}
	if reply.Status == nil {
		t.Fatalf("expected transmit status variant, got %+v", reply)
	}
	if reply.Status.FrameID != 0x47 || reply.Status.RetryCount != 0x01 || reply.Status.DiscoveryStatus != 0x02 {
		t.Fatalf("unexpected transmit status fields: %+v", reply.Status)
	}
	if len(port.timeoutLog) != swaps {
		t.Fatalf("transmit request must keep the ambient timeout, saw %v", port.timeoutLog[swaps:])
	}
}

func TestSendRemoteAtCommandDecodesRelayedReply(t *testing.T) {
	reply := []byte{0x7E, 0, 0, 0x97, 0x11}
	reply = binary.BigEndian.AppendUint64(reply, 0x0013A20040B11111)
	reply = append(reply, 0xFF, 0xFE)
	reply = append(reply, "NI"...)
	reply = append(reply, 0x00)
	reply = append(reply, "GATE"...)
	binary.BigEndian.PutUint16(reply[1:3], uint16(len(reply)-3))
	var sum byte
	for _, b := range reply[3:] {
		sum += b
	}
	reply = append(reply, 0xFF-sum)

	d, port := newTestDevice(t, reply, nil)

	got, err := d.Send(api.RemoteAtCommand{DestAddr: 0x0013A20040B11111, Cmd: "NI"})
	if err != nil {
		t.Fatalf("send remote at command: %v", err)
	}
	if got.RemoteAt == nil {
		t.Fatalf("expected remote at variant, got %+v", got)
	}
	if got.RemoteAt.DestAddr != 0x0013A20040B11111 || got.RemoteAt.Cmd != "NI" {
		t.Fatalf("unexpected remote at fields: %+v", got.RemoteAt)
	}
	if !bytes.Equal(got.RemoteAt.Data, []byte("GATE")) {
		t.Fatalf("unexpected remote at data: %q", got.RemoteAt.Data)
	}

	log := port.timeoutLog
	if len(log) < 2 || log[len(log)-2] != 3*time.Second || log[len(log)-1] != transport.DefaultReadTimeout {
		t.Fatalf("expected swap to 3s then restore, got %v", log)
	}
}

func TestCommandModeRoundTrip(t *testing.T) {
	d, port := newTestDevice(t,
		[]byte("OK\r"),   // escape sequence ack
		[]byte("1234\r"), // ATID reply
		[]byte("OK\r"),   // ATCN ack
	)

	if _, err := d.RawCommand("ID", nil, 1); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("expected ErrInvalidMode before entering command mode, got %v", err)
	}

	if err := d.CommandModeEnter(); err != nil {
		t.Fatalf("enter command mode: %v", err)
	}
	rx, err := d.RawCommand("ID", nil, 1)
	if err != nil {
		t.Fatalf("raw command: %v", err)
	}
	if !bytes.Equal(rx, []byte("1234\r")) {
		t.Fatalf("unexpected line reply: %q", rx)
	}
	if err := d.CommandModeExit(); err != nil {
		t.Fatalf("exit command mode: %v", err)
	}
	if _, err := d.RawCommand("ID", nil, 1); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("expected ErrInvalidMode after exit, got %v", err)
	}

	writes := port.writes[5:] // skip identity queries
	if !bytes.Equal(writes[0], []byte("+++")) {
		t.Fatalf("expected bare escape sequence, got %q", writes[0])
	}
	if !bytes.Equal(writes[1], []byte("ATID\r")) {
		t.Fatalf("expected ATID line command, got %q", writes[1])
	}
	if !bytes.Equal(writes[2], []byte("ATCN\r")) {
		t.Fatalf("expected ATCN line command, got %q", writes[2])
	}
}

func TestRawCommandFailsOnQuietLine(t *testing.T) {
	d, _ := newTestDevice(t, []byte("OK\r"), nil)

	if err := d.CommandModeEnter(); err != nil {
		t.Fatalf("enter command mode: %v", err)
	}
	if _, err := d.RawCommand("ID", nil, 1); err == nil {
		t.Fatalf("expected error when no reply bytes were read")
	}
}

func TestRawCommandAppendsParameterBeforeTerminator(t *testing.T) {
	d, port := newTestDevice(t, []byte("OK\r"), []byte("OK\r"))

	if err := d.CommandModeEnter(); err != nil {
		t.Fatalf("enter command mode: %v", err)
	}
	if _, err := d.RawCommand("NI", []byte("ROOM-B"), 1); err != nil {
		t.Fatalf("raw command with parameter: %v", err)
	}

	last := port.writes[len(port.writes)-1]
	if !bytes.Equal(last, []byte("ATNIROOM-B\r")) {
		t.Fatalf("unexpected line command bytes: %q", last)
	}
}
