package device

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/meshkit/digimesh/internal/api"
	"github.com/meshkit/digimesh/internal/bus"
	"github.com/meshkit/digimesh/internal/domain"
	"github.com/meshkit/digimesh/internal/events"
	"github.com/meshkit/digimesh/internal/transport"
)

var (
	// ErrDecode reports an identity reply payload that is absent or the
	// wrong width for the expected type.
	ErrDecode = errors.New("identity payload decode failed")
	// ErrInvalidMode reports a line-mode command issued outside command mode.
	ErrInvalidMode = errors.New("not in command mode")
	// ErrDiscovery reports a discovery window that closed with no replies.
	ErrDiscovery = errors.New("discovery collected no replies")
)

const (
	// DefaultGuardInterval is the silence the firmware requires around the
	// escape sequence before it switches to command mode.
	DefaultGuardInterval = time.Second

	escapeSequence = "+++"
	carriageReturn = 0x0D
)

// Options tunes a session. The zero value is usable: default guard
// interval, default logger, no bus.
type Options struct {
	// GuardInterval overrides the command-mode guard wait.
	GuardInterval time.Duration
	Logger        *slog.Logger
	// Bus, when set, receives raw-frame diagnostics and identity/discovery
	// events.
	Bus bus.MessageBus
}

// Device is a synchronous session with one radio module over an
// exclusively-owned transport. It must not be shared between goroutines
// without external exclusion: the port's read timeout and cursor are
// mutated sequentially inside each call, and replies are not correlated by
// frame id, so interleaved calls would silently cross-match replies.
type Device struct {
	port   transport.Port
	logger *slog.Logger
	bus    bus.MessageBus
	guard  time.Duration

	// identity cache; each field is resolved at most once for the lifetime
	// of the session.
	addr      *uint64
	nodeID    *string
	fwVersion *uint16
	hwVersion *uint16

	peers         []domain.RemotePeer
	inCommandMode bool
}

// New builds a session over an already-connected port and eagerly resolves
// the module's identity. Construction fails if any identity query fails.
func New(port transport.Port, opts Options) (*Device, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	guard := opts.GuardInterval
	if guard <= 0 {
		guard = DefaultGuardInterval
	}

	d := &Device{
		port:   port,
		logger: logger,
		bus:    opts.Bus,
		guard:  guard,
	}

	if _, err := d.Address(); err != nil {
		return nil, fmt.Errorf("resolve address: %w", err)
	}
	if _, err := d.NodeID(); err != nil {
		return nil, fmt.Errorf("resolve node id: %w", err)
	}
	if _, err := d.HardwareVersion(); err != nil {
		return nil, fmt.Errorf("resolve hardware version: %w", err)
	}
	if _, err := d.FirmwareVersion(); err != nil {
		return nil, fmt.Errorf("resolve firmware version: %w", err)
	}

	identity := d.Identity()
	d.publish(events.TopicIdentityResolved, events.IdentityResolved{Identity: identity, At: time.Now()})
	d.logger.Info("session ready",
		"addr", domain.FormatAddr(identity.Addr),
		"node_id", identity.NodeID,
		"firmware", fmt.Sprintf("0x%04x", identity.FirmwareVersion),
		"hardware", fmt.Sprintf("0x%04x", identity.HardwareVersion),
	)

	return d, nil
}

// Identity returns the cached identity snapshot.
func (d *Device) Identity() domain.Identity {
	var id domain.Identity
	if d.addr != nil {
		id.Addr = *d.addr
	}
	if d.nodeID != nil {
		id.NodeID = *d.nodeID
	}
	if d.fwVersion != nil {
		id.FirmwareVersion = *d.fwVersion
	}
	if d.hwVersion != nil {
		id.HardwareVersion = *d.hwVersion
	}

	return id
}

// Send writes one encoded frame and blocks for its reply, holding the
// registry's reply timeout for the duration and restoring the prior one on
// every exit path. The frame id in the reply is not validated against the
// request; the protocol is used strictly one request at a time.
func (d *Device) Send(f api.Frame) (api.Reply, error) {
	encoded, err := f.Encode()
	if err != nil {
		return api.Reply{}, err
	}
	if _, err := d.port.Write(encoded); err != nil {
		return api.Reply{}, fmt.Errorf("write %s frame: %w", f.Kind(), err)
	}
	d.publishRaw(events.TopicRawFrameOut, encoded)

	spec := api.ReplyFor(f.Kind())
	if spec.Kind == api.KindNull {
		return api.Decode(nil, api.KindNull)
	}

	raw, err := d.readReply(spec)
	if err != nil {
		return api.Reply{}, err
	}
	d.publishRaw(events.TopicRawFrameIn, raw)

	return api.Decode(raw, spec.Kind)
}

func (d *Device) readReply(spec api.ReplySpec) ([]byte, error) {
	if spec.Timeout > 0 {
		prev := d.port.ReadTimeout()
		if err := d.port.SetReadTimeout(spec.Timeout); err != nil {
			return nil, fmt.Errorf("set reply timeout: %w", err)
		}
		defer func() {
			_ = d.port.SetReadTimeout(prev)
		}()
	}

	port, err := d.port.Clone()
	if err != nil {
		return nil, fmt.Errorf("clone port: %w", err)
	}

	if spec.FixedLen > 0 {
		buf := make([]byte, spec.FixedLen)
		if err := port.ReadExact(buf); err != nil {
			return nil, fmt.Errorf("read %s reply: %w", spec.Kind, err)
		}
		return buf, nil
	}

	return drain(port)
}

// drain accumulates single bytes until the read window goes quiet. The
// timeout is the expected terminator of a variable-length reply, never an
// error; anything else propagates.
func drain(port transport.Port) ([]byte, error) {
	var buf []byte
	one := make([]byte, 1)
	for {
		if err := port.ReadExact(one); err != nil {
			if transport.IsTimeout(err) {
				return buf, nil
			}
			return nil, fmt.Errorf("read reply byte: %w", err)
		}
		buf = append(buf, one[0])
	}
}

// Address resolves the 64-bit module address from the cached value or the
// combined "SH"/"SL" register pair.
func (d *Device) Address() (uint64, error) {
	if d.addr != nil {
		return *d.addr, nil
	}

	upper, err := d.atQueryUint32("SH")
	if err != nil {
		return 0, err
	}
	lower, err := d.atQueryUint32("SL")
	if err != nil {
		return 0, err
	}

	addr := uint64(upper)<<32 | uint64(lower)
	d.addr = &addr

	return addr, nil
}

// NodeID resolves the user-assigned node identifier ("NI").
func (d *Device) NodeID() (string, error) {
	if d.nodeID != nil {
		return *d.nodeID, nil
	}

	data, err := d.atQuery("NI")
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("at NI: reply is not valid utf-8: %w", ErrDecode)
	}

	nodeID := string(data)
	d.nodeID = &nodeID

	return nodeID, nil
}

// FirmwareVersion resolves the firmware version register ("VR").
func (d *Device) FirmwareVersion() (uint16, error) {
	if d.fwVersion != nil {
		return *d.fwVersion, nil
	}

	v, err := d.atQueryUint16("VR")
	if err != nil {
		return 0, err
	}
	d.fwVersion = &v

	return v, nil
}

// HardwareVersion resolves the hardware version register ("HV").
func (d *Device) HardwareVersion() (uint16, error) {
	if d.hwVersion != nil {
		return *d.hwVersion, nil
	}

	v, err := d.atQueryUint16("HV")
	if err != nil {
		return 0, err
	}
	d.hwVersion = &v

	return v, nil
}

func (d *Device) atQuery(cmd string) ([]byte, error) {
	reply, err := d.Send(api.AtCommand{Cmd: cmd})
	if err != nil {
		return nil, fmt.Errorf("at %s: %w", cmd, err)
	}
	at := reply.At
	if at == nil {
		return nil, fmt.Errorf("at %s: reply is not an at response: %w", cmd, api.ErrFrame)
	}
	if at.Status != 0 {
		d.logger.Warn("at command status", "cmd", cmd, "status", at.Status)
	}
	if at.Data == nil {
		return nil, fmt.Errorf("at %s: reply carries no data: %w", cmd, ErrDecode)
	}

	return at.Data, nil
}

func (d *Device) atQueryUint32(cmd string) (uint32, error) {
	data, err := d.atQuery(cmd)
	if err != nil {
		return 0, err
	}
	if len(data) != 4 {
		return 0, fmt.Errorf("at %s: expected 4-byte value, got %d: %w", cmd, len(data), ErrDecode)
	}

	return binary.BigEndian.Uint32(data), nil
}

func (d *Device) atQueryUint16(cmd string) (uint16, error) {
	data, err := d.atQuery(cmd)
	if err != nil {
		return 0, err
	}
	if len(data) != 2 {
		return 0, fmt.Errorf("at %s: expected 2-byte value, got %d: %w", cmd, len(data), ErrDecode)
	}

	return binary.BigEndian.Uint16(data), nil
}

// CommandModeEnter drops the modem into legacy line mode: guard silence,
// the literal escape sequence with no AT prefix, guard silence again. Some
// configuration registers are only reachable this way.
func (d *Device) CommandModeEnter() error {
	time.Sleep(d.guard)
	if _, err := d.RawCommand(escapeSequence, nil, 1); err != nil {
		return fmt.Errorf("enter command mode: %w", err)
	}
	time.Sleep(d.guard)
	d.inCommandMode = true
	d.logger.Debug("entered command mode")

	return nil
}

// CommandModeExit returns the modem to API mode via "CN".
func (d *Device) CommandModeExit() error {
	if _, err := d.RawCommand("CN", nil, 1); err != nil {
		return fmt.Errorf("exit command mode: %w", err)
	}
	d.inCommandMode = false
	d.logger.Debug("exited command mode")

	return nil
}

// RawCommand writes a line-mode command ("AT"+cmd+param+CR, or the bare
// escape sequence) and reads single bytes until crCount carriage returns
// have been seen or the line goes quiet. Commands other than the escape
// sequence require command mode to have been entered first.
func (d *Device) RawCommand(cmd string, param []byte, crCount int) ([]byte, error) {
	if cmd != escapeSequence && !d.inCommandMode {
		return nil, fmt.Errorf("at %s: %w", cmd, ErrInvalidMode)
	}

	var tx []byte
	if cmd == escapeSequence {
		tx = []byte(cmd)
	} else {
		tx = append(tx, "AT"...)
		tx = append(tx, cmd...)
		tx = append(tx, param...)
		tx = append(tx, carriageReturn)
	}

	if _, err := d.port.Write(tx); err != nil {
		return nil, fmt.Errorf("write line command %q: %w", cmd, err)
	}
	d.publishRaw(events.TopicRawFrameOut, tx)

	var rx []byte
	one := make([]byte, 1)
	seen := 0
	for seen < crCount {
		if err := d.port.ReadExact(one); err != nil {
			if transport.IsTimeout(err) {
				break
			}
			return nil, fmt.Errorf("read line reply: %w", err)
		}
		rx = append(rx, one[0])
		if one[0] == carriageReturn {
			seen++
		}
	}

	if len(rx) == 0 {
		return nil, fmt.Errorf("line command %q: no reply bytes read", cmd)
	}
	d.publishRaw(events.TopicRawFrameIn, rx)

	return rx, nil
}

func (d *Device) publish(topic string, msg any) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(topic, msg)
}

func (d *Device) publishRaw(topic string, raw []byte) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(topic, events.RawFrame{
		Hex: strings.ToUpper(hex.EncodeToString(raw)),
		Len: len(raw),
	})
}
