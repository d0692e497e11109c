package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

// DefaultReadTimeout is the ambient read timeout a freshly connected port
// starts with. Callers awaiting a fixed-size reply (transmit status) block
// for up to this long.
const DefaultReadTimeout = 20 * time.Second

// SerialPort implements Port over a local serial device.
type SerialPort struct {
	portName string
	baudRate int

	mu          sync.Mutex
	port        serial.Port
	readTimeout time.Duration

	writeMu sync.Mutex
}

func NewSerialPort(portName string, baudRate int) *SerialPort {
	return &SerialPort{
		portName:    portName,
		baudRate:    baudRate,
		readTimeout: DefaultReadTimeout,
	}
}

func (t *SerialPort) PortName() string {
	return t.portName
}

func (t *SerialPort) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port != nil
}

func (t *SerialPort) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.portName == "" {
		return errors.New("serial port is empty")
	}
	if t.baudRate <= 0 {
		return fmt.Errorf("invalid serial baud rate: %d", t.baudRate)
	}

	port, err := serial.Open(t.portName, &serial.Mode{BaudRate: t.baudRate})
	if err != nil {
		return fmt.Errorf("open serial port %q: %w", t.portName, err)
	}
	if err := port.SetReadTimeout(t.readTimeout); err != nil {
		_ = port.Close()
		return fmt.Errorf("set serial read timeout: %w", err)
	}
	t.port = port

	return nil
}

func (t *SerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	return err
}

func (t *SerialPort) Write(p []byte) (int, error) {
	port, err := t.currentPort()
	if err != nil {
		return 0, err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	written := 0
	for written < len(p) {
		n, err := port.Write(p[written:])
		if err != nil {
			return written, fmt.Errorf("write serial: %w", err)
		}
		if n == 0 {
			continue
		}
		written += n
	}

	return written, nil
}

// ReadExact fills p completely. go.bug.st reports an expired read window as
// a zero-byte read with no error; that is translated to ErrTimeout here so
// drain loops can tell quiet apart from broken.
func (t *SerialPort) ReadExact(p []byte) error {
	port, err := t.currentPort()
	if err != nil {
		return err
	}

	filled := 0
	for filled < len(p) {
		n, err := port.Read(p[filled:])
		if err != nil {
			return fmt.Errorf("read serial: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("read serial: %d of %d bytes: %w", filled, len(p), ErrTimeout)
		}
		filled += n
	}

	return nil
}

func (t *SerialPort) ReadTimeout() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readTimeout
}

func (t *SerialPort) SetReadTimeout(d time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return errors.New("transport is not connected")
	}
	if err := t.port.SetReadTimeout(d); err != nil {
		return fmt.Errorf("set serial read timeout: %w", err)
	}
	t.readTimeout = d

	return nil
}

// Clone returns a second handle over the same device. The OS-level read
// cursor is shared, which matches serial semantics: every byte is delivered
// once, to whichever handle reads it.
func (t *SerialPort) Clone() (Port, error) {
	if _, err := t.currentPort(); err != nil {
		return nil, err
	}

	return t, nil
}

func (t *SerialPort) currentPort() (serial.Port, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil, errors.New("transport is not connected")
	}
	return t.port, nil
}
