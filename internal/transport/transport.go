package transport

import (
	"errors"
	"time"
)

// Port is the blocking byte stream the protocol engine drives. The read
// timeout is mutable state owned by whoever holds the port: variable-length
// reads swap it in, drain until ErrTimeout, and restore it.
type Port interface {
	Write(p []byte) (int, error)
	// ReadExact fills p completely or fails. A read window elapsing with
	// nothing more arriving surfaces as ErrTimeout, distinguishable from
	// real I/O failures.
	ReadExact(p []byte) error
	ReadTimeout() time.Duration
	SetReadTimeout(d time.Duration) error
	// Clone yields an additional handle over the same channel, analogous
	// to duplicating the OS-level serial handle.
	Clone() (Port, error)
	Close() error
}

// ErrTimeout marks a read window that elapsed without data. Drain loops
// treat it as the end-of-message signal, never as a failure.
var ErrTimeout = errors.New("read timeout")

func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
