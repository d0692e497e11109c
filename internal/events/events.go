package events

import (
	"time"

	"github.com/meshkit/digimesh/internal/domain"
)

// ConnectionState describes the session lifecycle state.
type ConnectionState string

const (
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
)

// ConnectionStatus is a bus snapshot of the current session status.
type ConnectionStatus struct {
	State     ConnectionState
	Err       string
	PortName  string
	Timestamp time.Time
}

// RawFrame carries wire diagnostics for debug views and logs.
type RawFrame struct {
	Hex string
	Len int
}

// IdentityResolved is published once the session has cached the full
// identity of the attached module.
type IdentityResolved struct {
	Identity domain.Identity
	At       time.Time
}

// PeerDiscovered is published for each peer parsed out of a discovery run.
type PeerDiscovered struct {
	Peer domain.RemotePeer
}

// DiscoveryDone summarizes a completed discovery window.
type DiscoveryDone struct {
	Peers    int
	Window   time.Duration
	Finished time.Time
}
