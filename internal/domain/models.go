package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Identity is the resolved identity of the locally attached radio module.
type Identity struct {
	Addr            uint64
	NodeID          string
	FirmwareVersion uint16
	HardwareVersion uint16
}

// RemotePeer is a node that answered a network discovery broadcast.
// Immutable once created; owned by the discovery result set.
type RemotePeer struct {
	Addr         uint64
	NodeID       string
	DiscoveredAt time.Time
}

// FormatAddr renders a 64-bit radio address in the canonical "!<hex>" form.
func FormatAddr(addr uint64) string {
	return fmt.Sprintf("!%016x", addr)
}

// ParseAddr accepts the "!<hex>" canonical form, "0x"-prefixed hex, bare
// hex containing letters, or decimal.
func ParseAddr(raw string) (uint64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("address is empty")
	}
	if strings.HasPrefix(raw, "!") {
		return strconv.ParseUint(strings.TrimPrefix(raw, "!"), 16, 64)
	}
	if strings.HasPrefix(strings.ToLower(raw), "0x") {
		return strconv.ParseUint(raw, 0, 64)
	}
	if strings.IndexFunc(raw, func(r rune) bool {
		return (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
	}) >= 0 {
		return strconv.ParseUint(raw, 16, 64)
	}

	return strconv.ParseUint(raw, 10, 64)
}
