package device

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/meshkit/digimesh/internal/api"
	"github.com/meshkit/digimesh/internal/domain"
	"github.com/meshkit/digimesh/internal/events"
)

// DefaultDiscoveryWindow is how long the transport listens for discovery
// replies when the caller does not supply a window.
const DefaultDiscoveryWindow = 15 * time.Second

// minPeerRecord covers the two status bytes plus the 64-bit address in a
// discovery reply's data segment; the node id follows.
const minPeerRecord = 10

// Discover broadcasts "ND" and collects replies until the transport goes
// quiet, holding the supplied window (or the default) as read timeout for
// the whole run and restoring the prior timeout unconditionally. A
// successful run replaces the session's peer set. Zero collected replies
// fail with ErrDiscovery.
func (d *Device) Discover(window time.Duration) ([]domain.RemotePeer, error) {
	encoded, err := (api.AtCommand{Cmd: "ND"}).Encode()
	if err != nil {
		return nil, fmt.Errorf("encode discovery command: %w", err)
	}
	if _, err := d.port.Write(encoded); err != nil {
		return nil, fmt.Errorf("write discovery command: %w", err)
	}
	d.publishRaw(events.TopicRawFrameOut, encoded)

	if window <= 0 {
		window = DefaultDiscoveryWindow
	}
	prev := d.port.ReadTimeout()
	if err := d.port.SetReadTimeout(window); err != nil {
		return nil, fmt.Errorf("set discovery timeout: %w", err)
	}
	defer func() {
		_ = d.port.SetReadTimeout(prev)
	}()

	port, err := d.port.Clone()
	if err != nil {
		return nil, fmt.Errorf("clone port: %w", err)
	}

	started := time.Now()
	var responses []*api.AtCommandResponse
	for {
		raw, err := drain(port)
		if err != nil {
			d.logger.Debug("discovery window closed", "reason", err)
			break
		}
		reply, err := api.Decode(raw, api.KindAtCommandResponse)
		if err != nil {
			// A failed decode of the accumulated buffer is the window-closed
			// signal: the modem stopped answering.
			d.logger.Debug("discovery window closed", "reason", err)
			break
		}
		d.publishRaw(events.TopicRawFrameIn, raw)
		responses = append(responses, reply.At)
	}

	if len(responses) == 0 {
		return nil, fmt.Errorf("network discovery: %w", ErrDiscovery)
	}

	now := time.Now()
	peers := make([]domain.RemotePeer, 0, len(responses))
	for _, resp := range responses {
		peer, ok := parsePeer(resp.Data, now)
		if !ok {
			d.logger.Warn("discarding malformed discovery reply", "data_len", len(resp.Data))
			continue
		}
		peers = append(peers, peer)
		d.publish(events.TopicPeerDiscovered, events.PeerDiscovered{Peer: peer})
	}

	d.peers = peers
	d.publish(events.TopicDiscoveryDone, events.DiscoveryDone{
		Peers:    len(peers),
		Window:   window,
		Finished: now,
	})
	d.logger.Info("discovery finished", "peers", len(peers), "window", window, "took", now.Sub(started))

	return peers, nil
}

// Peers returns a copy of the peer set produced by the last successful
// discovery run.
func (d *Device) Peers() []domain.RemotePeer {
	return append([]domain.RemotePeer(nil), d.peers...)
}

// parsePeer reads one discovery reply data segment: two status bytes, the
// big-endian 64-bit address, then the node id up to the first zero byte or
// the end of the segment.
func parsePeer(data []byte, at time.Time) (domain.RemotePeer, bool) {
	if len(data) < minPeerRecord {
		return domain.RemotePeer{}, false
	}

	addr := binary.BigEndian.Uint64(data[2:10])

	name := data[10:]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}

	return domain.RemotePeer{
		Addr:         addr,
		NodeID:       string(name),
		DiscoveredAt: at,
	}, true
}
