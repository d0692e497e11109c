package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/meshkit/digimesh/internal/api"
	"github.com/meshkit/digimesh/internal/bus"
	"github.com/meshkit/digimesh/internal/config"
	"github.com/meshkit/digimesh/internal/device"
	"github.com/meshkit/digimesh/internal/domain"
	"github.com/meshkit/digimesh/internal/events"
	"github.com/meshkit/digimesh/internal/logging"
	"github.com/meshkit/digimesh/internal/persistence"
	"github.com/meshkit/digimesh/internal/transport"
)

const maxHexPreviewLen = 64

func main() {
	if err := run(); err != nil {
		slog.Error("run digimeshctl", "error", err)
		os.Exit(1)
	}
}

func run() error {
	portName := flag.String("port", "", "serial port, e.g. /dev/ttyUSB0 (overrides config)")
	baud := flag.Int("baud", 0, "serial baud rate (overrides config)")
	atCmd := flag.String("at", "", "two-letter AT register to query after startup, e.g. ID")
	sendTo := flag.String("send-to", "", "destination address for -send-text, e.g. !0013a20041abcdef or broadcast")
	sendText := flag.String("send-text", "", "payload to transmit to -send-to")
	discover := flag.Bool("discover", false, "run network discovery and persist the peer table")
	window := flag.Duration("window", 0, "discovery window override, e.g. 30s")
	rawCmd := flag.String("raw", "", "AT command to issue in command mode, e.g. NI or NIROOM-B")
	clearDB := flag.Bool("clear-db", false, "wipe the peer database and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	configFile, logFile, dbFile, err := config.DefaultPaths()
	if err != nil {
		return fmt.Errorf("resolve paths: %w", err)
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if strings.TrimSpace(*portName) != "" {
		cfg.Connection.SerialPort = strings.TrimSpace(*portName)
	}
	if *baud > 0 {
		cfg.Connection.SerialBaud = *baud
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w (set --port or save the connection in %s)", err, configFile)
	}
	if !filepath.IsAbs(cfg.Device.DatabaseFile) {
		dbFile = filepath.Join(filepath.Dir(configFile), cfg.Device.DatabaseFile)
	} else {
		dbFile = cfg.Device.DatabaseFile
	}

	logMgr := logging.NewManager()
	if err := logMgr.Configure(cfg.Logging, logFile); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer func() {
		if closeErr := logMgr.Close(); closeErr != nil {
			slog.Warn("close log manager", "error", closeErr)
		}
	}()
	logger := logMgr.Logger("cli")

	db, err := persistence.Open(ctx, dbFile)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.Warn("close sqlite", "error", closeErr)
		}
	}()

	if *clearDB {
		if err := persistence.ClearDatabase(ctx, db); err != nil {
			return fmt.Errorf("clear database: %w", err)
		}
		logger.Info("peer database cleared", "path", dbFile)

		return nil
	}

	peerRepo := persistence.NewPeerRepo(db)

	b := bus.New(logMgr.Logger("bus"))
	defer b.Close()
	watchRawFrames(ctx, b, logMgr.Logger("wire"))

	port := transport.NewSerialPort(cfg.Connection.SerialPort, cfg.Connection.SerialBaud)
	if err := port.Connect(ctx); err != nil {
		return fmt.Errorf("open serial port: %w", err)
	}
	defer func() {
		if closeErr := port.Close(); closeErr != nil {
			logger.Warn("close serial port", "error", closeErr)
		}
	}()
	if err := port.SetReadTimeout(cfg.Device.AmbientTimeout()); err != nil {
		return fmt.Errorf("set ambient read timeout: %w", err)
	}

	dev, err := device.New(port, device.Options{
		GuardInterval: cfg.Device.GuardInterval(),
		Logger:        logMgr.Logger("device"),
		Bus:           b,
	})
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}

	id := dev.Identity()
	logger.Info("module identity",
		"addr", domain.FormatAddr(id.Addr),
		"node_id", id.NodeID,
		"firmware", fmt.Sprintf("0x%04x", id.FirmwareVersion),
		"hardware", fmt.Sprintf("0x%04x", id.HardwareVersion))

	if *atCmd != "" {
		if err := queryRegister(dev, logger, *atCmd); err != nil {
			return err
		}
	}

	if *sendText != "" {
		if err := transmitText(dev, logger, *sendTo, *sendText); err != nil {
			return err
		}
	}

	if *rawCmd != "" {
		if err := lineCommand(dev, logger, cfg.Device.GuardInterval(), *rawCmd); err != nil {
			return err
		}
	}

	if *discover {
		w := cfg.Device.DiscoveryWindow()
		if *window > 0 {
			w = *window
		}
		if err := runDiscovery(ctx, dev, peerRepo, logger, w); err != nil {
			return err
		}
	}

	return nil
}

func queryRegister(dev *device.Device, logger *slog.Logger, cmd string) error {
	reply, err := dev.Send(api.AtCommand{Cmd: strings.ToUpper(cmd)})
	if err != nil {
		return fmt.Errorf("query %s: %w", cmd, err)
	}
	if reply.At == nil {
		return fmt.Errorf("query %s: no response within the reply window", cmd)
	}
	logger.Info("register value",
		"cmd", reply.At.Cmd,
		"status", reply.At.Status,
		"data", hex.EncodeToString(reply.At.Data))

	return nil
}

func transmitText(dev *device.Device, logger *slog.Logger, dest, text string) error {
	addr := api.BroadcastAddr
	if dest != "" && dest != "broadcast" {
		parsed, err := domain.ParseAddr(dest)
		if err != nil {
			return fmt.Errorf("parse destination: %w", err)
		}
		addr = parsed
	}

	reply, err := dev.Send(api.TransmitRequest{DestAddr: addr, Payload: []byte(text)})
	if err != nil {
		return fmt.Errorf("transmit to %s: %w", domain.FormatAddr(addr), err)
	}
	if reply.Status == nil {
		return fmt.Errorf("transmit to %s: no delivery status", domain.FormatAddr(addr))
	}
	logger.Info("delivery status",
		"dest", domain.FormatAddr(addr),
		"deliver", reply.Status.DeliverStatus,
		"retries", reply.Status.RetryCount,
		"discovery", reply.Status.DiscoveryStatus)

	return nil
}

func lineCommand(dev *device.Device, logger *slog.Logger, guard time.Duration, raw string) error {
	cmd := strings.ToUpper(raw[:min(2, len(raw))])
	var param []byte
	if len(raw) > 2 {
		param = []byte(raw[2:])
	}

	logger.Info("entering command mode", "guard", guard)
	if err := dev.CommandModeEnter(); err != nil {
		return fmt.Errorf("enter command mode: %w", err)
	}
	defer func() {
		if err := dev.CommandModeExit(); err != nil {
			logger.Warn("exit command mode", "error", err)
		}
	}()

	rx, err := dev.RawCommand(cmd, param, 1)
	if err != nil {
		return fmt.Errorf("command %s: %w", cmd, err)
	}
	logger.Info("command response", "cmd", cmd, "response", strings.TrimRight(string(rx), "\r"))

	return nil
}

func runDiscovery(ctx context.Context, dev *device.Device, repo *persistence.PeerRepo, logger *slog.Logger, window time.Duration) error {
	logger.Info("discovery started", "window", window)
	peers, err := dev.Discover(window)
	if err != nil {
		return fmt.Errorf("discover: %w", err)
	}
	for _, p := range peers {
		logger.Info("peer", "addr", domain.FormatAddr(p.Addr), "node_id", p.NodeID)
	}
	if err := repo.ReplaceAll(ctx, peers); err != nil {
		return fmt.Errorf("persist peers: %w", err)
	}
	logger.Info("discovery finished", "peers", len(peers))

	return nil
}

// watchRawFrames mirrors wire traffic from the bus into the log until ctx
// ends.
func watchRawFrames(ctx context.Context, b bus.MessageBus, logger *slog.Logger) {
	inSub := b.Subscribe(events.TopicRawFrameIn)
	outSub := b.Subscribe(events.TopicRawFrameOut)

	go func() {
		defer b.Unsubscribe(inSub, events.TopicRawFrameIn)
		defer b.Unsubscribe(outSub, events.TopicRawFrameOut)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-inSub:
				if !ok {
					return
				}
				if frame, ok := raw.(events.RawFrame); ok {
					logger.Debug("raw in", "len", frame.Len, "hex", previewHex(frame.Hex))
				}
			case raw, ok := <-outSub:
				if !ok {
					return
				}
				if frame, ok := raw.(events.RawFrame); ok {
					logger.Debug("raw out", "len", frame.Len, "hex", previewHex(frame.Hex))
				}
			}
		}
	}()
}

func previewHex(h string) string {
	if len(h) > maxHexPreviewLen {
		return h[:maxHexPreviewLen] + "..."
	}

	return h
}
