package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chaz8081/beeplink/internal/ble"
	"github.com/chaz8081/beeplink/internal/ble/protocol"
	"github.com/chaz8081/beeplink/internal/config"
)

const (
	startReadAttempts = 5
	startReadTimeout  = time.Second
)

// game is the shared half of the beep test: a wandering player whose moves
// go to the peer, and handling of the peer's moves and acks.
type game struct {
	player protocol.Player
	sent   time.Time
	send   func([]byte) error
}

// move sends the next position with a random tone.
func (g *game) move() {
	g.player.Wander()
	m := g.player.Move(protocol.RandomTone())
	g.sent = time.Now()
	if err := g.send(m.Marshal()); err != nil {
		slog.Warn("[GAME] failed to send move", "error", err)
		return
	}
	slog.Info("[GAME] moved", "x", m.X, "y", m.Y, "tone_hz", protocol.ToneHz(m.Tone))
}

// receive handles one payload from the peer.
func (g *game) receive(v []byte) {
	msg, err := protocol.Parse(v)
	if err != nil {
		slog.Warn("[GAME] ignoring payload", "error", err)
		return
	}
	if msg.IsAck {
		if g.sent.IsZero() {
			return
		}
		rtt := time.Since(g.sent)
		slog.Info("[GAME] acknowledged", "tone_hz", protocol.ToneHz(msg.Tone), "full", rtt, "half", rtt/2)
		return
	}
	m := msg.Move
	slog.Info("[GAME] peer moved", "x", m.X, "y", m.Y, "tone_hz", protocol.ToneHz(m.Tone))
	if err := g.send(protocol.Ack(m.Tone)); err != nil {
		slog.Warn("[GAME] failed to acknowledge", "error", err)
	}
}

func runPeripheral(ctx context.Context, radio ble.PeripheralRadio, cfg *config.Config) error {
	p, err := ble.NewPeripheral(radio, ble.PeripheralOptions{
		Name:              cfg.Peripheral.Name,
		AdvertiseInterval: cfg.Peripheral.AdvertiseInterval,
		BufferSize:        cfg.Peripheral.BufferSize,
	})
	if err != nil {
		return err
	}

	received := ble.NewMailbox[[]byte]()
	p.SetWriteCallback(received.Put)
	p.SetReadCallback(func() []byte {
		p.SetReadCallback(nil)
		slog.Info("[GAME] start command read")
		return []byte(protocol.StartCommand)
	})
	// Host stacks that serve reads themselves never report them, so the
	// start command is also stored up front.
	if err := p.Notify([]byte(protocol.StartCommand)); err != nil {
		return fmt.Errorf("store start command: %w", err)
	}
	slog.Info("[GAME] advertising, waiting for a central", "name", cfg.Peripheral.Name)

	g := &game{send: p.Notify}
	ticker := time.NewTicker(cfg.Game.MoveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if p.IsConnected() {
				g.move()
			}
		case <-received.Ready():
			if v, ok := received.Take(); ok {
				g.receive(v)
			}
		}
	}
}

func runCentral(ctx context.Context, radio ble.CentralRadio, cfg *config.Config) error {
	c := ble.NewCentral(radio, ble.CentralOptions{Scan: ble.ScanParams{
		Duration: cfg.Central.ScanDuration,
		Interval: cfg.Central.ScanInterval,
		Window:   cfg.Central.ScanWindow,
	}})

	opts := ble.SessionOptions{
		ConnectTimeout: cfg.Central.ConnectTimeout,
		ReconnectMax:   cfg.Central.ReconnectMax,
	}
	if cfg.Central.PeerAddress != "" {
		addr, err := ble.ParseAddress(cfg.Central.PeerAddress)
		if err != nil {
			return err
		}
		opts.Peer = &addr
	}
	s := ble.NewSession(c, opts)

	received := ble.NewMailbox[[]byte]()
	c.SetNotifyCallback(received.Put)
	c.SetIndicateCallback(received.Put)

	for {
		dev, err := s.ConnectWithRetry(ctx)
		if err != nil {
			return err
		}
		slog.Info("[GAME] connected", "name", dev.Name, "addr", dev.Address)

		if err := waitForStart(ctx, c); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("[GAME] no start command, reconnecting", "error", err)
			_ = c.Disconnect()
			continue
		}

		received.Take() // drop anything left from a previous link
		if err := play(ctx, c, received, cfg.Game.MoveInterval); err != nil {
			return err
		}
		slog.Warn("[GAME] peripheral disconnected, reconnecting")
	}
}

// waitForStart reads the characteristic until it holds the start command.
func waitForStart(ctx context.Context, c *ble.Central) error {
	values := ble.NewMailbox[[]byte]()
	c.SetReadCallback(values.Put)
	defer c.SetReadCallback(nil)

	for i := 0; i < startReadAttempts; i++ {
		if err := c.Read(); err != nil {
			return err
		}
		rctx, cancel := context.WithTimeout(ctx, startReadTimeout)
		v, err := values.Wait(rctx)
		cancel()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil && protocol.IsStart(v) {
			slog.Info("[GAME] start command received")
			return nil
		}
	}
	return errors.New("peripheral did not serve the start command")
}

// play runs the exchange until the link drops or ctx is done.
func play(ctx context.Context, c *ble.Central, received *ble.Mailbox[[]byte], interval time.Duration) error {
	g := &game{send: func(v []byte) error { return c.Write(v, false) }}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for c.IsConnected() {
		select {
		case <-ctx.Done():
			_ = c.Disconnect()
			return ctx.Err()
		case <-ticker.C:
			g.move()
		case <-received.Ready():
			if v, ok := received.Take(); ok {
				g.receive(v)
			}
		}
	}
	return nil
}
