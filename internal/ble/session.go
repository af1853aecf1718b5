package ble

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SessionOptions configures a Session.
type SessionOptions struct {
	Peer           *Address      // connect here directly instead of scanning
	ConnectTimeout time.Duration // per attempt, scan excluded
	ReconnectMax   int           // max backoff between attempts, in seconds
}

// DefaultSessionOptions returns sensible defaults.
func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		ConnectTimeout: 10 * time.Second,
		ReconnectMax:   30,
	}
}

// Session drives a Central through scan, connect and discovery with blocking,
// context-aware calls. The Central's data callbacks are left to the caller.
type Session struct {
	central *Central
	opts    SessionOptions
	sleep   func(context.Context, time.Duration) error
}

// NewSession wraps c.
func NewSession(c *Central, opts SessionOptions) *Session {
	def := DefaultSessionOptions()
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = def.ReconnectMax
	}
	return &Session{central: c, opts: opts, sleep: sleepContext}
}

// Central returns the wrapped Central.
func (s *Session) Central() *Central { return s.central }

// Scan runs one scan and waits for it to end. It returns ErrNoDevice when
// the scan timed out without finding a peripheral.
func (s *Session) Scan(ctx context.Context) (*Device, error) {
	done := make(chan *Device, 1)
	if err := s.central.Scan(func(dev *Device) { done <- dev }); err != nil {
		return nil, err
	}

	select {
	case dev := <-done:
		if dev == nil {
			return nil, ErrNoDevice
		}
		return dev, nil
	case <-ctx.Done():
		if err := s.central.StopScan(); err != nil {
			slog.Warn("[BLE] failed to stop scan", "error", err)
		}
		return nil, ctx.Err()
	}
}

// Connect connects to addr, or to the last scanned device when addr is nil,
// and waits until the link characteristic has been discovered.
func (s *Session) Connect(ctx context.Context, addr *Address) error {
	done := make(chan error, 1)
	ok, err := s.central.Connect(addr, func(err error) { done <- err })
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoDevice
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if err := s.central.Disconnect(); err != nil {
			slog.Warn("[BLE] failed to cancel connect", "error", err)
		}
		return fmt.Errorf("ble: connect: %w", ctx.Err())
	}
}

// ScanAndConnect connects to the configured peer, or scans for one first
// when none is configured.
func (s *Session) ScanAndConnect(ctx context.Context) (*Device, error) {
	if s.opts.Peer != nil {
		addr := *s.opts.Peer
		if err := s.Connect(ctx, &addr); err != nil {
			return nil, err
		}
		return &Device{Address: addr}, nil
	}

	dev, err := s.Scan(ctx)
	if err != nil {
		return nil, err
	}
	addr := dev.Address
	if err := s.Connect(ctx, &addr); err != nil {
		return nil, err
	}
	return dev, nil
}

// ConnectWithRetry calls ScanAndConnect until it succeeds or ctx is done,
// backing off exponentially between attempts.
func (s *Session) ConnectWithRetry(ctx context.Context) (*Device, error) {
	for attempt := 0; ; attempt++ {
		// The first attempt runs immediately; later ones back off.
		if attempt > 0 {
			delay := backoffDelay(attempt-1, s.opts.ReconnectMax)
			slog.Info("[BLE] reconnect backoff", "attempt", attempt+1, "delay", delay)
			if err := s.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		dev, err := s.ScanAndConnect(ctx)
		if err == nil {
			return dev, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("[BLE] connect attempt failed", "error", err, "attempt", attempt+1)
	}
}

// maxBackoffShift keeps 1<<attempt seconds from overflowing time.Duration.
const maxBackoffShift = 30

// backoffDelay returns the reconnection delay for attempt n, capped at maxSeconds.
func backoffDelay(attempt int, maxSeconds int) time.Duration {
	max := time.Duration(maxSeconds) * time.Second
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxBackoffShift {
		return max
	}
	delay := time.Duration(1<<uint(attempt)) * time.Second
	if delay > max {
		return max
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
