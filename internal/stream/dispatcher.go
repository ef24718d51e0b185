// Package stream pushes bucket updates to subscribers over server-sent
// events. Each connection runs its own poll loop against the bucket
// store; the dispatcher enforces the per-IP connection cap and the idle
// policy.
package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/user/newspulse/internal/types"
)

type Config struct {
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	IdleTimeout       time.Duration
	MaxPerIP          int
	BatchLimit        int
}

// Dispatcher owns connection accounting and the per-connection event
// loops.
type Dispatcher struct {
	buckets types.BucketStore
	cfg     Config
	Now     func() time.Time

	mu    sync.Mutex
	perIP map[string]int
}

func New(buckets types.BucketStore, cfg Config) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if cfg.MaxPerIP <= 0 {
		cfg.MaxPerIP = 2
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 100
	}
	return &Dispatcher{
		buckets: buckets,
		cfg:     cfg,
		Now:     time.Now,
		perIP:   map[string]int{},
	}
}

// register claims a connection slot for ip. The returned release must be
// called exactly once.
func (d *Dispatcher) register(ip string) (func(), error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.perIP[ip] >= d.cfg.MaxPerIP {
		return nil, types.E(types.KindQuotaExhausted, "connection limit reached for %s", ip)
	}
	d.perIP[ip]++
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.perIP[ip]--
		if d.perIP[ip] <= 0 {
			delete(d.perIP, ip)
		}
	}, nil
}

// Connections reports the live connection count for an IP.
func (d *Dispatcher) Connections(ip string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.perIP[ip]
}

// Stream runs one subscriber's event loop until the context ends, the
// subscriber stays idle past the timeout, or emit fails (a closed client
// connection surfaces as an emit error). Events carry a sequence number
// that increases monotonically within the connection, heartbeats
// included, so clients can detect gaps after a reconnect.
func (d *Dispatcher) Stream(ctx context.Context, ip string, subjects []string, since time.Time, emit func(types.StreamEvent) error) error {
	release, err := d.register(ip)
	if err != nil {
		return err
	}
	defer release()
	return d.stream(ctx, ip, subjects, since, emit)
}

// stream is the event loop behind Stream for callers that already hold a
// registered slot.
func (d *Dispatcher) stream(ctx context.Context, ip string, subjects []string, since time.Time, emit func(types.StreamEvent) error) error {
	connID := types.NewConnectionID()
	slog.Info("stream connected", "connection_id", string(connID), "ip", ip, "subjects", len(subjects))
	defer slog.Info("stream disconnected", "connection_id", string(connID), "ip", ip)

	var seq int64
	cursor := since.UTC()
	lastData := d.Now().UTC()
	lastEmit := lastData

	poll := time.NewTicker(d.cfg.PollInterval)
	defer poll.Stop()
	heartbeat := time.NewTicker(d.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-poll.C:
			now := d.Now().UTC()
			changed, pollErr := d.buckets.ListChangedSince(ctx, subjects, cursor, d.cfg.BatchLimit)
			if pollErr != nil {
				slog.Warn("stream poll failed", "connection_id", string(connID), "error", pollErr)
				continue
			}
			for _, bucket := range changed {
				seq++
				event := types.StreamEvent{
					Type:    types.StreamEventData,
					Subject: bucket.Subject,
					Bucket:  bucket,
					Seq:     seq,
					At:      now,
				}
				if emitErr := emit(event); emitErr != nil {
					return emitErr
				}
				if bucket.UpdatedAt.After(cursor) {
					cursor = bucket.UpdatedAt
				}
			}
			if len(changed) > 0 {
				lastData = now
				lastEmit = now
			}
			if now.Sub(lastData) >= d.cfg.IdleTimeout {
				slog.Debug("stream idle, closing", "connection_id", string(connID))
				return nil
			}
		case <-heartbeat.C:
			now := d.Now().UTC()
			if now.Sub(lastEmit) < d.cfg.HeartbeatInterval {
				continue
			}
			seq++
			if emitErr := emit(types.StreamEvent{Type: types.StreamEventHeartbeat, Seq: seq, At: now}); emitErr != nil {
				return emitErr
			}
			lastEmit = now
		}
	}
}
