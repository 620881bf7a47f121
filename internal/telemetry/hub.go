package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/skynet-gcs/gcsbridge/internal/session"
)

// Broadcast defaults.
const (
	DefaultBroadcastInterval = 100 * time.Millisecond
	DefaultSendTimeout       = 50 * time.Millisecond
)

// BroadcastConfig configures the broadcaster.
type BroadcastConfig struct {
	Interval    time.Duration
	SendTimeout time.Duration
}

// Stats are cumulative broadcaster counters.
type Stats struct {
	Ticks      uint64 `json:"ticks"`
	Broadcasts uint64 `json:"broadcasts"`
	Deliveries uint64 `json:"deliveries"`
	Bytes      uint64 `json:"bytes"`
	Drops      uint64 `json:"drops"`
}

// Broadcaster pushes the current snapshot to every registered session on a
// fixed tick.
//
// A tick with no sessions does no work. Otherwise the snapshot is read and
// encoded once and sent to every session concurrently, each send bounded by
// SendTimeout. A session whose send fails or times out is removed from the
// registry and closed; the others are unaffected. Since SendTimeout is
// shorter than Interval, a slow session never pushes back the next tick.
type Broadcaster struct {
	store    *Store
	registry *session.Registry
	cfg      BroadcastConfig
	logger   *slog.Logger

	ticks      atomic.Uint64
	broadcasts atomic.Uint64
	deliveries atomic.Uint64
	bytes      atomic.Uint64
	drops      atomic.Uint64
}

// NewBroadcaster creates a broadcaster over store and registry.
func NewBroadcaster(store *Store, registry *session.Registry, cfg BroadcastConfig, logger *slog.Logger) *Broadcaster {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultBroadcastInterval
	}
	if cfg.SendTimeout <= 0 || cfg.SendTimeout >= cfg.Interval {
		cfg.SendTimeout = cfg.Interval / 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		store:    store,
		registry: registry,
		cfg:      cfg,
		logger:   logger.With("component", "broadcaster"),
	}
}

// Run broadcasts on every tick until ctx is cancelled.
func (b *Broadcaster) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	b.logger.Info("Broadcaster started", "interval", b.cfg.Interval, "send_timeout", b.cfg.SendTimeout)

	for {
		select {
		case <-ctx.Done():
			s := b.Stats()
			b.logger.Info("Broadcaster stopped",
				"ticks", humanize.Comma(int64(s.Ticks)),
				"deliveries", humanize.Comma(int64(s.Deliveries)),
				"sent", humanize.Bytes(s.Bytes),
				"drops", s.Drops)
			return nil
		case <-ticker.C:
			b.ticks.Add(1)
			b.Broadcast(ctx)
		}
	}
}

// Broadcast delivers the current snapshot to every session once and
// returns the number of successful deliveries.
func (b *Broadcaster) Broadcast(ctx context.Context) int {
	sessions := b.registry.List()
	if len(sessions) == 0 {
		return 0
	}

	msg, err := json.Marshal(b.store.Read())
	if err != nil {
		b.logger.Error("Failed to encode snapshot", "error", err)
		return 0
	}
	b.broadcasts.Add(1)

	var (
		wg        sync.WaitGroup
		delivered atomic.Int64
	)
	for _, s := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.send(ctx, s, msg) {
				delivered.Add(1)
			}
		}()
	}
	wg.Wait()

	return int(delivered.Load())
}

func (b *Broadcaster) send(ctx context.Context, s session.Session, msg []byte) bool {
	sendCtx, cancel := context.WithTimeout(ctx, b.cfg.SendTimeout)
	defer cancel()

	if err := s.Send(sendCtx, msg); err != nil {
		if ctx.Err() != nil {
			// Shutting down; the session is not at fault.
			return false
		}
		b.drops.Add(1)
		if b.registry.Remove(s.ID()) {
			b.logger.Warn("ClientTransportFailure", "session", s.ID(), "error", err)
		}
		_ = s.Close()
		return false
	}

	b.deliveries.Add(1)
	b.bytes.Add(uint64(len(msg)))
	return true
}

// Stats returns a copy of the broadcaster counters.
func (b *Broadcaster) Stats() Stats {
	return Stats{
		Ticks:      b.ticks.Load(),
		Broadcasts: b.broadcasts.Load(),
		Deliveries: b.deliveries.Load(),
		Bytes:      b.bytes.Load(),
		Drops:      b.drops.Load(),
	}
}

// Config returns the effective configuration.
func (b *Broadcaster) Config() BroadcastConfig {
	return b.cfg
}
