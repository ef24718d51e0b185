package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/user/newspulse/internal/fanout"
	"github.com/user/newspulse/internal/retry"
	"github.com/user/newspulse/internal/types"
)

type SweeperConfig struct {
	StaleAfter time.Duration
	BatchSize  int
}

// Sweeper republishes items stuck in pending, recovering work whose
// fanout batch was lost between persistence and delivery. Consumers are
// idempotent, so re-delivering an item that was in fact analyzed is
// harmless.
type Sweeper struct {
	items types.ItemStore
	pub   fanout.Publisher
	retry *retry.Policy
	cfg   SweeperConfig
	Now   func() time.Time
}

func NewSweeper(items types.ItemStore, pub fanout.Publisher, cfg SweeperConfig) *Sweeper {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = time.Hour
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > fanout.MaxBatchSize {
		cfg.BatchSize = fanout.MaxBatchSize
	}
	return &Sweeper{
		items: items,
		pub:   pub,
		retry: retry.DefaultPolicy(),
		cfg:   cfg,
		Now:   time.Now,
	}
}

// Sweep republishes every pending item older than the staleness cutoff
// and returns how many it handed back to the fanout stage.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.Now().UTC().Add(-s.cfg.StaleAfter)
	stale, err := s.items.ListStalePending(ctx, cutoff, 0)
	if err != nil {
		return 0, types.E(types.KindTransientIO, "list stale pending", err)
	}
	if len(stale) == 0 {
		slog.Debug("sweep: nothing stale")
		return 0, nil
	}

	fps := make([]types.Fingerprint, 0, len(stale))
	for _, item := range stale {
		fps = append(fps, item.Fingerprint)
	}

	republished := 0
	for _, batch := range fanout.Batches(fps, s.cfg.BatchSize) {
		batch := batch
		err := s.retry.Execute(ctx, func(ctx context.Context) error {
			return s.pub.Publish(ctx, batch)
		})
		if err != nil {
			slog.Error("sweep republish failed", "batch_size", len(batch), "error", err)
			continue
		}
		republished += len(batch)
	}

	slog.Info("sweep finished", "stale", len(stale), "republished", republished)
	return republished, nil
}
