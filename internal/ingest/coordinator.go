// Package ingest orchestrates ingestion cycles and the self-healing sweep.
// One cycle polls every due source through the breaker/quota guard,
// deduplicates what came back, persists fresh items as pending, and hands
// their fingerprints to the fanout publisher in capped batches.
package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/newspulse/internal/dedup"
	"github.com/user/newspulse/internal/fanout"
	"github.com/user/newspulse/internal/guard"
	"github.com/user/newspulse/internal/retry"
	"github.com/user/newspulse/internal/source"
	"github.com/user/newspulse/internal/types"
)

type CoordinatorConfig struct {
	PoolSize     int64
	BatchSize    int
	CycleBudget  time.Duration
	FetchTimeout time.Duration
}

type Coordinator struct {
	sources  types.SourceConfigStore
	registry *source.Registry
	guard    *guard.Guard
	dedup    *dedup.Dedup
	items    types.ItemStore
	pub      fanout.Publisher
	retry    *retry.Policy
	cfg      CoordinatorConfig
	Now      func() time.Time
}

func NewCoordinator(
	sources types.SourceConfigStore,
	registry *source.Registry,
	g *guard.Guard,
	d *dedup.Dedup,
	items types.ItemStore,
	pub fanout.Publisher,
	cfg CoordinatorConfig,
) *Coordinator {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > fanout.MaxBatchSize {
		cfg.BatchSize = fanout.MaxBatchSize
	}
	if cfg.CycleBudget <= 0 {
		cfg.CycleBudget = 4 * time.Minute
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 20 * time.Second
	}
	return &Coordinator{
		sources:  sources,
		registry: registry,
		guard:    g,
		dedup:    d,
		items:    items,
		pub:      pub,
		retry:    retry.DefaultPolicy(),
		cfg:      cfg,
		Now:      time.Now,
	}
}

// RunCycle executes one ingestion pass. Sources are polled in parallel
// under a bounded pool; every per-source failure is isolated and logged.
// When the cycle budget runs out, unprocessed sources simply wait for the
// next cycle.
func (c *Coordinator) RunCycle(ctx context.Context) error {
	now := c.Now().UTC()
	cycleCtx, cancel := context.WithTimeout(ctx, c.cfg.CycleBudget)
	defer cancel()

	due, err := c.sources.ListDueSources(cycleCtx, now)
	if err != nil {
		return types.E(types.KindTransientIO, "list due sources", err)
	}
	if len(due) == 0 {
		slog.Debug("ingest cycle: no sources due")
		return nil
	}
	slog.Info("ingest cycle started", "due_sources", len(due))

	sem := semaphore.NewWeighted(c.cfg.PoolSize)
	var wg sync.WaitGroup
	launched := 0
	for _, cfg := range due {
		if err := sem.Acquire(cycleCtx, 1); err != nil {
			break
		}
		launched++
		wg.Add(1)
		go func(cfg *types.SourceConfig) {
			defer wg.Done()
			defer sem.Release(1)
			c.pollSource(cycleCtx, cfg)
		}(cfg)
	}
	wg.Wait()

	if launched < len(due) {
		slog.Warn("ingest cycle budget exhausted", "deferred_sources", len(due)-launched)
	}
	return nil
}

// pollSource fetches one source through the guard, admits new items, and
// publishes their fingerprints.
func (c *Coordinator) pollSource(ctx context.Context, cfg *types.SourceConfig) {
	var raw []types.RawItem
	res, err := c.guard.Call(ctx, cfg.SourceID, func(ctx context.Context) error {
		adapter, resolveErr := c.registry.Resolve(cfg.Kind)
		if resolveErr != nil {
			return types.E(types.KindPermanent, "resolve adapter", resolveErr)
		}
		fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
		defer cancel()
		items, fetchErr := adapter.Fetch(fetchCtx, cfg)
		raw = items
		return fetchErr
	})

	// Advance the poll schedule whatever happened, stretched by the
	// guard's throttle tier.
	now := c.Now().UTC()
	next := c.guard.NextPoll(now, cfg.PollInterval, res)
	if updateErr := c.sources.UpdateNextPoll(ctx, cfg.SourceID, next, now); updateErr != nil {
		slog.Error("update next poll", "source_id", string(cfg.SourceID), "error", updateErr)
	}

	if err != nil {
		switch types.KindOf(err) {
		case types.KindCircuitOpen:
			slog.Debug("source short-circuited", "source_id", string(cfg.SourceID))
		case types.KindQuotaExhausted:
			slog.Info("source over quota, polling suspended", "source_id", string(cfg.SourceID), "consumed", res.Consumed, "limit", res.Limit)
		default:
			slog.Error("poll source failed", "source_id", string(cfg.SourceID), "error", err)
		}
		return
	}

	admitted := c.admit(ctx, cfg.SourceID, raw)
	if len(admitted) == 0 {
		slog.Debug("no new items", "source_id", string(cfg.SourceID), "fetched", len(raw))
		return
	}

	c.publish(ctx, cfg.SourceID, admitted)
}

// admit fingerprints each raw item and persists the ones the dedup store
// has not seen.
func (c *Coordinator) admit(ctx context.Context, sourceID types.SourceID, raw []types.RawItem) []types.Fingerprint {
	var admitted []types.Fingerprint
	for _, item := range raw {
		fp := types.NewFingerprint(item.Headline, sourceID)
		ok, err := c.dedup.AdmitIfNew(ctx, fp)
		if err != nil {
			slog.Error("dedup admission failed", "source_id", string(sourceID), "fingerprint", string(fp), "error", err)
			continue
		}
		if !ok {
			continue
		}
		ingested := &types.IngestedItem{
			Fingerprint:   fp,
			SourceID:      sourceID,
			Subject:       item.Subject,
			Headline:      item.Headline,
			Body:          item.Body,
			ReceivedAt:    c.Now().UTC(),
			Status:        types.ItemPending,
			RawPayloadRef: item.URL,
		}
		if err := c.items.InsertPending(ctx, ingested); err != nil {
			slog.Error("persist pending item", "fingerprint", string(fp), "error", err)
			continue
		}
		admitted = append(admitted, fp)
	}
	return admitted
}

// publish hands admitted fingerprints to the fanout stage in capped
// batches, retrying each batch with bounded backoff. A batch that still
// fails stays pending and is the sweeper's problem.
func (c *Coordinator) publish(ctx context.Context, sourceID types.SourceID, fps []types.Fingerprint) {
	for _, batch := range fanout.Batches(fps, c.cfg.BatchSize) {
		batch := batch
		err := c.retry.Execute(ctx, func(ctx context.Context) error {
			return c.pub.Publish(ctx, batch)
		})
		if err != nil {
			slog.Error("publish batch failed, leaving items for sweeper",
				"source_id", string(sourceID), "batch_size", len(batch), "error", err)
			continue
		}
	}
	slog.Info("items published", "source_id", string(sourceID), "count", len(fps))
}
