package analysis

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/newspulse/internal/fanout"
	"github.com/user/newspulse/internal/retry"
	"github.com/user/newspulse/internal/types"
)

// Recorder is the aggregation stage the consumer feeds after a result is
// recorded for the first time.
type Recorder interface {
	Record(ctx context.Context, subject string, at time.Time, score float64) error
}

type ConsumerConfig struct {
	Workers int64
}

// Consumer drains the fanout stage through a bounded worker pool. Every
// step is idempotent, so redelivered fingerprints (sweeper republishes,
// at-least-once transport) converge to the same state.
type Consumer struct {
	items    types.ItemStore
	results  types.ResultStore
	scorer   types.Scorer
	recorder Recorder
	notifier types.Notifier
	retry    *retry.Policy
	sem      *semaphore.Weighted
	wg       sync.WaitGroup
}

func NewConsumer(
	items types.ItemStore,
	results types.ResultStore,
	scorer types.Scorer,
	recorder Recorder,
	notifier types.Notifier,
	cfg ConsumerConfig,
) *Consumer {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Consumer{
		items:    items,
		results:  results,
		scorer:   scorer,
		recorder: recorder,
		notifier: notifier,
		retry:    retry.DefaultPolicy(),
		sem:      semaphore.NewWeighted(cfg.Workers),
	}
}

// Run drains src until the context is canceled. Each delivered
// fingerprint is processed on a pool worker; the pool size bounds
// concurrent scoring calls.
func (c *Consumer) Run(ctx context.Context, src fanout.Consumer) error {
	err := src.Consume(ctx, func(ctx context.Context, fp types.Fingerprint) {
		if acquireErr := c.sem.Acquire(ctx, 1); acquireErr != nil {
			return
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			defer c.sem.Release(1)
			c.Process(ctx, fp)
		}()
	})
	c.wg.Wait()
	return err
}

// Process runs the full analysis path for one fingerprint. Safe to call
// any number of times for the same fingerprint.
func (c *Consumer) Process(ctx context.Context, fp types.Fingerprint) {
	item, err := c.items.GetItem(ctx, fp)
	if err != nil {
		slog.Warn("analysis: load item for delivered fingerprint", "fingerprint", string(fp), "error", err)
		return
	}
	if item == nil {
		// Redelivered fingerprint whose item already aged out of the store.
		slog.Debug("analysis: no item for delivered fingerprint", "fingerprint", string(fp))
		return
	}
	if item.Status == types.ItemAnalyzed {
		slog.Debug("analysis: item already analyzed", "fingerprint", string(fp))
		return
	}

	var score *types.ScoreResult
	scoreErr := c.retry.Execute(ctx, func(ctx context.Context) error {
		var callErr error
		score, callErr = c.scorer.Score(ctx, scoringInput(item))
		return callErr
	})
	if scoreErr != nil {
		if types.IsKind(scoreErr, types.KindPermanent) || types.IsKind(scoreErr, types.KindDataIntegrity) {
			c.markFailed(ctx, item, scoreErr)
		} else {
			// Transient after retries: leave pending for the sweeper.
			slog.Error("analysis: scoring failed, item stays pending", "fingerprint", string(fp), "error", scoreErr)
		}
		return
	}

	result := &types.AnalysisResult{
		Fingerprint:  fp,
		Subject:      item.Subject,
		Sentiment:    score.Sentiment,
		Score:        score.Score,
		ModelVersion: score.ModelVersion,
		ScoredAt:     time.Now().UTC(),
	}
	inserted, err := c.results.InsertResultIfAbsent(ctx, result)
	if err != nil {
		slog.Error("analysis: persist result", "fingerprint", string(fp), "error", err)
		return
	}

	// Only the worker whose insert landed feeds aggregation; losers of
	// the race would double-count the score.
	if inserted {
		if recErr := c.recorder.Record(ctx, item.Subject, item.ReceivedAt, score.Score); recErr != nil {
			slog.Error("analysis: aggregation incomplete", "fingerprint", string(fp), "error", recErr)
			c.notify(ctx, types.NotifyEvent{
				Kind:    "aggregation_incomplete",
				Subject: item.Subject,
				Message: recErr.Error(),
				At:      time.Now().UTC(),
			})
		}
	}

	if _, err := c.items.TransitionStatus(ctx, fp, types.ItemPending, types.ItemAnalyzed); err != nil {
		slog.Error("analysis: mark analyzed", "fingerprint", string(fp), "error", err)
	}
}

func (c *Consumer) markFailed(ctx context.Context, item *types.IngestedItem, cause error) {
	slog.Error("analysis: permanent scoring failure", "fingerprint", string(item.Fingerprint), "error", cause)
	if _, err := c.items.TransitionStatus(ctx, item.Fingerprint, types.ItemPending, types.ItemFailed); err != nil {
		slog.Error("analysis: mark failed", "fingerprint", string(item.Fingerprint), "error", err)
	}
	c.notify(ctx, types.NotifyEvent{
		Kind:    "analysis_failed",
		Subject: item.Subject,
		Message: cause.Error(),
		At:      time.Now().UTC(),
	})
}

func (c *Consumer) notify(ctx context.Context, event types.NotifyEvent) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Publish(ctx, event); err != nil {
		slog.Warn("analysis: notification dropped", "kind", event.Kind, "error", err)
	}
}

// scoringInput joins headline and body; the scorer handles token
// truncation.
func scoringInput(item *types.IngestedItem) string {
	if item.Body == "" {
		return item.Headline
	}
	return strings.TrimSpace(item.Headline + "\n\n" + item.Body)
}
