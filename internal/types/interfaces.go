// internal/types/interfaces.go
package types

import (
	"context"
	"time"
)

// DedupStore admits each fingerprint at most once. Implementations must use
// the backing store's own insert-if-absent primitive; concurrent callers on
// the same fingerprint see exactly one true.
type DedupStore interface {
	InsertFingerprintIfAbsent(ctx context.Context, fp Fingerprint) (bool, error)
}

// ItemStore persists ingested items. Status transitions are conditional so
// concurrent workers cannot double-apply them.
type ItemStore interface {
	InsertPending(ctx context.Context, item *IngestedItem) error
	GetItem(ctx context.Context, fp Fingerprint) (*IngestedItem, error)
	// TransitionStatus flips status from->to and reports whether this call
	// performed the flip.
	TransitionStatus(ctx context.Context, fp Fingerprint, from, to ItemStatus) (bool, error)
	// ListStalePending returns pending items received before the cutoff.
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*IngestedItem, error)
}

// ResultStore persists analysis results, at most one per
// (fingerprint, model_version).
type ResultStore interface {
	// InsertResultIfAbsent reports whether this call created the result.
	InsertResultIfAbsent(ctx context.Context, res *AnalysisResult) (bool, error)
	GetResult(ctx context.Context, fp Fingerprint, modelVersion string) (*AnalysisResult, error)
}

// BucketStore holds time-series aggregates. MergeScore must apply the
// incremental mean atomically in the store.
type BucketStore interface {
	MergeScore(ctx context.Context, subject string, res Resolution, bucketStart time.Time, score float64, expiresAt time.Time) error
	GetBucketRange(ctx context.Context, subject string, res Resolution, from, to time.Time) ([]*TimeseriesBucket, error)
	// ListChangedSince serves the streaming poll loop from an updated_at
	// index; subjects empty means all subjects.
	ListChangedSince(ctx context.Context, subjects []string, since time.Time, limit int) ([]*TimeseriesBucket, error)
}

// GuardStore persists breaker and quota state so short-lived ingestion
// processes share one view of source health.
type GuardStore interface {
	// LoadBreaker returns a zero-value closed breaker if none is persisted.
	LoadBreaker(ctx context.Context, source SourceID) (*CircuitBreakerState, error)
	// StoreBreaker writes st only if the persisted version still matches
	// st.Version, then bumps it. Returns false on a lost race.
	StoreBreaker(ctx context.Context, st *CircuitBreakerState) (bool, error)
	// ChargeQuota atomically increments the counter for the window and
	// returns consumption after the charge.
	ChargeQuota(ctx context.Context, source SourceID, windowStart time.Time, limit int) (int, error)
}

// CacheStore is the persistent tier of the range cache.
type CacheStore interface {
	GetEntry(ctx context.Context, key string) (*CacheEntry, error)
	PutEntry(ctx context.Context, entry *CacheEntry) error
}

// SourceConfigStore is the read-mostly view of the admin collaborator's
// source configuration.
type SourceConfigStore interface {
	ListDueSources(ctx context.Context, now time.Time) ([]*SourceConfig, error)
	UpdateNextPoll(ctx context.Context, source SourceID, next, last time.Time) error
}

// Scorer is the sentiment model collaborator.
type Scorer interface {
	Score(ctx context.Context, text string) (*ScoreResult, error)
}

// RangeFetcher is the external data source behind cache misses.
type RangeFetcher interface {
	FetchRange(ctx context.Context, subject string, res Resolution, from, to time.Time) ([]byte, error)
}

// Notifier publishes operational events. Delivery semantics belong to the
// collaborator; callers treat Publish as best-effort.
type Notifier interface {
	Publish(ctx context.Context, event NotifyEvent) error
}
