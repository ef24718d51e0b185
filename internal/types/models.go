// internal/types/models.go
package types

import (
	"time"
)

// SourceKind selects the adapter implementation for a source.
type SourceKind string

const (
	SourceKindRSS  SourceKind = "rss"
	SourceKindAPI  SourceKind = "api"
	SourceKindHTML SourceKind = "html"
)

// SourceConfig describes one external feed. It is owned by the admin
// collaborator; the pipeline only reads it and advances the poll timestamps.
type SourceConfig struct {
	SourceID     SourceID          `json:"source_id"`
	Kind         SourceKind        `json:"kind"`
	Endpoint     string            `json:"endpoint"`
	PollInterval time.Duration     `json:"poll_interval"`
	Enabled      bool              `json:"enabled"`
	NextPollAt   time.Time         `json:"next_poll_at"`
	LastPollAt   time.Time         `json:"last_poll_at"`
	Options      map[string]string `json:"options,omitempty"`
}

// RawItem is one record as returned by a source adapter, before
// normalization and deduplication.
type RawItem struct {
	Headline    string    `json:"headline"`
	Body        string    `json:"body"`
	Subject     string    `json:"subject"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
}

type ItemStatus string

const (
	ItemPending  ItemStatus = "pending"
	ItemAnalyzed ItemStatus = "analyzed"
	ItemFailed   ItemStatus = "failed"
)

// IngestedItem is an admitted news item awaiting (or past) analysis.
type IngestedItem struct {
	Fingerprint   Fingerprint `json:"fingerprint"`
	SourceID      SourceID    `json:"source_id"`
	Subject       string      `json:"subject"`
	Headline      string      `json:"headline"`
	Body          string      `json:"body"`
	ReceivedAt    time.Time   `json:"received_at"`
	Status        ItemStatus  `json:"status"`
	RawPayloadRef string      `json:"raw_payload_ref,omitempty"`
}

// AnalysisResult is the sentiment verdict for one item. There is at most
// one result per (fingerprint, model_version); re-analysis under a new
// model version creates a new row, never overwrites.
type AnalysisResult struct {
	Fingerprint  Fingerprint `json:"fingerprint"`
	Subject      string      `json:"subject"`
	Sentiment    string      `json:"sentiment"`
	Score        float64     `json:"score"`
	ModelVersion string      `json:"model_version"`
	ScoredAt     time.Time   `json:"scored_at"`
}

// Resolution names one aggregation granularity (e.g. "5m").
type Resolution string

const (
	Res1m  Resolution = "1m"
	Res5m  Resolution = "5m"
	Res10m Resolution = "10m"
	Res1h  Resolution = "1h"
	Res3h  Resolution = "3h"
	Res6h  Resolution = "6h"
	Res12h Resolution = "12h"
	Res24h Resolution = "24h"
)

// TimeseriesBucket is the running aggregate for one
// (subject, resolution, bucket_start) cell.
type TimeseriesBucket struct {
	Subject        string     `json:"subject"`
	Resolution     Resolution `json:"resolution"`
	BucketStart    time.Time  `json:"bucket_start"`
	AggregateScore float64    `json:"aggregate_score"`
	SampleCount    int64      `json:"sample_count"`
	ExpiresAt      time.Time  `json:"expires_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// CircuitBreakerState is the durable per-source breaker record. Version is
// the compare-and-swap token: stores reject writes whose Version does not
// match the persisted row.
type CircuitBreakerState struct {
	SourceID            SourceID     `json:"source_id"`
	State               BreakerState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	OpenedAt            time.Time    `json:"opened_at,omitempty"`
	Version             int64        `json:"version"`
}

// QuotaCounter tracks per-source consumption within one rolling window.
type QuotaCounter struct {
	SourceID     SourceID  `json:"source_id"`
	WindowStart  time.Time `json:"window_start"`
	Consumed     int       `json:"consumed"`
	Limit        int       `json:"limit"`
	ThrottleTier int       `json:"throttle_tier"`
}

// CacheEntry is one persisted range payload. Key encodes subject,
// resolution, range anchor, and an explicit calendar date so the same
// logical range requested on different days never collides.
type CacheEntry struct {
	Key         string        `json:"key"`
	Payload     []byte        `json:"payload"`
	CoveredFrom time.Time     `json:"covered_from"`
	CoveredTo   time.Time     `json:"covered_to"`
	FetchedAt   time.Time     `json:"fetched_at"`
	TTL         time.Duration `json:"ttl"`
}

// StreamEventType distinguishes payload-bearing events from keepalives.
type StreamEventType string

const (
	StreamEventData      StreamEventType = "data"
	StreamEventHeartbeat StreamEventType = "heartbeat"
)

// StreamEvent is one message pushed over a client streaming connection.
// Seq is monotonic per connection so clients can detect gaps.
type StreamEvent struct {
	Type    StreamEventType `json:"type"`
	Subject string          `json:"subject,omitempty"`
	Bucket  *TimeseriesBucket `json:"bucket,omitempty"`
	Seq     int64           `json:"seq"`
	At      time.Time       `json:"at"`
}

// ScoreResult is what the scoring collaborator returns for one text.
type ScoreResult struct {
	Sentiment    string  `json:"sentiment"`
	Score        float64 `json:"score"`
	ModelVersion string  `json:"model_version"`
}

// NotifyEvent is a best-effort operational notification.
type NotifyEvent struct {
	Kind    string    `json:"kind"`
	Subject string    `json:"subject,omitempty"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}
