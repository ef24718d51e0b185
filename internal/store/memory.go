// Package store provides the persistence implementations behind the
// pipeline's store interfaces: a Postgres store for production and an
// in-memory store with identical conditional-write semantics for tests and
// single-process development.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/user/newspulse/internal/types"
)

// Memory implements every store interface in process memory. All
// conditional operations hold the store mutex so they are atomic with
// respect to each other, mirroring what the Postgres store gets from
// ON CONFLICT and guarded UPDATEs. Now stands in for the database clock
// that retention filtering runs on; tests can pin it.
type Memory struct {
	Now func() time.Time

	mu           sync.Mutex
	fingerprints map[types.Fingerprint]struct{}
	items        map[types.Fingerprint]*types.IngestedItem
	results      map[resultKey]*types.AnalysisResult
	buckets      map[bucketKey]*types.TimeseriesBucket
	breakers     map[types.SourceID]*types.CircuitBreakerState
	quotas       map[quotaKey]*types.QuotaCounter
	cache        map[string]*types.CacheEntry
	sources      map[types.SourceID]*types.SourceConfig
}

type resultKey struct {
	fp      types.Fingerprint
	version string
}

type bucketKey struct {
	subject string
	res     types.Resolution
	start   int64
}

type quotaKey struct {
	source types.SourceID
	window int64
}

func NewMemory() *Memory {
	return &Memory{
		Now:          time.Now,
		fingerprints: make(map[types.Fingerprint]struct{}),
		items:        make(map[types.Fingerprint]*types.IngestedItem),
		results:      make(map[resultKey]*types.AnalysisResult),
		buckets:      make(map[bucketKey]*types.TimeseriesBucket),
		breakers:     make(map[types.SourceID]*types.CircuitBreakerState),
		quotas:       make(map[quotaKey]*types.QuotaCounter),
		cache:        make(map[string]*types.CacheEntry),
		sources:      make(map[types.SourceID]*types.SourceConfig),
	}
}

// InsertFingerprintIfAbsent implements types.DedupStore.
func (m *Memory) InsertFingerprintIfAbsent(_ context.Context, fp types.Fingerprint) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.fingerprints[fp]; exists {
		return false, nil
	}
	m.fingerprints[fp] = struct{}{}
	return true, nil
}

// InsertPending implements types.ItemStore.
func (m *Memory) InsertPending(_ context.Context, item *types.IngestedItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.items[item.Fingerprint]; exists {
		return nil
	}
	clone := *item
	clone.Status = types.ItemPending
	m.items[item.Fingerprint] = &clone
	return nil
}

func (m *Memory) GetItem(_ context.Context, fp types.Fingerprint) (*types.IngestedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[fp]
	if !ok {
		return nil, nil
	}
	clone := *item
	return &clone, nil
}

func (m *Memory) TransitionStatus(_ context.Context, fp types.Fingerprint, from, to types.ItemStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[fp]
	if !ok || item.Status != from {
		return false, nil
	}
	item.Status = to
	return true, nil
}

func (m *Memory) ListStalePending(_ context.Context, cutoff time.Time, limit int) ([]*types.IngestedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stale []*types.IngestedItem
	for _, item := range m.items {
		if item.Status == types.ItemPending && item.ReceivedAt.Before(cutoff) {
			clone := *item
			stale = append(stale, &clone)
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].ReceivedAt.Before(stale[j].ReceivedAt)
	})
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

// InsertResultIfAbsent implements types.ResultStore.
func (m *Memory) InsertResultIfAbsent(_ context.Context, res *types.AnalysisResult) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := resultKey{fp: res.Fingerprint, version: res.ModelVersion}
	if _, exists := m.results[key]; exists {
		return false, nil
	}
	clone := *res
	m.results[key] = &clone
	return true, nil
}

func (m *Memory) GetResult(_ context.Context, fp types.Fingerprint, modelVersion string) (*types.AnalysisResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.results[resultKey{fp: fp, version: modelVersion}]
	if !ok {
		return nil, nil
	}
	clone := *res
	return &clone, nil
}

// MergeScore implements types.BucketStore with the incremental mean.
func (m *Memory) MergeScore(_ context.Context, subject string, res types.Resolution, bucketStart time.Time, score float64, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := bucketKey{subject: subject, res: res, start: bucketStart.UnixNano()}
	bucket, ok := m.buckets[key]
	if !ok {
		m.buckets[key] = &types.TimeseriesBucket{
			Subject:        subject,
			Resolution:     res,
			BucketStart:    bucketStart,
			AggregateScore: score,
			SampleCount:    1,
			ExpiresAt:      expiresAt,
			UpdatedAt:      time.Now().UTC(),
		}
		return nil
	}
	bucket.AggregateScore += (score - bucket.AggregateScore) / float64(bucket.SampleCount+1)
	bucket.SampleCount++
	bucket.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) GetBucketRange(_ context.Context, subject string, res types.Resolution, from, to time.Time) ([]*types.TimeseriesBucket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.Now().UTC()
	var out []*types.TimeseriesBucket
	for _, bucket := range m.buckets {
		if bucket.Subject != subject || bucket.Resolution != res {
			continue
		}
		if bucket.BucketStart.Before(from) || !bucket.BucketStart.Before(to) {
			continue
		}
		if !bucket.ExpiresAt.After(now) {
			continue
		}
		clone := *bucket
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].BucketStart.Before(out[j].BucketStart)
	})
	return out, nil
}

func (m *Memory) ListChangedSince(_ context.Context, subjects []string, since time.Time, limit int) ([]*types.TimeseriesBucket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]struct{}, len(subjects))
	for _, s := range subjects {
		want[s] = struct{}{}
	}
	var out []*types.TimeseriesBucket
	for _, bucket := range m.buckets {
		if len(want) > 0 {
			if _, ok := want[bucket.Subject]; !ok {
				continue
			}
		}
		if !bucket.UpdatedAt.After(since) {
			continue
		}
		clone := *bucket
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// LoadBreaker implements types.GuardStore.
func (m *Memory) LoadBreaker(_ context.Context, source types.SourceID) (*types.CircuitBreakerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.breakers[source]
	if !ok {
		return &types.CircuitBreakerState{SourceID: source, State: types.BreakerClosed}, nil
	}
	clone := *st
	return &clone, nil
}

func (m *Memory) StoreBreaker(_ context.Context, st *types.CircuitBreakerState) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.breakers[st.SourceID]
	if ok && current.Version != st.Version {
		return false, nil
	}
	if !ok && st.Version != 0 {
		return false, nil
	}
	clone := *st
	clone.Version = st.Version + 1
	m.breakers[st.SourceID] = &clone
	return true, nil
}

func (m *Memory) ChargeQuota(_ context.Context, source types.SourceID, windowStart time.Time, limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := quotaKey{source: source, window: windowStart.Unix()}
	counter, ok := m.quotas[key]
	if !ok {
		counter = &types.QuotaCounter{
			SourceID:    source,
			WindowStart: windowStart,
			Limit:       limit,
		}
		m.quotas[key] = counter
	}
	counter.Consumed++
	return counter.Consumed, nil
}

// GetEntry implements types.CacheStore.
func (m *Memory) GetEntry(_ context.Context, key string) (*types.CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.cache[key]
	if !ok {
		return nil, nil
	}
	clone := *entry
	return &clone, nil
}

func (m *Memory) PutEntry(_ context.Context, entry *types.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *entry
	m.cache[entry.Key] = &clone
	return nil
}

// PutSource seeds a source config; tests and the admin collaborator use it.
func (m *Memory) PutSource(cfg *types.SourceConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *cfg
	m.sources[cfg.SourceID] = &clone
}

// ListDueSources implements types.SourceConfigStore.
func (m *Memory) ListDueSources(_ context.Context, now time.Time) ([]*types.SourceConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*types.SourceConfig
	for _, cfg := range m.sources {
		if !cfg.Enabled || cfg.NextPollAt.After(now) {
			continue
		}
		clone := *cfg
		due = append(due, &clone)
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].SourceID < due[j].SourceID
	})
	return due, nil
}

func (m *Memory) UpdateNextPoll(_ context.Context, source types.SourceID, next, last time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.sources[source]
	if !ok {
		return nil
	}
	cfg.NextPollAt = next
	cfg.LastPollAt = last
	return nil
}
