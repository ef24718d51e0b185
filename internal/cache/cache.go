// Package cache fronts range queries with a two-tier cache: a short-lived
// in-process tier and a persistent tier shared across instances. A cached
// payload only serves a request when it actually covers enough of the
// requested range; partially covering entries are treated as misses.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/user/newspulse/internal/types"
)

type Config struct {
	ProcessTTL        time.Duration
	EntryTTL          time.Duration
	CoverageThreshold float64
}

type localEntry struct {
	payload     []byte
	coveredFrom time.Time
	coveredTo   time.Time
	storedAt    time.Time
}

// Manager is the two-tier cache front over a RangeFetcher.
type Manager struct {
	store   types.CacheStore
	fetcher types.RangeFetcher
	cfg     Config
	Now     func() time.Time

	mu    sync.RWMutex
	local map[string]localEntry
	wg    sync.WaitGroup
}

func New(store types.CacheStore, fetcher types.RangeFetcher, cfg Config) *Manager {
	if cfg.ProcessTTL <= 0 {
		cfg.ProcessTTL = 30 * time.Second
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 5 * time.Minute
	}
	if cfg.CoverageThreshold <= 0 || cfg.CoverageThreshold > 1 {
		cfg.CoverageThreshold = 0.8
	}
	return &Manager{
		store:   store,
		fetcher: fetcher,
		cfg:     cfg,
		Now:     time.Now,
		local:   map[string]localEntry{},
	}
}

// Key builds the cache key for a range query. From and to are anchored to
// calendar dates, so intraday requests for the same day share one entry
// instead of fragmenting the cache per timestamp. Both tiers still check
// coverage against the exact requested range before serving.
func Key(subject string, res types.Resolution, from, to time.Time) string {
	return fmt.Sprintf("%s|%s|%s|%s",
		subject, res, from.UTC().Format("2006-01-02"), to.UTC().Format("2006-01-02"))
}

// Get serves the payload for a range query, preferring the process tier,
// then the persistent tier, then a full-range fetch from the backing
// source. Fetched payloads are promoted to the process tier immediately
// and written through to the persistent tier asynchronously.
func (m *Manager) Get(ctx context.Context, subject string, res types.Resolution, from, to time.Time) ([]byte, error) {
	key := Key(subject, res, from, to)
	now := m.Now().UTC()

	m.mu.RLock()
	le, ok := m.local[key]
	m.mu.RUnlock()
	if ok {
		if now.Sub(le.storedAt) >= m.cfg.ProcessTTL {
			m.evict(key, le.storedAt)
		} else if Coverage(le.coveredFrom, le.coveredTo, from, to) >= m.cfg.CoverageThreshold {
			slog.Debug("cache hit", "tier", "process", "key", key)
			return le.payload, nil
		}
	}

	entry, err := m.store.GetEntry(ctx, key)
	if err != nil {
		slog.Warn("persistent cache read failed", "key", key, "error", err)
	}
	if entry != nil && m.usable(entry, now, from, to) {
		slog.Debug("cache hit", "tier", "persistent", "key", key)
		m.promote(key, entry.Payload, entry.CoveredFrom, entry.CoveredTo, now)
		return entry.Payload, nil
	}

	// Miss on both tiers, or a partial entry: refetch the whole requested
	// range rather than trying to patch the gap.
	payload, err := m.fetcher.FetchRange(ctx, subject, res, from, to)
	if err != nil {
		return nil, types.E(types.KindTransientIO, "fetch range for %s", key, err)
	}

	m.promote(key, payload, from.UTC(), to.UTC(), now)
	m.writeThrough(&types.CacheEntry{
		Key:         key,
		Payload:     payload,
		CoveredFrom: from.UTC(),
		CoveredTo:   to.UTC(),
		FetchedAt:   now,
		TTL:         m.cfg.EntryTTL,
	})
	return payload, nil
}

// usable reports whether a persistent entry is fresh and covers enough of
// the requested range.
func (m *Manager) usable(entry *types.CacheEntry, now time.Time, from, to time.Time) bool {
	ttl := entry.TTL
	if ttl <= 0 {
		ttl = m.cfg.EntryTTL
	}
	if now.Sub(entry.FetchedAt) >= ttl {
		return false
	}
	return Coverage(entry.CoveredFrom, entry.CoveredTo, from, to) >= m.cfg.CoverageThreshold
}

// Coverage returns what fraction of [from, to) the interval
// [coveredFrom, coveredTo) overlaps.
func Coverage(coveredFrom, coveredTo, from, to time.Time) float64 {
	want := to.Sub(from)
	if want <= 0 {
		return 0
	}
	start := coveredFrom
	if from.After(start) {
		start = from
	}
	end := coveredTo
	if to.Before(end) {
		end = to
	}
	overlap := end.Sub(start)
	if overlap <= 0 {
		return 0
	}
	return float64(overlap) / float64(want)
}

func (m *Manager) promote(key string, payload []byte, coveredFrom, coveredTo, now time.Time) {
	m.mu.Lock()
	m.local[key] = localEntry{
		payload:     payload,
		coveredFrom: coveredFrom,
		coveredTo:   coveredTo,
		storedAt:    now,
	}
	m.mu.Unlock()
}

// evict drops an expired process-tier entry. The storedAt guard keeps a
// concurrent promote of a fresh payload from being thrown away.
func (m *Manager) evict(key string, storedAt time.Time) {
	m.mu.Lock()
	if le, ok := m.local[key]; ok && le.storedAt.Equal(storedAt) {
		delete(m.local, key)
	}
	m.mu.Unlock()
}

// writeThrough persists the entry off the request path. A failed write
// costs a refetch later, never the response.
func (m *Manager) writeThrough(entry *types.CacheEntry) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.store.PutEntry(ctx, entry); err != nil {
			slog.Warn("cache write-through failed", "key", entry.Key, "error", err)
		}
	}()
}

// Flush waits for in-flight write-throughs. Shutdown and tests use it.
func (m *Manager) Flush() {
	m.wg.Wait()
}
