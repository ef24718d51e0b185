package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/user/newspulse/internal/store"
	"github.com/user/newspulse/internal/types"
)

type fakeFetcher struct {
	mu      sync.Mutex
	payload []byte
	err     error
	calls   int
}

func (f *fakeFetcher) FetchRange(_ context.Context, _ string, _ types.Resolution, _, _ time.Time) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.payload, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newManager(t *testing.T) (*Manager, *store.Memory, *fakeFetcher, *time.Time) {
	t.Helper()
	mem := store.NewMemory()
	fetcher := &fakeFetcher{payload: []byte(`{"buckets":[]}`)}
	m := New(mem, fetcher, Config{
		ProcessTTL:        30 * time.Second,
		EntryTTL:          5 * time.Minute,
		CoverageThreshold: 0.8,
	})
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	m.Now = func() time.Time { return now }
	return m, mem, fetcher, &now
}

func TestGetMissFetchesAndWritesThrough(t *testing.T) {
	m, mem, fetcher, now := newManager(t)
	from, to := now.Add(-6*time.Hour), *now

	payload, err := m.Get(context.Background(), "AAPL", types.Res1h, from, to)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(payload) != `{"buckets":[]}` {
		t.Errorf("payload = %s", payload)
	}
	if fetcher.callCount() != 1 {
		t.Fatalf("fetcher calls = %d, want 1", fetcher.callCount())
	}

	m.Flush()
	entry, err := mem.GetEntry(context.Background(), Key("AAPL", types.Res1h, from, to))
	if err != nil {
		t.Fatal(err)
	}
	if entry == nil {
		t.Fatal("write-through did not persist the entry")
	}
	if !entry.CoveredFrom.Equal(from) || !entry.CoveredTo.Equal(to) {
		t.Errorf("covered range = %v..%v", entry.CoveredFrom, entry.CoveredTo)
	}
}

func TestGetServesProcessTierWithoutRefetch(t *testing.T) {
	m, _, fetcher, now := newManager(t)
	from, to := now.Add(-6*time.Hour), *now

	if _, err := m.Get(context.Background(), "AAPL", types.Res1h, from, to); err != nil {
		t.Fatal(err)
	}
	*now = now.Add(10 * time.Second)
	if _, err := m.Get(context.Background(), "AAPL", types.Res1h, from, to); err != nil {
		t.Fatal(err)
	}
	if fetcher.callCount() != 1 {
		t.Fatalf("fetcher calls = %d, want 1 (second hit served from process tier)", fetcher.callCount())
	}
}

func TestGetPromotesFromPersistentTier(t *testing.T) {
	m, mem, fetcher, now := newManager(t)
	from, to := now.Add(-6*time.Hour), *now
	key := Key("TSLA", types.Res1h, from, to)

	// Another instance already cached a fully covering entry.
	if err := mem.PutEntry(context.Background(), &types.CacheEntry{
		Key: key, Payload: []byte("shared"), CoveredFrom: from, CoveredTo: to,
		FetchedAt: now.Add(-time.Minute), TTL: 5 * time.Minute,
	}); err != nil {
		t.Fatal(err)
	}

	payload, err := m.Get(context.Background(), "TSLA", types.Res1h, from, to)
	if err != nil {
		t.Fatal(err)
	}
	if string(payload) != "shared" {
		t.Errorf("payload = %s", payload)
	}
	if fetcher.callCount() != 0 {
		t.Errorf("fetcher called %d times for a persistent hit", fetcher.callCount())
	}

	// And the entry is now also in the process tier.
	*now = now.Add(5 * time.Second)
	if _, err := m.Get(context.Background(), "TSLA", types.Res1h, from, to); err != nil {
		t.Fatal(err)
	}
	if fetcher.callCount() != 0 {
		t.Errorf("fetcher called after promotion")
	}
}

func TestGetRejectsUndercoveringEntry(t *testing.T) {
	m, mem, fetcher, now := newManager(t)
	from, to := now.Add(-10*time.Hour), *now
	key := Key("OIL", types.Res1h, from, to)

	// Entry covers only the last 5 of 10 requested hours: 50% < 80%.
	if err := mem.PutEntry(context.Background(), &types.CacheEntry{
		Key: key, Payload: []byte("partial"), CoveredFrom: now.Add(-5 * time.Hour), CoveredTo: *now,
		FetchedAt: *now, TTL: 5 * time.Minute,
	}); err != nil {
		t.Fatal(err)
	}

	payload, err := m.Get(context.Background(), "OIL", types.Res1h, from, to)
	if err != nil {
		t.Fatal(err)
	}
	if string(payload) == "partial" {
		t.Fatal("served an entry covering half the requested range")
	}
	if fetcher.callCount() != 1 {
		t.Errorf("fetcher calls = %d, want 1 full-range refetch", fetcher.callCount())
	}
}

func TestGetRejectsExpiredEntry(t *testing.T) {
	m, mem, fetcher, now := newManager(t)
	from, to := now.Add(-6*time.Hour), *now
	key := Key("GOLD", types.Res1h, from, to)

	if err := mem.PutEntry(context.Background(), &types.CacheEntry{
		Key: key, Payload: []byte("stale"), CoveredFrom: from, CoveredTo: to,
		FetchedAt: now.Add(-10 * time.Minute), TTL: 5 * time.Minute,
	}); err != nil {
		t.Fatal(err)
	}

	payload, err := m.Get(context.Background(), "GOLD", types.Res1h, from, to)
	if err != nil {
		t.Fatal(err)
	}
	if string(payload) == "stale" {
		t.Fatal("served an expired entry")
	}
	if fetcher.callCount() != 1 {
		t.Errorf("fetcher calls = %d", fetcher.callCount())
	}
}

func TestProcessTierChecksCoverage(t *testing.T) {
	m, _, fetcher, now := newManager(t)
	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	*now = day.Add(10 * time.Hour)

	// A half-hour request and a full-day request share a date-anchored key.
	if _, err := m.Get(context.Background(), "AAPL", types.Res1h, day.Add(9*time.Hour), day.Add(9*time.Hour+30*time.Minute)); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(context.Background(), "AAPL", types.Res1h, day, day.Add(23*time.Hour)); err != nil {
		t.Fatal(err)
	}
	if fetcher.callCount() != 2 {
		t.Fatalf("fetcher calls = %d, want 2 (half-hour payload must not serve the full day)", fetcher.callCount())
	}

	// The wide payload now covers the narrow request, so that one hits.
	if _, err := m.Get(context.Background(), "AAPL", types.Res1h, day.Add(9*time.Hour), day.Add(9*time.Hour+30*time.Minute)); err != nil {
		t.Fatal(err)
	}
	if fetcher.callCount() != 2 {
		t.Errorf("fetcher calls = %d after covered re-request, want 2", fetcher.callCount())
	}
}

func TestProcessTierEvictsExpiredEntries(t *testing.T) {
	m, _, fetcher, now := newManager(t)
	from, to := now.Add(-6*time.Hour), *now

	if _, err := m.Get(context.Background(), "AAPL", types.Res1h, from, to); err != nil {
		t.Fatal(err)
	}
	m.Flush()

	// Both tiers age out; the dead local entry is dropped, not just skipped.
	*now = now.Add(6 * time.Minute)
	fetcher.err = types.E(types.KindTransientIO, "upstream down")
	if _, err := m.Get(context.Background(), "AAPL", types.Res1h, from, to); err == nil {
		t.Fatal("expected fetch error once both tiers expired")
	}

	m.mu.RLock()
	_, ok := m.local[Key("AAPL", types.Res1h, from, to)]
	m.mu.RUnlock()
	if ok {
		t.Error("expired process-tier entry was not evicted")
	}
}

func TestKeyAnchorsToDates(t *testing.T) {
	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

	// Morning and afternoon requests for the same calendar day share the
	// entry.
	morning := Key("AAPL", types.Res1h, day.Add(1*time.Hour), day.Add(9*time.Hour))
	afternoon := Key("AAPL", types.Res1h, day.Add(3*time.Hour), day.Add(16*time.Hour))
	if morning != afternoon {
		t.Errorf("same-day keys differ: %q vs %q", morning, afternoon)
	}

	nextDay := Key("AAPL", types.Res1h, day.Add(25*time.Hour), day.Add(30*time.Hour))
	if morning == nextDay {
		t.Error("keys for different days collide")
	}
	otherSubject := Key("TSLA", types.Res1h, day.Add(1*time.Hour), day.Add(9*time.Hour))
	if morning == otherSubject {
		t.Error("keys for different subjects collide")
	}
}

func TestGetFetchErrorPropagates(t *testing.T) {
	m, _, fetcher, now := newManager(t)
	fetcher.err = types.E(types.KindTransientIO, "upstream down")

	_, err := m.Get(context.Background(), "AAPL", types.Res1h, now.Add(-time.Hour), *now)
	if !types.IsKind(err, types.KindTransientIO) {
		t.Fatalf("err = %v, want transient_io", err)
	}
}

func TestCoverage(t *testing.T) {
	base := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	h := func(n int) time.Time { return base.Add(time.Duration(n) * time.Hour) }

	tests := []struct {
		name                   string
		cFrom, cTo, from, to   time.Time
		want                   float64
	}{
		{"full", h(0), h(10), h(0), h(10), 1.0},
		{"half", h(5), h(10), h(0), h(10), 0.5},
		{"disjoint", h(20), h(30), h(0), h(10), 0.0},
		{"superset", h(-5), h(15), h(0), h(10), 1.0},
		{"eighty percent", h(2), h(10), h(0), h(10), 0.8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Coverage(tt.cFrom, tt.cTo, tt.from, tt.to); got != tt.want {
				t.Errorf("Coverage = %f, want %f", got, tt.want)
			}
		})
	}
}
