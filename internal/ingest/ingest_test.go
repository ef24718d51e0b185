package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/user/newspulse/internal/dedup"
	"github.com/user/newspulse/internal/fanout"
	"github.com/user/newspulse/internal/guard"
	"github.com/user/newspulse/internal/source"
	"github.com/user/newspulse/internal/store"
	"github.com/user/newspulse/internal/types"
)

// fakeAdapter returns canned items, or an error, and counts invocations.
type fakeAdapter struct {
	mu    sync.Mutex
	items map[types.SourceID][]types.RawItem
	errs  map[types.SourceID]error
	calls map[types.SourceID]int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		items: map[types.SourceID][]types.RawItem{},
		errs:  map[types.SourceID]error{},
		calls: map[types.SourceID]int{},
	}
}

func (f *fakeAdapter) Kind() types.SourceKind { return types.SourceKindRSS }

func (f *fakeAdapter) Fetch(_ context.Context, cfg *types.SourceConfig) ([]types.RawItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[cfg.SourceID]++
	if err := f.errs[cfg.SourceID]; err != nil {
		return nil, err
	}
	return f.items[cfg.SourceID], nil
}

func (f *fakeAdapter) callCount(id types.SourceID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

type harness struct {
	store   *store.Memory
	adapter *fakeAdapter
	bus     *fanout.Memory
	coord   *Coordinator
	now     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mem := store.NewMemory()
	adapter := newFakeAdapter()
	registry := source.NewRegistry()
	registry.Register(adapter)
	bus := fanout.NewMemory(256)
	g := guard.New(mem, guard.Config{
		FailureThreshold: 3,
		Cooldown:         10 * time.Minute,
		QuotaWindow:      time.Hour,
		QuotaLimit:       100,
	})
	coord := NewCoordinator(mem, registry, g, dedup.New(mem), mem, bus, CoordinatorConfig{
		PoolSize:     4,
		BatchSize:    10,
		CycleBudget:  time.Minute,
		FetchTimeout: time.Second,
	})
	h := &harness{store: mem, adapter: adapter, bus: bus, coord: coord, now: time.Now().UTC()}
	coord.Now = func() time.Time { return h.now }
	g.Now = coord.Now
	return h
}

func (h *harness) addSource(id types.SourceID, interval time.Duration) {
	h.store.PutSource(&types.SourceConfig{
		SourceID:     id,
		Kind:         types.SourceKindRSS,
		Endpoint:     "http://example.test/feed",
		PollInterval: interval,
		Enabled:      true,
		NextPollAt:   h.now.Add(-time.Minute),
	})
}

func TestCycleAdmitsOnlyNewItems(t *testing.T) {
	h := newHarness(t)
	h.addSource("reuters", 5*time.Minute)

	// Pre-admit one headline so the fetch returns a duplicate.
	dup := types.NewFingerprint("Fed holds rates steady", "reuters")
	if _, err := h.store.InsertFingerprintIfAbsent(context.Background(), dup); err != nil {
		t.Fatal(err)
	}
	h.adapter.items["reuters"] = []types.RawItem{
		{Headline: "Fed holds rates steady", Subject: "FED", Body: "x"},
		{Headline: "Oil climbs on supply fears", Subject: "OIL", Body: "y"},
		{Headline: "Tech rally extends to fifth day", Subject: "TECH", Body: "z"},
	}

	if err := h.coord.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if got := h.bus.Pending(); got != 2 {
		t.Fatalf("published %d fingerprints, want 2", got)
	}
	for _, headline := range []string{"Oil climbs on supply fears", "Tech rally extends to fifth day"} {
		fp := types.NewFingerprint(headline, "reuters")
		item, err := h.store.GetItem(context.Background(), fp)
		if err != nil {
			t.Fatalf("GetItem(%q): %v", headline, err)
		}
		if item.Status != types.ItemPending {
			t.Errorf("item %q status = %s, want pending", headline, item.Status)
		}
	}
	item, err := h.store.GetItem(context.Background(), dup)
	if err != nil {
		t.Fatal(err)
	}
	if item != nil {
		t.Error("duplicate headline was persisted")
	}
}

func TestCycleIsolatesFailingSource(t *testing.T) {
	h := newHarness(t)
	h.addSource("broken", time.Minute)
	h.addSource("healthy", time.Minute)
	h.adapter.errs["broken"] = types.E(types.KindTransientIO, "connection refused")
	h.adapter.items["healthy"] = []types.RawItem{
		{Headline: "Earnings beat estimates", Subject: "AAPL"},
	}

	if err := h.coord.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if got := h.bus.Pending(); got != 1 {
		t.Fatalf("published %d fingerprints, want 1 from healthy source", got)
	}
	if h.adapter.callCount("broken") != 1 || h.adapter.callCount("healthy") != 1 {
		t.Errorf("call counts = broken:%d healthy:%d, want 1 each",
			h.adapter.callCount("broken"), h.adapter.callCount("healthy"))
	}
}

func TestCycleAdvancesNextPollOnFailure(t *testing.T) {
	h := newHarness(t)
	h.addSource("flaky", 5*time.Minute)
	h.adapter.errs["flaky"] = types.E(types.KindTransientIO, "timeout")

	if err := h.coord.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	due, err := h.store.ListDueSources(context.Background(), h.now)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 0 {
		t.Fatal("failed source is still due, schedule was not advanced")
	}
	due, err = h.store.ListDueSources(context.Background(), h.now.Add(5*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 {
		t.Fatalf("source not due after its base interval, got %d due", len(due))
	}
}

func TestCycleSkipsOpenBreakerWithoutFetching(t *testing.T) {
	h := newHarness(t)
	h.addSource("flappy", time.Minute)
	h.adapter.errs["flappy"] = types.E(types.KindTransientIO, "boom")

	// Drive the breaker open with consecutive failures.
	for i := 0; i < 3; i++ {
		if err := h.coord.RunCycle(context.Background()); err != nil {
			t.Fatal(err)
		}
		h.now = h.now.Add(2 * time.Minute)
	}
	st, err := h.store.LoadBreaker(context.Background(), "flappy")
	if err != nil {
		t.Fatal(err)
	}
	if st.State != types.BreakerOpen {
		t.Fatalf("breaker state = %s, want open", st.State)
	}

	before := h.adapter.callCount("flappy")
	if err := h.coord.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := h.adapter.callCount("flappy"); got != before {
		t.Errorf("adapter fetched while breaker open (%d -> %d calls)", before, got)
	}
}

func TestCycleStretchesIntervalUnderQuotaPressure(t *testing.T) {
	h := newHarness(t)
	mem := h.store
	adapter := h.adapter
	registry := source.NewRegistry()
	registry.Register(adapter)
	g := guard.New(mem, guard.Config{
		FailureThreshold: 3,
		Cooldown:         10 * time.Minute,
		QuotaWindow:      time.Hour,
		QuotaLimit:       20,
	})
	g.Now = func() time.Time { return h.now }
	coord := NewCoordinator(mem, registry, g, dedup.New(mem), mem, h.bus, CoordinatorConfig{
		PoolSize: 1, BatchSize: 10, CycleBudget: time.Minute, FetchTimeout: time.Second,
	})
	coord.Now = g.Now

	h.addSource("chatty", 10*time.Minute)

	// Pre-consume 17 of 20 calls: the next attempt lands at 18/20 = 90%,
	// which is the heavy tier with a 4x interval stretch.
	window := h.now.Truncate(time.Hour)
	for i := 0; i < 17; i++ {
		if _, err := mem.ChargeQuota(context.Background(), "chatty", window, 20); err != nil {
			t.Fatal(err)
		}
	}

	if err := coord.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}

	due, err := mem.ListDueSources(context.Background(), h.now.Add(10*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 0 {
		t.Fatal("source due after base interval despite heavy throttle tier")
	}
	due, err = mem.ListDueSources(context.Background(), h.now.Add(40*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 {
		t.Fatalf("source not due after 4x stretched interval, got %d", len(due))
	}
}

func TestSweepRepublishesStalePending(t *testing.T) {
	mem := store.NewMemory()
	bus := fanout.NewMemory(64)
	sw := NewSweeper(mem, bus, SweeperConfig{StaleAfter: time.Hour, BatchSize: 10})
	now := time.Now().UTC()
	sw.Now = func() time.Time { return now }

	stale := types.NewFingerprint("Stuck in the pipeline", "reuters")
	fresh := types.NewFingerprint("Just arrived", "reuters")
	done := types.NewFingerprint("Already analyzed", "reuters")
	for fp, age := range map[types.Fingerprint]time.Duration{
		stale: 65 * time.Minute,
		fresh: 5 * time.Minute,
	} {
		if err := mem.InsertPending(context.Background(), &types.IngestedItem{
			Fingerprint: fp, SourceID: "reuters", ReceivedAt: now.Add(-age), Status: types.ItemPending,
		}); err != nil {
			t.Fatal(err)
		}
	}
	if err := mem.InsertPending(context.Background(), &types.IngestedItem{
		Fingerprint: done, SourceID: "reuters", ReceivedAt: now.Add(-2 * time.Hour), Status: types.ItemPending,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := mem.TransitionStatus(context.Background(), done, types.ItemPending, types.ItemAnalyzed); err != nil {
		t.Fatal(err)
	}

	n, err := sw.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("republished %d items, want 1", n)
	}
	if got := bus.Pending(); got != 1 {
		t.Fatalf("bus holds %d fingerprints, want 1", got)
	}

	// A second sweep finds the same item still pending and republishes it
	// again; idempotent consumers make that safe.
	n, err = sw.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("second sweep republished %d, want 1", n)
	}
}
