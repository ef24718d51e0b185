package timeseries

import (
	"context"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/user/newspulse/internal/store"
	"github.com/user/newspulse/internal/types"
)

func TestRecordFansOutToAllResolutions(t *testing.T) {
	mem := store.NewMemory()
	agg := NewAggregator(mem)
	at := time.Date(2026, 3, 14, 9, 37, 12, 0, time.UTC)

	if err := agg.Record(context.Background(), "AAPL", at, 0.6); err != nil {
		t.Fatalf("Record: %v", err)
	}

	for _, res := range Resolutions() {
		width, _ := Width(res)
		start := at.Truncate(width)
		buckets, err := mem.GetBucketRange(context.Background(), "AAPL", res, start, start.Add(width))
		if err != nil {
			t.Fatalf("GetBucketRange(%s): %v", res, err)
		}
		if len(buckets) != 1 {
			t.Fatalf("resolution %s: %d buckets, want 1", res, len(buckets))
		}
		b := buckets[0]
		if b.SampleCount != 1 || b.AggregateScore != 0.6 {
			t.Errorf("resolution %s: count=%d score=%f", res, b.SampleCount, b.AggregateScore)
		}
		if !b.BucketStart.Equal(start) {
			t.Errorf("resolution %s: bucket start %v, want %v", res, b.BucketStart, start)
		}
	}
}

func TestRecordBucketBoundaries(t *testing.T) {
	mem := store.NewMemory()
	agg := NewAggregator(mem)

	// 09:37 and 09:38 share the 5m bucket 09:35 but occupy distinct 1m
	// buckets.
	a := time.Date(2026, 3, 14, 9, 37, 0, 0, time.UTC)
	b := time.Date(2026, 3, 14, 9, 38, 0, 0, time.UTC)
	if err := agg.Record(context.Background(), "OIL", a, 0.2); err != nil {
		t.Fatal(err)
	}
	if err := agg.Record(context.Background(), "OIL", b, 0.8); err != nil {
		t.Fatal(err)
	}

	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	fiveMin, err := mem.GetBucketRange(context.Background(), "OIL", types.Res5m, day, day.Add(24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(fiveMin) != 1 {
		t.Fatalf("5m buckets = %d, want 1", len(fiveMin))
	}
	if got := fiveMin[0].AggregateScore; math.Abs(got-0.5) > 1e-9 {
		t.Errorf("5m mean = %f, want 0.5", got)
	}

	oneMin, err := mem.GetBucketRange(context.Background(), "OIL", types.Res1m, day, day.Add(24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(oneMin) != 2 {
		t.Fatalf("1m buckets = %d, want 2", len(oneMin))
	}
}

func TestRecordOrderIndependent(t *testing.T) {
	scores := []float64{0.9, -0.3, 0.1, 0.7, -0.8, 0.0, 0.4}
	at := time.Date(2026, 3, 14, 12, 0, 30, 0, time.UTC)

	mean := func(order []float64) float64 {
		mem := store.NewMemory()
		agg := NewAggregator(mem)
		for _, s := range order {
			if err := agg.Record(context.Background(), "SPX", at, s); err != nil {
				t.Fatal(err)
			}
		}
		buckets, err := mem.GetBucketRange(context.Background(), "SPX", types.Res1h,
			at.Truncate(time.Hour), at.Truncate(time.Hour).Add(time.Hour))
		if err != nil {
			t.Fatal(err)
		}
		if len(buckets) != 1 {
			t.Fatalf("buckets = %d", len(buckets))
		}
		if buckets[0].SampleCount != int64(len(order)) {
			t.Fatalf("sample count = %d", buckets[0].SampleCount)
		}
		return buckets[0].AggregateScore
	}

	forward := mean(scores)
	shuffled := append([]float64(nil), scores...)
	rand.New(rand.NewSource(42)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	if got := mean(shuffled); math.Abs(got-forward) > 1e-9 {
		t.Errorf("mean depends on merge order: %f vs %f", got, forward)
	}
}

// failingBuckets fails MergeScore for a chosen resolution.
type failingBuckets struct {
	types.BucketStore
	failRes types.Resolution
}

func (f *failingBuckets) MergeScore(ctx context.Context, subject string, res types.Resolution, bucketStart time.Time, score float64, expiresAt time.Time) error {
	if res == f.failRes {
		return types.E(types.KindTransientIO, "write failed")
	}
	return f.BucketStore.MergeScore(ctx, subject, res, bucketStart, score, expiresAt)
}

func TestRecordPartialFailure(t *testing.T) {
	mem := store.NewMemory()
	agg := NewAggregator(&failingBuckets{BucketStore: mem, failRes: types.Res1h})
	at := time.Date(2026, 3, 14, 15, 2, 0, 0, time.UTC)

	err := agg.Record(context.Background(), "FED", at, -0.5)
	if !types.IsKind(err, types.KindDataIntegrity) {
		t.Fatalf("err = %v, want data_integrity", err)
	}

	// The other seven resolutions still landed.
	for _, res := range Resolutions() {
		width, _ := Width(res)
		start := at.Truncate(width)
		buckets, berr := mem.GetBucketRange(context.Background(), "FED", res, start, start.Add(width))
		if berr != nil {
			t.Fatal(berr)
		}
		want := 1
		if res == types.Res1h {
			want = 0
		}
		if len(buckets) != want {
			t.Errorf("resolution %s: %d buckets, want %d", res, len(buckets), want)
		}
	}
}

func TestRangeValidation(t *testing.T) {
	agg := NewAggregator(store.NewMemory())
	now := time.Now().UTC()

	if _, err := agg.Range(context.Background(), "AAPL", "90s", now.Add(-time.Hour), now); !types.IsKind(err, types.KindPermanent) {
		t.Errorf("unknown resolution: err = %v", err)
	}
	if _, err := agg.Range(context.Background(), "AAPL", types.Res1h, now, now); !types.IsKind(err, types.KindPermanent) {
		t.Errorf("empty range: err = %v", err)
	}
	if _, err := agg.Range(context.Background(), "AAPL", types.Res1h, now.Add(-time.Hour), now); err != nil {
		t.Errorf("valid range: err = %v", err)
	}
}
