// Package timeseries maintains multi-resolution sentiment aggregates.
// One scored item fans out into a fixed resolution set; each bucket keeps
// an incrementally updated mean so merge order never matters.
package timeseries

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/user/newspulse/internal/types"
)

// resolutionSpec pairs a bucket width with how long its rows are kept.
// Finer resolutions age out sooner.
type resolutionSpec struct {
	res       types.Resolution
	width     time.Duration
	retention time.Duration
}

var resolutions = []resolutionSpec{
	{types.Res1m, time.Minute, 24 * time.Hour},
	{types.Res5m, 5 * time.Minute, 3 * 24 * time.Hour},
	{types.Res10m, 10 * time.Minute, 7 * 24 * time.Hour},
	{types.Res1h, time.Hour, 30 * 24 * time.Hour},
	{types.Res3h, 3 * time.Hour, 90 * 24 * time.Hour},
	{types.Res6h, 6 * time.Hour, 180 * 24 * time.Hour},
	{types.Res12h, 12 * time.Hour, 365 * 24 * time.Hour},
	{types.Res24h, 24 * time.Hour, 2 * 365 * 24 * time.Hour},
}

// Width returns the bucket duration for a resolution, or false for an
// unknown one.
func Width(res types.Resolution) (time.Duration, bool) {
	for _, spec := range resolutions {
		if spec.res == res {
			return spec.width, true
		}
	}
	return 0, false
}

// Resolutions lists the supported resolution identifiers, finest first.
func Resolutions() []types.Resolution {
	out := make([]types.Resolution, len(resolutions))
	for i, spec := range resolutions {
		out[i] = spec.res
	}
	return out
}

// Aggregator merges scores into every resolution's bucket row. Now is
// swappable for tests.
type Aggregator struct {
	buckets types.BucketStore
	Now     func() time.Time
}

func NewAggregator(buckets types.BucketStore) *Aggregator {
	return &Aggregator{buckets: buckets, Now: time.Now}
}

// Record merges one score into all resolutions for the subject, keyed by
// the item's event time. Writes are independent per resolution: a failed
// one is skipped, the rest still land, and the error reports exactly
// which resolutions are missing the sample.
func (a *Aggregator) Record(ctx context.Context, subject string, at time.Time, score float64) error {
	now := a.Now().UTC()
	var missed []string
	for _, spec := range resolutions {
		bucketStart := at.UTC().Truncate(spec.width)
		expiresAt := now.Add(spec.retention)
		if err := a.buckets.MergeScore(ctx, subject, spec.res, bucketStart, score, expiresAt); err != nil {
			slog.Error("merge score", "subject", subject, "resolution", string(spec.res), "error", err)
			missed = append(missed, string(spec.res))
		}
	}
	if len(missed) > 0 {
		return types.E(types.KindDataIntegrity, "%d of %d resolutions unwritten for %s: %s",
			len(missed), len(resolutions), subject, strings.Join(missed, ","))
	}
	return nil
}

// Range returns the bucket rows for one subject and resolution over
// [from, to).
func (a *Aggregator) Range(ctx context.Context, subject string, res types.Resolution, from, to time.Time) ([]*types.TimeseriesBucket, error) {
	if _, ok := Width(res); !ok {
		return nil, types.E(types.KindPermanent, "unknown resolution %q", res)
	}
	if !to.After(from) {
		return nil, types.E(types.KindPermanent, "empty range %s..%s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	return a.buckets.GetBucketRange(ctx, subject, res, from.UTC(), to.UTC())
}
