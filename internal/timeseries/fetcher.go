package timeseries

import (
	"context"
	"encoding/json"
	"time"

	"github.com/user/newspulse/internal/types"
)

// RangePayload is the JSON shape served for a range query.
type RangePayload struct {
	Subject    string                    `json:"subject"`
	Resolution types.Resolution          `json:"resolution"`
	From       time.Time                 `json:"from"`
	To         time.Time                 `json:"to"`
	Buckets    []*types.TimeseriesBucket `json:"buckets"`
}

// Fetcher adapts the aggregator's Range to the cache's fetch interface.
type Fetcher struct {
	agg *Aggregator
}

func NewFetcher(agg *Aggregator) *Fetcher {
	return &Fetcher{agg: agg}
}

func (f *Fetcher) FetchRange(ctx context.Context, subject string, res types.Resolution, from, to time.Time) ([]byte, error) {
	buckets, err := f.agg.Range(ctx, subject, res, from, to)
	if err != nil {
		return nil, err
	}
	if buckets == nil {
		buckets = []*types.TimeseriesBucket{}
	}
	payload := RangePayload{
		Subject:    subject,
		Resolution: res,
		From:       from.UTC(),
		To:         to.UTC(),
		Buckets:    buckets,
	}
	return json.Marshal(payload)
}
