// Package fanout carries admitted fingerprints from ingestion to the
// analysis stage. The publisher guarantees ordered at-least-once delivery
// and nothing more: dedup belongs to the dedup store, idempotency to the
// analysis consumer.
package fanout

import (
	"context"

	"github.com/user/newspulse/internal/types"
)

// MaxBatchSize caps one Publish call. Callers split larger sets themselves.
const MaxBatchSize = 10

// Publisher delivers fingerprint batches to the analysis stage. Publish
// failures are retried by the caller with bounded backoff, never inside
// the publisher.
type Publisher interface {
	Publish(ctx context.Context, batch []types.Fingerprint) error
}

// Consumer drives the analysis side: handler is invoked once per delivered
// fingerprint, possibly more than once across retries and replays.
type Consumer interface {
	Consume(ctx context.Context, handler func(context.Context, types.Fingerprint)) error
}

// Batches splits fingerprints into publisher-sized groups.
func Batches(fps []types.Fingerprint, size int) [][]types.Fingerprint {
	if size <= 0 {
		size = MaxBatchSize
	}
	var out [][]types.Fingerprint
	for len(fps) > 0 {
		n := size
		if len(fps) < n {
			n = len(fps)
		}
		out = append(out, fps[:n])
		fps = fps[n:]
	}
	return out
}
