package fanout

import (
	"context"

	"github.com/user/newspulse/internal/types"
)

// Memory is a channel-backed transport for tests and single-process runs.
// Delivery order matches publish order.
type Memory struct {
	ch chan types.Fingerprint
}

func NewMemory(buffer int) *Memory {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Memory{ch: make(chan types.Fingerprint, buffer)}
}

func (m *Memory) Publish(ctx context.Context, batch []types.Fingerprint) error {
	if len(batch) > MaxBatchSize {
		return types.E(types.KindPermanent, "batch of %d exceeds cap %d", len(batch), MaxBatchSize)
	}
	for _, fp := range batch {
		select {
		case m.ch <- fp:
		case <-ctx.Done():
			return ctx.Err()
		default:
			return types.E(types.KindTransientIO, "fanout buffer full")
		}
	}
	return nil
}

func (m *Memory) Consume(ctx context.Context, handler func(context.Context, types.Fingerprint)) error {
	for {
		select {
		case fp := <-m.ch:
			handler(ctx, fp)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Pending reports how many fingerprints are buffered but not yet consumed.
func (m *Memory) Pending() int {
	return len(m.ch)
}
