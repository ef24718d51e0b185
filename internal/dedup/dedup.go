// Package dedup guards the pipeline against processing the same story
// twice. Admission rides entirely on the store's insert-if-absent
// primitive; there is no read-then-write window to race through.
package dedup

import (
	"context"
	"fmt"

	"github.com/user/newspulse/internal/types"
)

type Dedup struct {
	store types.DedupStore
}

func New(store types.DedupStore) *Dedup {
	return &Dedup{store: store}
}

// AdmitIfNew returns true for exactly one caller per fingerprint. On store
// failure the item counts as not admitted; retrying later is safe because a
// second insert of an admitted fingerprint no-ops.
func (d *Dedup) AdmitIfNew(ctx context.Context, fp types.Fingerprint) (bool, error) {
	admitted, err := d.store.InsertFingerprintIfAbsent(ctx, fp)
	if err != nil {
		return false, fmt.Errorf("admit fingerprint %s: %w", fp, err)
	}
	return admitted, nil
}
