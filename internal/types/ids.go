// internal/types/ids.go
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

type SourceID string
type Fingerprint string
type ConnectionID string
type ReplayBatchID string

func NewConnectionID() ConnectionID {
	return ConnectionID(uuid.New().String())
}

func NewReplayBatchID() ReplayBatchID {
	return ReplayBatchID(uuid.New().String())
}

// NewFingerprint derives the dedup key from a headline and its source.
// The headline is lowercased and whitespace-collapsed first so that
// cosmetic differences between feeds carrying the same story hash
// identically.
func NewFingerprint(headline string, source SourceID) Fingerprint {
	normalized := strings.Join(strings.Fields(strings.ToLower(headline)), " ")
	sum := sha256.Sum256([]byte(normalized + "|" + string(source)))
	return Fingerprint(hex.EncodeToString(sum[:]))
}
