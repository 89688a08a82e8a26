package wallet

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-ecash/pkg/cashu"
)

// FeePPK looks up the per-input fee rate (parts per thousand) for a
// keyset id. Implementations are pure reads against the keyset
// registry.
type FeePPK func(keysetID string) (uint64, error)

// FeeForCount returns the fee charged for n inputs of one keyset:
// ceil(n * ppk / 1000). Rounding always goes up, biasing cost to the
// payer, never the mint.
func FeeForCount(n int, ppk uint64) uint64 {
	if n <= 0 {
		return 0
	}
	return (uint64(n)*ppk + 999) / 1000
}

// FeeForProofs sums each proof's fee ppk via the lookup and returns
// ceil(sum / 1000).
func FeeForProofs(proofs cashu.Proofs, ppk FeePPK) (uint64, error) {
	var sum uint64
	for _, p := range proofs {
		rate, err := ppk(p.ID)
		if err != nil {
			return 0, fmt.Errorf("fee rate for keyset %s: %w", p.ID, err)
		}
		sum += rate
	}
	return (sum + 999) / 1000, nil
}
