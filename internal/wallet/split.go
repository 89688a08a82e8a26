package wallet

import (
	"fmt"
	"sort"

	"github.com/Klingon-tech/klingnet-ecash/pkg/cashu"
)

// defaultDenominationTarget is how many proofs of each denomination
// the planner tries to keep in stock when a proofsWeHave hint is
// supplied.
const defaultDenominationTarget = 3

// splitWithHint decomposes amount into denominations, ascending.
// Without a hint this is the canonical power-of-two split. With a
// hint, denominations the caller holds fewer than target of are
// filled in first, smallest upward, so the wallet's proof counts
// drift toward an even spread instead of accumulating variance.
func splitWithHint(amount uint64, have cashu.Proofs, target int) []uint64 {
	if amount == 0 {
		return nil
	}
	if len(have) == 0 {
		return cashu.Split(amount)
	}
	if target <= 0 {
		target = defaultDenominationTarget
	}

	counts := make(map[uint64]int, len(have))
	for _, p := range have {
		counts[p.Amount]++
	}

	var out []uint64
	remaining := amount
	for denom := uint64(1); denom <= remaining; denom <<= 1 {
		for counts[denom] < target && denom <= remaining {
			out = append(out, denom)
			counts[denom]++
			remaining -= denom
		}
	}
	out = append(out, cashu.Split(remaining)...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// validateDenominations checks a caller-supplied denomination list
// against the amount it must represent.
func validateDenominations(amount uint64, denominations []uint64) error {
	var sum uint64
	for _, d := range denominations {
		if d == 0 {
			return fmt.Errorf("%w: zero denomination", ErrInvalidConfiguration)
		}
		sum += d
	}
	if sum != amount {
		return fmt.Errorf("%w: denominations sum to %d, amount is %d",
			ErrInvalidConfiguration, sum, amount)
	}
	return nil
}
