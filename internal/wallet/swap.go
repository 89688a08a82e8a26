package wallet

import (
	"fmt"
	"sort"

	"github.com/Klingon-tech/klingnet-ecash/pkg/cashu"
)

// SwapTransaction is one assembled swap: the inputs being spent, the
// merged keep+send outputs in the wire order the mint requires
// (ascending by amount), and the bookkeeping needed to map the mint's
// signatures back onto the caller's keep/send split. Constructed once
// per swap and discarded after the response is processed.
type SwapTransaction struct {
	Inputs  cashu.Proofs
	Outputs cashu.BlindedMessages // wire order

	// outputData holds the outputs in planning order: keep first,
	// then send.
	outputData []*OutputData
	keepCount  int

	// sortedIndices maps wire position to planning position;
	// keepVector marks which wire positions belong to the keep half.
	sortedIndices []int
	keepVector    []bool
}

// NewSwapTransaction merges keep and send output requests into the
// mint's wire order. The mint mandates ascending-amount output
// ordering; the recorded permutation makes the response mapping
// exact, because mixing up which signature belongs to which half
// would silently swap change with spend.
func NewSwapTransaction(inputs cashu.Proofs, keep, send []*OutputData) *SwapTransaction {
	planning := make([]*OutputData, 0, len(keep)+len(send))
	planning = append(planning, keep...)
	planning = append(planning, send...)

	indices := make([]int, len(planning))
	for i := range indices {
		indices[i] = i
	}
	sort.SliceStable(indices, func(a, b int) bool {
		return planning[indices[a]].Blinded.Amount < planning[indices[b]].Blinded.Amount
	})

	t := &SwapTransaction{
		Inputs:        inputs,
		Outputs:       make(cashu.BlindedMessages, len(planning)),
		outputData:    planning,
		keepCount:     len(keep),
		sortedIndices: indices,
		keepVector:    make([]bool, len(planning)),
	}
	for wire, plan := range indices {
		t.Outputs[wire] = planning[plan].Blinded
		t.keepVector[wire] = plan < len(keep)
	}
	return t
}

// KeepVector returns, per wire-order output, whether it belongs to
// the keep half.
func (t *SwapTransaction) KeepVector() []bool {
	return append([]bool(nil), t.keepVector...)
}

// SortedIndices returns the wire-order → planning-order mapping.
func (t *SwapTransaction) SortedIndices() []int {
	return append([]int(nil), t.sortedIndices...)
}

// Partition turns the mint's signatures (one per wire-order output)
// back into keep and send proofs in planning order, inverting the
// wire permutation.
func (t *SwapTransaction) Partition(sigs cashu.BlindedSignatures, keys cashu.KeysetKeys) (keep, send cashu.Proofs, err error) {
	if len(sigs) != len(t.outputData) {
		return nil, nil, fmt.Errorf("mint returned %d signatures for %d outputs", len(sigs), len(t.outputData))
	}

	proofs := make([]cashu.Proof, len(t.outputData)) // planning order
	for wire, sig := range sigs {
		plan := t.sortedIndices[wire]
		p, err := t.outputData[plan].ToProof(sig, keys)
		if err != nil {
			return nil, nil, fmt.Errorf("output %d: %w", wire, err)
		}
		proofs[plan] = p
	}
	return proofs[:t.keepCount], proofs[t.keepCount:], nil
}
