package wallet

import (
	"context"
	"fmt"

	"github.com/Klingon-tech/klingnet-ecash/internal/log"
	"github.com/Klingon-tech/klingnet-ecash/pkg/cashu"
)

// Restore scan parameters: counters are probed in batches, and the
// scan stops after this many consecutive batches with no signed
// outputs.
const (
	restoreBatchSize = 100
	restoreGapLimit  = 3
)

// Restore recovers deterministic proofs for a keyset from the seed
// alone: it re-derives outputs counter by counter, asks the mint
// which of them it has signed before, and reconstructs those proofs.
// The counter cursor is then advanced past the highest used index so
// future reservations never reuse a recovered secret.
//
// Recovered proofs may include already-spent ones; callers should
// check their state with the mint before trusting the balance.
func (w *Wallet) Restore(ctx context.Context, keysetID string) (cashu.Proofs, error) {
	if w.master == nil {
		return nil, fmt.Errorf("%w: restore requires a seed", ErrInvalidConfiguration)
	}
	keys, err := w.keysFor(ctx, keysetID)
	if err != nil {
		return nil, err
	}

	var (
		proofs       cashu.Proofs
		next         uint32
		highestUsed  int64 = -1
		emptyBatches int
	)
	for emptyBatches < restoreGapLimit {
		batch := make(cashu.BlindedMessages, 0, restoreBatchSize)
		byBlinded := make(map[string]*OutputData, restoreBatchSize)
		counterOf := make(map[string]uint32, restoreBatchSize)
		for i := range uint32(restoreBatchSize) {
			idx := next + i
			secret, err := DeriveSecret(w.master, keysetID, idx)
			if err != nil {
				return nil, err
			}
			r, err := DeriveBlindingFactor(w.master, keysetID, idx)
			if err != nil {
				return nil, err
			}
			// The amount is a placeholder; the mint matches restore
			// requests by blinded point alone.
			out, err := buildOutput(secret, r, 0, keysetID)
			if err != nil {
				return nil, err
			}
			batch = append(batch, out.Blinded)
			byBlinded[out.Blinded.B] = out
			counterOf[out.Blinded.B] = idx
		}

		result, err := w.client.Restore(ctx, batch)
		if err != nil {
			return nil, err
		}
		if len(result.Outputs) != len(result.Signatures) {
			return nil, fmt.Errorf("mint returned %d outputs with %d signatures",
				len(result.Outputs), len(result.Signatures))
		}

		matched := 0
		for i, out := range result.Outputs {
			od, ok := byBlinded[out.B]
			if !ok {
				continue
			}
			p, err := od.ToProof(result.Signatures[i], keys)
			if err != nil {
				return nil, fmt.Errorf("restore counter %d: %w", counterOf[out.B], err)
			}
			proofs = append(proofs, p)
			if int64(counterOf[out.B]) > highestUsed {
				highestUsed = int64(counterOf[out.B])
			}
			matched++
		}
		if matched == 0 {
			emptyBatches++
		} else {
			emptyBatches = 0
		}
		next += restoreBatchSize
	}

	if highestUsed >= 0 {
		if err := w.counters.AdvanceToAtLeast(keysetID, uint32(highestUsed)+1); err != nil {
			return nil, fmt.Errorf("advance counter after restore: %w", err)
		}
	}
	log.Wallet.Info().
		Str("keyset", keysetID).
		Int("proofs", len(proofs)).
		Int64("highest_counter", highestUsed).
		Msg("restore finished")
	return proofs, nil
}
