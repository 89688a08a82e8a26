package mintclient

import (
	"fmt"
	"strconv"

	"github.com/Klingon-tech/klingnet-ecash/pkg/cashu"
)

// Wire payloads for the mint's REST API. Field names follow the
// published protocol; amounts in key maps arrive as decimal strings.

type keysetsResponse struct {
	Keysets []cashu.Keyset `json:"keysets"`
}

type keysResponse struct {
	Keysets []struct {
		ID   string            `json:"id"`
		Unit string            `json:"unit"`
		Keys map[string]string `json:"keys"`
	} `json:"keysets"`
}

type swapRequest struct {
	Inputs  cashu.Proofs          `json:"inputs"`
	Outputs cashu.BlindedMessages `json:"outputs"`
}

type swapResponse struct {
	Signatures cashu.BlindedSignatures `json:"signatures"`
}

// MintQuote is the mint's offer to issue ecash against a payment.
type MintQuote struct {
	Quote   string `json:"quote"`
	Request string `json:"request"` // payment request to settle
	State   string `json:"state"`
	Expiry  int64  `json:"expiry"`
}

type mintQuoteRequest struct {
	Amount uint64 `json:"amount"`
	Unit   string `json:"unit"`
}

type mintRequest struct {
	Quote   string                `json:"quote"`
	Outputs cashu.BlindedMessages `json:"outputs"`
}

type mintResponse struct {
	Signatures cashu.BlindedSignatures `json:"signatures"`
}

// MeltQuote is the mint's offer to pay an external request in
// exchange for proofs. FeeReserve is the worst-case routing fee the
// inputs must additionally cover; the unused part comes back as
// change.
type MeltQuote struct {
	Quote      string `json:"quote"`
	Amount     uint64 `json:"amount"`
	FeeReserve uint64 `json:"fee_reserve"`
	State      string `json:"state"`
	Expiry     int64  `json:"expiry"`
}

// Melt quote states.
const (
	MeltStateUnpaid  = "UNPAID"
	MeltStatePending = "PENDING"
	MeltStatePaid    = "PAID"
)

type meltQuoteRequest struct {
	Request string `json:"request"`
	Unit    string `json:"unit"`
}

type meltRequest struct {
	Quote   string                `json:"quote"`
	Inputs  cashu.Proofs          `json:"inputs"`
	Outputs cashu.BlindedMessages `json:"outputs,omitempty"`
}

// MeltResult reports the outcome of a melt: the final state, the
// payment preimage when settled, and blank-output change signatures
// for the unused fee reserve.
type MeltResult struct {
	State    string                  `json:"state"`
	Preimage string                  `json:"payment_preimage,omitempty"`
	Change   cashu.BlindedSignatures `json:"change,omitempty"`
}

type restoreRequest struct {
	Outputs cashu.BlindedMessages `json:"outputs"`
}

// RestoreResult pairs the subset of submitted outputs the mint has
// signed before with their signatures, in matching order.
type RestoreResult struct {
	Outputs    cashu.BlindedMessages   `json:"outputs"`
	Signatures cashu.BlindedSignatures `json:"signatures"`
}

// parseKeys converts a string-keyed amount map into KeysetKeys.
func parseKeys(raw map[string]string) (cashu.KeysetKeys, error) {
	keys := make(cashu.KeysetKeys, len(raw))
	for amountStr, pub := range raw {
		amount, err := strconv.ParseUint(amountStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad amount %q in keyset keys: %w", amountStr, err)
		}
		keys[amount] = pub
	}
	return keys, nil
}
