package cashu

import "encoding/hex"

// Keyset describes one versioned set of mint signing keys: an id, the
// unit it denominates, whether the mint still signs with it, and the
// per-input fee it charges (parts per thousand).
type Keyset struct {
	ID          string `json:"id"`
	Unit        string `json:"unit"`
	Active      bool   `json:"active"`
	InputFeePPK uint64 `json:"input_fee_ppk"`
	FinalExpiry int64  `json:"final_expiry,omitempty"` // unix seconds, 0 = none
}

// KeysetKeys maps a denomination amount to the mint's compressed
// public key (hex) for that amount.
type KeysetKeys map[uint64]string

// HasHexID reports whether the keyset id is hex-encoded. Modern
// keysets use hex ids; legacy base64 ids are excluded from active
// keyset selection.
func (k Keyset) HasHexID() bool {
	_, err := hex.DecodeString(k.ID)
	return err == nil
}
