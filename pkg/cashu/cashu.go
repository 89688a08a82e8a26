// Package cashu defines the core ecash data model: proofs, blinded
// messages and signatures, and keysets, in the wire shapes the mint
// speaks (JSON, NUT-00 field names).
package cashu

// Proof is a spendable ecash token: an amount, a secret, and the
// mint's (unblinded) signature over it. Proofs are immutable once
// issued and are uniquely identified by (ID, Secret).
type Proof struct {
	Amount  uint64 `json:"amount"`
	ID      string `json:"id"` // keyset id, hex
	Secret  string `json:"secret"`
	C       string `json:"C"` // signature point, compressed hex
	DLEQ    *DLEQ  `json:"dleq,omitempty"`
	Witness string `json:"witness,omitempty"`
}

// Proofs is a list of proofs.
type Proofs []Proof

// Amount returns the sum of all proof amounts.
func (ps Proofs) Amount() uint64 {
	var total uint64
	for _, p := range ps {
		total += p.Amount
	}
	return total
}

// DLEQ is a discrete-log equality proof attached to a signature,
// showing it was produced with a specific mint key (NUT-12).
type DLEQ struct {
	E string `json:"e"`
	S string `json:"s"`
	R string `json:"r,omitempty"` // blinding factor, only on proofs
}

// BlindedMessage is an output request sent to the mint: an amount and
// a blinded point B_ the mint signs without seeing the secret.
type BlindedMessage struct {
	Amount uint64 `json:"amount"`
	ID     string `json:"id"`
	B      string `json:"B_"` // blinded point, compressed hex
}

// BlindedMessages is a list of blinded messages.
type BlindedMessages []BlindedMessage

// Amount returns the sum of all blinded message amounts.
func (bs BlindedMessages) Amount() uint64 {
	var total uint64
	for _, b := range bs {
		total += b.Amount
	}
	return total
}

// BlindedSignature is the mint's signature over a blinded message.
type BlindedSignature struct {
	Amount uint64 `json:"amount"`
	ID     string `json:"id"`
	C      string `json:"C_"` // blinded signature point, compressed hex
	DLEQ   *DLEQ  `json:"dleq,omitempty"`
}

// BlindedSignatures is a list of blinded signatures.
type BlindedSignatures []BlindedSignature
