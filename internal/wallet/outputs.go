package wallet

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/tyler-smith/go-bip32"

	"github.com/Klingon-tech/klingnet-ecash/internal/counter"
	"github.com/Klingon-tech/klingnet-ecash/internal/log"
	"github.com/Klingon-tech/klingnet-ecash/pkg/cashu"
	"github.com/Klingon-tech/klingnet-ecash/pkg/crypto"
)

// OutputData is one planned output request: the blinded message sent
// to the mint plus the secret and blinding factor needed to turn the
// mint's signature into a spendable proof. Never reused across
// operations.
type OutputData struct {
	Blinded cashu.BlindedMessage
	Secret  []byte
	R       *secp256k1.PrivateKey
}

// ToProof unblinds a signature for this output into a proof, using
// the mint's public key for the signed amount. When the signature
// carries a DLEQ proof it is verified first and embedded in the proof
// (with the blinding factor) for later offline verification.
func (o *OutputData) ToProof(sig cashu.BlindedSignature, keys cashu.KeysetKeys) (cashu.Proof, error) {
	keyHex, ok := keys[sig.Amount]
	if !ok {
		return cashu.Proof{}, fmt.Errorf("keyset %s has no key for amount %d", sig.ID, sig.Amount)
	}
	mintKey, err := crypto.ParsePubKey(keyHex)
	if err != nil {
		return cashu.Proof{}, err
	}
	blindedSig, err := crypto.ParsePubKey(sig.C)
	if err != nil {
		return cashu.Proof{}, err
	}

	var dleq *cashu.DLEQ
	if sig.DLEQ != nil {
		e, err := crypto.ParseScalar(sig.DLEQ.E)
		if err != nil {
			return cashu.Proof{}, fmt.Errorf("dleq e: %w", err)
		}
		s, err := crypto.ParseScalar(sig.DLEQ.S)
		if err != nil {
			return cashu.Proof{}, fmt.Errorf("dleq s: %w", err)
		}
		blindedMsg, err := crypto.ParsePubKey(o.Blinded.B)
		if err != nil {
			return cashu.Proof{}, err
		}
		if !crypto.VerifyDLEQ(e, s, mintKey, blindedMsg, blindedSig) {
			return cashu.Proof{}, fmt.Errorf("dleq verification failed for amount %d", sig.Amount)
		}
		dleq = &cashu.DLEQ{
			E: sig.DLEQ.E,
			S: sig.DLEQ.S,
			R: crypto.HexScalar(&o.R.Key),
		}
	}

	c := crypto.UnblindSignature(blindedSig, o.R, mintKey)
	return cashu.Proof{
		Amount: sig.Amount,
		ID:     sig.ID,
		Secret: string(o.Secret),
		C:      crypto.HexPubKey(c),
		DLEQ:   dleq,
	}, nil
}

// OutputPolicy selects how output secrets are produced. Exactly one
// of the closed set of variants below is supplied per operation.
type OutputPolicy interface {
	isOutputPolicy()
}

// RandomPolicy produces outputs with fresh random secrets.
type RandomPolicy struct {
	Denominations []uint64 // optional explicit split, must sum to amount
}

// DeterministicPolicy derives secrets from the wallet seed at
// monotonic counter indices. Counter 0 means "reserve indices for me
// atomically"; a positive counter asserts the caller already owns the
// range and skips reservation.
type DeterministicPolicy struct {
	Counter       uint32
	Denominations []uint64
}

// LockedPolicy produces P2PK-locked outputs spendable only with the
// named key.
type LockedPolicy struct {
	Lock          LockOptions
	Denominations []uint64
}

// FactoryPolicy delegates output construction to a caller-supplied
// function, once per denomination.
type FactoryPolicy struct {
	New           OutputFactory
	Denominations []uint64
}

// CustomPolicy uses pre-built outputs verbatim, bypassing splitting
// entirely. Incompatible with fee augmentation: custom outputs cannot
// absorb an additional fee amount.
type CustomPolicy struct {
	Outputs []*OutputData
}

func (RandomPolicy) isOutputPolicy()        {}
func (DeterministicPolicy) isOutputPolicy() {}
func (LockedPolicy) isOutputPolicy()        {}
func (FactoryPolicy) isOutputPolicy()       {}
func (CustomPolicy) isOutputPolicy()        {}

// OutputFactory builds one output for a denomination.
type OutputFactory func(amount uint64, keysetID string) (*OutputData, error)

// LockOptions describes a P2PK lock.
type LockOptions struct {
	PubKey     string   // compressed hex, required
	LockTime   int64    // unix seconds after which refund keys may spend, 0 = none
	RefundKeys []string // compressed hex
}

// PlanRequest is the input to Planner.Plan.
type PlanRequest struct {
	Amount uint64
	Keyset cashu.Keyset
	Policy OutputPolicy

	// IncludeFees augments the amount so the receiver can spend the
	// resulting proofs without coming up short on their own swap fee.
	IncludeFees bool

	// ProofsWeHave steers the denomination split toward amounts the
	// caller is low on. Optional.
	ProofsWeHave cashu.Proofs

	// DenominationTarget overrides the per-denomination stock target
	// used with ProofsWeHave. Zero means the default.
	DenominationTarget int
}

// maxFeeAugmentRounds caps the fee-inclusive fixed-point iteration.
// Each round adds at least one denomination, and for any fee rate
// below 1000 ppk the added fee shrinks every round, so realistic
// configurations converge in one or two passes.
const maxFeeAugmentRounds = 32

// Planner turns an amount and a policy into concrete output requests.
type Planner struct {
	counters counter.Source
	master   *bip32.Key // nil when no seed is configured
}

// NewPlanner creates a planner. master may be nil; deterministic
// policies then fail with ErrInvalidConfiguration.
func NewPlanner(counters counter.Source, master *bip32.Key) *Planner {
	return &Planner{counters: counters, master: master}
}

// Plan produces the ordered output requests for a request. For
// deterministic policies with counter 0 it also returns the counter
// reservation that was made, so callers can persist recovery state.
func (p *Planner) Plan(req PlanRequest) ([]*OutputData, *counter.Operation, error) {
	if custom, ok := req.Policy.(CustomPolicy); ok {
		if req.IncludeFees {
			return nil, nil, fmt.Errorf("%w: custom outputs cannot include fees", ErrInvalidConfiguration)
		}
		return custom.Outputs, nil, nil
	}

	if req.Amount == 0 {
		log.Planner.Warn().Msg("plan called with zero amount")
		return nil, nil, nil
	}

	denoms, err := p.denominations(req)
	if err != nil {
		return nil, nil, err
	}
	if req.IncludeFees {
		denoms = augmentForFees(denoms, req.Keyset.InputFeePPK)
	}

	switch pol := req.Policy.(type) {
	case RandomPolicy:
		return p.randomOutputs(denoms, req.Keyset.ID)
	case DeterministicPolicy:
		return p.deterministicOutputs(denoms, req.Keyset.ID, pol.Counter)
	case LockedPolicy:
		return p.lockedOutputs(denoms, req.Keyset.ID, pol.Lock)
	case FactoryPolicy:
		return p.factoryOutputs(denoms, req.Keyset.ID, pol.New)
	default:
		return nil, nil, fmt.Errorf("%w: unknown output policy %T", ErrInvalidConfiguration, req.Policy)
	}
}

// denominations resolves the split: explicit (validated) or computed.
func (p *Planner) denominations(req PlanRequest) ([]uint64, error) {
	var explicit []uint64
	switch pol := req.Policy.(type) {
	case RandomPolicy:
		explicit = pol.Denominations
	case DeterministicPolicy:
		explicit = pol.Denominations
	case LockedPolicy:
		explicit = pol.Denominations
	case FactoryPolicy:
		explicit = pol.Denominations
	}
	if explicit != nil {
		if err := validateDenominations(req.Amount, explicit); err != nil {
			return nil, err
		}
		return append([]uint64(nil), explicit...), nil
	}
	return splitWithHint(req.Amount, req.ProofsWeHave, req.DenominationTarget), nil
}

// augmentForFees appends unit denominations until they cover the
// receiver's future spend fee for a split of the resulting size. The
// fee depends on the output count, which the added units themselves
// increase, so this iterates to a fixed point.
func augmentForFees(denoms []uint64, ppk uint64) []uint64 {
	if ppk == 0 {
		return denoms
	}
	fee := FeeForCount(len(denoms), ppk)
	var added uint64
	for range maxFeeAugmentRounds {
		if added >= fee {
			break
		}
		for added < fee {
			denoms = append(denoms, 1)
			added++
		}
		fee = FeeForCount(len(denoms), ppk)
	}
	sort.Slice(denoms, func(i, j int) bool { return denoms[i] < denoms[j] })
	return denoms
}

// buildOutput blinds a secret into an output request.
func buildOutput(secret []byte, r *secp256k1.PrivateKey, amount uint64, keysetID string) (*OutputData, error) {
	blinded, err := crypto.BlindMessage(secret, r)
	if err != nil {
		return nil, fmt.Errorf("blind message: %w", err)
	}
	return &OutputData{
		Blinded: cashu.BlindedMessage{
			Amount: amount,
			ID:     keysetID,
			B:      crypto.HexPubKey(blinded),
		},
		Secret: secret,
		R:      r,
	}, nil
}

func (p *Planner) randomOutputs(denoms []uint64, keysetID string) ([]*OutputData, *counter.Operation, error) {
	outputs := make([]*OutputData, 0, len(denoms))
	for _, d := range denoms {
		secret, err := randomSecret()
		if err != nil {
			return nil, nil, err
		}
		r, err := crypto.GenerateBlindingFactor()
		if err != nil {
			return nil, nil, err
		}
		out, err := buildOutput(secret, r, d, keysetID)
		if err != nil {
			return nil, nil, err
		}
		outputs = append(outputs, out)
	}
	return outputs, nil, nil
}

func (p *Planner) deterministicOutputs(denoms []uint64, keysetID string, start uint32) ([]*OutputData, *counter.Operation, error) {
	if p.master == nil {
		return nil, nil, fmt.Errorf("%w: deterministic outputs require a seed", ErrInvalidConfiguration)
	}

	var op *counter.Operation
	if start == 0 {
		r, err := p.counters.Reserve(keysetID, len(denoms))
		if err != nil {
			return nil, nil, fmt.Errorf("reserve counters: %w", err)
		}
		start = r.Start
		op = &counter.Operation{
			KeysetID: keysetID,
			Start:    r.Start,
			Count:    r.Count,
			Next:     r.Start + r.Count,
		}
		log.Counter.Debug().
			Str("keyset", keysetID).
			Uint32("start", r.Start).
			Uint32("count", r.Count).
			Msg("reserved counter range")
	}

	outputs := make([]*OutputData, 0, len(denoms))
	for i, d := range denoms {
		idx := start + uint32(i)
		secret, err := DeriveSecret(p.master, keysetID, idx)
		if err != nil {
			return nil, nil, err
		}
		r, err := DeriveBlindingFactor(p.master, keysetID, idx)
		if err != nil {
			return nil, nil, err
		}
		out, err := buildOutput(secret, r, d, keysetID)
		if err != nil {
			return nil, nil, err
		}
		outputs = append(outputs, out)
	}
	return outputs, op, nil
}

func (p *Planner) lockedOutputs(denoms []uint64, keysetID string, lock LockOptions) ([]*OutputData, *counter.Operation, error) {
	if lock.PubKey == "" {
		return nil, nil, fmt.Errorf("%w: locked outputs require a public key", ErrInvalidConfiguration)
	}
	outputs := make([]*OutputData, 0, len(denoms))
	for _, d := range denoms {
		secret, err := p2pkSecret(lock)
		if err != nil {
			return nil, nil, err
		}
		r, err := crypto.GenerateBlindingFactor()
		if err != nil {
			return nil, nil, err
		}
		out, err := buildOutput(secret, r, d, keysetID)
		if err != nil {
			return nil, nil, err
		}
		outputs = append(outputs, out)
	}
	return outputs, nil, nil
}

func (p *Planner) factoryOutputs(denoms []uint64, keysetID string, factory OutputFactory) ([]*OutputData, *counter.Operation, error) {
	if factory == nil {
		return nil, nil, fmt.Errorf("%w: factory policy without factory", ErrInvalidConfiguration)
	}
	outputs := make([]*OutputData, 0, len(denoms))
	for _, d := range denoms {
		out, err := factory(d, keysetID)
		if err != nil {
			return nil, nil, fmt.Errorf("output factory: %w", err)
		}
		outputs = append(outputs, out)
	}
	return outputs, nil, nil
}

// randomSecret returns a fresh 32-byte secret, hex-encoded as the
// wire expects.
func randomSecret() ([]byte, error) {
	var raw [32]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	return []byte(hex.EncodeToString(raw[:])), nil
}

// p2pkSecret encodes a well-known P2PK spending condition.
func p2pkSecret(lock LockOptions) ([]byte, error) {
	nonce, err := randomSecret()
	if err != nil {
		return nil, err
	}
	data := struct {
		Nonce string     `json:"nonce"`
		Data  string     `json:"data"`
		Tags  [][]string `json:"tags,omitempty"`
	}{
		Nonce: string(nonce[:32]),
		Data:  lock.PubKey,
	}
	if lock.LockTime > 0 {
		data.Tags = append(data.Tags, []string{"locktime", strconv.FormatInt(lock.LockTime, 10)})
	}
	if len(lock.RefundKeys) > 0 {
		data.Tags = append(data.Tags, append([]string{"refund"}, lock.RefundKeys...))
	}
	secret, err := json.Marshal([2]any{"P2PK", data})
	if err != nil {
		return nil, fmt.Errorf("encode p2pk secret: %w", err)
	}
	return secret, nil
}
