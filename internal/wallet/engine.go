// Package wallet implements the transaction core of an ecash wallet:
// proof selection, output planning, swap assembly, and the mint-facing
// send/receive/mint/melt operations.
package wallet

import (
	"context"
	"fmt"
	"math/bits"
	"sync"

	"github.com/tyler-smith/go-bip32"

	"github.com/Klingon-tech/klingnet-ecash/internal/counter"
	"github.com/Klingon-tech/klingnet-ecash/internal/log"
	"github.com/Klingon-tech/klingnet-ecash/internal/mintclient"
	"github.com/Klingon-tech/klingnet-ecash/pkg/cashu"
)

// MintClient is the transport to the issuing mint. *mintclient.Client
// satisfies it; tests substitute an in-process mint.
type MintClient interface {
	URL() string
	Keysets(ctx context.Context) ([]cashu.Keyset, error)
	Keys(ctx context.Context, keysetID string) (cashu.KeysetKeys, error)
	Swap(ctx context.Context, inputs cashu.Proofs, outputs cashu.BlindedMessages) (cashu.BlindedSignatures, error)
	MintQuote(ctx context.Context, amount uint64, unit string) (mintclient.MintQuote, error)
	Mint(ctx context.Context, quoteID string, outputs cashu.BlindedMessages) (cashu.BlindedSignatures, error)
	MeltQuote(ctx context.Context, request, unit string) (mintclient.MeltQuote, error)
	Melt(ctx context.Context, quoteID string, inputs cashu.Proofs, outputs cashu.BlindedMessages) (mintclient.MeltResult, error)
	Restore(ctx context.Context, outputs cashu.BlindedMessages) (mintclient.RestoreResult, error)
}

// Options configures a Wallet.
type Options struct {
	Client MintClient
	Unit   string // default "sat"

	// Counters allocates deterministic secret indices. Defaults to
	// an in-memory source; pass a store-backed one for persistence.
	Counters counter.Source

	// Seed enables deterministic outputs and restore. 64 bytes
	// (BIP-39). Optional.
	Seed []byte

	// Select tunes proof selection.
	Select SelectConfig
}

// Wallet composes the selection, planning, and assembly layers per
// operation and exchanges outputs for signatures with the mint.
// Multiple operations may be in flight concurrently; the only shared
// mutable state is the counter source (serialized per keyset) and the
// keyset cache below.
type Wallet struct {
	client   MintClient
	unit     string
	counters counter.Source
	planner  *Planner
	master   *bip32.Key
	selCfg   SelectConfig

	mu      sync.RWMutex
	keysets map[string]cashu.Keyset
	keys    map[string]cashu.KeysetKeys

	// OnCountersReserved fires after a counter reservation so callers
	// can persist recovery state. OnChangeOutputsCreated fires after
	// change outputs are built. Both are best-effort: a panicking
	// callback is logged and swallowed, never propagated.
	OnCountersReserved     func(counter.Operation)
	OnChangeOutputsCreated func([]*OutputData)
}

// New creates a wallet for one mint.
func New(opts Options) (*Wallet, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("%w: mint client is required", ErrInvalidConfiguration)
	}
	if opts.Unit == "" {
		opts.Unit = "sat"
	}
	if opts.Counters == nil {
		opts.Counters = counter.NewMemory()
	}
	var master *bip32.Key
	if opts.Seed != nil {
		var err error
		master, err = DeriveMasterKey(opts.Seed)
		if err != nil {
			return nil, err
		}
	}
	return &Wallet{
		client:   opts.Client,
		unit:     opts.Unit,
		counters: opts.Counters,
		planner:  NewPlanner(opts.Counters, master),
		master:   master,
		selCfg:   opts.Select,
		keysets:  make(map[string]cashu.Keyset),
		keys:     make(map[string]cashu.KeysetKeys),
	}, nil
}

// Counters exposes the counter source for advanced and offline use.
func (w *Wallet) Counters() counter.Source {
	return w.counters
}

// Unit returns the wallet's denomination unit.
func (w *Wallet) Unit() string {
	return w.unit
}

// LoadKeysets refreshes the keyset cache from the mint.
func (w *Wallet) LoadKeysets(ctx context.Context) error {
	keysets, err := w.client.Keysets(ctx)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ks := range keysets {
		w.keysets[ks.ID] = ks
	}
	log.Wallet.Debug().Int("keysets", len(keysets)).Msg("keysets refreshed")
	return nil
}

// Keyset looks up a cached keyset by id, refreshing once on a miss.
func (w *Wallet) Keyset(ctx context.Context, id string) (cashu.Keyset, error) {
	w.mu.RLock()
	ks, ok := w.keysets[id]
	w.mu.RUnlock()
	if ok {
		return ks, nil
	}
	if err := w.LoadKeysets(ctx); err != nil {
		return cashu.Keyset{}, err
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	ks, ok = w.keysets[id]
	if !ok {
		return cashu.Keyset{}, fmt.Errorf("unknown keyset %s", id)
	}
	return ks, nil
}

// ActiveKeyset returns the cheapest active hex-identified keyset for
// the wallet's unit.
func (w *Wallet) ActiveKeyset(ctx context.Context) (cashu.Keyset, error) {
	w.mu.RLock()
	empty := len(w.keysets) == 0
	w.mu.RUnlock()
	if empty {
		if err := w.LoadKeysets(ctx); err != nil {
			return cashu.Keyset{}, err
		}
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	var best cashu.Keyset
	found := false
	for _, ks := range w.keysets {
		if !ks.Active || ks.Unit != w.unit || !ks.HasHexID() {
			continue
		}
		if !found || ks.InputFeePPK < best.InputFeePPK {
			best = ks
			found = true
		}
	}
	if !found {
		return cashu.Keyset{}, fmt.Errorf("mint has no active %s keyset", w.unit)
	}
	return best, nil
}

// feeRate is the FeePPK lookup over the keyset cache.
func (w *Wallet) feeRate(keysetID string) (uint64, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	ks, ok := w.keysets[keysetID]
	if !ok {
		return 0, fmt.Errorf("unknown keyset %s", keysetID)
	}
	return ks.InputFeePPK, nil
}

// keysFor fetches and caches the public keys of a keyset.
func (w *Wallet) keysFor(ctx context.Context, keysetID string) (cashu.KeysetKeys, error) {
	w.mu.RLock()
	keys, ok := w.keys[keysetID]
	w.mu.RUnlock()
	if ok {
		return keys, nil
	}
	keys, err := w.client.Keys(ctx, keysetID)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	w.keys[keysetID] = keys
	w.mu.Unlock()
	return keys, nil
}

// SelectProofsToSend runs proof selection with the wallet's fee model
// and tuning. Exposed for advanced and offline use.
func (w *Wallet) SelectProofsToSend(proofs cashu.Proofs, amount uint64, includeFees, exact bool) (Selection, error) {
	return SelectProofs(SelectRequest{
		Proofs:      proofs,
		Target:      amount,
		IncludeFees: includeFees,
		Exact:       exact,
		FeePPK:      w.feeRate,
		Config:      w.selCfg,
	})
}

// SendRequest describes a send operation.
type SendRequest struct {
	Amount uint64
	Proofs cashu.Proofs
	Policy OutputPolicy // secrets for the send outputs; nil means random

	// IncludeFees augments the send amount so the receiver's own
	// swap fee is covered.
	IncludeFees bool
}

// SendResponse partitions the caller's proofs after a send: Send is
// handed to the payee, Keep (unselected proofs plus change) stays.
type SendResponse struct {
	Keep cashu.Proofs
	Send cashu.Proofs
}

// Send prepares proofs worth amount for a payee. When the selection
// lands exactly on the fee-adjusted amount the selected proofs are
// returned as-is (offline send, no mint round trip); otherwise the
// selection is swapped at the mint for an exact send set plus change.
func (w *Wallet) Send(ctx context.Context, req SendRequest) (SendResponse, error) {
	if req.Amount == 0 {
		return SendResponse{}, fmt.Errorf("%w: zero amount", ErrInvalidConfiguration)
	}
	ks, err := w.ActiveKeyset(ctx)
	if err != nil {
		return SendResponse{}, err
	}

	policy := req.Policy
	if policy == nil {
		policy = RandomPolicy{}
	}

	// Fee-inclusive sends hand the payee more than the face amount,
	// so selection must target the planned output total, not the face
	// amount. The split below is the same one Plan will compute.
	sendTarget := req.Amount
	if req.IncludeFees {
		if _, ok := policy.(CustomPolicy); ok {
			return SendResponse{}, fmt.Errorf("%w: custom outputs cannot include fees", ErrInvalidConfiguration)
		}
		denoms, err := w.planner.denominations(PlanRequest{Amount: req.Amount, Keyset: ks, Policy: policy})
		if err != nil {
			return SendResponse{}, err
		}
		sendTarget = 0
		for _, d := range augmentForFees(denoms, ks.InputFeePPK) {
			sendTarget += d
		}
	}

	sel, err := w.SelectProofsToSend(req.Proofs, sendTarget, true, false)
	if err != nil {
		return SendResponse{}, err
	}
	if len(sel.Send) == 0 {
		return SendResponse{}, fmt.Errorf("%w: have %d, need %d",
			ErrInsufficientFunds, req.Proofs.Amount(), sendTarget)
	}

	inputFee, err := FeeForProofs(sel.Send, w.feeRate)
	if err != nil {
		return SendResponse{}, err
	}
	if !req.IncludeFees && sel.Send.Amount()-inputFee == req.Amount {
		log.Wallet.Debug().Uint64("amount", req.Amount).Msg("offline send, no swap needed")
		return SendResponse(sel), nil
	}

	sendOutputs, sendOp, err := w.planner.Plan(PlanRequest{
		Amount:      req.Amount,
		Keyset:      ks,
		Policy:      policy,
		IncludeFees: req.IncludeFees,
	})
	if err != nil {
		return SendResponse{}, err
	}
	w.notifyCounters(sendOp)

	sendTotal := uint64(0)
	for _, o := range sendOutputs {
		sendTotal += o.Blinded.Amount
	}
	available := sel.Send.Amount() - inputFee
	if available < sendTotal {
		return SendResponse{}, fmt.Errorf("%w: selected %d after fees, need %d",
			ErrInsufficientFunds, available, sendTotal)
	}

	keepOutputs, keepOp, err := w.planChange(available-sendTotal, ks, sel.Keep)
	if err != nil {
		return SendResponse{}, err
	}
	w.notifyCounters(keepOp)

	tx := NewSwapTransaction(sel.Send, keepOutputs, sendOutputs)
	sigs, err := w.client.Swap(ctx, tx.Inputs, tx.Outputs)
	if err != nil {
		// Reserved counters are not rolled back: indices may be
		// skipped, never reused.
		return SendResponse{}, err
	}
	keys, err := w.keysFor(ctx, ks.ID)
	if err != nil {
		return SendResponse{}, err
	}
	keepProofs, sendProofs, err := tx.Partition(sigs, keys)
	if err != nil {
		return SendResponse{}, err
	}
	w.notifyChange(keepOutputs)

	return SendResponse{
		Keep: append(append(cashu.Proofs(nil), sel.Keep...), keepProofs...),
		Send: sendProofs,
	}, nil
}

// planChange plans wallet-owned change outputs: deterministic when a
// seed is configured, random otherwise.
func (w *Wallet) planChange(amount uint64, ks cashu.Keyset, have cashu.Proofs) ([]*OutputData, *counter.Operation, error) {
	if amount == 0 {
		return nil, nil, nil
	}
	var policy OutputPolicy = RandomPolicy{}
	if w.master != nil {
		policy = DeterministicPolicy{}
	}
	return w.planner.Plan(PlanRequest{
		Amount:       amount,
		Keyset:       ks,
		Policy:       policy,
		ProofsWeHave: have,
	})
}

// Receive swaps a token's proofs for fresh ones owned by this wallet.
// The input fee is deducted, so the result nets slightly less than
// the token's face value on fee-charging keysets.
func (w *Wallet) Receive(ctx context.Context, token cashu.Token, policy OutputPolicy) (cashu.Proofs, error) {
	if len(token.Proofs) == 0 {
		return nil, fmt.Errorf("%w: token has no proofs", ErrInvalidConfiguration)
	}
	if err := w.LoadKeysets(ctx); err != nil {
		return nil, err
	}
	ks, err := w.ActiveKeyset(ctx)
	if err != nil {
		return nil, err
	}
	fee, err := FeeForProofs(token.Proofs, w.feeRate)
	if err != nil {
		return nil, err
	}
	if token.Proofs.Amount() <= fee {
		return nil, fmt.Errorf("%w: token worth %d does not cover the %d input fee",
			ErrInsufficientFunds, token.Proofs.Amount(), fee)
	}

	if policy == nil {
		if w.master != nil {
			policy = DeterministicPolicy{}
		} else {
			policy = RandomPolicy{}
		}
	}
	outputs, op, err := w.planner.Plan(PlanRequest{
		Amount: token.Proofs.Amount() - fee,
		Keyset: ks,
		Policy: policy,
	})
	if err != nil {
		return nil, err
	}
	w.notifyCounters(op)

	tx := NewSwapTransaction(token.Proofs, outputs, nil)
	sigs, err := w.client.Swap(ctx, tx.Inputs, tx.Outputs)
	if err != nil {
		return nil, err
	}
	keys, err := w.keysFor(ctx, ks.ID)
	if err != nil {
		return nil, err
	}
	proofs, _, err := tx.Partition(sigs, keys)
	if err != nil {
		return nil, err
	}
	return proofs, nil
}

// MintProofs redeems a paid mint quote for new proofs.
func (w *Wallet) MintProofs(ctx context.Context, amount uint64, quoteID string, policy OutputPolicy) (cashu.Proofs, error) {
	if amount == 0 {
		return nil, fmt.Errorf("%w: zero amount", ErrInvalidConfiguration)
	}
	ks, err := w.ActiveKeyset(ctx)
	if err != nil {
		return nil, err
	}
	if policy == nil {
		if w.master != nil {
			policy = DeterministicPolicy{}
		} else {
			policy = RandomPolicy{}
		}
	}
	outputs, op, err := w.planner.Plan(PlanRequest{
		Amount: amount,
		Keyset: ks,
		Policy: policy,
	})
	if err != nil {
		return nil, err
	}
	w.notifyCounters(op)

	tx := NewSwapTransaction(nil, outputs, nil)
	sigs, err := w.client.Mint(ctx, quoteID, tx.Outputs)
	if err != nil {
		return nil, err
	}
	keys, err := w.keysFor(ctx, ks.ID)
	if err != nil {
		return nil, err
	}
	proofs, _, err := tx.Partition(sigs, keys)
	if err != nil {
		return nil, err
	}
	return proofs, nil
}

// MeltResponse reports a completed melt: the final quote state and
// any change proofs reconstructed from the unused fee reserve.
type MeltResponse struct {
	Result mintclient.MeltResult
	Change cashu.Proofs
}

// MeltProofs pays a quoted external request with the given proofs.
// The proofs must cover the quote amount, the fee reserve, and their
// own input fee. Blank change outputs let the mint return the unused
// part of the reserve.
func (w *Wallet) MeltProofs(ctx context.Context, quote mintclient.MeltQuote, proofs cashu.Proofs, policy OutputPolicy) (MeltResponse, error) {
	ks, err := w.ActiveKeyset(ctx)
	if err != nil {
		return MeltResponse{}, err
	}
	inputFee, err := FeeForProofs(proofs, w.feeRate)
	if err != nil {
		return MeltResponse{}, err
	}
	required := quote.Amount + quote.FeeReserve + inputFee
	if proofs.Amount() < required {
		return MeltResponse{}, fmt.Errorf("%w: have %d, melt requires %d",
			ErrInsufficientFunds, proofs.Amount(), required)
	}

	outputs, op, err := w.planBlankOutputs(quote.FeeReserve, ks, policy)
	if err != nil {
		return MeltResponse{}, err
	}
	w.notifyCounters(op)

	var blinded cashu.BlindedMessages
	for _, o := range outputs {
		blinded = append(blinded, o.Blinded)
	}
	result, err := w.client.Melt(ctx, quote.Quote, proofs, blinded)
	if err != nil {
		return MeltResponse{}, err
	}
	w.notifyChange(outputs)

	keys, err := w.keysFor(ctx, ks.ID)
	if err != nil {
		return MeltResponse{}, err
	}
	var change cashu.Proofs
	for i, sig := range result.Change {
		if i >= len(outputs) {
			break
		}
		p, err := outputs[i].ToProof(sig, keys)
		if err != nil {
			return MeltResponse{}, fmt.Errorf("change output %d: %w", i, err)
		}
		change = append(change, p)
	}
	return MeltResponse{Result: result, Change: change}, nil
}

// planBlankOutputs builds the change outputs for a melt. Their
// declared amounts are placeholders; the mint assigns real amounts to
// at most ceil(log2(feeReserve)) of them when returning the unused
// reserve.
func (w *Wallet) planBlankOutputs(feeReserve uint64, ks cashu.Keyset, policy OutputPolicy) ([]*OutputData, *counter.Operation, error) {
	if feeReserve == 0 {
		return nil, nil, nil
	}
	count := bits.Len64(feeReserve)
	ones := make([]uint64, count)
	for i := range ones {
		ones[i] = 1
	}
	if policy == nil {
		if w.master != nil {
			policy = DeterministicPolicy{}
		} else {
			policy = RandomPolicy{}
		}
	}
	// Blank outputs are always unit-denominated; the mint assigns the
	// real amounts in its response.
	switch pol := policy.(type) {
	case DeterministicPolicy:
		pol.Denominations = ones
		policy = pol
	case RandomPolicy:
		pol.Denominations = ones
		policy = pol
	case LockedPolicy:
		pol.Denominations = ones
		policy = pol
	default:
		return nil, nil, fmt.Errorf("%w: policy %T cannot produce melt change outputs", ErrInvalidConfiguration, policy)
	}
	return w.planner.Plan(PlanRequest{
		Amount: uint64(count),
		Keyset: ks,
		Policy: policy,
	})
}

// notifyCounters reports a reservation through the callback, if any.
func (w *Wallet) notifyCounters(op *counter.Operation) {
	if op == nil || w.OnCountersReserved == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Wallet.Error().Any("panic", r).Msg("OnCountersReserved callback panicked")
		}
	}()
	w.OnCountersReserved(*op)
}

// notifyChange reports created change outputs through the callback.
func (w *Wallet) notifyChange(outputs []*OutputData) {
	if len(outputs) == 0 || w.OnChangeOutputsCreated == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Wallet.Error().Any("panic", r).Msg("OnChangeOutputsCreated callback panicked")
		}
	}()
	w.OnChangeOutputsCreated(outputs)
}
