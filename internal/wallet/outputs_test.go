package wallet

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/Klingon-tech/klingnet-ecash/internal/counter"
	"github.com/Klingon-tech/klingnet-ecash/pkg/cashu"
)

const testKeysetID = "00ad268c4d1f5826"

func testSeed() []byte {
	seed := make([]byte, SeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}
	return seed
}

func testPlanner(t *testing.T) *Planner {
	t.Helper()
	master, err := DeriveMasterKey(testSeed())
	if err != nil {
		t.Fatalf("DeriveMasterKey: %v", err)
	}
	return NewPlanner(counter.NewMemory(), master)
}

func outputsTotal(outputs []*OutputData) uint64 {
	var sum uint64
	for _, o := range outputs {
		sum += o.Blinded.Amount
	}
	return sum
}

func TestPlanRandomSumsToAmount(t *testing.T) {
	p := testPlanner(t)
	outputs, op, err := p.Plan(PlanRequest{
		Amount: 13,
		Keyset: cashu.Keyset{ID: testKeysetID},
		Policy: RandomPolicy{},
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if op != nil {
		t.Errorf("random policy reserved counters: %+v", op)
	}
	if got := outputsTotal(outputs); got != 13 {
		t.Errorf("outputs sum = %d, want 13", got)
	}
	// 13 = 1 + 4 + 8
	if len(outputs) != 3 {
		t.Errorf("outputs = %d, want 3", len(outputs))
	}
	secrets := make(map[string]bool)
	for _, o := range outputs {
		if o.Blinded.ID != testKeysetID {
			t.Errorf("output keyset = %s, want %s", o.Blinded.ID, testKeysetID)
		}
		if o.Blinded.B == "" {
			t.Error("empty blinded point")
		}
		if secrets[string(o.Secret)] {
			t.Error("duplicate random secret")
		}
		secrets[string(o.Secret)] = true
	}
}

func TestPlanZeroAmount(t *testing.T) {
	p := testPlanner(t)
	outputs, op, err := p.Plan(PlanRequest{
		Amount: 0,
		Keyset: cashu.Keyset{ID: testKeysetID},
		Policy: RandomPolicy{},
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if outputs != nil || op != nil {
		t.Errorf("zero amount: outputs=%v op=%v, want none", outputs, op)
	}
}

func TestPlanExplicitDenominations(t *testing.T) {
	p := testPlanner(t)
	outputs, _, err := p.Plan(PlanRequest{
		Amount: 10,
		Keyset: cashu.Keyset{ID: testKeysetID},
		Policy: RandomPolicy{Denominations: []uint64{2, 8}},
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(outputs) != 2 || outputs[0].Blinded.Amount != 2 || outputs[1].Blinded.Amount != 8 {
		t.Errorf("outputs = %v, want [2 8]", outputs)
	}
}

func TestPlanDenominationMismatch(t *testing.T) {
	p := testPlanner(t)
	_, _, err := p.Plan(PlanRequest{
		Amount: 10,
		Keyset: cashu.Keyset{ID: testKeysetID},
		Policy: RandomPolicy{Denominations: []uint64{2, 4}},
	})
	if !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("err = %v, want ErrInvalidConfiguration", err)
	}

	_, _, err = p.Plan(PlanRequest{
		Amount: 10,
		Keyset: cashu.Keyset{ID: testKeysetID},
		Policy: RandomPolicy{Denominations: []uint64{0, 10}},
	})
	if !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("zero denomination err = %v, want ErrInvalidConfiguration", err)
	}
}

func TestPlanIncludeFeesAugments(t *testing.T) {
	p := testPlanner(t)
	// 100 ppk: 2 base outputs cost ceil(200/1000) = 1; one unit gets
	// added, and 3 outputs still cost 1.
	outputs, _, err := p.Plan(PlanRequest{
		Amount:      12,
		Keyset:      cashu.Keyset{ID: testKeysetID, InputFeePPK: 100},
		Policy:      RandomPolicy{},
		IncludeFees: true,
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if got := outputsTotal(outputs); got != 13 {
		t.Errorf("outputs sum = %d, want 13 (12 + fee 1)", got)
	}
	fee := FeeForCount(len(outputs), 100)
	if got := outputsTotal(outputs); got-12 < fee {
		t.Errorf("augmentation %d does not cover fee %d for %d outputs", got-12, fee, len(outputs))
	}
}

func TestPlanIncludeFeesFixedPoint(t *testing.T) {
	p := testPlanner(t)
	// 500 ppk: adding the first unit changes the output count, which
	// changes the fee again. The iteration must settle on a total
	// that covers the fee for the final output count.
	outputs, _, err := p.Plan(PlanRequest{
		Amount:      8,
		Keyset:      cashu.Keyset{ID: testKeysetID, InputFeePPK: 500},
		Policy:      RandomPolicy{},
		IncludeFees: true,
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	total := outputsTotal(outputs)
	fee := FeeForCount(len(outputs), 500)
	if total < 8+fee {
		t.Errorf("total %d does not cover amount 8 plus fee %d", total, fee)
	}
}

func TestPlanIncludeFeesZeroRate(t *testing.T) {
	p := testPlanner(t)
	outputs, _, err := p.Plan(PlanRequest{
		Amount:      12,
		Keyset:      cashu.Keyset{ID: testKeysetID, InputFeePPK: 0},
		Policy:      RandomPolicy{},
		IncludeFees: true,
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if got := outputsTotal(outputs); got != 12 {
		t.Errorf("outputs sum = %d, want 12 (no fee, no augmentation)", got)
	}
}

func TestPlanDeterministicReservesCounters(t *testing.T) {
	p := testPlanner(t)
	outputs, op, err := p.Plan(PlanRequest{
		Amount: 6, // 2 + 4
		Keyset: cashu.Keyset{ID: testKeysetID},
		Policy: DeterministicPolicy{},
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if op == nil {
		t.Fatal("no counter operation reported")
	}
	if op.KeysetID != testKeysetID || op.Start != 0 || op.Count != 2 || op.Next != 2 {
		t.Errorf("operation = %+v, want start 0 count 2 next 2", op)
	}
	if outputsTotal(outputs) != 6 {
		t.Errorf("outputs sum = %d, want 6", outputsTotal(outputs))
	}

	// Second plan continues after the first range.
	_, op2, err := p.Plan(PlanRequest{
		Amount: 3, // 1 + 2
		Keyset: cashu.Keyset{ID: testKeysetID},
		Policy: DeterministicPolicy{},
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if op2.Start != 2 {
		t.Errorf("second reservation starts at %d, want 2", op2.Start)
	}
}

func TestPlanDeterministicExplicitCounter(t *testing.T) {
	p := testPlanner(t)
	outputs, op, err := p.Plan(PlanRequest{
		Amount: 4,
		Keyset: cashu.Keyset{ID: testKeysetID},
		Policy: DeterministicPolicy{Counter: 7},
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if op != nil {
		t.Errorf("explicit counter made a reservation: %+v", op)
	}

	// Same index, fresh planner over the same seed: identical secret.
	p2 := testPlanner(t)
	outputs2, _, err := p2.Plan(PlanRequest{
		Amount: 4,
		Keyset: cashu.Keyset{ID: testKeysetID},
		Policy: DeterministicPolicy{Counter: 7},
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if string(outputs[0].Secret) != string(outputs2[0].Secret) {
		t.Error("deterministic secrets differ across planners for the same index")
	}
	if outputs[0].Blinded.B != outputs2[0].Blinded.B {
		t.Error("blinded points differ for the same index")
	}
}

func TestPlanDeterministicWithoutSeed(t *testing.T) {
	p := NewPlanner(counter.NewMemory(), nil)
	_, _, err := p.Plan(PlanRequest{
		Amount: 4,
		Keyset: cashu.Keyset{ID: testKeysetID},
		Policy: DeterministicPolicy{},
	})
	if !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("err = %v, want ErrInvalidConfiguration", err)
	}
}

// Racing deterministic plans must never derive the same secret.
func TestPlanDeterministicConcurrentDistinct(t *testing.T) {
	p := testPlanner(t)

	const goroutines = 16
	var wg sync.WaitGroup
	results := make([][]*OutputData, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outputs, _, err := p.Plan(PlanRequest{
				Amount: 3,
				Keyset: cashu.Keyset{ID: testKeysetID},
				Policy: DeterministicPolicy{},
			})
			if err != nil {
				t.Errorf("Plan: %v", err)
				return
			}
			results[i] = outputs
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, outputs := range results {
		for _, o := range outputs {
			if seen[string(o.Secret)] {
				t.Fatalf("secret %s derived twice", o.Secret)
			}
			seen[string(o.Secret)] = true
		}
	}
}

func TestPlanLockedOutputs(t *testing.T) {
	p := testPlanner(t)
	const pubkey = "02a9acc1e48c25eeeb9289b5031cc57da9fe72f3fe2861d264bdc074209b107ba2"
	outputs, _, err := p.Plan(PlanRequest{
		Amount: 3,
		Keyset: cashu.Keyset{ID: testKeysetID},
		Policy: LockedPolicy{Lock: LockOptions{
			PubKey:     pubkey,
			LockTime:   1700000000,
			RefundKeys: []string{pubkey},
		}},
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	for _, o := range outputs {
		var parsed [2]json.RawMessage
		if err := json.Unmarshal(o.Secret, &parsed); err != nil {
			t.Fatalf("secret is not a well-known pair: %v", err)
		}
		var kind string
		if err := json.Unmarshal(parsed[0], &kind); err != nil || kind != "P2PK" {
			t.Fatalf("secret kind = %s, want P2PK", parsed[0])
		}
		var body struct {
			Nonce string     `json:"nonce"`
			Data  string     `json:"data"`
			Tags  [][]string `json:"tags"`
		}
		if err := json.Unmarshal(parsed[1], &body); err != nil {
			t.Fatalf("decode p2pk body: %v", err)
		}
		if body.Data != pubkey {
			t.Errorf("lock key = %s, want %s", body.Data, pubkey)
		}
		if body.Nonce == "" {
			t.Error("missing nonce")
		}
		var hasLocktime, hasRefund bool
		for _, tag := range body.Tags {
			switch tag[0] {
			case "locktime":
				hasLocktime = true
			case "refund":
				hasRefund = true
			}
		}
		if !hasLocktime || !hasRefund {
			t.Errorf("tags = %v, want locktime and refund", body.Tags)
		}
	}
}

func TestPlanLockedRequiresKey(t *testing.T) {
	p := testPlanner(t)
	_, _, err := p.Plan(PlanRequest{
		Amount: 2,
		Keyset: cashu.Keyset{ID: testKeysetID},
		Policy: LockedPolicy{},
	})
	if !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("err = %v, want ErrInvalidConfiguration", err)
	}
}

func TestPlanFactoryOutputs(t *testing.T) {
	p := testPlanner(t)
	var calls []uint64
	factory := func(amount uint64, keysetID string) (*OutputData, error) {
		calls = append(calls, amount)
		return &OutputData{Blinded: cashu.BlindedMessage{Amount: amount, ID: keysetID}}, nil
	}
	outputs, _, err := p.Plan(PlanRequest{
		Amount: 5, // 1 + 4
		Keyset: cashu.Keyset{ID: testKeysetID},
		Policy: FactoryPolicy{New: factory},
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(calls) != 2 || calls[0] != 1 || calls[1] != 4 {
		t.Errorf("factory calls = %v, want [1 4]", calls)
	}
	if outputsTotal(outputs) != 5 {
		t.Errorf("outputs sum = %d, want 5", outputsTotal(outputs))
	}
}

func TestPlanCustomOutputs(t *testing.T) {
	p := testPlanner(t)
	custom := []*OutputData{
		{Blinded: cashu.BlindedMessage{Amount: 4, ID: testKeysetID}},
	}
	outputs, op, err := p.Plan(PlanRequest{
		Amount: 4,
		Keyset: cashu.Keyset{ID: testKeysetID},
		Policy: CustomPolicy{Outputs: custom},
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if op != nil {
		t.Errorf("custom policy reserved counters: %+v", op)
	}
	if len(outputs) != 1 || outputs[0] != custom[0] {
		t.Error("custom outputs not passed through verbatim")
	}
}

func TestPlanCustomWithFeesRejected(t *testing.T) {
	p := testPlanner(t)
	_, _, err := p.Plan(PlanRequest{
		Amount:      4,
		Keyset:      cashu.Keyset{ID: testKeysetID},
		Policy:      CustomPolicy{},
		IncludeFees: true,
	})
	if !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("err = %v, want ErrInvalidConfiguration", err)
	}
	if err != nil && !strings.Contains(err.Error(), "custom") {
		t.Errorf("err %q does not mention custom outputs", err)
	}
}
