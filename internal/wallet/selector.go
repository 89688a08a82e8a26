package wallet

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/Klingon-tech/klingnet-ecash/internal/log"
	"github.com/Klingon-tech/klingnet-ecash/pkg/cashu"
)

// SelectConfig tunes the randomized selection search. The zero value
// selects the defaults.
type SelectConfig struct {
	// MaxTrials bounds the number of randomized restarts. Default 60.
	MaxTrials int

	// Budget is the wall-clock limit shared across all trials.
	// Default 1s.
	Budget time.Duration

	// MaxSwapAttempts caps local-improvement swaps per trial.
	// Default 5000.
	MaxSwapAttempts int

	// MaxOverPercent and MaxOverAmount define the acceptable overage
	// for close-match early exit: a solution overpaying by at most
	// MaxOverAmount and at most MaxOverPercent percent of the target
	// stops the search. Both default to 0, which makes close-match
	// settle only for exact solutions before the budget runs out.
	MaxOverPercent float64
	MaxOverAmount  uint64

	// Rand supplies the randomness source; tests inject a seeded one.
	Rand *rand.Rand
}

func (c SelectConfig) withDefaults() SelectConfig {
	if c.MaxTrials == 0 {
		c.MaxTrials = 60
	}
	if c.Budget == 0 {
		c.Budget = time.Second
	}
	if c.MaxSwapAttempts == 0 {
		c.MaxSwapAttempts = 5000
	}
	if c.Rand == nil {
		c.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return c
}

// SelectRequest describes one proof-selection problem.
type SelectRequest struct {
	Proofs cashu.Proofs
	Target uint64

	// IncludeFees discounts each proof by its own spend fee, so the
	// selected set nets the target after input fees are charged.
	IncludeFees bool

	// Exact requires the fee-adjusted sum to equal the target; the
	// default (close match) permits minimal overshoot.
	Exact bool

	// FeePPK resolves per-keyset fee rates. Required when
	// IncludeFees is set.
	FeePPK FeePPK

	Config SelectConfig
}

// Selection partitions the input proofs. Keep and Send together are
// exactly the input set; membership is by proof identity, not value,
// so duplicate amounts stay distinct.
type Selection struct {
	Keep cashu.Proofs
	Send cashu.Proofs
}

// candidate is one spendable proof with its fee-adjusted value.
type candidate struct {
	idx   int // position in the original proof list
	exFee uint64
}

// SelectProofs picks a subset of proofs whose fee-adjusted sum
// matches (Exact) or minimally exceeds (close match) the target,
// using randomized greedy fills refined by local improvement.
//
// An unreachable target is not an error here: the result is
// {Keep: everything, Send: nil} and the caller decides whether that
// is a failure. Exceeding the time budget in exact mode is
// ErrSelectionTimeout.
func SelectProofs(req SelectRequest) (Selection, error) {
	cfg := req.Config.withDefaults()

	cands, err := buildCandidates(req)
	if err != nil {
		return Selection{}, err
	}
	cands = pruneCandidates(cands, req.Target, req.Exact)

	var total uint64
	for _, c := range cands {
		total += c.exFee
	}
	if req.Target == 0 || total < req.Target {
		return Selection{Keep: append(cashu.Proofs(nil), req.Proofs...)}, nil
	}

	deadline := time.Now().Add(cfg.Budget)

	var (
		best         []candidate
		bestSum      uint64
		bestDelta    = uint64(math.MaxUint64)
		bestFeasible bool
		timedOut     bool
		trials       int
	)

	acceptable := func(delta uint64) bool {
		if delta > cfg.MaxOverAmount {
			return false
		}
		return float64(delta)*100 <= cfg.MaxOverPercent*float64(req.Target)
	}

	for trials = 0; trials < cfg.MaxTrials; trials++ {
		if time.Now().After(deadline) {
			timedOut = true
			break
		}

		sel, sum := greedyFill(cands, req.Target, req.Exact, cfg.Rand)
		sel, sum = improve(sel, sum, cands, req.Target, req.Exact, cfg, deadline)

		if sum < req.Target {
			continue
		}
		delta := sum - req.Target
		if !bestFeasible || delta < bestDelta {
			sel, sum = trimBack(sel, sum, req.Target)
			best = append(best[:0], sel...)
			bestSum = sum
			bestDelta = bestSum - req.Target
			bestFeasible = true
			if acceptable(bestDelta) {
				break
			}
		}
	}

	log.Selector.Debug().
		Uint64("target", req.Target).
		Int("candidates", len(cands)).
		Int("trials", trials).
		Bool("feasible", bestFeasible).
		Uint64("delta", bestDelta).
		Msg("selection finished")

	if req.Exact && (!bestFeasible || bestDelta != 0) {
		if timedOut {
			return Selection{}, fmt.Errorf("%w: %d trials in %v", ErrSelectionTimeout, trials, cfg.Budget)
		}
		return Selection{Keep: append(cashu.Proofs(nil), req.Proofs...)}, nil
	}
	if !bestFeasible {
		return Selection{Keep: append(cashu.Proofs(nil), req.Proofs...)}, nil
	}

	selected := make(map[int]bool, len(best))
	for _, c := range best {
		selected[c.idx] = true
	}
	var result Selection
	for i, p := range req.Proofs {
		if selected[i] {
			result.Send = append(result.Send, p)
		} else {
			result.Keep = append(result.Keep, p)
		}
	}
	return result, nil
}

// buildCandidates computes fee-adjusted values and discards proofs
// that are uneconomical to spend (worth no more than their own fee),
// sorted ascending by adjusted value.
func buildCandidates(req SelectRequest) ([]candidate, error) {
	if req.IncludeFees && req.FeePPK == nil {
		return nil, fmt.Errorf("%w: fee-inclusive selection without a fee model", ErrInvalidConfiguration)
	}
	cands := make([]candidate, 0, len(req.Proofs))
	for i, p := range req.Proofs {
		var fee uint64
		if req.IncludeFees {
			ppk, err := req.FeePPK(p.ID)
			if err != nil {
				return nil, fmt.Errorf("fee rate for keyset %s: %w", p.ID, err)
			}
			fee = (ppk + 999) / 1000
			if p.Amount <= fee {
				continue
			}
		}
		cands = append(cands, candidate{idx: i, exFee: p.Amount - fee})
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].exFee < cands[j].exFee })
	return cands, nil
}

// pruneCandidates drops proofs that can never appear in a good
// subset, bounding the search. Exact match keeps values up to and
// including the target; close match keeps everything up to the
// cheapest single proof that alone covers the target.
func pruneCandidates(cands []candidate, target uint64, exact bool) []candidate {
	if exact {
		cut := sort.Search(len(cands), func(i int) bool { return cands[i].exFee > target })
		return cands[:cut]
	}
	j := sort.Search(len(cands), func(i int) bool { return cands[i].exFee >= target })
	if j == len(cands) {
		return cands
	}
	cheapest := cands[j].exFee
	cut := sort.Search(len(cands), func(i int) bool { return cands[i].exFee > cheapest })
	return cands[:cut]
}

// greedyFill shuffles the candidates and accumulates until the sum
// reaches the target. Exact mode stops before any addition would
// overshoot; close match lets the final addition overshoot.
func greedyFill(cands []candidate, target uint64, exact bool, rng *rand.Rand) ([]candidate, uint64) {
	shuffled := append([]candidate(nil), cands...)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	var sel []candidate
	var sum uint64
	for _, c := range shuffled {
		if sum >= target {
			break
		}
		if exact && sum+c.exFee > target {
			break
		}
		sel = append(sel, c)
		sum += c.exFee
	}
	return sel, sum
}

// improve replaces selected proofs with unselected ones whose value
// brings the sum strictly closer to the target, searching the sorted
// complement by binary search. Swap attempts are capped and the
// shared deadline is honored.
func improve(sel []candidate, sum uint64, cands []candidate, target uint64, exact bool, cfg SelectConfig, deadline time.Time) ([]candidate, uint64) {
	inSel := make(map[int]bool, len(sel))
	for _, c := range sel {
		inSel[c.idx] = true
	}
	// Complement, still ascending by exFee (cands is sorted).
	comp := make([]candidate, 0, len(cands)-len(sel))
	for _, c := range cands {
		if !inSel[c.idx] {
			comp = append(comp, c)
		}
	}

	attempts := 0
	for _, pos := range cfg.Rand.Perm(len(sel)) {
		if attempts >= cfg.MaxSwapAttempts {
			break
		}
		if attempts%256 == 0 && time.Now().After(deadline) {
			break
		}
		attempts++

		p := sel[pos]
		rest := sum - p.exFee
		if rest > target {
			continue
		}
		desired := target - rest // replacement value that would land exactly on target

		var q candidate
		var found bool
		if exact {
			// Largest complement value not exceeding the gap.
			j := sort.Search(len(comp), func(i int) bool { return comp[i].exFee > desired })
			if j > 0 {
				q = comp[j-1]
				found = true
			}
		} else {
			// Smallest complement value that keeps the sum feasible.
			j := sort.Search(len(comp), func(i int) bool { return comp[i].exFee >= desired })
			if j < len(comp) {
				q = comp[j]
				found = true
			}
		}
		if !found {
			continue
		}

		newSum := rest + q.exFee
		if !betterSum(newSum, sum, target, exact) {
			continue
		}

		// Apply the swap, keeping comp sorted.
		sel[pos] = q
		sum = newSum
		comp = swapComplement(comp, q, p)
	}
	return sel, sum
}

// betterSum reports whether new is strictly closer to target than old
// under the overshoot rule: exact mode never exceeds target; close
// match stays at or above it once feasible.
func betterSum(newSum, oldSum, target uint64, exact bool) bool {
	if exact {
		return newSum <= target && newSum > oldSum
	}
	if oldSum < target {
		return newSum >= target || newSum > oldSum
	}
	return newSum >= target && newSum < oldSum
}

// swapComplement removes q from the sorted complement and inserts p
// at its sorted position.
func swapComplement(comp []candidate, q, p candidate) []candidate {
	for i, c := range comp {
		if c.idx == q.idx {
			comp = append(comp[:i], comp[i+1:]...)
			break
		}
	}
	at := sort.Search(len(comp), func(i int) bool { return comp[i].exFee >= p.exFee })
	comp = append(comp, candidate{})
	copy(comp[at+1:], comp[at:])
	comp[at] = p
	return comp
}

// trimBack removes the largest selected values while the remainder
// still meets the target: a greedy overpay reduction, not a
// re-search.
func trimBack(sel []candidate, sum uint64, target uint64) ([]candidate, uint64) {
	sort.Slice(sel, func(i, j int) bool { return sel[i].exFee > sel[j].exFee })
	for i := 0; i < len(sel); {
		if sum-sel[i].exFee >= target {
			sum -= sel[i].exFee
			sel = append(sel[:i], sel[i+1:]...)
		} else {
			i++
		}
	}
	return sel, sum
}
