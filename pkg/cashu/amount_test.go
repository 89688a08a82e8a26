package cashu

import "testing"

func TestSplit(t *testing.T) {
	cases := []struct {
		amount uint64
		want   []uint64
	}{
		{0, nil},
		{1, []uint64{1}},
		{2, []uint64{2}},
		{3, []uint64{1, 2}},
		{11, []uint64{1, 2, 8}},
		{64, []uint64{64}},
		{255, []uint64{1, 2, 4, 8, 16, 32, 64, 128}},
	}
	for _, c := range cases {
		got := Split(c.amount)
		if len(got) != len(c.want) {
			t.Errorf("Split(%d) = %v, want %v", c.amount, got, c.want)
			continue
		}
		for i := range c.want {
			if got[i] != c.want[i] {
				t.Errorf("Split(%d) = %v, want %v", c.amount, got, c.want)
				break
			}
		}
	}
}

func TestSplitSumsToAmount(t *testing.T) {
	for amount := uint64(1); amount < 2048; amount++ {
		var sum uint64
		for _, d := range Split(amount) {
			sum += d
		}
		if sum != amount {
			t.Fatalf("Split(%d) sums to %d", amount, sum)
		}
	}
}

func TestMaxOrder(t *testing.T) {
	cases := []struct {
		amount uint64
		want   int
	}{
		{0, 0},
		{1, 1},
		{2, 2},
		{3, 2},
		{4, 3},
		{1023, 10},
		{1024, 11},
	}
	for _, c := range cases {
		if got := MaxOrder(c.amount); got != c.want {
			t.Errorf("MaxOrder(%d) = %d, want %d", c.amount, got, c.want)
		}
	}
}

func TestProofsAmount(t *testing.T) {
	if got := (Proofs{}).Amount(); got != 0 {
		t.Errorf("empty amount = %d, want 0", got)
	}
	proofs := Proofs{{Amount: 1}, {Amount: 4}, {Amount: 4}}
	if got := proofs.Amount(); got != 9 {
		t.Errorf("amount = %d, want 9", got)
	}
}
