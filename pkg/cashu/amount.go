package cashu

import "math/bits"

// Split decomposes an amount into its canonical power-of-two
// denominations, ascending. Split(13) = [1, 4, 8]. Split(0) = nil.
func Split(amount uint64) []uint64 {
	if amount == 0 {
		return nil
	}
	out := make([]uint64, 0, bits.OnesCount64(amount))
	for amount != 0 {
		low := amount & (^amount + 1) // lowest set bit
		out = append(out, low)
		amount &^= low
	}
	return out
}

// MaxOrder returns the number of power-of-two denominations needed to
// represent amounts up to and including amount (the position of its
// highest set bit plus one).
func MaxOrder(amount uint64) int {
	return bits.Len64(amount)
}
