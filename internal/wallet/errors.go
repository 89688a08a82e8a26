package wallet

import "errors"

// Wallet errors. Callers discriminate with errors.Is so they can
// react differently to each: add funds (insufficient), fix the call
// (invalid configuration), or retry with a smaller proof set or
// relaxed exactness (selection timeout).
var (
	// ErrInsufficientFunds means the available proofs cannot reach
	// the target amount even ignoring time limits.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidConfiguration marks a caller error: mismatched
	// denominations, custom outputs combined with fee inclusion, a
	// missing locking key, and the like. Never retryable.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrSelectionTimeout means exact-match selection exhausted its
	// time budget before finding an exact subset. Retryable.
	ErrSelectionTimeout = errors.New("proof selection took too long")
)
