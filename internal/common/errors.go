// Package common defines shared constants and sentinel errors used across
// the subpool core. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrInternal = errors.New("internal error")

	// Ledger errors. All of these are expected, recoverable outcomes the
	// caller is supposed to handle; none of them is fatal to the process.
	ErrCapacityExceeded  = errors.New("group capacity exceeded")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidState      = errors.New("invalid state")

	// Credential access errors.
	ErrAccessContended = errors.New("credential access contended")

	// Withdrawal errors.
	ErrCooldownActive     = errors.New("withdrawal cooldown active")
	ErrBelowMinimumAmount = errors.New("amount below minimum withdrawal")
)
