package redeem

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/vaultbridge/redeemer/pkg/types"
)

// Common errors
var (
	// ErrNoSigner indicates no signing identity is configured. It is returned
	// before any network call is made.
	ErrNoSigner = errors.New("no signing identity configured")

	// ErrInsufficientCapacity indicates the discoverable providers cannot
	// cover the requested amount
	ErrInsufficientCapacity = errors.New("insufficient provider capacity")

	// ErrCorrelation indicates the events emitted by a transaction do not
	// match what the submission expected
	ErrCorrelation = errors.New("event correlation failed")

	// ErrProofUnresolvable indicates neither a payment id nor an explicit
	// proof pair could be resolved
	ErrProofUnresolvable = errors.New("payment proof unresolvable")

	// ErrInvalidAmount indicates a missing or non-positive redeem amount.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInvalidDestination indicates an empty or malformed external-chain address.
	ErrInvalidDestination = errors.New("invalid destination address")

	// ErrInvalidRetries indicates a negative retry budget.
	ErrInvalidRetries = errors.New("retries must not be negative")
)

// CapacityError is returned when the requested amount exceeds the total
// capacity of the providers offered to the allocator.
type CapacityError struct {
	Requested *big.Int
	Available *big.Int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%v: requested %s, available %s", ErrInsufficientCapacity, e.Requested, e.Available)
}

func (e *CapacityError) Unwrap() error { return ErrInsufficientCapacity }

// SubmissionError is returned when the ledger rejects a transaction. The
// ledger's error is kept as is and is reachable through errors.Unwrap.
type SubmissionError struct {
	Op  string
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("%s rejected: %v", e.Op, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// CorrelationError is returned when a transaction emitted the wrong number of
// the events it was expected to emit.
type CorrelationError struct {
	Event types.EventKind
	Want  int
	Got   int
}

func (e *CorrelationError) Error() string {
	return fmt.Sprintf("%v: expected %d %s event(s), got %d", ErrCorrelation, e.Want, e.Event, e.Got)
}

func (e *CorrelationError) Is(target error) bool { return target == ErrCorrelation }
