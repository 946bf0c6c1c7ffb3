package redeem

import (
	"math/big"

	"github.com/vaultbridge/redeemer/pkg/types"
)

// Allocate splits amount across providers in the order given. Each provider
// is drained to its full capacity until the target is reached; the provider
// that completes the target only receives the remainder. Providers with no
// capacity are skipped and providers after the completing one are not used.
//
// The sum of the returned entries equals amount exactly. If the providers'
// total capacity is smaller than amount a *CapacityError is returned and no
// allocation is made.
func Allocate(amount *big.Int, providers []types.Provider) (types.Allocation, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	available := new(big.Int)
	for _, p := range providers {
		if p.Capacity != nil && p.Capacity.Sign() > 0 {
			available.Add(available, p.Capacity)
		}
	}
	if available.Cmp(amount) < 0 {
		return nil, &CapacityError{
			Requested: new(big.Int).Set(amount),
			Available: available,
		}
	}

	var alloc types.Allocation
	remaining := new(big.Int).Set(amount)
	for _, p := range providers {
		if remaining.Sign() == 0 {
			break
		}
		if p.Capacity == nil || p.Capacity.Sign() <= 0 {
			continue
		}

		take := new(big.Int).Set(p.Capacity)
		if take.Cmp(remaining) > 0 {
			take.Set(remaining)
		}
		alloc = append(alloc, types.AllocationEntry{Provider: p.ID, Amount: take})
		remaining.Sub(remaining, take)
	}

	return alloc, nil
}
