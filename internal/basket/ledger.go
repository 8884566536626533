package basket

import (
	"github.com/ethereum/go-ethereum/common"
)

// Authorize appends a new collateral asset targeting requestedBps. Existing
// entries are shrunk proportionally so the basket total stays at exactly
// 10000 bps; the integer-division remainders of the shrink are folded back
// into the new entry's stored allocation. The ledger is mutated only when the
// whole operation succeeds.
//
// A requested allocation of 10000 bps is only legal for the very first entry:
// on a non-empty ledger it would force every other entry to zero.
func (b *Basket) Authorize(asset common.Address, requestedBps uint16) error {
	if b.IsAuthorized(asset) {
		return ErrAlreadyAuthorized
	}
	if len(b.Collateral) >= MaxCollateralElements {
		return ErrSizeLimitExceeded
	}
	if requestedBps > MaxBasisPoints {
		return ErrAllocationBps
	}

	total, err := sumAllocations(b.Collateral)
	if err != nil {
		return err
	}
	if total > 0 && requestedBps == MaxBasisPoints {
		return ErrAllocationBps
	}

	next := append([]CollateralEntry(nil), b.Collateral...)
	actual := requestedBps

	if uint32(total)+uint32(requestedBps) > uint32(MaxBasisPoints) {
		var remainderSum uint64
		for i := range next {
			product := uint64(next[i].AllocationBps) * uint64(requestedBps)
			next[i].AllocationBps -= uint16(product / uint64(MaxBasisPoints))
			remainderSum += product % uint64(MaxBasisPoints)
		}

		div, divErr := divisor(remainderSum)
		if divErr != nil {
			return divErr
		}
		adjustment := remainderSum / div
		if adjustment > uint64(requestedBps) {
			return ErrAllocationBps
		}
		actual = requestedBps - uint16(adjustment)
	}

	next = append(next, CollateralEntry{Asset: asset, AllocationBps: actual})

	newTotal, err := sumAllocations(next)
	if err != nil {
		return err
	}
	if newTotal != MaxBasisPoints {
		return ErrAllocationBps
	}

	b.Collateral = next
	return nil
}

// Deauthorize removes a collateral asset and redistributes its freed
// allocation proportionally across the remaining entries in ledger order.
// Integer rounding shortfall versus 10000 bps is absorbed entirely by the
// first remaining entry, which keeps redistribution deterministic.
func (b *Basket) Deauthorize(asset common.Address) error {
	idx, err := b.collateralIndex(asset)
	if err != nil {
		return err
	}
	if len(b.Collateral) == 1 {
		return ErrMinCollateral
	}

	freed := b.Collateral[idx].AllocationBps

	next := make([]CollateralEntry, 0, len(b.Collateral)-1)
	next = append(next, b.Collateral[:idx]...)
	next = append(next, b.Collateral[idx+1:]...)

	// When the removed entry held the whole basket the proportional formula
	// divides by zero; the shortfall rule below assigns everything to the
	// first remaining entry instead.
	if remaining := MaxBasisPoints - freed; freed > 0 && remaining > 0 {
		for i := range next {
			grow := uint64(next[i].AllocationBps) * uint64(freed) / uint64(remaining)
			next[i].AllocationBps += uint16(grow)
		}
	}

	total, err := sumAllocations(next)
	if err != nil {
		return err
	}
	if shortfall := MaxBasisPoints - total; shortfall > 0 {
		next[0].AllocationBps += shortfall
	}

	finalTotal, err := sumAllocations(next)
	if err != nil {
		return err
	}
	if finalTotal != MaxBasisPoints {
		return ErrAllocationBps
	}

	b.Collateral = next
	return nil
}

// SetAllocations reweights every currently-authorized asset in one shot. The
// input cannot add or remove membership: a currently-authorized asset missing
// from the input fails the call, while input entries for unknown assets are
// ignored. The proposed weights must sum to exactly 10000 bps.
func (b *Basket) SetAllocations(allocations []CollateralEntry) error {
	next := append([]CollateralEntry(nil), b.Collateral...)

	for i := range next {
		found := false
		for _, proposed := range allocations {
			if proposed.Asset != next[i].Asset {
				continue
			}
			if proposed.AllocationBps > MaxBasisPoints {
				return ErrAllocationBps
			}
			next[i].AllocationBps = proposed.AllocationBps
			found = true
			break
		}
		if !found {
			return ErrCollateralNotFound
		}
	}

	total, err := sumAllocations(next)
	if err != nil {
		return err
	}
	if total != MaxBasisPoints {
		return ErrAllocationBps
	}

	b.Collateral = next
	return nil
}

// divisor maps a remainder magnitude onto the power-of-ten divisor used to
// derive the rounding adjustment. Magnitudes of 100000 and above are rejected
// as a safety cap on precision loss.
func divisor(n uint64) (uint64, error) {
	switch {
	case n < 10:
		return 1, nil
	case n < 100:
		return 10, nil
	case n < 1000:
		return 100, nil
	case n < 10000:
		return 1000, nil
	case n < 100000:
		return 10000, nil
	default:
		return 0, ErrNumberTooLarge
	}
}
