package basket

import "errors"

var (
	// ErrAlreadyAuthorized indicates the asset is already in the collateral list.
	ErrAlreadyAuthorized = errors.New("basket: collateral already authorized")
	// ErrCollateralNotFound indicates the asset is not in the collateral list.
	ErrCollateralNotFound = errors.New("basket: collateral does not exist")
	// ErrSizeLimitExceeded indicates the collateral list is at capacity.
	ErrSizeLimitExceeded = errors.New("basket: max collateral elements exceeded")
	// ErrMinCollateral indicates a removal would leave the basket without collateral.
	ErrMinCollateral = errors.New("basket: at least one collateral must remain")
	// ErrAllocationBps indicates allocations do not sum to exactly 10000 bps.
	ErrAllocationBps = errors.New("basket: allocation bps error")
	// ErrNumberTooLarge indicates a remainder magnitude outside the supported divisor range.
	ErrNumberTooLarge = errors.New("basket: number of size not supported")
	// ErrCastingFailure indicates a widened intermediate does not fit back into 64 bits.
	ErrCastingFailure = errors.New("basket: casting failure")
	// ErrMathOverflow indicates 64-bit overflow in conversion math.
	ErrMathOverflow = errors.New("basket: math overflow")
	// ErrZeroSupply indicates a pro-rata share against an empty reserve supply.
	ErrZeroSupply = errors.New("basket: reserve supply is zero")
)
