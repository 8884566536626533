package engine

import "errors"

var (
	// ErrWrongCollateral indicates a deposit of an unauthorized asset.
	ErrWrongCollateral = errors.New("engine: tried to deposit wrong collateral")
	// ErrWrongBurn indicates a redemption against the wrong reserve mint.
	ErrWrongBurn = errors.New("engine: tried to burn wrong token")
	// ErrCallerCannotRebalance indicates the caller may not move the
	// requested collateral pair.
	ErrCallerCannotRebalance = errors.New("engine: caller cannot rebalance collateral")
	// ErrTooManyRebalanceOps indicates more than one swap per call.
	ErrTooManyRebalanceOps = errors.New("engine: expected descriptors for one rebalance operation")
)
