package engine

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"bucketd/internal/oracle"
)

// TokenTransfer is the fungible balance primitive. Implementations settle
// movements on whatever rail the deployment uses; the engines only decide
// amounts and ordering.
type TokenTransfer interface {
	Transfer(ctx context.Context, asset, from, to, authority common.Address, amount uint64) error
	Burn(ctx context.Context, mint, from, authority common.Address, amount uint64) error
	Mint(ctx context.Context, mint, to, issueAuthority common.Address, amount uint64) error
}

// VaultWithdraw moves collateral out of basket custody under the withdraw
// authority role. Fee destinations are currently always aliased to the main
// destination; no fee logic is active.
type VaultWithdraw interface {
	Withdraw(ctx context.Context, asset, custody, destination, withdrawAuthority common.Address, amount uint64, feeDestination common.Address) error
}

// SwapPool executes an input/output exchange between two reserves.
type SwapPool interface {
	Swap(ctx context.Context, pool, userAuthority, sourceAsset, destAsset common.Address, amountIn, minAmountOut uint64) error
}

// PriceReader resolves a fresh oracle reading for a collateral asset.
type PriceReader interface {
	Read(ctx context.Context, asset common.Address, clockSlot uint64) (oracle.PriceData, error)
}
