package engine

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"bucketd/internal/basket"
)

// Role tags the caller of a rebalance, resolved once per call from the
// verified caller identity.
type Role int

const (
	// RoleUnprivileged callers may only fold unauthorized stray collateral
	// into an authorized one, at policy-bounded amounts.
	RoleUnprivileged Role = iota
	// RoleRebalanceAuthority callers swap any pair at verbatim amounts.
	RoleRebalanceAuthority
)

// ResolveRole maps the caller identity to its rebalance role.
func ResolveRole(b *basket.Basket, caller common.Address) Role {
	if caller == b.RebalanceAuthority {
		return RoleRebalanceAuthority
	}
	return RoleUnprivileged
}

// RebalanceAsset describes the single swap a rebalance call performs.
type RebalanceAsset struct {
	SourceAsset          common.Address
	DestAsset            common.Address
	SourceCustodyBalance uint64
	SourceDecimals       uint8
	DestDecimals         uint8
	Pool                 common.Address
}

// ExchangeAmount is the ephemeral sized result of a rebalance.
type ExchangeAmount struct {
	AmountIn  uint64
	AmountOut uint64
}

// RebalanceExecutor authorizes and sizes one swap between two collateral
// assets, then drives the withdraw → swap → transfer-back sequence.
type RebalanceExecutor struct {
	withdraw          VaultWithdraw
	swap              SwapPool
	transfer          TokenTransfer
	withdrawAuthority common.Address
	staging           common.Address
	maxSlippageBps    uint64
	logger            zerolog.Logger
}

// NewRebalance wires the rebalance executor. staging is the basket-owned
// balance that holds collateral between the withdraw and transfer-back legs.
func NewRebalance(withdraw VaultWithdraw, swap SwapPool, transfer TokenTransfer, withdrawAuthority, staging common.Address, maxSlippageBps uint64, logger zerolog.Logger) *RebalanceExecutor {
	return &RebalanceExecutor{
		withdraw:          withdraw,
		swap:              swap,
		transfer:          transfer,
		withdrawAuthority: withdrawAuthority,
		staging:           staging,
		maxSlippageBps:    maxSlippageBps,
		logger:            logger.With().Str("component", "rebalance").Logger(),
	}
}

// Rebalance performs at most one swap. An empty descriptor list is a no-op
// success. Failure of any execution step aborts the whole call; the host
// transaction discards partial effects.
func (e *RebalanceExecutor) Rebalance(ctx context.Context, b *basket.Basket, caller common.Address, assets []RebalanceAsset, amountIn, minAmountOut uint64) (ExchangeAmount, error) {
	if len(assets) == 0 {
		return ExchangeAmount{}, nil
	}
	if len(assets) > 1 {
		return ExchangeAmount{}, ErrTooManyRebalanceOps
	}
	asset := assets[0]

	role := ResolveRole(b, caller)
	if err := verifyCollateralForRole(role, b, asset); err != nil {
		return ExchangeAmount{}, err
	}

	amounts, err := e.sizeForRole(role, asset, amountIn, minAmountOut)
	if err != nil {
		return ExchangeAmount{}, err
	}

	if err := e.withdraw.Withdraw(ctx, asset.SourceAsset, b.Custody, e.staging, e.withdrawAuthority, amounts.AmountIn, e.staging); err != nil {
		return ExchangeAmount{}, fmt.Errorf("withdraw source collateral: %w", err)
	}
	if err := e.swap.Swap(ctx, asset.Pool, e.staging, asset.SourceAsset, asset.DestAsset, amounts.AmountIn, amounts.AmountOut); err != nil {
		return ExchangeAmount{}, fmt.Errorf("swap: %w", err)
	}
	if err := e.transfer.Transfer(ctx, asset.DestAsset, e.staging, b.Custody, e.staging, amounts.AmountOut); err != nil {
		return ExchangeAmount{}, fmt.Errorf("transfer swapped collateral to custody: %w", err)
	}

	e.logger.Info().
		Str("source", asset.SourceAsset.Hex()).
		Str("dest", asset.DestAsset.Hex()).
		Uint64("amount_in", amounts.AmountIn).
		Uint64("amount_out", amounts.AmountOut).
		Bool("authority", role == RoleRebalanceAuthority).
		Msg("rebalance executed")

	return amounts, nil
}

// Plan sizes a slippage-bounded swap of amountIn source units without
// executing anything. The drift monitor journals the result as a suggested
// rebalance for the authority to act on.
func (e *RebalanceExecutor) Plan(asset RebalanceAsset, amountIn uint64) (ExchangeAmount, error) {
	scaled, err := basket.ScaleByDecimals(amountIn, asset.SourceDecimals, asset.DestDecimals)
	if err != nil {
		return ExchangeAmount{}, fmt.Errorf("scale amount: %w", err)
	}
	return computeExchangeAmount(scaled, e.maxSlippageBps)
}

// verifyCollateralForRole enforces the pair rules: the destination must be
// authorized for everyone; an unprivileged caller's source must NOT be
// authorized, so outsiders can only move stray collateral into the basket's
// whitelist, never siphon authorized collateral out of it.
func verifyCollateralForRole(role Role, b *basket.Basket, asset RebalanceAsset) error {
	sourceAuthorized := b.IsAuthorized(asset.SourceAsset)
	destAuthorized := b.IsAuthorized(asset.DestAsset)

	if !destAuthorized {
		return ErrCallerCannotRebalance
	}
	if role != RoleRebalanceAuthority && sourceAuthorized {
		return ErrCallerCannotRebalance
	}
	return nil
}

// sizeForRole accepts the authority's amounts verbatim; for anyone else it
// ignores the caller-supplied amounts and derives a slippage-bounded size
// from the source custody balance.
func (e *RebalanceExecutor) sizeForRole(role Role, asset RebalanceAsset, amountIn, minAmountOut uint64) (ExchangeAmount, error) {
	if role == RoleRebalanceAuthority {
		return ExchangeAmount{AmountIn: amountIn, AmountOut: minAmountOut}, nil
	}

	scaled, err := basket.ScaleByDecimals(asset.SourceCustodyBalance, asset.SourceDecimals, asset.DestDecimals)
	if err != nil {
		return ExchangeAmount{}, fmt.Errorf("scale source balance: %w", err)
	}
	return computeExchangeAmount(scaled, e.maxSlippageBps)
}

// computeExchangeAmount sizes the minimum acceptable output:
// amount * (10000 - maxSlippageBps) expressed against an extra two digits of
// precision, so the divisor is 10^6.
func computeExchangeAmount(amount, maxSlippageBps uint64) (ExchangeAmount, error) {
	if maxSlippageBps > uint64(basket.MaxBasisPoints) {
		return ExchangeAmount{}, basket.ErrAllocationBps
	}

	const additionalPrecision = 100 // two extra digits
	slippageFactor := (uint64(basket.MaxBasisPoints) - maxSlippageBps) * additionalPrecision
	divisor := uint64(basket.MaxBasisPoints) * additionalPrecision

	out := new(big.Int).Mul(new(big.Int).SetUint64(amount), new(big.Int).SetUint64(slippageFactor))
	out.Quo(out, new(big.Int).SetUint64(divisor))
	if !out.IsUint64() {
		return ExchangeAmount{}, basket.ErrCastingFailure
	}

	return ExchangeAmount{AmountIn: amount, AmountOut: out.Uint64()}, nil
}
