package engine

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"bucketd/internal/basket"
)

// RedeemAsset describes one collateral position touched by a redemption.
type RedeemAsset struct {
	Asset          common.Address
	CustodyBalance uint64
	Decimals       uint8
}

// RedemptionEngine burns reserve tokens and fans the redeemer out a
// pro-rata slice of every collateral asset.
//
// When a price reader is wired, the engine is price-aware: it values the
// whole basket, derives the price per reserve token, and scales the burn
// amount down when the basket is undercollateralized — redeemers receive
// proportionally less than their nominal burn, never more. Without a price
// reader the engine is balance-only pro-rata.
type RedemptionEngine struct {
	prices            PriceReader
	transfer          TokenTransfer
	withdraw          VaultWithdraw
	withdrawAuthority common.Address
	targetPrecision   uint32
	logger            zerolog.Logger
}

// NewRedemption wires the redemption engine. prices may be nil for the
// balance-only variant.
func NewRedemption(prices PriceReader, transfer TokenTransfer, withdraw VaultWithdraw, withdrawAuthority common.Address, targetPrecision uint32, logger zerolog.Logger) *RedemptionEngine {
	return &RedemptionEngine{
		prices:            prices,
		transfer:          transfer,
		withdraw:          withdraw,
		withdrawAuthority: withdrawAuthority,
		targetPrecision:   targetPrecision,
		logger:            logger.With().Str("component", "redemption").Logger(),
	}
}

// Redeem burns burnAmount of the redeemer's reserve tokens and withdraws
// each asset's share from custody. totalSupply is the reserve supply before
// the burn. An empty asset list burns and returns with no transfers.
func (e *RedemptionEngine) Redeem(ctx context.Context, b *basket.Basket, redeemer, heldMint common.Address, burnAmount, totalSupply uint64, assets []RedeemAsset, clockSlot uint64) ([]uint64, error) {
	if heldMint != b.ReserveMint {
		return nil, ErrWrongBurn
	}

	if err := e.transfer.Burn(ctx, b.ReserveMint, redeemer, redeemer, burnAmount); err != nil {
		return nil, fmt.Errorf("burn reserve tokens: %w", err)
	}

	if len(assets) == 0 {
		return nil, nil
	}

	effectiveBurn := burnAmount
	if e.prices != nil {
		scaled, err := e.scaleBurnToCollateralValue(ctx, burnAmount, totalSupply, assets, clockSlot)
		if err != nil {
			return nil, err
		}
		effectiveBurn = scaled
	}

	shares := make([]uint64, len(assets))
	for i, asset := range assets {
		share, err := basket.ProRataShare(asset.CustodyBalance, effectiveBurn, totalSupply)
		if err != nil {
			return nil, fmt.Errorf("compute share for %s: %w", asset.Asset.Hex(), err)
		}

		// fee destination aliased to the redeemer until fee accrual exists
		if err := e.withdraw.Withdraw(ctx, asset.Asset, b.Custody, redeemer, e.withdrawAuthority, share, redeemer); err != nil {
			return nil, fmt.Errorf("withdraw %s: %w", asset.Asset.Hex(), err)
		}
		shares[i] = share
	}

	e.logger.Info().
		Uint64("burn_amount", burnAmount).
		Uint64("effective_burn", effectiveBurn).
		Int("assets", len(assets)).
		Msg("redemption complete")

	return shares, nil
}

// scaleBurnToCollateralValue computes the basket's total collateral value at
// the target precision, the implied price per reserve token, and caps the
// redeemable ratio at the 1:1 peg.
func (e *RedemptionEngine) scaleBurnToCollateralValue(ctx context.Context, burnAmount, totalSupply uint64, assets []RedeemAsset, clockSlot uint64) (uint64, error) {
	if totalSupply == 0 {
		return 0, basket.ErrZeroSupply
	}

	precisionFactor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(e.targetPrecision)), nil)

	totalValue := new(big.Int)
	for _, asset := range assets {
		reading, err := e.prices.Read(ctx, asset.Asset, clockSlot)
		if err != nil {
			return 0, fmt.Errorf("read oracle for %s: %w", asset.Asset.Hex(), err)
		}

		value := new(big.Int).Mul(new(big.Int).SetUint64(asset.CustodyBalance), reading.Price)
		value.Quo(value, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(asset.Decimals)), nil))
		totalValue.Add(totalValue, value)
	}

	pricePerToken := new(big.Int).Mul(totalValue, precisionFactor)
	pricePerToken.Quo(pricePerToken, new(big.Int).SetUint64(totalSupply))

	if pricePerToken.Cmp(precisionFactor) >= 0 {
		return burnAmount, nil
	}

	scaled := new(big.Int).Mul(new(big.Int).SetUint64(burnAmount), pricePerToken)
	scaled.Quo(scaled, precisionFactor)
	if !scaled.IsUint64() {
		return 0, basket.ErrCastingFailure
	}

	e.logger.Warn().
		Str("price_per_token", pricePerToken.String()).
		Msg("basket undercollateralized; scaling redemption down")

	return scaled.Uint64(), nil
}
