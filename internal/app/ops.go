package app

import (
	"context"
	"fmt"
)

// DepositOptions parameterise a collateral deposit.
type DepositOptions struct {
	Basket    string
	Depositor string
	Asset     string
	Amount    uint64
}

// RedeemOptions parameterise a reserve-token redemption.
type RedeemOptions struct {
	Basket      string
	Redeemer    string
	Mint        string
	BurnAmount  uint64
	TotalSupply uint64
}

// RebalanceOptions parameterise a collateral swap.
type RebalanceOptions struct {
	Basket       string
	Caller       string
	SourceAsset  string
	DestAsset    string
	Pool         string
	AmountIn     uint64
	MinAmountOut uint64
}

// Deposit converts a collateral deposit into reserve tokens.
func (a *App) Deposit(ctx context.Context, opts DepositOptions) error {
	depositor, err := parseAddress(opts.Depositor)
	if err != nil {
		return fmt.Errorf("invalid depositor: %w", err)
	}
	asset, err := parseAddress(opts.Asset)
	if err != nil {
		return fmt.Errorf("invalid asset: %w", err)
	}

	svc, closeStore, err := a.requireService(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	issued, err := svc.Deposit(ctx, opts.Basket, depositor, asset, opts.Amount)
	if err != nil {
		return err
	}

	a.Logger.Info().
		Str("basket", opts.Basket).
		Str("asset", asset.Hex()).
		Uint64("deposited", opts.Amount).
		Uint64("issued", issued).
		Msg("deposit complete")
	return nil
}

// Redeem burns reserve tokens for pro-rata collateral payouts.
func (a *App) Redeem(ctx context.Context, opts RedeemOptions) error {
	redeemer, err := parseAddress(opts.Redeemer)
	if err != nil {
		return fmt.Errorf("invalid redeemer: %w", err)
	}
	mint, err := parseAddress(opts.Mint)
	if err != nil {
		return fmt.Errorf("invalid mint: %w", err)
	}

	svc, closeStore, err := a.requireService(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	payouts, err := svc.Redeem(ctx, opts.Basket, redeemer, mint, opts.BurnAmount, opts.TotalSupply)
	if err != nil {
		return err
	}

	a.Logger.Info().
		Str("basket", opts.Basket).
		Uint64("burned", opts.BurnAmount).
		Int("payouts", len(payouts)).
		Msg("redeem complete")
	for i, payout := range payouts {
		a.Logger.Info().Int("index", i).Uint64("amount", payout).Msg("collateral payout")
	}
	return nil
}

// Rebalance swaps one collateral for another under the slippage bound.
func (a *App) Rebalance(ctx context.Context, opts RebalanceOptions) error {
	caller, err := parseAddress(opts.Caller)
	if err != nil {
		return fmt.Errorf("invalid caller: %w", err)
	}
	source, err := parseAddress(opts.SourceAsset)
	if err != nil {
		return fmt.Errorf("invalid source asset: %w", err)
	}
	dest, err := parseAddress(opts.DestAsset)
	if err != nil {
		return fmt.Errorf("invalid dest asset: %w", err)
	}
	pool, err := parseAddress(opts.Pool)
	if err != nil {
		return fmt.Errorf("invalid pool: %w", err)
	}

	svc, closeStore, err := a.requireService(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	exchanged, err := svc.Rebalance(ctx, opts.Basket, caller, source, dest, pool, opts.AmountIn, opts.MinAmountOut)
	if err != nil {
		return err
	}

	a.Logger.Info().
		Str("basket", opts.Basket).
		Str("source", source.Hex()).
		Str("dest", dest.Hex()).
		Uint64("amount_in", exchanged.AmountIn).
		Uint64("min_amount_out", exchanged.AmountOut).
		Msg("rebalance planned")
	return nil
}
