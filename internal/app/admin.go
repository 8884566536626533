package app

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"bucketd/internal/basket"
)

// CreateBasketOptions name the accounts a new basket is bound to.
type CreateBasketOptions struct {
	Name        string
	ReserveMint string
	Custody     string
	Authority   string
}

// AllocationInput is one asset/weight pair supplied on the command line.
type AllocationInput struct {
	Asset         string
	AllocationBps uint16
}

// CreateBasket registers a new basket.
func (a *App) CreateBasket(ctx context.Context, opts CreateBasketOptions) error {
	reserveMint, err := parseAddress(opts.ReserveMint)
	if err != nil {
		return fmt.Errorf("invalid reserve mint: %w", err)
	}
	custodyAccount, err := parseAddress(opts.Custody)
	if err != nil {
		return fmt.Errorf("invalid custody account: %w", err)
	}
	authority, err := parseAddress(opts.Authority)
	if err != nil {
		return fmt.Errorf("invalid authority: %w", err)
	}

	svc, closeStore, err := a.requireService(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	_, err = svc.CreateBasket(ctx, opts.Name, reserveMint, custodyAccount, authority)
	return err
}

// AuthorizeCollateral admits an asset into a basket.
func (a *App) AuthorizeCollateral(ctx context.Context, name, caller, asset string, allocationBps uint16) error {
	callerAddr, err := parseAddress(caller)
	if err != nil {
		return fmt.Errorf("invalid caller: %w", err)
	}
	assetAddr, err := parseAddress(asset)
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

	b, err := svc.AuthorizeCollateral(ctx, name, callerAddr, assetAddr, allocationBps)
	if err != nil {
		return err
	}
	a.printAllocations(b)
	return nil
}

// RemoveCollateral evicts an asset from a basket.
func (a *App) RemoveCollateral(ctx context.Context, name, caller, asset string) error {
	callerAddr, err := parseAddress(caller)
	if err != nil {
		return fmt.Errorf("invalid caller: %w", err)
	}
	assetAddr, err := parseAddress(asset)
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

	b, err := svc.RemoveCollateral(ctx, name, callerAddr, assetAddr)
	if err != nil {
		return err
	}
	a.printAllocations(b)
	return nil
}

// SetAllocations reweights a basket's collateral set.
func (a *App) SetAllocations(ctx context.Context, name, caller string, inputs []AllocationInput) error {
	callerAddr, err := parseAddress(caller)
	if err != nil {
		return fmt.Errorf("invalid caller: %w", err)
	}

	allocations := make([]basket.CollateralEntry, 0, len(inputs))
	for _, input := range inputs {
		assetAddr, err := parseAddress(input.Asset)
		if err != nil {
			return fmt.Errorf("invalid asset %q: %w", input.Asset, err)
		}
		allocations = append(allocations, basket.CollateralEntry{
			Asset:         assetAddr,
			AllocationBps: input.AllocationBps,
		})
	}

	svc, closeStore, err := a.requireService(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	b, err := svc.SetCollateralAllocations(ctx, name, callerAddr, allocations)
	if err != nil {
		return err
	}
	a.printAllocations(b)
	return nil
}

// SetRebalanceAuthority rotates the delegated rebalance signer.
func (a *App) SetRebalanceAuthority(ctx context.Context, name, caller, next string) error {
	callerAddr, err := parseAddress(caller)
	if err != nil {
		return fmt.Errorf("invalid caller: %w", err)
	}
	nextAddr, err := parseAddress(next)
	if err != nil {
		return fmt.Errorf("invalid new authority: %w", err)
	}

	svc, closeStore, err := a.requireService(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	return svc.UpdateRebalanceAuthority(ctx, name, callerAddr, nextAddr)
}

func (a *App) printAllocations(b *basket.Basket) {
	for _, entry := range b.Collateral {
		a.Logger.Info().
			Str("basket", b.Name).
			Str("asset", entry.Asset.Hex()).
			Uint16("allocation_bps", entry.AllocationBps).
			Msg("current allocation")
	}
}

func parseAddress(value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("%q is not a hex address", value)
	}
	return common.HexToAddress(value), nil
}
