package engine

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"bucketd/internal/basket"
	"bucketd/internal/oracle"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func addr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

func testBasket(collateral ...basket.CollateralEntry) *basket.Basket {
	b := basket.New("test", addr(0xf0), addr(0xaa))
	b.Custody = addr(0xf1)
	b.Collateral = collateral
	return b
}

type call struct {
	kind   string
	asset  common.Address
	from   common.Address
	to     common.Address
	amount uint64
}

// fakeRail implements every collaborator interface and records call order.
type fakeRail struct {
	calls   []call
	failOn  string
	failErr error
}

func (r *fakeRail) record(c call) error {
	if r.failOn != "" && c.kind == r.failOn {
		return r.failErr
	}
	r.calls = append(r.calls, c)
	return nil
}

func (r *fakeRail) Transfer(ctx context.Context, asset, from, to, authority common.Address, amount uint64) error {
	return r.record(call{kind: "transfer", asset: asset, from: from, to: to, amount: amount})
}

func (r *fakeRail) Burn(ctx context.Context, mint, from, authority common.Address, amount uint64) error {
	return r.record(call{kind: "burn", asset: mint, from: from, amount: amount})
}

func (r *fakeRail) Mint(ctx context.Context, mint, to, issueAuthority common.Address, amount uint64) error {
	return r.record(call{kind: "mint", asset: mint, to: to, amount: amount})
}

func (r *fakeRail) Withdraw(ctx context.Context, asset, custody, destination, withdrawAuthority common.Address, amount uint64, feeDestination common.Address) error {
	return r.record(call{kind: "withdraw", asset: asset, from: custody, to: destination, amount: amount})
}

func (r *fakeRail) Swap(ctx context.Context, pool, userAuthority, sourceAsset, destAsset common.Address, amountIn, minAmountOut uint64) error {
	return r.record(call{kind: "swap", asset: sourceAsset, to: destAsset, amount: amountIn})
}

// fakePrices returns fixed per-asset readings at precision 6.
type fakePrices struct {
	prices map[common.Address]int64
	err    error
}

func (f *fakePrices) Read(ctx context.Context, asset common.Address, clockSlot uint64) (oracle.PriceData, error) {
	if f.err != nil {
		return oracle.PriceData{}, f.err
	}
	price, ok := f.prices[asset]
	if !ok {
		return oracle.PriceData{}, oracle.ErrInvalidOracle
	}
	return oracle.PriceData{
		Price:                big.NewInt(price),
		Confidence:           big.NewInt(0),
		DelaySlots:           1,
		HasSufficientSamples: true,
		Source:               "fake",
	}, nil
}
