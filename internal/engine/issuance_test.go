package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"bucketd/internal/basket"
)

func TestDepositWrongCollateral(t *testing.T) {
	b := testBasket(basket.CollateralEntry{Asset: addr(1), AllocationBps: 10000})
	rail := &fakeRail{}
	prices := &fakePrices{prices: map[common.Address]int64{}}

	eng := NewIssuance(prices, rail, addr(0xee), 6, noopLogger())
	if _, err := eng.Deposit(context.Background(), b, addr(0x10), addr(9), 100, 1); !errors.Is(err, ErrWrongCollateral) {
		t.Fatalf("unauthorized asset should fail, got %v", err)
	}
	if len(rail.calls) != 0 {
		t.Fatal("no transfers should happen before the membership check passes")
	}
}

func TestDepositIssuesAtPeg(t *testing.T) {
	b := testBasket(basket.CollateralEntry{Asset: addr(1), AllocationBps: 10000})
	rail := &fakeRail{}
	prices := &fakePrices{prices: map[common.Address]int64{addr(1): 1_000_000}}

	eng := NewIssuance(prices, rail, addr(0xee), 6, noopLogger())
	issued, err := eng.Deposit(context.Background(), b, addr(0x10), addr(1), 500, 1)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if issued != 500 {
		t.Fatalf("issued = %d, want 500 at peg", issued)
	}

	if len(rail.calls) != 2 {
		t.Fatalf("expected transfer then mint, got %d calls", len(rail.calls))
	}
	if rail.calls[0].kind != "transfer" || rail.calls[0].to != b.Custody {
		t.Fatalf("first call should transfer into custody: %+v", rail.calls[0])
	}
	if rail.calls[1].kind != "mint" || rail.calls[1].amount != 500 {
		t.Fatalf("second call should mint 500: %+v", rail.calls[1])
	}
}

func TestDepositClampsAbovePegPrice(t *testing.T) {
	b := testBasket(basket.CollateralEntry{Asset: addr(1), AllocationBps: 10000})
	rail := &fakeRail{}
	prices := &fakePrices{prices: map[common.Address]int64{addr(1): 1_200_000}}

	eng := NewIssuance(prices, rail, addr(0xee), 6, noopLogger())
	issued, err := eng.Deposit(context.Background(), b, addr(0x10), addr(1), 500, 1)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if issued != 500 {
		t.Fatalf("above-peg price must clamp to 1:1, issued = %d", issued)
	}
}

func TestDepositBelowPegPrice(t *testing.T) {
	b := testBasket(basket.CollateralEntry{Asset: addr(1), AllocationBps: 10000})
	rail := &fakeRail{}
	prices := &fakePrices{prices: map[common.Address]int64{addr(1): 980_000}}

	eng := NewIssuance(prices, rail, addr(0xee), 6, noopLogger())
	issued, err := eng.Deposit(context.Background(), b, addr(0x10), addr(1), 1000, 1)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if issued != 980 {
		t.Fatalf("issued = %d, want 980", issued)
	}
}

func TestDepositAbortsOnOracleFailure(t *testing.T) {
	b := testBasket(basket.CollateralEntry{Asset: addr(1), AllocationBps: 10000})
	rail := &fakeRail{}
	prices := &fakePrices{prices: map[common.Address]int64{}}

	eng := NewIssuance(prices, rail, addr(0xee), 6, noopLogger())
	if _, err := eng.Deposit(context.Background(), b, addr(0x10), addr(1), 1000, 1); err == nil {
		t.Fatal("oracle failure must abort the deposit")
	}
	for _, c := range rail.calls {
		if c.kind == "mint" {
			t.Fatal("no mint may happen after an oracle failure")
		}
	}
}
