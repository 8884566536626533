package engine

import (
	"context"
	"errors"
	"testing"

	"bucketd/internal/basket"
)

func rebalanceExecutor(rail *fakeRail, maxSlippageBps uint64) *RebalanceExecutor {
	return NewRebalance(rail, rail, rail, addr(0xdd), addr(0xcc), maxSlippageBps, noopLogger())
}

func authorizedBasket() *basket.Basket {
	return testBasket(
		basket.CollateralEntry{Asset: addr(1), AllocationBps: 6000},
		basket.CollateralEntry{Asset: addr(2), AllocationBps: 4000},
	)
}

func TestRebalanceEmptyDescriptorsIsNoop(t *testing.T) {
	rail := &fakeRail{}
	eng := rebalanceExecutor(rail, 150)

	amounts, err := eng.Rebalance(context.Background(), authorizedBasket(), addr(0xaa), nil, 0, 0)
	if err != nil {
		t.Fatalf("empty descriptor list should succeed: %v", err)
	}
	if amounts.AmountIn != 0 || amounts.AmountOut != 0 {
		t.Fatalf("no-op should size zero, got %+v", amounts)
	}
	if len(rail.calls) != 0 {
		t.Fatal("no collaborator calls expected")
	}
}

func TestRebalanceRejectsMultipleOperations(t *testing.T) {
	rail := &fakeRail{}
	eng := rebalanceExecutor(rail, 150)

	ops := []RebalanceAsset{
		{SourceAsset: addr(9), DestAsset: addr(1)},
		{SourceAsset: addr(8), DestAsset: addr(2)},
	}
	if _, err := eng.Rebalance(context.Background(), authorizedBasket(), addr(0xaa), ops, 0, 0); !errors.Is(err, ErrTooManyRebalanceOps) {
		t.Fatalf("two operations should fail, got %v", err)
	}
}

func TestRebalanceAuthorityMayMoveAuthorizedSource(t *testing.T) {
	rail := &fakeRail{}
	eng := rebalanceExecutor(rail, 150)
	b := authorizedBasket()

	op := []RebalanceAsset{{
		SourceAsset: addr(1), DestAsset: addr(2),
		SourceCustodyBalance: 1_000_000, SourceDecimals: 6, DestDecimals: 6,
		Pool: addr(0x50),
	}}

	amounts, err := eng.Rebalance(context.Background(), b, b.RebalanceAuthority, op, 777, 700)
	if err != nil {
		t.Fatalf("authority rebalance: %v", err)
	}
	if amounts.AmountIn != 777 || amounts.AmountOut != 700 {
		t.Fatalf("authority amounts must pass through verbatim, got %+v", amounts)
	}
}

func TestRebalanceNonAuthorityAuthorizedSourceRejected(t *testing.T) {
	rail := &fakeRail{}
	eng := rebalanceExecutor(rail, 150)
	b := authorizedBasket()

	op := []RebalanceAsset{{
		SourceAsset: addr(1), DestAsset: addr(2),
		SourceCustodyBalance: 1_000_000, SourceDecimals: 6, DestDecimals: 6,
	}}

	if _, err := eng.Rebalance(context.Background(), b, addr(0x77), op, 0, 0); !errors.Is(err, ErrCallerCannotRebalance) {
		t.Fatalf("non-authority with authorized source should fail, got %v", err)
	}
	if len(rail.calls) != 0 {
		t.Fatal("no side effects before authorization passes")
	}
}

func TestRebalanceUnauthorizedDestRejectedForEveryone(t *testing.T) {
	rail := &fakeRail{}
	eng := rebalanceExecutor(rail, 150)
	b := authorizedBasket()

	op := []RebalanceAsset{{SourceAsset: addr(9), DestAsset: addr(8)}}

	if _, err := eng.Rebalance(context.Background(), b, b.RebalanceAuthority, op, 1, 1); !errors.Is(err, ErrCallerCannotRebalance) {
		t.Fatalf("authority with unauthorized dest should fail, got %v", err)
	}
	if _, err := eng.Rebalance(context.Background(), b, addr(0x77), op, 1, 1); !errors.Is(err, ErrCallerCannotRebalance) {
		t.Fatalf("non-authority with unauthorized dest should fail, got %v", err)
	}
}

func TestRebalanceNonAuthoritySizing(t *testing.T) {
	rail := &fakeRail{}
	eng := rebalanceExecutor(rail, 150)
	b := authorizedBasket()

	// stray asset 9 held at 9 decimals folded into authorized asset 2 at 6
	op := []RebalanceAsset{{
		SourceAsset: addr(9), DestAsset: addr(2),
		SourceCustodyBalance: 5_000_000_000, SourceDecimals: 9, DestDecimals: 6,
		Pool: addr(0x50),
	}}

	amounts, err := eng.Rebalance(context.Background(), b, addr(0x77), op, 123, 456)
	if err != nil {
		t.Fatalf("non-authority rebalance: %v", err)
	}

	// caller amounts ignored; balance rescales to 5_000_000, minimum out
	// applies the 1.5% slippage bound
	if amounts.AmountIn != 5_000_000 {
		t.Fatalf("amountIn = %d, want 5000000", amounts.AmountIn)
	}
	if amounts.AmountOut != 4_925_000 {
		t.Fatalf("amountOut = %d, want 4925000", amounts.AmountOut)
	}
}

func TestRebalanceExecutesWithdrawSwapTransfer(t *testing.T) {
	rail := &fakeRail{}
	eng := rebalanceExecutor(rail, 150)
	b := authorizedBasket()

	op := []RebalanceAsset{{
		SourceAsset: addr(1), DestAsset: addr(2),
		SourceCustodyBalance: 1_000_000, SourceDecimals: 6, DestDecimals: 6,
		Pool: addr(0x50),
	}}

	if _, err := eng.Rebalance(context.Background(), b, b.RebalanceAuthority, op, 100, 98); err != nil {
		t.Fatalf("rebalance: %v", err)
	}

	wantOrder := []string{"withdraw", "swap", "transfer"}
	if len(rail.calls) != len(wantOrder) {
		t.Fatalf("expected %d calls, got %d", len(wantOrder), len(rail.calls))
	}
	for i, kind := range wantOrder {
		if rail.calls[i].kind != kind {
			t.Fatalf("call %d = %s, want %s", i, rail.calls[i].kind, kind)
		}
	}
}

func TestRebalanceAbortsOnSwapFailure(t *testing.T) {
	rail := &fakeRail{failOn: "swap", failErr: errors.New("pool imbalance")}
	eng := rebalanceExecutor(rail, 150)
	b := authorizedBasket()

	op := []RebalanceAsset{{
		SourceAsset: addr(1), DestAsset: addr(2),
		SourceCustodyBalance: 1_000_000, SourceDecimals: 6, DestDecimals: 6,
	}}

	if _, err := eng.Rebalance(context.Background(), b, b.RebalanceAuthority, op, 100, 98); err == nil {
		t.Fatal("swap failure must abort the rebalance")
	}
	for _, c := range rail.calls {
		if c.kind == "transfer" {
			t.Fatal("no transfer-back may happen after a failed swap")
		}
	}
}
