package basket

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func addr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

func mustTotal(t *testing.T, b *Basket) uint16 {
	t.Helper()
	total, err := sumAllocations(b.Collateral)
	if err != nil {
		t.Fatalf("sum allocations: %v", err)
	}
	return total
}

func TestAuthorizeFirstEntryMustFillBasket(t *testing.T) {
	b := New("test", addr(0xff), addr(0xaa))

	if err := b.Authorize(addr(1), 5000); !errors.Is(err, ErrAllocationBps) {
		t.Fatalf("first entry below 10000 bps should fail, got %v", err)
	}
	if len(b.Collateral) != 0 {
		t.Fatalf("failed authorize must not mutate the ledger")
	}

	if err := b.Authorize(addr(1), 10000); err != nil {
		t.Fatalf("first entry at 10000 bps should succeed: %v", err)
	}
	if got := mustTotal(t, b); got != 10000 {
		t.Fatalf("total = %d, want 10000", got)
	}
}

func TestAuthorizeProportionalShrink(t *testing.T) {
	b := New("test", addr(0xff), addr(0xaa))
	if err := b.Authorize(addr(1), 10000); err != nil {
		t.Fatal(err)
	}
	if err := b.Authorize(addr(2), 2000); err != nil {
		t.Fatalf("authorize second collateral: %v", err)
	}

	if b.Collateral[0].AllocationBps != 8000 {
		t.Fatalf("existing entry = %d bps, want 8000", b.Collateral[0].AllocationBps)
	}
	if b.Collateral[1].AllocationBps != 2000 {
		t.Fatalf("new entry = %d bps, want 2000", b.Collateral[1].AllocationBps)
	}
	if got := mustTotal(t, b); got != 10000 {
		t.Fatalf("total = %d, want 10000", got)
	}
}

func TestAuthorizeRemainderFoldedIntoNewEntry(t *testing.T) {
	b := New("test", addr(0xff), addr(0xaa))
	if err := b.Authorize(addr(1), 10000); err != nil {
		t.Fatal(err)
	}
	if err := b.Authorize(addr(2), 3000); err != nil {
		t.Fatal(err)
	}
	if err := b.SetAllocations([]CollateralEntry{
		{Asset: addr(1), AllocationBps: 3333},
		{Asset: addr(2), AllocationBps: 6667},
	}); err != nil {
		t.Fatal(err)
	}

	// 3333*1000 and 6667*1000 both leave division remainders; the sum of
	// remainders shrinks the stored allocation of the new entry.
	if err := b.Authorize(addr(3), 1000); err != nil {
		t.Fatalf("authorize with rounding remainders: %v", err)
	}
	if got := mustTotal(t, b); got != 10000 {
		t.Fatalf("total = %d, want 10000", got)
	}
	if b.Collateral[2].AllocationBps >= 1000 {
		t.Fatalf("new entry should absorb the adjustment, got %d bps", b.Collateral[2].AllocationBps)
	}
}

func TestAuthorizeRejectsFullAllocationOnNonEmptyLedger(t *testing.T) {
	b := New("test", addr(0xff), addr(0xaa))
	if err := b.Authorize(addr(1), 10000); err != nil {
		t.Fatal(err)
	}
	if err := b.Authorize(addr(2), 10000); !errors.Is(err, ErrAllocationBps) {
		t.Fatalf("10000 bps on non-empty ledger should fail, got %v", err)
	}
}

func TestAuthorizeDuplicate(t *testing.T) {
	b := New("test", addr(0xff), addr(0xaa))
	if err := b.Authorize(addr(1), 10000); err != nil {
		t.Fatal(err)
	}
	if err := b.Authorize(addr(1), 1000); !errors.Is(err, ErrAlreadyAuthorized) {
		t.Fatalf("duplicate asset should fail, got %v", err)
	}
}

func TestAuthorizeSizeLimit(t *testing.T) {
	b := New("test", addr(0xff), addr(0xaa))
	b.Collateral = make([]CollateralEntry, MaxCollateralElements)
	for i := range b.Collateral {
		var a common.Address
		a[18] = byte(i / 256)
		a[19] = byte(i % 256)
		b.Collateral[i] = CollateralEntry{Asset: a}
	}
	b.Collateral[0].AllocationBps = 10000

	before := len(b.Collateral)
	var extra common.Address
	extra[17] = 1
	if err := b.Authorize(extra, 100); !errors.Is(err, ErrSizeLimitExceeded) {
		t.Fatalf("authorize beyond capacity should fail, got %v", err)
	}
	if len(b.Collateral) != before {
		t.Fatalf("failed authorize must not mutate the ledger")
	}
}

func TestDeauthorizeRedistributesToRemaining(t *testing.T) {
	b := New("test", addr(0xff), addr(0xaa))
	if err := b.Authorize(addr(1), 10000); err != nil {
		t.Fatal(err)
	}
	if err := b.Authorize(addr(2), 4000); err != nil {
		t.Fatal(err)
	}
	if err := b.Authorize(addr(3), 2000); err != nil {
		t.Fatal(err)
	}
	if got := mustTotal(t, b); got != 10000 {
		t.Fatalf("total = %d, want 10000", got)
	}

	if err := b.Deauthorize(addr(3)); err != nil {
		t.Fatalf("deauthorize: %v", err)
	}
	if got := mustTotal(t, b); got != 10000 {
		t.Fatalf("total after removal = %d, want 10000", got)
	}
	if b.IsAuthorized(addr(3)) {
		t.Fatal("removed asset still authorized")
	}
	if len(b.Collateral) != 2 {
		t.Fatalf("collateral len = %d, want 2", len(b.Collateral))
	}
}

func TestAuthorizeThenDeauthorizeRestoresAllocations(t *testing.T) {
	b := New("test", addr(0xff), addr(0xaa))
	if err := b.Authorize(addr(1), 10000); err != nil {
		t.Fatal(err)
	}
	if err := b.Authorize(addr(2), 4000); err != nil {
		t.Fatal(err)
	}

	before := append([]CollateralEntry(nil), b.Collateral...)

	if err := b.Authorize(addr(3), 1500); err != nil {
		t.Fatal(err)
	}
	if got := mustTotal(t, b); got != 10000 {
		t.Fatalf("total after authorize = %d, want 10000", got)
	}
	if err := b.Deauthorize(addr(3)); err != nil {
		t.Fatal(err)
	}
	if got := mustTotal(t, b); got != 10000 {
		t.Fatalf("total after deauthorize = %d, want 10000", got)
	}

	const tolerance = 2
	for i, entry := range b.Collateral {
		diff := int(entry.AllocationBps) - int(before[i].AllocationBps)
		if diff < -tolerance || diff > tolerance {
			t.Fatalf("entry %d drifted by %d bps after round trip", i, diff)
		}
	}
}

func TestDeauthorizeLastEntryRejected(t *testing.T) {
	b := New("test", addr(0xff), addr(0xaa))
	if err := b.Authorize(addr(1), 10000); err != nil {
		t.Fatal(err)
	}
	if err := b.Deauthorize(addr(1)); !errors.Is(err, ErrMinCollateral) {
		t.Fatalf("removing the last collateral should fail, got %v", err)
	}
	if len(b.Collateral) != 1 {
		t.Fatal("failed deauthorize must not mutate the ledger")
	}
}

func TestDeauthorizeUnknownAsset(t *testing.T) {
	b := New("test", addr(0xff), addr(0xaa))
	if err := b.Authorize(addr(1), 10000); err != nil {
		t.Fatal(err)
	}
	if err := b.Deauthorize(addr(9)); !errors.Is(err, ErrCollateralNotFound) {
		t.Fatalf("unknown asset should fail, got %v", err)
	}
}

func TestDeauthorizeFullAllocationEntry(t *testing.T) {
	b := New("test", addr(0xff), addr(0xaa))
	if err := b.Authorize(addr(1), 10000); err != nil {
		t.Fatal(err)
	}
	// Zero-weight entries are legal appends: the total is already complete.
	if err := b.Authorize(addr(2), 0); err != nil {
		t.Fatal(err)
	}

	if err := b.Deauthorize(addr(1)); err != nil {
		t.Fatalf("deauthorize full-allocation entry: %v", err)
	}
	if b.Collateral[0].AllocationBps != 10000 {
		t.Fatalf("first remaining entry should absorb the whole shortfall, got %d bps", b.Collateral[0].AllocationBps)
	}
}

func TestSetAllocations(t *testing.T) {
	b := New("test", addr(0xff), addr(0xaa))
	if err := b.Authorize(addr(1), 10000); err != nil {
		t.Fatal(err)
	}
	if err := b.Authorize(addr(2), 3000); err != nil {
		t.Fatal(err)
	}
	if err := b.Authorize(addr(3), 1000); err != nil {
		t.Fatal(err)
	}

	if err := b.SetAllocations([]CollateralEntry{
		{Asset: addr(1), AllocationBps: 6000},
		{Asset: addr(2), AllocationBps: 3000},
		{Asset: addr(3), AllocationBps: 1000},
	}); err != nil {
		t.Fatalf("set allocations: %v", err)
	}
	if b.Collateral[0].AllocationBps != 6000 {
		t.Fatalf("entry 0 = %d bps, want 6000", b.Collateral[0].AllocationBps)
	}
}

func TestSetAllocationsRejectsBadTotal(t *testing.T) {
	b := New("test", addr(0xff), addr(0xaa))
	if err := b.Authorize(addr(1), 10000); err != nil {
		t.Fatal(err)
	}
	if err := b.Authorize(addr(2), 3000); err != nil {
		t.Fatal(err)
	}

	err := b.SetAllocations([]CollateralEntry{
		{Asset: addr(1), AllocationBps: 6000},
		{Asset: addr(2), AllocationBps: 3000},
	})
	if !errors.Is(err, ErrAllocationBps) {
		t.Fatalf("total below 10000 should fail, got %v", err)
	}
	if b.Collateral[0].AllocationBps != 7000 {
		t.Fatal("failed set must not mutate the ledger")
	}
}

func TestSetAllocationsRequiresEveryCurrentAsset(t *testing.T) {
	b := New("test", addr(0xff), addr(0xaa))
	if err := b.Authorize(addr(1), 10000); err != nil {
		t.Fatal(err)
	}
	if err := b.Authorize(addr(2), 3000); err != nil {
		t.Fatal(err)
	}

	err := b.SetAllocations([]CollateralEntry{
		{Asset: addr(1), AllocationBps: 10000},
	})
	if !errors.Is(err, ErrCollateralNotFound) {
		t.Fatalf("missing current asset should fail, got %v", err)
	}
}

func TestSetAllocationsIgnoresUnknownAssets(t *testing.T) {
	b := New("test", addr(0xff), addr(0xaa))
	if err := b.Authorize(addr(1), 10000); err != nil {
		t.Fatal(err)
	}

	// Allocations for assets outside the ledger are dropped silently; the
	// instruction cannot add membership.
	if err := b.SetAllocations([]CollateralEntry{
		{Asset: addr(1), AllocationBps: 10000},
		{Asset: addr(9), AllocationBps: 4000},
	}); err != nil {
		t.Fatalf("unknown assets in input should be ignored: %v", err)
	}
	if len(b.Collateral) != 1 {
		t.Fatalf("collateral len = %d, want 1", len(b.Collateral))
	}
}

func TestInvariantHoldsAcrossMutationSequence(t *testing.T) {
	b := New("test", addr(0xff), addr(0xaa))

	steps := []func() error{
		func() error { return b.Authorize(addr(1), 10000) },
		func() error { return b.Authorize(addr(2), 2500) },
		func() error { return b.Authorize(addr(3), 1500) },
		func() error { return b.Deauthorize(addr(2)) },
		func() error { return b.Authorize(addr(4), 3000) },
		func() error {
			alloc := make([]CollateralEntry, len(b.Collateral))
			copy(alloc, b.Collateral)
			alloc[0].AllocationBps += 1
			alloc[1].AllocationBps -= 1
			return b.SetAllocations(alloc)
		},
		func() error { return b.Deauthorize(addr(4)) },
	}

	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if got := mustTotal(t, b); got != 10000 {
			t.Fatalf("step %d: total = %d, want 10000", i, got)
		}
	}
}

func TestDivisor(t *testing.T) {
	cases := []struct {
		n    uint64
		want uint64
	}{
		{0, 1}, {5, 1}, {10, 10}, {99, 10}, {100, 100},
		{999, 100}, {1000, 1000}, {9999, 1000}, {10000, 10000}, {99999, 10000},
	}
	for _, tc := range cases {
		got, err := divisor(tc.n)
		if err != nil {
			t.Fatalf("divisor(%d): %v", tc.n, err)
		}
		if got != tc.want {
			t.Fatalf("divisor(%d) = %d, want %d", tc.n, got, tc.want)
		}
	}

	if _, err := divisor(100000); !errors.Is(err, ErrNumberTooLarge) {
		t.Fatalf("divisor(100000) should fail, got %v", err)
	}
}
