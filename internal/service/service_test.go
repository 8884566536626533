package service

import (
	"context"
	"math/big"
	"sort"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"bucketd/internal/alerting"
	"bucketd/internal/basket"
	"bucketd/internal/config"
	"bucketd/internal/custody"
	"bucketd/internal/engine"
	"bucketd/internal/executor"
	"bucketd/internal/oracle"
	"bucketd/internal/storage"
)

func addr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

type memBaskets struct {
	stored map[string]*basket.Basket
}

func newMemBaskets() *memBaskets {
	return &memBaskets{stored: make(map[string]*basket.Basket)}
}

func (m *memBaskets) SaveBasket(ctx context.Context, b *basket.Basket) error {
	m.stored[b.Name] = b.Clone()
	return nil
}

func (m *memBaskets) GetBasket(ctx context.Context, name string) (*basket.Basket, error) {
	b, ok := m.stored[name]
	if !ok {
		return nil, storage.ErrBasketNotFound
	}
	return b.Clone(), nil
}

func (m *memBaskets) ListBasketNames(ctx context.Context) ([]string, error) {
	names := make([]string, 0, len(m.stored))
	for name := range m.stored {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

type memOps struct {
	records []storage.OperationRecord
}

func (m *memOps) InsertOperation(ctx context.Context, rec storage.OperationRecord) (storage.OperationRecord, error) {
	rec.ID = int64(len(m.records) + 1)
	rec.CreatedAt = time.Now().UTC()
	m.records = append(m.records, rec)
	return rec, nil
}

func (m *memOps) ListRecentOperations(ctx context.Context, basketName string, limit int) ([]storage.OperationRecord, error) {
	return m.records, nil
}

type memDrifts struct {
	samples []storage.DriftSample
}

func (m *memDrifts) InsertDriftSample(ctx context.Context, sample storage.DriftSample) error {
	m.samples = append(m.samples, sample)
	return nil
}

func (m *memDrifts) ListDriftSamplesBetween(ctx context.Context, basketName string, from, to time.Time) ([]storage.DriftSample, error) {
	return m.samples, nil
}

type memNotifier struct {
	notes []alerting.Notification
}

func (m *memNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	m.notes = append(m.notes, note)
	return nil
}

type fixedPrices struct {
	prices map[common.Address]int64
}

func (f *fixedPrices) Read(ctx context.Context, asset common.Address, clockSlot uint64) (oracle.PriceData, error) {
	p, ok := f.prices[asset]
	if !ok {
		return oracle.PriceData{}, oracle.ErrInvalidOracle
	}
	return oracle.PriceData{
		Price:                big.NewInt(p),
		TWAP:                 big.NewInt(p),
		Confidence:           big.NewInt(0),
		HasSufficientSamples: true,
	}, nil
}

type fixture struct {
	svc      *Service
	baskets  *memBaskets
	ops      *memOps
	drifts   *memDrifts
	notifier *memNotifier
	custody  *custody.Static
	prices   *fixedPrices
}

func newFixture(t *testing.T, priceAware bool) *fixture {
	t.Helper()

	cfg := &config.Config{}
	cfg.Oracle.TargetPrecision = 6
	cfg.Oracle.SlotDuration = 400 * time.Millisecond
	cfg.Rebalance.MaxSlippageBps = 150
	cfg.Rebalance.DriftThresholdBps = 50
	cfg.Alerting.Enabled = true
	cfg.Alerting.Channels = []string{"telegram"}

	logger := zerolog.Nop()
	prices := &fixedPrices{prices: make(map[common.Address]int64)}
	balances := &custody.Static{
		Balances: make(map[common.Address]map[common.Address]uint64),
		Decs:     make(map[common.Address]uint8),
	}
	planner := executor.NewPlanner(nil, logger)

	var redemptionPrices engine.PriceReader
	if priceAware {
		redemptionPrices = prices
	}

	opts := Options{
		Baskets:    newMemBaskets(),
		Ops:        &memOps{},
		Drifts:     &memDrifts{},
		Issuance:   engine.NewIssuance(prices, planner, addr(0xaa), 6, logger),
		Redemption: engine.NewRedemption(redemptionPrices, planner, planner, addr(0xaa), 6, logger),
		Rebalancer: engine.NewRebalance(planner, planner, planner, addr(0xaa), addr(0xab), 150, logger),
		Prices:     prices,
		Balances:   balances,
		Notifier:   &memNotifier{},
		Clock:      func() uint64 { return 100 },
	}

	svc := New(cfg, opts, logger)
	return &fixture{
		svc:      svc,
		baskets:  opts.Baskets.(*memBaskets),
		ops:      opts.Ops.(*memOps),
		drifts:   opts.Drifts.(*memDrifts),
		notifier: opts.Notifier.(*memNotifier),
		custody:  balances,
		prices:   prices,
	}
}

func (f *fixture) createBasket(t *testing.T, name string) *basket.Basket {
	t.Helper()
	b, err := f.svc.CreateBasket(context.Background(), name, addr(0x01), addr(0x02), addr(0x03))
	if err != nil {
		t.Fatalf("CreateBasket failed: %v", err)
	}
	return b
}

func TestCreateBasketRejectsDuplicates(t *testing.T) {
	f := newFixture(t, false)
	f.createBasket(t, "main")

	if _, err := f.svc.CreateBasket(context.Background(), "main", addr(0x01), addr(0x02), addr(0x03)); err != ErrBasketExists {
		t.Fatalf("expected ErrBasketExists, got %v", err)
	}
}

func TestAdminOpsRequireAuthority(t *testing.T) {
	f := newFixture(t, false)
	f.createBasket(t, "main")
	stranger := addr(0x99)

	if _, err := f.svc.AuthorizeCollateral(context.Background(), "main", stranger, addr(0x10), 10000); err != ErrUnauthorized {
		t.Fatalf("AuthorizeCollateral: expected ErrUnauthorized, got %v", err)
	}
	if _, err := f.svc.RemoveCollateral(context.Background(), "main", stranger, addr(0x10)); err != ErrUnauthorized {
		t.Fatalf("RemoveCollateral: expected ErrUnauthorized, got %v", err)
	}
	if err := f.svc.UpdateRebalanceAuthority(context.Background(), "main", stranger, addr(0x42)); err != ErrUnauthorized {
		t.Fatalf("UpdateRebalanceAuthority: expected ErrUnauthorized, got %v", err)
	}
}

func TestAuthorizeCollateralPersists(t *testing.T) {
	f := newFixture(t, false)
	f.createBasket(t, "main")
	authority := addr(0x03)

	if _, err := f.svc.AuthorizeCollateral(context.Background(), "main", authority, addr(0x10), 10000); err != nil {
		t.Fatalf("AuthorizeCollateral failed: %v", err)
	}
	if _, err := f.svc.AuthorizeCollateral(context.Background(), "main", authority, addr(0x11), 4000); err != nil {
		t.Fatalf("second AuthorizeCollateral failed: %v", err)
	}

	got, err := f.svc.baskets.GetBasket(context.Background(), "main")
	if err != nil {
		t.Fatalf("GetBasket failed: %v", err)
	}
	if len(got.Collateral) != 2 {
		t.Fatalf("expected 2 collateral entries, got %d", len(got.Collateral))
	}
	var total uint16
	for _, entry := range got.Collateral {
		total += entry.AllocationBps
	}
	if total != basket.MaxBasisPoints {
		t.Fatalf("allocations must sum to %d, got %d", basket.MaxBasisPoints, total)
	}
}

func TestUpdateRebalanceAuthority(t *testing.T) {
	f := newFixture(t, false)
	f.createBasket(t, "main")

	next := addr(0x42)
	if err := f.svc.UpdateRebalanceAuthority(context.Background(), "main", addr(0x03), next); err != nil {
		t.Fatalf("UpdateRebalanceAuthority failed: %v", err)
	}

	got, _ := f.svc.baskets.GetBasket(context.Background(), "main")
	if got.RebalanceAuthority != next {
		t.Fatalf("rebalance authority not rotated: %s", got.RebalanceAuthority.Hex())
	}
}

func TestDepositIssuesAndJournals(t *testing.T) {
	f := newFixture(t, false)
	f.createBasket(t, "main")
	authority := addr(0x03)
	asset := addr(0x10)

	if _, err := f.svc.AuthorizeCollateral(context.Background(), "main", authority, asset, 10000); err != nil {
		t.Fatalf("AuthorizeCollateral failed: %v", err)
	}
	f.prices.prices[asset] = 1_000_000 // exactly at peg

	issued, err := f.svc.Deposit(context.Background(), "main", addr(0x20), asset, 500)
	if err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if issued != 500 {
		t.Fatalf("expected 500 issued at peg, got %d", issued)
	}

	if len(f.ops.records) != 1 {
		t.Fatalf("expected 1 journal entry, got %d", len(f.ops.records))
	}
	rec := f.ops.records[0]
	if rec.Kind != storage.OpDeposit {
		t.Fatalf("unexpected journal kind %q", rec.Kind)
	}
	if rec.AmountOut.String() != "500" {
		t.Fatalf("unexpected journaled amount out %s", rec.AmountOut.String())
	}
}

func TestRedeemPaysProRata(t *testing.T) {
	f := newFixture(t, false)
	b := f.createBasket(t, "main")
	authority := addr(0x03)
	assetA := addr(0x10)
	assetB := addr(0x11)

	if _, err := f.svc.AuthorizeCollateral(context.Background(), "main", authority, assetA, 10000); err != nil {
		t.Fatalf("authorize A failed: %v", err)
	}
	if _, err := f.svc.AuthorizeCollateral(context.Background(), "main", authority, assetB, 4000); err != nil {
		t.Fatalf("authorize B failed: %v", err)
	}

	f.custody.Balances[assetA] = map[common.Address]uint64{b.Custody: 60}
	f.custody.Balances[assetB] = map[common.Address]uint64{b.Custody: 40}
	f.custody.Decs[assetA] = 6
	f.custody.Decs[assetB] = 6

	payouts, err := f.svc.Redeem(context.Background(), "main", addr(0x20), b.ReserveMint, 10, 100)
	if err != nil {
		t.Fatalf("Redeem failed: %v", err)
	}
	if len(payouts) != 2 {
		t.Fatalf("expected 2 payouts, got %d", len(payouts))
	}
	if payouts[0] != 6 || payouts[1] != 4 {
		t.Fatalf("expected pro-rata payouts [6 4], got %v", payouts)
	}

	if len(f.ops.records) != 1 || f.ops.records[0].Kind != storage.OpRedeem {
		t.Fatalf("redeem was not journaled: %#v", f.ops.records)
	}
}

func TestRedeemScalesBurnWhenUndercollateralized(t *testing.T) {
	f := newFixture(t, true)
	b := f.createBasket(t, "main")
	authority := addr(0x03)
	assetA := addr(0x10)
	assetB := addr(0x11)

	if _, err := f.svc.AuthorizeCollateral(context.Background(), "main", authority, assetA, 10000); err != nil {
		t.Fatalf("authorize A failed: %v", err)
	}
	if _, err := f.svc.AuthorizeCollateral(context.Background(), "main", authority, assetB, 4000); err != nil {
		t.Fatalf("authorize B failed: %v", err)
	}

	f.custody.Balances[assetA] = map[common.Address]uint64{b.Custody: 60_000_000}
	f.custody.Balances[assetB] = map[common.Address]uint64{b.Custody: 40_000_000}
	f.custody.Decs[assetA] = 6
	f.custody.Decs[assetB] = 6
	// both collaterals trade at half the peg, so the basket backs each
	// reserve token with only half a unit of value
	f.prices.prices[assetA] = 500_000
	f.prices.prices[assetB] = 500_000

	payouts, err := f.svc.Redeem(context.Background(), "main", addr(0x20), b.ReserveMint, 20_000_000, 100_000_000)
	if err != nil {
		t.Fatalf("Redeem failed: %v", err)
	}
	if payouts[0] != 6_000_000 || payouts[1] != 4_000_000 {
		t.Fatalf("expected halved payouts [6000000 4000000], got %v", payouts)
	}
}

func TestRedeemRejectsWrongMint(t *testing.T) {
	f := newFixture(t, false)
	f.createBasket(t, "main")

	if _, err := f.svc.Redeem(context.Background(), "main", addr(0x20), addr(0x77), 10, 100); err == nil {
		t.Fatal("expected wrong mint to be rejected")
	}
}

func TestRebalanceJournalsExchange(t *testing.T) {
	f := newFixture(t, false)
	b := f.createBasket(t, "main")
	authority := addr(0x03)
	assetA := addr(0x10)
	assetB := addr(0x11)

	if _, err := f.svc.AuthorizeCollateral(context.Background(), "main", authority, assetA, 10000); err != nil {
		t.Fatalf("authorize A failed: %v", err)
	}
	if _, err := f.svc.AuthorizeCollateral(context.Background(), "main", authority, assetB, 4000); err != nil {
		t.Fatalf("authorize B failed: %v", err)
	}

	f.custody.Balances[assetA] = map[common.Address]uint64{b.Custody: 1_000_000}
	f.custody.Decs[assetA] = 6
	f.custody.Decs[assetB] = 6

	// rebalance authority defaults to the basket authority
	exchanged, err := f.svc.Rebalance(context.Background(), "main", authority, assetA, assetB, addr(0x50), 777, 700)
	if err != nil {
		t.Fatalf("Rebalance failed: %v", err)
	}
	if exchanged.AmountIn != 777 || exchanged.AmountOut != 700 {
		t.Fatalf("authority amounts should pass through verbatim, got %+v", exchanged)
	}

	if len(f.ops.records) != 1 || f.ops.records[0].Kind != storage.OpRebalance {
		t.Fatalf("rebalance was not journaled: %#v", f.ops.records)
	}
}

func TestProcessBucketSamplesDriftAndAlerts(t *testing.T) {
	f := newFixture(t, false)
	b := f.createBasket(t, "main")
	authority := addr(0x03)
	assetA := addr(0x10)
	assetB := addr(0x11)

	if _, err := f.svc.AuthorizeCollateral(context.Background(), "main", authority, assetA, 10000); err != nil {
		t.Fatalf("authorize A failed: %v", err)
	}
	if _, err := f.svc.AuthorizeCollateral(context.Background(), "main", authority, assetB, 5000); err != nil {
		t.Fatalf("authorize B failed: %v", err)
	}

	// target 50/50 but custody actually holds 70/30
	f.custody.Balances[assetA] = map[common.Address]uint64{b.Custody: 70}
	f.custody.Balances[assetB] = map[common.Address]uint64{b.Custody: 30}
	f.custody.Decs[assetA] = 0
	f.custody.Decs[assetB] = 0
	f.prices.prices[assetA] = 1_000_000
	f.prices.prices[assetB] = 1_000_000

	bucket := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	if err := f.svc.ProcessBucket(context.Background(), bucket); err != nil {
		t.Fatalf("ProcessBucket failed: %v", err)
	}

	if len(f.drifts.samples) != 2 {
		t.Fatalf("expected 2 drift samples, got %d", len(f.drifts.samples))
	}
	first := f.drifts.samples[0]
	if first.ActualBps != 7000 || first.TargetBps != 5000 || first.DriftBps != 2000 {
		t.Fatalf("unexpected first drift sample: %+v", first)
	}

	if len(f.notifier.notes) != 2 {
		t.Fatalf("expected 2 drift alerts, got %d", len(f.notifier.notes))
	}
	if f.notifier.notes[0].Kind != alerting.KindDrift {
		t.Fatalf("unexpected alert kind %q", f.notifier.notes[0].Kind)
	}
}

func TestProcessBucketAlertsOnOracleFailure(t *testing.T) {
	f := newFixture(t, false)
	b := f.createBasket(t, "main")
	authority := addr(0x03)
	asset := addr(0x10)

	if _, err := f.svc.AuthorizeCollateral(context.Background(), "main", authority, asset, 10000); err != nil {
		t.Fatalf("authorize failed: %v", err)
	}
	f.custody.Balances[asset] = map[common.Address]uint64{b.Custody: 100}
	// no price registered for the asset

	bucket := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	if err := f.svc.ProcessBucket(context.Background(), bucket); err != nil {
		t.Fatalf("ProcessBucket should swallow per-basket failures: %v", err)
	}

	if len(f.notifier.notes) != 1 || f.notifier.notes[0].Kind != alerting.KindOracleFailure {
		t.Fatalf("expected one oracle failure alert, got %#v", f.notifier.notes)
	}
	if len(f.drifts.samples) != 0 {
		t.Fatalf("no drift samples should be stored on oracle failure, got %d", len(f.drifts.samples))
	}
}
