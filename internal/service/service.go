package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bucketd/internal/alerting"
	"bucketd/internal/basket"
	"bucketd/internal/config"
	"bucketd/internal/custody"
	"bucketd/internal/engine"
	"bucketd/internal/scheduler"
	"bucketd/internal/storage"
)

var (
	// ErrUnauthorized indicates the caller does not hold the required authority.
	ErrUnauthorized = errors.New("service: caller is not the basket authority")

	// ErrBasketExists indicates a create collided with a stored basket.
	ErrBasketExists = errors.New("service: basket already exists")
)

// SlotClock supplies the current slot for oracle staleness checks.
type SlotClock func() uint64

// Options wires the collaborators the service orchestrates.
type Options struct {
	Baskets    storage.BasketStore
	Ops        storage.OperationStore
	Drifts     storage.DriftStore
	Issuance   *engine.IssuanceEngine
	Redemption *engine.RedemptionEngine
	Rebalancer *engine.RebalanceExecutor
	Prices     engine.PriceReader
	Balances   custody.BalanceReader
	Notifier   alerting.Notifier
	Scheduler  *scheduler.Scheduler
	Clock      SlotClock
}

// Service orchestrates basket administration, conversions, and drift monitoring.
type Service struct {
	baskets storage.BasketStore
	ops     storage.OperationStore
	drifts  storage.DriftStore
	locker  storage.AdvisoryLocker
	lockKey int64

	issuance   *engine.IssuanceEngine
	redemption *engine.RedemptionEngine
	rebalancer *engine.RebalanceExecutor
	prices     engine.PriceReader
	balances   custody.BalanceReader
	notifier   alerting.Notifier
	scheduler  *scheduler.Scheduler
	logger     zerolog.Logger

	clock SlotClock

	driftThresholdBps int32
	targetPrecision   uint32
	channels          []string
	alertsOn          bool

	mu       sync.Mutex
	basketMu map[string]*sync.Mutex
}

// New constructs the basket service.
func New(cfg *config.Config, opts Options, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := opts.Baskets.(storage.AdvisoryLocker); ok {
		locker = l
	}

	clock := opts.Clock
	if clock == nil {
		slotDuration := cfg.Oracle.SlotDuration
		if slotDuration <= 0 {
			slotDuration = 400 * time.Millisecond
		}
		clock = func() uint64 {
			return uint64(time.Now().UnixNano() / int64(slotDuration))
		}
	}

	return &Service{
		baskets:           opts.Baskets,
		ops:               opts.Ops,
		drifts:            opts.Drifts,
		locker:            locker,
		lockKey:           cfg.Scheduler.AdvisoryLockKey,
		issuance:          opts.Issuance,
		redemption:        opts.Redemption,
		rebalancer:        opts.Rebalancer,
		prices:            opts.Prices,
		balances:          opts.Balances,
		notifier:          opts.Notifier,
		scheduler:         opts.Scheduler,
		logger:            logger.With().Str("component", "service").Logger(),
		clock:             clock,
		driftThresholdBps: cfg.Rebalance.DriftThresholdBps,
		targetPrecision:   cfg.Oracle.TargetPrecision,
		channels:          cfg.Alerting.Channels,
		alertsOn:          cfg.Alerting.Enabled,
		basketMu:          make(map[string]*sync.Mutex),
	}
}

// lockFor returns the serialization mutex for one basket.
func (s *Service) lockFor(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.basketMu[name]
	if !ok {
		m = &sync.Mutex{}
		s.basketMu[name] = m
	}
	return m
}

// CreateBasket registers a new basket with an empty allocation ledger.
func (s *Service) CreateBasket(ctx context.Context, name string, reserveMint, custodyAccount, authority common.Address) (*basket.Basket, error) {
	mu := s.lockFor(name)
	mu.Lock()
	defer mu.Unlock()

	if _, err := s.baskets.GetBasket(ctx, name); err == nil {
		return nil, ErrBasketExists
	} else if !errors.Is(err, storage.ErrBasketNotFound) {
		return nil, err
	}

	b := basket.New(name, reserveMint, authority)
	b.Custody = custodyAccount
	if err := s.baskets.SaveBasket(ctx, b); err != nil {
		return nil, fmt.Errorf("save basket: %w", err)
	}

	s.logger.Info().Str("basket", name).
		Str("reserve_mint", reserveMint.Hex()).
		Str("authority", authority.Hex()).
		Msg("basket created")
	return b, nil
}

// UpdateRebalanceAuthority rotates the delegated rebalance signer.
func (s *Service) UpdateRebalanceAuthority(ctx context.Context, name string, caller, next common.Address) error {
	mu := s.lockFor(name)
	mu.Lock()
	defer mu.Unlock()

	b, err := s.baskets.GetBasket(ctx, name)
	if err != nil {
		return err
	}
	if caller != b.Authority {
		return ErrUnauthorized
	}

	b.SetRebalanceAuthority(next)
	return s.baskets.SaveBasket(ctx, b)
}

// AuthorizeCollateral admits an asset into the basket at a requested weight.
func (s *Service) AuthorizeCollateral(ctx context.Context, name string, caller, asset common.Address, allocationBps uint16) (*basket.Basket, error) {
	mu := s.lockFor(name)
	mu.Lock()
	defer mu.Unlock()

	b, err := s.baskets.GetBasket(ctx, name)
	if err != nil {
		return nil, err
	}
	if caller != b.Authority {
		return nil, ErrUnauthorized
	}

	if err := b.Authorize(asset, allocationBps); err != nil {
		return nil, err
	}
	if err := s.baskets.SaveBasket(ctx, b); err != nil {
		return nil, fmt.Errorf("save basket: %w", err)
	}

	s.logger.Info().Str("basket", name).
		Str("asset", asset.Hex()).
		Uint16("allocation_bps", allocationBps).
		Msg("collateral authorized")
	return b, nil
}

// RemoveCollateral evicts an asset, redistributing its weight to the rest.
func (s *Service) RemoveCollateral(ctx context.Context, name string, caller, asset common.Address) (*basket.Basket, error) {
	mu := s.lockFor(name)
	mu.Lock()
	defer mu.Unlock()

	b, err := s.baskets.GetBasket(ctx, name)
	if err != nil {
		return nil, err
	}
	if caller != b.Authority {
		return nil, ErrUnauthorized
	}

	if err := b.Deauthorize(asset); err != nil {
		return nil, err
	}
	if err := s.baskets.SaveBasket(ctx, b); err != nil {
		return nil, fmt.Errorf("save basket: %w", err)
	}

	s.logger.Info().Str("basket", name).Str("asset", asset.Hex()).Msg("collateral removed")
	return b, nil
}

// SetCollateralAllocations reweights the existing collateral set in one shot.
func (s *Service) SetCollateralAllocations(ctx context.Context, name string, caller common.Address, allocations []basket.CollateralEntry) (*basket.Basket, error) {
	mu := s.lockFor(name)
	mu.Lock()
	defer mu.Unlock()

	b, err := s.baskets.GetBasket(ctx, name)
	if err != nil {
		return nil, err
	}
	if caller != b.Authority {
		return nil, ErrUnauthorized
	}

	if err := b.SetAllocations(allocations); err != nil {
		return nil, err
	}
	if err := s.baskets.SaveBasket(ctx, b); err != nil {
		return nil, fmt.Errorf("save basket: %w", err)
	}
	return b, nil
}

// Deposit converts a collateral deposit into freshly issued reserve tokens.
func (s *Service) Deposit(ctx context.Context, name string, depositor, asset common.Address, amount uint64) (uint64, error) {
	mu := s.lockFor(name)
	mu.Lock()
	defer mu.Unlock()

	b, err := s.baskets.GetBasket(ctx, name)
	if err != nil {
		return 0, err
	}

	issued, err := s.issuance.Deposit(ctx, b, depositor, asset, amount, s.clock())
	if err != nil {
		return 0, err
	}

	s.journal(ctx, storage.OperationRecord{
		Basket:    name,
		Kind:      storage.OpDeposit,
		Caller:    depositor.Hex(),
		Asset:     asset.Hex(),
		AmountIn:  decimal.NewFromUint64(amount),
		AmountOut: decimal.NewFromUint64(issued),
		Status:    "complete",
	})
	return issued, nil
}

// Redeem burns reserve tokens and pays out the pro-rata collateral shares.
func (s *Service) Redeem(ctx context.Context, name string, redeemer, heldMint common.Address, burnAmount, totalSupply uint64) ([]uint64, error) {
	mu := s.lockFor(name)
	mu.Lock()
	defer mu.Unlock()

	b, err := s.baskets.GetBasket(ctx, name)
	if err != nil {
		return nil, err
	}

	assets, err := s.redeemAssets(ctx, b)
	if err != nil {
		return nil, err
	}

	payouts, err := s.redemption.Redeem(ctx, b, redeemer, heldMint, burnAmount, totalSupply, assets, s.clock())
	if err != nil {
		return nil, err
	}

	s.warnUndercollateralized(ctx, name, assets, totalSupply)

	detail := make(map[string]uint64, len(payouts))
	for i, payout := range payouts {
		detail[assets[i].Asset.Hex()] = payout
	}
	raw, _ := json.Marshal(detail)

	s.journal(ctx, storage.OperationRecord{
		Basket:   name,
		Kind:     storage.OpRedeem,
		Caller:   redeemer.Hex(),
		Asset:    heldMint.Hex(),
		AmountIn: decimal.NewFromUint64(burnAmount),
		Detail:   raw,
		Status:   "complete",
	})
	return payouts, nil
}

// Rebalance swaps one collateral for another under the slippage bound.
func (s *Service) Rebalance(ctx context.Context, name string, caller, sourceAsset, destAsset, pool common.Address, amountIn, minAmountOut uint64) (engine.ExchangeAmount, error) {
	mu := s.lockFor(name)
	mu.Lock()
	defer mu.Unlock()

	b, err := s.baskets.GetBasket(ctx, name)
	if err != nil {
		return engine.ExchangeAmount{}, err
	}

	sourceBalance, err := s.balances.Balance(ctx, sourceAsset, b.Custody)
	if err != nil {
		return engine.ExchangeAmount{}, fmt.Errorf("read source custody balance: %w", err)
	}
	sourceDecimals, err := s.balances.Decimals(ctx, sourceAsset)
	if err != nil {
		return engine.ExchangeAmount{}, fmt.Errorf("read source decimals: %w", err)
	}
	destDecimals, err := s.balances.Decimals(ctx, destAsset)
	if err != nil {
		return engine.ExchangeAmount{}, fmt.Errorf("read dest decimals: %w", err)
	}

	assets := []engine.RebalanceAsset{{
		SourceAsset:          sourceAsset,
		DestAsset:            destAsset,
		SourceCustodyBalance: sourceBalance,
		SourceDecimals:       sourceDecimals,
		DestDecimals:         destDecimals,
		Pool:                 pool,
	}}

	exchanged, err := s.rebalancer.Rebalance(ctx, b, caller, assets, amountIn, minAmountOut)
	if err != nil {
		return engine.ExchangeAmount{}, err
	}

	raw, _ := json.Marshal(map[string]string{
		"source": sourceAsset.Hex(),
		"dest":   destAsset.Hex(),
		"pool":   pool.Hex(),
	})
	s.journal(ctx, storage.OperationRecord{
		Basket:    name,
		Kind:      storage.OpRebalance,
		Caller:    caller.Hex(),
		Asset:     sourceAsset.Hex(),
		AmountIn:  decimal.NewFromUint64(exchanged.AmountIn),
		AmountOut: decimal.NewFromUint64(exchanged.AmountOut),
		Detail:    raw,
		Status:    "complete",
	})
	return exchanged, nil
}

// redeemAssets snapshots custody balances for every authorized collateral.
func (s *Service) redeemAssets(ctx context.Context, b *basket.Basket) ([]engine.RedeemAsset, error) {
	assets := make([]engine.RedeemAsset, 0, len(b.Collateral))
	for _, entry := range b.Collateral {
		balance, err := s.balances.Balance(ctx, entry.Asset, b.Custody)
		if err != nil {
			return nil, fmt.Errorf("read custody balance for %s: %w", entry.Asset.Hex(), err)
		}
		decimals, err := s.balances.Decimals(ctx, entry.Asset)
		if err != nil {
			return nil, fmt.Errorf("read decimals for %s: %w", entry.Asset.Hex(), err)
		}
		assets = append(assets, engine.RedeemAsset{
			Asset:          entry.Asset,
			CustodyBalance: balance,
			Decimals:       decimals,
		})
	}
	return assets, nil
}

func (s *Service) journal(ctx context.Context, rec storage.OperationRecord) {
	if s.ops == nil {
		return
	}
	if _, err := s.ops.InsertOperation(ctx, rec); err != nil {
		s.logger.Error().Err(err).Str("basket", rec.Basket).Str("kind", rec.Kind).Msg("failed to journal operation")
	}
}
