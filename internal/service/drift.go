package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"bucketd/internal/alerting"
	"bucketd/internal/basket"
	"bucketd/internal/engine"
	"bucketd/internal/storage"
)

// Run begins the aligned drift monitoring loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessBucket)
}

// ProcessBucket samples allocation drift for every stored basket.
func (s *Service) ProcessBucket(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	names, err := s.baskets.ListBasketNames(ctx)
	if err != nil {
		return fmt.Errorf("list baskets: %w", err)
	}

	for _, name := range names {
		if err := s.sampleBasket(ctx, bucket, name); err != nil {
			s.logger.Error().Err(err).Str("basket", name).Time("bucket", bucket).Msg("drift sampling failed")
		}
	}
	return nil
}

// assetValuation holds one collateral position priced at the target precision.
type assetValuation struct {
	entry    basket.CollateralEntry
	value    *big.Int
	price    *big.Int
	decimals uint8
	driftBps int32
}

func (s *Service) sampleBasket(ctx context.Context, bucket time.Time, name string) error {
	mu := s.lockFor(name)
	mu.Lock()
	defer mu.Unlock()

	b, err := s.baskets.GetBasket(ctx, name)
	if err != nil {
		return err
	}
	if len(b.Collateral) == 0 {
		return nil
	}

	valuations := make([]assetValuation, 0, len(b.Collateral))
	total := new(big.Int)
	clockSlot := s.clock()

	for _, entry := range b.Collateral {
		balance, err := s.balances.Balance(ctx, entry.Asset, b.Custody)
		if err != nil {
			return fmt.Errorf("read custody balance for %s: %w", entry.Asset.Hex(), err)
		}
		decimals, err := s.balances.Decimals(ctx, entry.Asset)
		if err != nil {
			return fmt.Errorf("read decimals for %s: %w", entry.Asset.Hex(), err)
		}

		price, err := s.prices.Read(ctx, entry.Asset, clockSlot)
		if err != nil {
			s.alert(ctx, alerting.Notification{
				Kind:          alerting.KindOracleFailure,
				Basket:        name,
				Bucket:        bucket,
				Asset:         entry.Asset.Hex(),
				Channels:      s.channels,
				AdditionalMsg: err.Error(),
			})
			return fmt.Errorf("read price for %s: %w", entry.Asset.Hex(), err)
		}

		// value = balance * price / 10^decimals, still scaled by 10^targetPrecision
		value := new(big.Int).SetUint64(balance)
		value.Mul(value, price.Price)
		value.Quo(value, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))

		valuations = append(valuations, assetValuation{
			entry:    entry,
			value:    value,
			price:    price.Price,
			decimals: decimals,
		})
		total.Add(total, value)
	}

	if total.Sign() <= 0 {
		s.logger.Warn().Str("basket", name).Time("bucket", bucket).Msg("basket holds no collateral value")
		return nil
	}

	for i := range valuations {
		valuation := &valuations[i]
		actual := new(big.Int).Mul(valuation.value, big.NewInt(int64(basket.MaxBasisPoints)))
		actual.Quo(actual, total)
		actualBps := int32(actual.Int64())
		targetBps := int32(valuation.entry.AllocationBps)
		driftBps := actualBps - targetBps
		valuation.driftBps = driftBps

		sample := storage.DriftSample{
			Basket:    name,
			Bucket:    bucket,
			Asset:     valuation.entry.Asset.Hex(),
			TargetBps: targetBps,
			ActualBps: actualBps,
			DriftBps:  driftBps,
			ValueUSD:  decimal.NewFromBigInt(valuation.value, -int32(s.targetPrecision)),
		}
		if s.drifts != nil {
			if err := s.drifts.InsertDriftSample(ctx, sample); err != nil {
				s.logger.Error().Err(err).Str("basket", name).Str("asset", sample.Asset).Msg("failed to persist drift sample")
			}
		}

		if s.driftThresholdBps > 0 && abs32(driftBps) > s.driftThresholdBps {
			s.alert(ctx, alerting.Notification{
				Kind:         alerting.KindDrift,
				Basket:       name,
				Bucket:       bucket,
				Asset:        sample.Asset,
				TargetBps:    targetBps,
				ActualBps:    actualBps,
				DriftBps:     driftBps,
				ThresholdBps: s.driftThresholdBps,
				ValueUSD:     sample.ValueUSD,
				Channels:     s.channels,
			})
		}
	}

	s.suggestRebalance(ctx, name, valuations, total)

	s.logger.Info().Str("basket", name).Time("bucket", bucket).
		Int("assets", len(valuations)).
		Str("total_value", decimal.NewFromBigInt(total, -int32(s.targetPrecision)).String()).
		Msg("drift sampled")
	return nil
}

// suggestRebalance journals one slippage-bounded swap from the most
// overweight asset toward the most underweight one. The journal entry is a
// suggestion for the rebalance authority, nothing is executed.
func (s *Service) suggestRebalance(ctx context.Context, name string, valuations []assetValuation, total *big.Int) {
	if s.rebalancer == nil || s.ops == nil || s.driftThresholdBps <= 0 || len(valuations) < 2 {
		return
	}

	source := &valuations[0]
	dest := &valuations[0]
	for i := range valuations {
		v := &valuations[i]
		if v.driftBps > source.driftBps {
			source = v
		}
		if v.driftBps < dest.driftBps {
			dest = v
		}
	}
	if source.driftBps <= s.driftThresholdBps || dest.driftBps >= 0 || source == dest {
		return
	}
	if source.price == nil || source.price.Sign() <= 0 {
		return
	}

	// excess value held above target, converted back to source native units
	excess := new(big.Int).Mul(total, big.NewInt(int64(source.driftBps)))
	excess.Quo(excess, big.NewInt(int64(basket.MaxBasisPoints)))
	amount := excess.Mul(excess, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(source.decimals)), nil))
	amount.Quo(amount, source.price)
	if !amount.IsUint64() || amount.Sign() <= 0 {
		return
	}

	planned, err := s.rebalancer.Plan(engine.RebalanceAsset{
		SourceAsset:    source.entry.Asset,
		DestAsset:      dest.entry.Asset,
		SourceDecimals: source.decimals,
		DestDecimals:   dest.decimals,
	}, amount.Uint64())
	if err != nil {
		s.logger.Error().Err(err).Str("basket", name).Msg("failed to size suggested rebalance")
		return
	}

	raw, _ := json.Marshal(map[string]string{
		"source": source.entry.Asset.Hex(),
		"dest":   dest.entry.Asset.Hex(),
	})
	s.journal(ctx, storage.OperationRecord{
		Basket:    name,
		Kind:      storage.OpRebalance,
		Asset:     source.entry.Asset.Hex(),
		AmountIn:  decimal.NewFromUint64(planned.AmountIn),
		AmountOut: decimal.NewFromUint64(planned.AmountOut),
		Detail:    raw,
		Status:    "suggested",
	})

	s.logger.Info().Str("basket", name).
		Str("source", source.entry.Asset.Hex()).
		Str("dest", dest.entry.Asset.Hex()).
		Uint64("amount_in", planned.AmountIn).
		Uint64("min_amount_out", planned.AmountOut).
		Msg("rebalance suggested")
}

// warnUndercollateralized alerts when the basket's collateral value implies a
// reserve token price below the peg. Best effort: oracle failures here only
// skip the check, the redemption itself already completed.
func (s *Service) warnUndercollateralized(ctx context.Context, name string, assets []engine.RedeemAsset, totalSupply uint64) {
	if s.prices == nil || totalSupply == 0 || len(assets) == 0 {
		return
	}

	clockSlot := s.clock()
	total := new(big.Int)
	for _, asset := range assets {
		reading, err := s.prices.Read(ctx, asset.Asset, clockSlot)
		if err != nil {
			return
		}
		value := new(big.Int).SetUint64(asset.CustodyBalance)
		value.Mul(value, reading.Price)
		value.Quo(value, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(asset.Decimals)), nil))
		total.Add(total, value)
	}

	precisionFactor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(s.targetPrecision)), nil)
	pricePerToken := new(big.Int).Mul(total, precisionFactor)
	pricePerToken.Quo(pricePerToken, new(big.Int).SetUint64(totalSupply))

	if pricePerToken.Cmp(precisionFactor) >= 0 {
		return
	}

	s.alert(ctx, alerting.Notification{
		Kind:          alerting.KindUndercollateralize,
		Basket:        name,
		Bucket:        time.Now().UTC(),
		ValueUSD:      decimal.NewFromBigInt(total, -int32(s.targetPrecision)),
		Channels:      s.channels,
		AdditionalMsg: fmt.Sprintf("implied reserve token price %s below peg", pricePerToken.String()),
	})
}

func (s *Service) alert(ctx context.Context, note alerting.Notification) {
	if !s.alertsOn || s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("basket", note.Basket).Str("kind", note.Kind).Msg("failed to dispatch alert")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
