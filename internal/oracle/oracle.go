package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/rs/zerolog"
)

// ErrInvalidOracle indicates that no configured source produced a reading
// that passed validation.
var ErrInvalidOracle = errors.New("oracle: no valid price source")

// PriceData is a decoded oracle reading at the aggregator's target precision.
// It is ephemeral: recomputed on every call, never cached, since each call
// may observe a different clock slot.
type PriceData struct {
	// Price is a signed fixed-point mantissa at the target precision.
	Price *big.Int
	// Confidence is the unsigned uncertainty magnitude at the same precision.
	Confidence *big.Int
	// TWAP is an optional time-weighted reference price; nil when the
	// source does not provide one.
	TWAP *big.Int
	// DelaySlots is the reading's age in host clock slots.
	DelaySlots int64
	// HasSufficientSamples reports whether enough upstream samples backed
	// the reading.
	HasSufficientSamples bool
	// Source names the producing source, filled in by the aggregator.
	Source string
}

// Source produces a decoded price reading for a clock slot. One
// implementation exists per upstream provider.
type Source interface {
	Name() string
	Read(ctx context.Context, clockSlot uint64, targetPrecision uint32) (PriceData, error)
}

// ValidateFunc decides whether a reading is trustworthy.
type ValidateFunc func(PriceData) bool

// Config carries the validity-gating policy. The thresholds are deployment
// policy, not protocol constants.
type Config struct {
	// StaleAfterSlots is the maximum reading age before it is discarded.
	StaleAfterSlots int64
	// MaxConfidence is the largest acceptable confidence magnitude.
	MaxConfidence *big.Int
	// TargetPrecision is the fixed-point precision readings are decoded to.
	TargetPrecision uint32
}

// DefaultValidator builds the standard validity predicate: a reading is
// rejected when stale, when its confidence interval is too wide, when the
// price (or reported TWAP) is non-positive, or when too few upstream samples
// backed it.
func DefaultValidator(cfg Config) ValidateFunc {
	return func(data PriceData) bool {
		stale := data.DelaySlots > cfg.StaleAfterSlots
		confTooLarge := cfg.MaxConfidence != nil &&
			data.Confidence != nil && data.Confidence.Cmp(cfg.MaxConfidence) > 0
		nonPositive := data.Price == nil || data.Price.Sign() <= 0 ||
			(data.TWAP != nil && data.TWAP.Sign() <= 0)

		return !(stale || confTooLarge || nonPositive) && data.HasSufficientSamples
	}
}

// Aggregator walks an ordered list of sources and returns the first reading
// accepted by the validity predicate. There is no retry beyond the single
// pass and no caching: every call re-queries the sources fresh.
type Aggregator struct {
	sources  []Source
	validate ValidateFunc
	cfg      Config
	logger   zerolog.Logger
}

// NewAggregator constructs an aggregator over sources in priority order.
// A nil validate falls back to DefaultValidator(cfg).
func NewAggregator(sources []Source, cfg Config, validate ValidateFunc, logger zerolog.Logger) *Aggregator {
	if validate == nil {
		validate = DefaultValidator(cfg)
	}
	return &Aggregator{
		sources:  append([]Source(nil), sources...),
		validate: validate,
		cfg:      cfg,
		logger:   logger.With().Str("component", "oracle_aggregator").Logger(),
	}
}

// TargetPrecision exposes the configured fixed-point precision.
func (a *Aggregator) TargetPrecision() uint32 {
	return a.cfg.TargetPrecision
}

// Read queries sources in priority order until one yields a valid reading.
func (a *Aggregator) Read(ctx context.Context, clockSlot uint64) (PriceData, error) {
	var lastErr error
	for _, source := range a.sources {
		data, err := source.Read(ctx, clockSlot, a.cfg.TargetPrecision)
		if err != nil {
			a.logger.Debug().Err(err).Str("source", source.Name()).Msg("source read failed")
			lastErr = err
			continue
		}
		if !a.validate(data) {
			a.logger.Debug().
				Str("source", source.Name()).
				Int64("delay_slots", data.DelaySlots).
				Bool("sufficient_samples", data.HasSufficientSamples).
				Msg("source reading rejected by validator")
			continue
		}
		data.Source = source.Name()
		return data, nil
	}
	if lastErr != nil {
		return PriceData{}, fmt.Errorf("%w: last source error: %v", ErrInvalidOracle, lastErr)
	}
	return PriceData{}, ErrInvalidOracle
}
