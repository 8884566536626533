package executor

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// Movement is one planned token movement. The planner settles nothing
// itself: movements are journaled for the external settlement rail.
type Movement struct {
	Kind      string
	Asset     common.Address
	From      common.Address
	To        common.Address
	Amount    uint64
	AmountOut uint64
	Timestamp time.Time
}

// Movement kinds.
const (
	KindTransfer = "transfer"
	KindBurn     = "burn"
	KindMint     = "mint"
	KindWithdraw = "withdraw"
	KindSwap     = "swap"
)

// Sink receives planned movements, typically backed by the operation journal.
type Sink func(ctx context.Context, m Movement) error

// Planner implements the engine collaborator interfaces by journaling every
// movement instead of settling it.
type Planner struct {
	sink   Sink
	logger zerolog.Logger
}

// NewPlanner builds a journaling planner. A nil sink logs only.
func NewPlanner(sink Sink, logger zerolog.Logger) *Planner {
	return &Planner{sink: sink, logger: logger.With().Str("component", "planner").Logger()}
}

func (p *Planner) emit(ctx context.Context, m Movement) error {
	m.Timestamp = time.Now().UTC()
	p.logger.Info().
		Str("kind", m.Kind).
		Str("asset", m.Asset.Hex()).
		Str("from", m.From.Hex()).
		Str("to", m.To.Hex()).
		Uint64("amount", m.Amount).
		Msg("planned movement")
	if p.sink == nil {
		return nil
	}
	return p.sink(ctx, m)
}

// Transfer journals a fungible transfer.
func (p *Planner) Transfer(ctx context.Context, asset, from, to, authority common.Address, amount uint64) error {
	return p.emit(ctx, Movement{Kind: KindTransfer, Asset: asset, From: from, To: to, Amount: amount})
}

// Burn journals a reserve-token burn.
func (p *Planner) Burn(ctx context.Context, mint, from, authority common.Address, amount uint64) error {
	return p.emit(ctx, Movement{Kind: KindBurn, Asset: mint, From: from, Amount: amount})
}

// Mint journals a reserve-token mint.
func (p *Planner) Mint(ctx context.Context, mint, to, issueAuthority common.Address, amount uint64) error {
	return p.emit(ctx, Movement{Kind: KindMint, Asset: mint, To: to, Amount: amount})
}

// Withdraw journals a custody withdrawal.
func (p *Planner) Withdraw(ctx context.Context, asset, custodyAccount, destination, withdrawAuthority common.Address, amount uint64, feeDestination common.Address) error {
	return p.emit(ctx, Movement{Kind: KindWithdraw, Asset: asset, From: custodyAccount, To: destination, Amount: amount})
}

// Swap journals a pool swap.
func (p *Planner) Swap(ctx context.Context, pool, userAuthority, sourceAsset, destAsset common.Address, amountIn, minAmountOut uint64) error {
	return p.emit(ctx, Movement{Kind: KindSwap, Asset: sourceAsset, From: pool, To: destAsset, Amount: amountIn, AmountOut: minAmountOut})
}
