package engine

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"bucketd/internal/basket"
)

// IssuanceEngine converts a collateral deposit into an issued reserve-token
// amount priced against a fresh oracle reading.
type IssuanceEngine struct {
	prices          PriceReader
	transfer        TokenTransfer
	issueAuthority  common.Address
	targetPrecision uint32
	logger          zerolog.Logger
}

// NewIssuance wires the issuance engine.
func NewIssuance(prices PriceReader, transfer TokenTransfer, issueAuthority common.Address, targetPrecision uint32, logger zerolog.Logger) *IssuanceEngine {
	return &IssuanceEngine{
		prices:          prices,
		transfer:        transfer,
		issueAuthority:  issueAuthority,
		targetPrecision: targetPrecision,
		logger:          logger.With().Str("component", "issuance").Logger(),
	}
}

// Deposit moves amount of asset from the depositor into basket custody and
// mints the priced reserve-token amount back to the depositor. The effective
// price is capped at the 1:1 peg so collateral trading above peg never mints
// more than a 1:1 issuance. The host transaction makes the whole call
// all-or-nothing; any failure here aborts every collaborator effect.
func (e *IssuanceEngine) Deposit(ctx context.Context, b *basket.Basket, depositor, asset common.Address, amount uint64, clockSlot uint64) (uint64, error) {
	if !b.IsAuthorized(asset) {
		return 0, ErrWrongCollateral
	}

	if err := e.transfer.Transfer(ctx, asset, depositor, b.Custody, depositor, amount); err != nil {
		return 0, fmt.Errorf("transfer collateral to custody: %w", err)
	}

	reading, err := e.prices.Read(ctx, asset, clockSlot)
	if err != nil {
		return 0, fmt.Errorf("read oracle for %s: %w", asset.Hex(), err)
	}

	effectivePrice := basket.ClampToPeg(reading.Price, e.targetPrecision)
	issued, err := basket.PriceToIssueAmount(amount, effectivePrice, e.targetPrecision)
	if err != nil {
		return 0, fmt.Errorf("compute issue amount: %w", err)
	}

	if err := e.transfer.Mint(ctx, b.ReserveMint, depositor, e.issueAuthority, issued); err != nil {
		return 0, fmt.Errorf("mint reserve tokens: %w", err)
	}

	e.logger.Info().
		Str("asset", asset.Hex()).
		Uint64("deposit_amount", amount).
		Uint64("issued_amount", issued).
		Str("price_source", reading.Source).
		Msg("deposit issued")

	return issued, nil
}
