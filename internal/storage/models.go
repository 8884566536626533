package storage

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// OperationRecord journals one executed (or planned) basket operation.
type OperationRecord struct {
	ID        int64
	Basket    string
	Kind      string
	Caller    string
	Asset     string
	AmountIn  decimal.Decimal
	AmountOut decimal.Decimal
	Detail    json.RawMessage
	Status    string
	CreatedAt time.Time
}

// Operation kinds written to the journal.
const (
	OpDeposit   = "deposit"
	OpRedeem    = "redeem"
	OpRebalance = "rebalance"
	OpMovement  = "movement"
)

// DriftSample captures one scheduled comparison of actual versus target
// allocation for a single collateral asset.
type DriftSample struct {
	Basket    string
	Bucket    time.Time
	Asset     string
	TargetBps int32
	ActualBps int32
	DriftBps  int32
	ValueUSD  decimal.Decimal
	CreatedAt time.Time
}
