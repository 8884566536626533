package custody

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// BalanceReader reports how much of an asset a custody account holds.
type BalanceReader interface {
	Balance(ctx context.Context, asset, holder common.Address) (uint64, error)
	Decimals(ctx context.Context, asset common.Address) (uint8, error)
}

// Static serves balances from fixed tables; used by the CLI when descriptor
// values are supplied by hand, and by tests.
type Static struct {
	Balances map[common.Address]map[common.Address]uint64 // asset -> holder -> balance
	Decs     map[common.Address]uint8
}

// Balance looks the holder's balance up in the static table.
func (s *Static) Balance(ctx context.Context, asset, holder common.Address) (uint64, error) {
	return s.Balances[asset][holder], nil
}

// Decimals looks the asset's decimals up in the static table.
func (s *Static) Decimals(ctx context.Context, asset common.Address) (uint8, error) {
	return s.Decs[asset], nil
}

var _ BalanceReader = (*Static)(nil)
