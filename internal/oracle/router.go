package oracle

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Router keys aggregators by collateral asset. Each asset carries its own
// ordered source list; the engines look prices up per asset on every call.
type Router struct {
	byAsset map[common.Address]*Aggregator
}

// NewRouter builds an empty router.
func NewRouter() *Router {
	return &Router{byAsset: make(map[common.Address]*Aggregator)}
}

// Register binds an aggregator to an asset, replacing any previous binding.
func (r *Router) Register(asset common.Address, aggregator *Aggregator) {
	r.byAsset[asset] = aggregator
}

// Read resolves the asset's aggregator and queries it.
func (r *Router) Read(ctx context.Context, asset common.Address, clockSlot uint64) (PriceData, error) {
	aggregator, ok := r.byAsset[asset]
	if !ok {
		return PriceData{}, fmt.Errorf("%w: no feed registered for asset %s", ErrInvalidOracle, asset.Hex())
	}
	return aggregator.Read(ctx, clockSlot)
}
