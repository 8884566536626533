package basket

import (
	"github.com/ethereum/go-ethereum/common"
)

const (
	// MaxBasisPoints is the whole-basket allocation expressed in basis points.
	MaxBasisPoints uint16 = 10000

	// MaxCollateralElements bounds the collateral list. Beyond this the
	// persisted record risks exceeding the storage row ceiling.
	MaxCollateralElements = 315
)

// CollateralEntry pairs an authorized collateral asset with its target
// allocation. Entries are owned exclusively by the basket's collateral list;
// other components look assets up by address each time.
type CollateralEntry struct {
	Asset         common.Address
	AllocationBps uint16
}

// Basket is the aggregate record of authorized collateral assets and their
// target allocations backing a single reserve token.
type Basket struct {
	Name               string
	ReserveMint        common.Address
	Custody            common.Address
	Authority          common.Address
	RebalanceAuthority common.Address
	Collateral         []CollateralEntry
}

// New creates an empty basket. The rebalance authority defaults to the
// basket authority until reassigned.
func New(name string, reserveMint, authority common.Address) *Basket {
	return &Basket{
		Name:               name,
		ReserveMint:        reserveMint,
		Authority:          authority,
		RebalanceAuthority: authority,
	}
}

// SetRebalanceAuthority reassigns the identity permitted unrestricted
// rebalance calls. Authority gating happens at the service layer.
func (b *Basket) SetRebalanceAuthority(next common.Address) {
	b.RebalanceAuthority = next
}

// IsAuthorized reports whether the asset is present in the collateral list.
func (b *Basket) IsAuthorized(asset common.Address) bool {
	_, err := b.collateralIndex(asset)
	return err == nil
}

// Entry returns a copy of the collateral entry for the asset.
func (b *Basket) Entry(asset common.Address) (CollateralEntry, error) {
	idx, err := b.collateralIndex(asset)
	if err != nil {
		return CollateralEntry{}, err
	}
	return b.Collateral[idx], nil
}

// Clone returns a deep copy so callers can mutate freely.
func (b *Basket) Clone() *Basket {
	clone := *b
	clone.Collateral = append([]CollateralEntry(nil), b.Collateral...)
	return &clone
}

func (b *Basket) collateralIndex(asset common.Address) (int, error) {
	for i, entry := range b.Collateral {
		if entry.Asset == asset {
			return i, nil
		}
	}
	return 0, ErrCollateralNotFound
}

func sumAllocations(entries []CollateralEntry) (uint16, error) {
	var total uint32
	for _, entry := range entries {
		total += uint32(entry.AllocationBps)
	}
	if total > uint32(MaxBasisPoints) {
		return 0, ErrAllocationBps
	}
	return uint16(total), nil
}
