package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"bucketd/internal/app"
)

var (
	createName        string
	createReserveMint string
	createCustody     string
	createAuthority   string
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new collateral basket",
	RunE: func(cmd *cobra.Command, args []string) error {
		if createName == "" {
			return fmt.Errorf("--name must be provided")
		}

		opts := app.CreateBasketOptions{
			Name:        createName,
			ReserveMint: createReserveMint,
			Custody:     createCustody,
			Authority:   createAuthority,
		}
		return getApp().CreateBasket(cmd.Context(), opts)
	},
}

var (
	authorizeBasket string
	authorizeCaller string
	authorizeAsset  string
	authorizeBps    uint16
)

var authorizeCmd = &cobra.Command{
	Use:   "authorize",
	Short: "Admit a collateral asset into a basket at a requested weight",
	RunE: func(cmd *cobra.Command, args []string) error {
		if authorizeBps == 0 {
			return fmt.Errorf("--bps must be greater than zero")
		}
		return getApp().AuthorizeCollateral(cmd.Context(), authorizeBasket, authorizeCaller, authorizeAsset, authorizeBps)
	},
}

var (
	removeBasket string
	removeCaller string
	removeAsset  string
)

var removeCmd = &cobra.Command{
	Use:   "remove",
	Short: "Evict a collateral asset, redistributing its weight",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().RemoveCollateral(cmd.Context(), removeBasket, removeCaller, removeAsset)
	},
}

var (
	setAllocBasket string
	setAllocCaller string
	setAllocPairs  []string
)

var setAllocationsCmd = &cobra.Command{
	Use:   "set-allocations",
	Short: "Reweight the existing collateral set in one shot",
	Long:  "Reweight the collateral set. Each --alloc takes asset=bps, e.g. --alloc 0xabc...=6000.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(setAllocPairs) == 0 {
			return fmt.Errorf("at least one --alloc must be provided")
		}

		inputs := make([]app.AllocationInput, 0, len(setAllocPairs))
		for _, pair := range setAllocPairs {
			asset, bps, err := parseAllocationPair(pair)
			if err != nil {
				return err
			}
			inputs = append(inputs, app.AllocationInput{Asset: asset, AllocationBps: bps})
		}
		return getApp().SetAllocations(cmd.Context(), setAllocBasket, setAllocCaller, inputs)
	},
}

var (
	setRebalBasket string
	setRebalCaller string
	setRebalNext   string
)

var setRebalanceAuthorityCmd = &cobra.Command{
	Use:   "update-rebalance-authority",
	Short: "Rotate the delegated rebalance signer",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SetRebalanceAuthority(cmd.Context(), setRebalBasket, setRebalCaller, setRebalNext)
	},
}

func parseAllocationPair(pair string) (string, uint16, error) {
	parts := strings.SplitN(pair, "=", 2)
	if len(parts) != 2 {
		return "", 0, fmt.Errorf("invalid --alloc %q, expected asset=bps", pair)
	}
	bps, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("invalid bps in --alloc %q: %w", pair, err)
	}
	return parts[0], uint16(bps), nil
}

func init() {
	createCmd.Flags().StringVar(&createName, "name", "", "Basket name")
	createCmd.Flags().StringVar(&createReserveMint, "reserve-mint", "", "Reserve token mint address")
	createCmd.Flags().StringVar(&createCustody, "custody", "", "Custody account address")
	createCmd.Flags().StringVar(&createAuthority, "authority", "", "Basket authority address")

	authorizeCmd.Flags().StringVar(&authorizeBasket, "basket", "", "Basket name")
	authorizeCmd.Flags().StringVar(&authorizeCaller, "caller", "", "Calling authority address")
	authorizeCmd.Flags().StringVar(&authorizeAsset, "asset", "", "Collateral asset address")
	authorizeCmd.Flags().Uint16Var(&authorizeBps, "bps", 0, "Requested allocation in basis points")

	removeCmd.Flags().StringVar(&removeBasket, "basket", "", "Basket name")
	removeCmd.Flags().StringVar(&removeCaller, "caller", "", "Calling authority address")
	removeCmd.Flags().StringVar(&removeAsset, "asset", "", "Collateral asset address")

	setAllocationsCmd.Flags().StringVar(&setAllocBasket, "basket", "", "Basket name")
	setAllocationsCmd.Flags().StringVar(&setAllocCaller, "caller", "", "Calling authority address")
	setAllocationsCmd.Flags().StringArrayVar(&setAllocPairs, "alloc", nil, "asset=bps pair (repeatable)")

	setRebalanceAuthorityCmd.Flags().StringVar(&setRebalBasket, "basket", "", "Basket name")
	setRebalanceAuthorityCmd.Flags().StringVar(&setRebalCaller, "caller", "", "Calling authority address")
	setRebalanceAuthorityCmd.Flags().StringVar(&setRebalNext, "new-authority", "", "New rebalance authority address")
}
