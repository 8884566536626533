package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"bucketd/internal/app"
)

var (
	depositBasket    string
	depositDepositor string
	depositAsset     string
	depositAmount    uint64
)

var depositCmd = &cobra.Command{
	Use:   "deposit",
	Short: "Deposit collateral and issue reserve tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		if depositAmount == 0 {
			return fmt.Errorf("--amount must be greater than zero")
		}

		opts := app.DepositOptions{
			Basket:    depositBasket,
			Depositor: depositDepositor,
			Asset:     depositAsset,
			Amount:    depositAmount,
		}
		return getApp().Deposit(cmd.Context(), opts)
	},
}

var (
	redeemBasket   string
	redeemRedeemer string
	redeemMint     string
	redeemBurn     uint64
	redeemSupply   uint64
)

var redeemCmd = &cobra.Command{
	Use:   "redeem",
	Short: "Burn reserve tokens for pro-rata collateral payouts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if redeemBurn == 0 {
			return fmt.Errorf("--burn must be greater than zero")
		}
		if redeemSupply == 0 {
			return fmt.Errorf("--supply must be greater than zero")
		}

		opts := app.RedeemOptions{
			Basket:      redeemBasket,
			Redeemer:    redeemRedeemer,
			Mint:        redeemMint,
			BurnAmount:  redeemBurn,
			TotalSupply: redeemSupply,
		}
		return getApp().Redeem(cmd.Context(), opts)
	},
}

var (
	rebalanceBasket string
	rebalanceCaller string
	rebalanceSource string
	rebalanceDest   string
	rebalancePool   string
	rebalanceIn     uint64
	rebalanceMinOut uint64
)

var rebalanceCmd = &cobra.Command{
	Use:   "rebalance",
	Short: "Swap one collateral for another under the slippage bound",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.RebalanceOptions{
			Basket:       rebalanceBasket,
			Caller:       rebalanceCaller,
			SourceAsset:  rebalanceSource,
			DestAsset:    rebalanceDest,
			Pool:         rebalancePool,
			AmountIn:     rebalanceIn,
			MinAmountOut: rebalanceMinOut,
		}
		return getApp().Rebalance(cmd.Context(), opts)
	},
}

func init() {
	depositCmd.Flags().StringVar(&depositBasket, "basket", "", "Basket name")
	depositCmd.Flags().StringVar(&depositDepositor, "depositor", "", "Depositor address")
	depositCmd.Flags().StringVar(&depositAsset, "asset", "", "Collateral asset address")
	depositCmd.Flags().Uint64Var(&depositAmount, "amount", 0, "Deposit amount in native asset units")

	redeemCmd.Flags().StringVar(&redeemBasket, "basket", "", "Basket name")
	redeemCmd.Flags().StringVar(&redeemRedeemer, "redeemer", "", "Redeemer address")
	redeemCmd.Flags().StringVar(&redeemMint, "mint", "", "Reserve token mint being burned")
	redeemCmd.Flags().Uint64Var(&redeemBurn, "burn", 0, "Amount of reserve tokens to burn")
	redeemCmd.Flags().Uint64Var(&redeemSupply, "supply", 0, "Total reserve token supply")

	rebalanceCmd.Flags().StringVar(&rebalanceBasket, "basket", "", "Basket name")
	rebalanceCmd.Flags().StringVar(&rebalanceCaller, "caller", "", "Calling address")
	rebalanceCmd.Flags().StringVar(&rebalanceSource, "source", "", "Source collateral asset address")
	rebalanceCmd.Flags().StringVar(&rebalanceDest, "dest", "", "Destination collateral asset address")
	rebalanceCmd.Flags().StringVar(&rebalancePool, "pool", "", "Swap pool address")
	rebalanceCmd.Flags().Uint64Var(&rebalanceIn, "amount-in", 0, "Swap input amount")
	rebalanceCmd.Flags().Uint64Var(&rebalanceMinOut, "min-amount-out", 0, "Minimum acceptable output amount")
}
