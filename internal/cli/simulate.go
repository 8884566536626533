package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	simulateBasket string
	simulateTarget int32
	simulateActual int32
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Dispatch a synthetic drift alert to verify routing",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateBasket == "" {
			return errors.New("--basket must be provided")
		}
		return getApp().SimulateAlert(cmd.Context(), simulateBasket, simulateTarget, simulateActual)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateBasket, "basket", "", "Basket name to report")
	simulateCmd.Flags().Int32Var(&simulateTarget, "target-bps", 5000, "Target allocation in basis points")
	simulateCmd.Flags().Int32Var(&simulateActual, "actual-bps", 5400, "Observed allocation in basis points")
}
