package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"bucketd/internal/app"
)

var (
	showBasket string
	showLimit  int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display a basket's allocations and recent operations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Basket: showBasket,
			Limit:  showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showBasket, "basket", "", "Basket name (omit to list all baskets)")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of operations to display")
}
