package cli

import (
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the drift monitoring service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}

var sampleOnceCmd = &cobra.Command{
	Use:   "sample-once",
	Short: "Execute a single drift sampling pass and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SampleOnce(cmd.Context())
	},
}
