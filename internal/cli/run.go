package cli

import (
	"github.com/spf13/cobra"

	"mmledger/internal/app"
)

var runSkipLock bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Follow the configured event source and reconcile into the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context(), app.RunOptions{SkipLock: runSkipLock})
	},
}

func init() {
	runCmd.Flags().BoolVar(&runSkipLock, "skip-lock", false, "Do not take the single-consumer advisory lock")
}
