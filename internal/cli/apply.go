package cli

import (
	"github.com/spf13/cobra"

	"mmledger/internal/app"
)

var (
	applyFile   string
	applyDryRun bool
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a JSON-lines file of event records",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Apply(cmd.Context(), app.ApplyOptions{Path: applyFile, DryRun: applyDryRun})
	},
}

func init() {
	applyCmd.Flags().StringVar(&applyFile, "file", "", "Path to the events file (one JSON record per line)")
	applyCmd.Flags().BoolVar(&applyDryRun, "dry-run", false, "Reconcile into memory and print the resulting markets")
	_ = applyCmd.MarkFlagRequired("file")
}
