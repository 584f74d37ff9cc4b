package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"mmledger/internal/app"
)

var (
	backfillFrom   uint64
	backfillTo     uint64
	backfillDryRun bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Replay a closed block range from the chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("from-block") || !cmd.Flags().Changed("to-block") {
			return fmt.Errorf("--from-block and --to-block must be provided")
		}
		if backfillTo < backfillFrom {
			return fmt.Errorf("--from-block must not be after --to-block")
		}

		return getApp().Backfill(cmd.Context(), app.BackfillOptions{
			FromBlock: backfillFrom,
			ToBlock:   backfillTo,
			DryRun:    backfillDryRun,
		})
	},
}

func init() {
	backfillCmd.Flags().Uint64Var(&backfillFrom, "from-block", 0, "First block to replay (inclusive)")
	backfillCmd.Flags().Uint64Var(&backfillTo, "to-block", 0, "Last block to replay (inclusive)")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Reconcile into memory without writing to storage")
}
