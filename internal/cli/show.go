package cli

import (
	"github.com/spf13/cobra"

	"mmledger/internal/app"
)

var showAccount string

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print markets, or one account's positions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Show(cmd.Context(), app.ShowOptions{Account: showAccount})
	},
}

func init() {
	showCmd.Flags().StringVar(&showAccount, "account", "", "Account address whose positions to print")
}
