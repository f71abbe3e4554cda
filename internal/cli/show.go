package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"utxo-diff-alerts/internal/app"
)

var (
	showLimit   int
	showAddress string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recently detected deposits and withdrawals",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:   showLimit,
			Address: showAddress,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of events to display")
	showCmd.Flags().StringVar(&showAddress, "address", "", "Only show events of this address")
}
