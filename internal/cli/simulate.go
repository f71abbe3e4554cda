package cli

import (
	"github.com/spf13/cobra"

	"utxo-diff-alerts/internal/app"
)

var (
	simulateKind    string
	simulateAddress string
	simulateSats    int64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Fake a deposit or withdrawal and deliver the alert through the configured channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.SimulateOptions{
			Kind:      simulateKind,
			Address:   simulateAddress,
			ValueSats: simulateSats,
		}
		return getApp().SimulateAlert(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateKind, "kind", "deposit", "Event kind: deposit or withdrawal")
	simulateCmd.Flags().StringVar(&simulateAddress, "address", "", "Address to use (defaults to the first configured one)")
	simulateCmd.Flags().Int64Var(&simulateSats, "sats", 100_000, "Amount of the fake output in sats")
}
