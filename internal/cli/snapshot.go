package cli

import (
	"github.com/spf13/cobra"

	"utxo-diff-alerts/internal/app"
)

var snapshotAddresses []string

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Print the current UTXO set and balance of each address",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.SnapshotOptions{
			Addresses: snapshotAddresses,
		}
		return getApp().Snapshot(cmd.Context(), opts)
	},
}

func init() {
	snapshotCmd.Flags().StringSliceVar(&snapshotAddresses, "address", nil, "Address to inspect (repeatable, defaults to bitcoin.addresses)")
}
