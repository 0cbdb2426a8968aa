package cmd

import (
	"github.com/spf13/cobra"
)

var (
	// Flags
	cfgPath string

	// Root command
	rootCmd = &cobra.Command{
		Use:   "inventory-service",
		Short: "Inventory Service",
		Long: `Inventory Service for warehouse and shop stock workflows.

Functions:
- Track authoritative on-hand stock per location in a transaction ledger
- Drive inter-location stock loans through their full lifecycle
- Reconcile driver delivery claims against manager confirmations
- Aggregate barcode scans into delivered quantities
- Run full stock takes and reconcile counted vs expected quantities`,
	}
)

// Execute executes the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", ".", "directory containing config.yaml")
}
