package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/vaultbridge/redeemer/internal/config"
)

var (
	configPath string
	mockMode   bool
)

var rootCmd = &cobra.Command{
	Use:          "redeemd",
	Short:        "Redemption expiry watcher",
	Long:         "Watches redeem requests on the ledger for expiry and exports redemption metrics",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath(), "Path to config file")
	rootCmd.PersistentFlags().BoolVar(&mockMode, "mock", false, "Use an in-memory ledger instead of the chain")
}

func main() {
	rootCmd.AddCommand(newRunCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
