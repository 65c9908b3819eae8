package main

import (
	"os"

	"github.com/spf13/cobra"
)

// samasika-cli talks to a running node's local HTTP surface.
func main() {
	rootCmd := &cobra.Command{Use: "samasika-cli", Short: "query and drive a running samasika node"}
	rootCmd.PersistentFlags().String("addr", "127.0.0.1:3085", "node rpc address")
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(peersCmd())
	rootCmd.AddCommand(snarkPoolCmd())
	rootCmd.AddCommand(producerCmd())
	rootCmd.AddCommand(watchedCmd())
	rootCmd.AddCommand(syncCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
