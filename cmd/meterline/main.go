package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "meterline",
	Short: "Meterline - usage sync and plan reconciliation",
	Long:  "Meterline pulls per-day usage history from the metering service into a local cache and reconciles it against subscription plan limits.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: none, defaults plus METERLINE_* env)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
