// Package cmd implements CLI commands using the cobra framework.
package cmd

import (
	"github.com/spf13/cobra"
)

var configFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "c2cdump",
	Short: "Passive decoder for the cabinet-to-cabinet link protocol",
	Long: `c2cdump passively observes network traffic (live device or pcap file),
isolates the UDP datagrams of the cabinet-to-cabinet (C2C) session protocol,
reverses the application-layer encryption and renders the decoded records.

It decodes exactly one protocol on exactly one port; everything else in the
capture is silently discarded.`,
	Version:       "0.2.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (optional)")
}
