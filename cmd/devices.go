package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cab2cab/c2cdump/internal/source"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List available capture devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		devs, err := source.Devices()
		if err != nil {
			return err
		}
		fmt.Println("Available capture devices:")
		source.RenderDevices(os.Stdout, devs)

		if dev, err := source.AutoSelect(source.DefaultSubnet); err == nil {
			fmt.Printf("Auto-selected cabinet link device: %s\n", dev)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}
