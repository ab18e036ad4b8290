package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "simple485",
		Short: "Master/slave messaging over a shared RS-485 bus",
		Long: `simple485 is a command-line tool for exercising an RS-485 bus running
the simple485 protocol: sending requests as the bus master, scanning the bus
for live slaves, or acting as an echo slave for testing.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newRequestCmd())
	rootCmd.AddCommand(newScanCmd())
	rootCmd.AddCommand(newEchoSlaveCmd())
	rootCmd.AddCommand(newStormCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("simple485 %s\n", version)
		},
	}
}
