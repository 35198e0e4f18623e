package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "jxt-bench",
	Short:        "Publish/subscribe throughput and delivery benchmark",
	SilenceUsage: true,
}

func main() {
	rootCmd.AddCommand(newRunCommand())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
