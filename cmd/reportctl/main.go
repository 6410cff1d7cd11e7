package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "reportctl",
		Short:         "Operate the medical report ingestion pipeline",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newHashCmd(), newEvaluateCmd(), newReprocessCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
