package cmd

import (
	"github.com/spf13/cobra"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect and control individual jobs",
}

func init() {
	rootCmd.AddCommand(jobCmd)
}
