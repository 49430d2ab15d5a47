package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ricesearch/receval/internal/evaluation"
)

func metricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "List supported metrics",
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range evaluation.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	}
}
