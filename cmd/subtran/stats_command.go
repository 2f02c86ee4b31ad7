package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show job counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			status, err := client.status(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, status.StatusCounts)
			}
			if len(status.StatusCounts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs recorded")
				return nil
			}
			counts := renderTable(
				[]string{"Status", "Count"},
				buildStatusCountRows(status.StatusCounts),
				[]columnAlignment{alignLeft, alignRight},
			)
			fmt.Fprintln(cmd.OutOrStdout(), counts)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit raw JSON")
	return cmd
}
