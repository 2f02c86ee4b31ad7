package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status and job counts",
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
				return printJSON(cmd, status)
			}

			out := cmd.OutOrStdout()
			rows := [][]string{
				{"Running", yesNo(status.Running)},
				{"GPU rotation", yesNo(status.GPURotation)},
				{"Store", status.StorePath},
				{"Lock", status.LockPath},
				{"Invites", yesNo(status.InvitesEnabled)},
			}
			if status.InvitesEnabled {
				rows = append(rows,
					[]string{"Invite codes", fmt.Sprintf("%d", status.InviteCount)},
					[]string{"Invite seconds left", fmt.Sprintf("%.0f", status.InviteRemaining)},
				)
			}
			fmt.Fprintln(out, renderTable([]string{"Field", "Value"}, rows, []columnAlignment{alignLeft, alignLeft}))

			if len(status.StatusCounts) == 0 {
				fmt.Fprintln(out, "No jobs recorded")
				return nil
			}
			counts := renderTable(
				[]string{"Status", "Count"},
				buildStatusCountRows(status.StatusCounts),
				[]columnAlignment{alignLeft, alignRight},
			)
			fmt.Fprintln(out, counts)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit raw JSON")
	return cmd
}
