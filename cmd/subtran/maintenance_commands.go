package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newExpireCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "expire <job-id>",
		Short: "Expire a job now: remove its files and mark it expired_cleaned",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			job, err := client.expireJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s is now %s\n", job.ID, job.Status)
			return nil
		},
	}
}

func newSweepCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one lifecycle sweep cycle immediately",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			report, err := client.sweep(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, report)
			}
			rows := [][]string{
				{"Expired downloads", fmt.Sprintf("%d", report.ExpiredDownloads)},
				{"Expired neglected", fmt.Sprintf("%d", report.ExpiredNeglected)},
				{"Orphan files removed", fmt.Sprintf("%d", report.OrphanFiles)},
				{"Purged records", fmt.Sprintf("%d", report.PurgedRecords)},
				{"Orphan batches removed", fmt.Sprintf("%d", report.OrphanBatches)},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Phase", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit raw JSON")
	return cmd
}
