package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var incompleteOnly bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List translation jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			jobs, err := client.listJobs(cmd.Context(), incompleteOnly)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, jobs)
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
				return nil
			}
			listing := renderTable(
				[]string{"ID", "Filename", "Status", "Progress", "Created", "Error"},
				buildJobRows(jobs),
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
			)
			fmt.Fprintln(cmd.OutOrStdout(), listing)
			return nil
		},
	}

	cmd.Flags().BoolVar(&incompleteOnly, "incomplete", false, "Only list jobs that still need attention")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit raw JSON")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			job, err := client.getJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, job)
			}
			detail := renderTable(
				[]string{"Field", "Value"},
				buildJobDetailRows(job),
				[]columnAlignment{alignLeft, alignLeft},
			)
			fmt.Fprintln(cmd.OutOrStdout(), detail)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit raw JSON")
	return cmd
}

func newBatchCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "batch <batch-id>",
		Short: "Show a batch and its members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			detail, err := client.getBatch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, detail)
			}

			out := cmd.OutOrStdout()
			batch := detail.Batch
			rows := [][]string{
				{"ID", batch.ID},
				{"Name", batch.Name},
				{"Status", string(batch.Status)},
				{"Progress", formatProgress(detail.Progress)},
				{"Members", fmt.Sprintf("%d", len(batch.JobIDs))},
				{"Created", formatTime(batch.CreatedAt)},
			}
			if batch.ArchiveFilename != "" {
				rows = append(rows, []string{"Archive", batch.ArchiveFilename})
			}
			fmt.Fprintln(out, renderTable([]string{"Field", "Value"}, rows, []columnAlignment{alignLeft, alignLeft}))

			if len(batch.Members) > 0 {
				memberRows := make([][]string, 0, len(batch.Members))
				for _, member := range batch.Members {
					memberRows = append(memberRows, []string{
						member.JobID,
						truncate(member.Filename, 40),
						string(member.Status),
					})
				}
				members := renderTable(
					[]string{"Job", "Filename", "Status"},
					memberRows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft},
				)
				fmt.Fprintln(out, members)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit raw JSON")
	return cmd
}
