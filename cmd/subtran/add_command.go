package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

func newAddCommand(ctx *commandContext) *cobra.Command {
	var inviteCode string
	var mode string
	var batchName string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "add <video-file> [video-file...]",
		Short: "Enqueue local video files for subtitle translation",
		Long: `Enqueue local video files for subtitle translation.

A single file becomes one job. Several files become a batch whose outputs
are bundled into one archive once every member finishes.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := make([]string, 0, len(args))
			for _, arg := range args {
				target := strings.TrimSpace(arg)
				if target == "" {
					return errors.New("video file path is required")
				}
				absPath, err := filepath.Abs(target)
				if err != nil {
					return fmt.Errorf("resolve path %q: %w", target, err)
				}
				paths = append(paths, absPath)
			}

			client, err := ctx.client()
			if err != nil {
				return err
			}
			invite := strings.TrimSpace(inviteCode)

			if len(paths) == 1 {
				job, err := client.addJob(cmd.Context(), paths[0], invite, mode)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd, job)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Enqueued %s as job %s\n", job.Filename, job.ID)
				return nil
			}

			name := strings.TrimSpace(batchName)
			if name == "" {
				name = filepath.Base(filepath.Dir(paths[0]))
			}
			created, err := client.addBatch(cmd.Context(), name, paths, invite, mode)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, created)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Enqueued %d files as batch %s (%s)\n",
				len(created.Jobs), created.Batch.ID, created.Batch.Name)
			for _, job := range created.Jobs {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s  %s\n", job.ID, job.Filename)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&inviteCode, "invite", "i", "", "Invite code charged for these jobs")
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "Output kind: subtitle_only or subtitle_and_video (default from daemon config)")
	cmd.Flags().StringVarP(&batchName, "name", "n", "", "Batch name when adding several files (default: their directory name)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit raw JSON")
	return cmd
}
