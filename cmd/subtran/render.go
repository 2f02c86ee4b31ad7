package main

import (
	"fmt"
	"sort"
	"time"

	"subtran/internal/store"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatTime(*t)
}

func formatProgress(progress float64) string {
	return fmt.Sprintf("%.0f%%", progress)
}

func truncate(s string, max int) string {
	if max <= 3 || len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func buildJobRows(jobs []*store.Job) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			job.ID,
			truncate(job.Filename, 40),
			string(job.Status),
			formatProgress(job.Progress),
			formatTime(job.CreatedAt),
			truncate(job.ErrorMessage, 48),
		})
	}
	return rows
}

func buildStatusCountRows(counts map[string]int) [][]string {
	statuses := make([]string, 0, len(counts))
	for status := range counts {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)
	rows := make([][]string, 0, len(statuses))
	for _, status := range statuses {
		rows = append(rows, []string{status, fmt.Sprintf("%d", counts[status])})
	}
	return rows
}

func buildJobDetailRows(job *store.Job) [][]string {
	rows := [][]string{
		{"ID", job.ID},
		{"Filename", job.Filename},
		{"Status", string(job.Status)},
		{"Progress", formatProgress(job.Progress)},
		{"Created", formatTime(job.CreatedAt)},
		{"Updated", formatTime(job.UpdatedAt)},
		{"Completed", formatOptionalTime(job.CompletedAt)},
		{"Downloaded", formatOptionalTime(job.DownloadedAt)},
	}
	if job.Mode != "" {
		rows = append(rows, []string{"Mode", string(job.Mode)})
	}
	if job.CurrentStep != "" {
		rows = append(rows, []string{"Step", job.CurrentStep})
	}
	if job.BatchID != "" {
		rows = append(rows, []string{"Batch", job.BatchID})
	}
	if job.DurationSeconds > 0 {
		rows = append(rows, []string{"Duration", fmt.Sprintf("%.0fs", job.DurationSeconds)})
	}
	if job.OutputFilename != "" {
		rows = append(rows, []string{"Output", job.OutputFilename})
	}
	if job.ErrorMessage != "" {
		rows = append(rows, []string{"Error", job.ErrorMessage})
	}
	return rows
}
