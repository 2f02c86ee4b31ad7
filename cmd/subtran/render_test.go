package main

import (
	"strings"
	"testing"
	"time"

	"subtran/internal/store"
)

func TestTruncate(t *testing.T) {
	if got := truncate("short", 40); got != "short" {
		t.Fatalf("unexpected truncation %q", got)
	}
	got := truncate(strings.Repeat("x", 50), 10)
	if got != "xxxxxxx..." {
		t.Fatalf("unexpected truncation %q", got)
	}
}

func TestBuildStatusCountRowsSorted(t *testing.T) {
	rows := buildStatusCountRows(map[string]int{
		"queued": 2,
		"done":   1,
		"failed": 3,
	})
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0][0] != "done" || rows[1][0] != "failed" || rows[2][0] != "queued" {
		t.Fatalf("rows not sorted by status: %v", rows)
	}
	if rows[2][1] != "2" {
		t.Fatalf("unexpected count cell %q", rows[2][1])
	}
}

func TestBuildJobDetailRows(t *testing.T) {
	now := time.Now()
	job := &store.Job{
		ID:             "job-1",
		Filename:       "movie.mkv",
		Status:         store.StatusDone,
		Progress:       100,
		OutputFilename: "job-1_final.mp4",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	rows := buildJobDetailRows(job)

	var sawOutput, sawError bool
	for _, row := range rows {
		switch row[0] {
		case "Output":
			sawOutput = row[1] == "job-1_final.mp4"
		case "Error":
			sawError = true
		}
	}
	if !sawOutput {
		t.Fatal("expected output row")
	}
	if sawError {
		t.Fatal("error row must be omitted when the job has no error")
	}
}

func TestRenderTableFillsShortRows(t *testing.T) {
	out := renderTable(
		[]string{"A", "B"},
		[][]string{{"only-a"}},
		[]columnAlignment{alignLeft, alignLeft},
	)
	if !strings.Contains(out, "only-a") {
		t.Fatalf("missing cell in rendered table:\n%s", out)
	}
}
