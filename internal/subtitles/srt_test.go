package subtitles_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"subtran/internal/subtitles"
)

func TestFormatAndParseRoundTrip(t *testing.T) {
	segments := []subtitles.Segment{
		{Start: 0, End: 2500 * time.Millisecond, Text: "Hello there."},
		{Start: 3 * time.Second, End: 5*time.Second + 120*time.Millisecond, Text: "Two\nlines."},
	}

	doc := subtitles.Format(segments)
	if !strings.Contains(doc, "00:00:00,000 --> 00:00:02,500") {
		t.Fatalf("missing first timing line:\n%s", doc)
	}
	if !strings.Contains(doc, "00:00:03,000 --> 00:00:05,120") {
		t.Fatalf("missing second timing line:\n%s", doc)
	}

	parsed, err := subtitles.Parse(doc)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(parsed) != 2 {
		t.Fatalf("expected 2 cues, got %d", len(parsed))
	}
	if parsed[0].Index != 1 || parsed[1].Index != 2 {
		t.Fatalf("expected renumbered indices, got %d/%d", parsed[0].Index, parsed[1].Index)
	}
	if parsed[1].Text != "Two\nlines." {
		t.Fatalf("multiline text lost: %q", parsed[1].Text)
	}
	if parsed[1].End != 5*time.Second+120*time.Millisecond {
		t.Fatalf("unexpected end timestamp: %v", parsed[1].End)
	}
}

func TestParseToleratesCRLFAndDotSeparator(t *testing.T) {
	doc := "1\r\n00:00:01.000 --> 00:00:02.000\r\nHi\r\n"
	parsed, err := subtitles.Parse(doc)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed[0].Start != time.Second {
		t.Fatalf("unexpected start: %v", parsed[0].Start)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, doc := range []string{"", "not an srt at all", "1\nno timing here\ntext"} {
		if _, err := subtitles.Parse(doc); !errors.Is(err, subtitles.ErrInvalid) {
			t.Fatalf("expected ErrInvalid for %q, got %v", doc, err)
		}
	}
}

func TestCheck(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.srt")
	if err := os.WriteFile(good, []byte(subtitles.Format([]subtitles.Segment{
		{Start: 0, End: time.Second, Text: "ok"},
	})), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := subtitles.Check(good); err != nil {
		t.Fatalf("Check(good): %v", err)
	}

	reversed := filepath.Join(dir, "reversed.srt")
	if err := os.WriteFile(reversed, []byte("1\n00:00:05,000 --> 00:00:01,000\nbackwards\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := subtitles.Check(reversed); !errors.Is(err, subtitles.ErrInvalid) {
		t.Fatalf("expected ErrInvalid for reversed cue, got %v", err)
	}

	truncated := filepath.Join(dir, "truncated.srt")
	if err := os.WriteFile(truncated, []byte("1\n00:00:01,000 --> 00:"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := subtitles.Check(truncated); !errors.Is(err, subtitles.ErrInvalid) {
		t.Fatalf("expected ErrInvalid for truncated file, got %v", err)
	}

	if err := subtitles.Check(filepath.Join(dir, "missing.srt")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
