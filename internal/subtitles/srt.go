package subtitles

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Segment is one subtitle cue.
type Segment struct {
	Index int
	Start time.Duration
	End   time.Duration
	Text  string
}

var ErrInvalid = errors.New("subtitles: invalid srt")

// Format renders segments as an SRT document. Indices are renumbered from 1
// regardless of the input values.
func Format(segments []Segment) string {
	var b strings.Builder
	for i, seg := range segments {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteByte('\n')
		b.WriteString(formatTimestamp(seg.Start))
		b.WriteString(" --> ")
		b.WriteString(formatTimestamp(seg.End))
		b.WriteByte('\n')
		b.WriteString(strings.TrimRight(seg.Text, "\n"))
		b.WriteByte('\n')
	}
	return b.String()
}

// Parse reads an SRT document into segments.
func Parse(data string) ([]Segment, error) {
	data = strings.ReplaceAll(data, "\r\n", "\n")
	data = strings.TrimPrefix(data, "\ufeff")
	blocks := strings.Split(strings.TrimSpace(data), "\n\n")

	var segments []Segment
	for _, block := range blocks {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		lines := strings.Split(block, "\n")
		if len(lines) < 2 {
			return nil, fmt.Errorf("%w: cue %q too short", ErrInvalid, truncate(block, 40))
		}

		index, err := strconv.Atoi(strings.TrimSpace(lines[0]))
		if err != nil {
			return nil, fmt.Errorf("%w: cue index %q", ErrInvalid, lines[0])
		}

		start, end, err := parseTimingLine(lines[1])
		if err != nil {
			return nil, err
		}

		text := ""
		if len(lines) > 2 {
			text = strings.Join(lines[2:], "\n")
		}
		segments = append(segments, Segment{
			Index: index,
			Start: start,
			End:   end,
			Text:  text,
		})
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: no cues", ErrInvalid)
	}
	return segments, nil
}

// Check validates that the file at path is a structurally sound SRT document:
// parseable, with non-negative, ordered timestamps in every cue. The worker
// uses it to decide whether a stage artifact can be trusted on resume.
func Check(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	segments, err := Parse(string(data))
	if err != nil {
		return err
	}
	for _, seg := range segments {
		if seg.Start < 0 || seg.End < seg.Start {
			return fmt.Errorf("%w: cue %d has timestamps %s --> %s",
				ErrInvalid, seg.Index, formatTimestamp(seg.Start), formatTimestamp(seg.End))
		}
	}
	return nil
}

func parseTimingLine(line string) (time.Duration, time.Duration, error) {
	parts := strings.Split(line, "-->")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: timing line %q", ErrInvalid, line)
	}
	start, err := parseTimestamp(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, err
	}
	end, err := parseTimestamp(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// parseTimestamp reads HH:MM:SS,mmm (a dot separator is tolerated).
func parseTimestamp(raw string) (time.Duration, error) {
	normalized := strings.ReplaceAll(raw, ".", ",")
	var h, m, s, ms int
	if _, err := fmt.Sscanf(normalized, "%d:%d:%d,%d", &h, &m, &s, &ms); err != nil {
		return 0, fmt.Errorf("%w: timestamp %q", ErrInvalid, raw)
	}
	if m > 59 || s > 59 || ms > 999 || h < 0 || m < 0 || s < 0 || ms < 0 {
		return 0, fmt.Errorf("%w: timestamp %q out of range", ErrInvalid, raw)
	}
	return time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second +
		time.Duration(ms)*time.Millisecond, nil
}

func formatTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	ms := d / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
