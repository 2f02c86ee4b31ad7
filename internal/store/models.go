package store

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a job. Values are persisted verbatim in
// the document, so they must never be renamed.
type Status string

const (
	StatusQueued           Status = "queued"
	StatusExtracting       Status = "extracting"
	StatusTranslating      Status = "translating"
	StatusGeneratingOutput Status = "generating_output"
	StatusDone             Status = "done"
	StatusDownloaded       Status = "downloaded_pending_cleanup"
	StatusExpired          Status = "expired_cleaned"
	StatusFailed           Status = "failed"
)

var allStatuses = []Status{
	StatusQueued,
	StatusExtracting,
	StatusTranslating,
	StatusGeneratingOutput,
	StatusDone,
	StatusDownloaded,
	StatusExpired,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// ParseStatus validates a raw status string.
func ParseStatus(raw string) (Status, bool) {
	status := Status(strings.TrimSpace(raw))
	_, ok := statusSet[status]
	return status, ok
}

// AllStatuses returns every recognized job status in lifecycle order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// IsTerminal reports whether a job in this status will never be processed again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDone, StatusDownloaded, StatusExpired, StatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminalSuccess reports whether the job finished producing output,
// regardless of whether the artifacts have since been downloaded or cleaned.
func (s Status) IsTerminalSuccess() bool {
	switch s {
	case StatusDone, StatusDownloaded, StatusExpired:
		return true
	default:
		return false
	}
}

// Mode selects the deliverable a job produces. Values are persisted verbatim.
type Mode string

const (
	ModeSubtitleOnly     Mode = "subtitle_only"
	ModeSubtitleAndVideo Mode = "subtitle_and_video"
)

// ParseMode validates a raw mode string.
func ParseMode(raw string) (Mode, bool) {
	mode := Mode(strings.TrimSpace(raw))
	switch mode {
	case ModeSubtitleOnly, ModeSubtitleAndVideo:
		return mode, true
	default:
		return "", false
	}
}

// BatchStatus represents the aggregate state of a batch.
type BatchStatus string

const (
	BatchProcessing    BatchStatus = "processing"
	BatchDone          BatchStatus = "done"
	BatchPartialFailed BatchStatus = "partial_failed"
)

// Job is a single translation job persisted in the document.
type Job struct {
	ID              string            `json:"id"`
	Filename        string            `json:"filename"`
	SourcePath      string            `json:"source_path"`
	Mode            Mode              `json:"mode"`
	Status          Status            `json:"status"`
	Progress        float64           `json:"progress"`
	ProgressText    string            `json:"progress_text,omitempty"`
	CurrentStep     string            `json:"current_step,omitempty"`
	Resumable       bool              `json:"resumable,omitempty"`
	ResumeData      map[string]string `json:"resume_data,omitempty"`
	ErrorMessage    string            `json:"error_message,omitempty"`
	BatchID         string            `json:"batch_id,omitempty"`
	InviteCode      string            `json:"invite_code,omitempty"`
	DurationSeconds float64           `json:"duration_seconds,omitempty"`
	OutputFilename  string            `json:"output_filename,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	DownloadedAt    *time.Time        `json:"downloaded_at,omitempty"`
}

// Clone returns a deep copy so callers can hold job snapshots outside store ops.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	clone := *j
	if len(j.ResumeData) > 0 {
		clone.ResumeData = make(map[string]string, len(j.ResumeData))
		for k, v := range j.ResumeData {
			clone.ResumeData[k] = v
		}
	}
	if j.CompletedAt != nil {
		ts := *j.CompletedAt
		clone.CompletedAt = &ts
	}
	if j.DownloadedAt != nil {
		ts := *j.DownloadedAt
		clone.DownloadedAt = &ts
	}
	return &clone
}

// Batch groups jobs submitted together. Member state is snapshotted at
// creation time for display; live status always comes from the jobs.
type Batch struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Status          BatchStatus   `json:"status"`
	JobIDs          []string      `json:"job_ids"`
	Members         []BatchMember `json:"members,omitempty"`
	ArchiveFilename string        `json:"archive_filename,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// BatchMember is the creation-time snapshot of one batch member.
type BatchMember struct {
	JobID           string  `json:"job_id"`
	Filename        string  `json:"filename"`
	Status          Status  `json:"status"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

// Clone returns a deep copy so callers can hold batch snapshots outside store ops.
func (b *Batch) Clone() *Batch {
	if b == nil {
		return nil
	}
	clone := *b
	if len(b.JobIDs) > 0 {
		clone.JobIDs = make([]string, len(b.JobIDs))
		copy(clone.JobIDs, b.JobIDs)
	}
	if len(b.Members) > 0 {
		clone.Members = make([]BatchMember, len(b.Members))
		copy(clone.Members, b.Members)
	}
	return &clone
}

// Metadata carries document bookkeeping.
type Metadata struct {
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Document is the full persisted state: every job, every batch, plus metadata.
// It is only ever touched inside store operations.
type Document struct {
	SingleTasks map[string]*Job   `json:"single_tasks"`
	BatchTasks  map[string]*Batch `json:"batch_tasks"`
	Metadata    Metadata          `json:"metadata"`
}

const documentVersion = 1

// NewDocument returns an empty document with initialized containers.
func NewDocument() *Document {
	return &Document{
		SingleTasks: make(map[string]*Job),
		BatchTasks:  make(map[string]*Batch),
		Metadata:    Metadata{Version: documentVersion},
	}
}

func (d *Document) ensureContainers() {
	if d.SingleTasks == nil {
		d.SingleTasks = make(map[string]*Job)
	}
	if d.BatchTasks == nil {
		d.BatchTasks = make(map[string]*Batch)
	}
	if d.Metadata.Version == 0 {
		d.Metadata.Version = documentVersion
	}
}
