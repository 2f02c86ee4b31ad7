// Package artifacts fixes where every pipeline file lives on disk. Each job
// owns one upload, one scratch directory, and its output files; the layout
// is derived from the job id alone so a restarted daemon can find partial
// artifacts without any extra state.
package artifacts

import (
	"os"
	"path/filepath"
	"strings"

	"subtran/internal/config"
	"subtran/internal/store"
)

// Layout maps jobs and batches to their on-disk artifact paths.
type Layout struct {
	uploadDir string
	workDir   string
	outputDir string
}

// NewLayout builds a layout from the configured directories.
func NewLayout(cfg *config.Config) Layout {
	return Layout{
		uploadDir: cfg.Paths.UploadDir,
		workDir:   cfg.Paths.WorkDir,
		outputDir: cfg.Paths.OutputDir,
	}
}

// UploadDir returns the directory holding source uploads.
func (l Layout) UploadDir() string { return l.uploadDir }

// OutputDir returns the directory holding finished outputs.
func (l Layout) OutputDir() string { return l.outputDir }

// WorkRoot returns the directory under which per-job scratch dirs live.
func (l Layout) WorkRoot() string { return l.workDir }

// SourcePath returns where a job's uploaded source video lives.
func (l Layout) SourcePath(jobID, filename string) string {
	return filepath.Join(l.uploadDir, jobID+"_"+filepath.Base(filename))
}

// WorkDir returns a job's scratch directory.
func (l Layout) WorkDir(jobID string) string {
	return filepath.Join(l.workDir, jobID)
}

// RawSubtitlePath is the untranslated transcription artifact.
func (l Layout) RawSubtitlePath(jobID string) string {
	return filepath.Join(l.WorkDir(jobID), "raw.srt")
}

// TranslatedSubtitleName is the subtitle output filename recorded on the job.
func TranslatedSubtitleName(jobID string) string {
	return jobID + "_translated.srt"
}

// TranslatedSubtitlePath is the translated SRT delivered alongside the video.
func (l Layout) TranslatedSubtitlePath(jobID string) string {
	return filepath.Join(l.outputDir, TranslatedSubtitleName(jobID))
}

// FinalVideoName is the output filename recorded on the job.
func FinalVideoName(jobID string) string {
	return jobID + "_final.mp4"
}

// FinalVideoPath is the muxed output video.
func (l Layout) FinalVideoPath(jobID string) string {
	return filepath.Join(l.outputDir, FinalVideoName(jobID))
}

// BatchArchiveName is the archive filename recorded on the batch.
func BatchArchiveName(batchID string) string {
	return batchID + "_batch.zip"
}

// BatchArchivePath is the zip bundling a finished batch's outputs.
func (l Layout) BatchArchivePath(batchID string) string {
	return filepath.Join(l.outputDir, BatchArchiveName(batchID))
}

// OutputPath resolves a recorded output filename inside the output
// directory. Returns empty string when the name tries to escape it.
func (l Layout) OutputPath(filename string) string {
	cleaned := filepath.Base(strings.TrimSpace(filename))
	if cleaned == "" || cleaned == "." || cleaned == ".." {
		return ""
	}
	return filepath.Join(l.outputDir, cleaned)
}

// StageArtifact returns the partial artifact a given in-flight stage writes,
// or empty string when the stage produces nothing restartable.
func (l Layout) StageArtifact(jobID string, status store.Status) string {
	switch status {
	case store.StatusExtracting:
		return l.RawSubtitlePath(jobID)
	case store.StatusTranslating:
		return l.TranslatedSubtitlePath(jobID)
	case store.StatusGeneratingOutput:
		return l.FinalVideoPath(jobID)
	default:
		return ""
	}
}

// JobOutputs lists every output artifact a job may have produced.
func (l Layout) JobOutputs(job *store.Job) []string {
	paths := []string{
		l.TranslatedSubtitlePath(job.ID),
		l.FinalVideoPath(job.ID),
	}
	if job.OutputFilename != "" {
		if p := l.OutputPath(job.OutputFilename); p != "" && p != paths[1] {
			paths = append(paths, p)
		}
	}
	return paths
}

// RemoveJobFiles deletes every artifact belonging to a job: source upload,
// scratch directory, and outputs. Missing files are fine.
func (l Layout) RemoveJobFiles(job *store.Job) error {
	var firstErr error
	record := func(err error) {
		if err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	if job.SourcePath != "" {
		record(os.Remove(job.SourcePath))
	}
	record(os.RemoveAll(l.WorkDir(job.ID)))
	for _, path := range l.JobOutputs(job) {
		record(os.Remove(path))
	}
	return firstErr
}
