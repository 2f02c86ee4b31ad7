package daemon

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"

	"subtran/internal/logging"
	"subtran/internal/services"
	"subtran/internal/store"
)

// routes builds the admin API handler. The surface is deliberately small:
// it consumes the registries and the sweeper, it never accepts uploads.
func (d *Daemon) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", d.handleStatus)
	mux.HandleFunc("GET /api/jobs", d.handleListJobs)
	mux.HandleFunc("POST /api/jobs", d.handleAddJob)
	mux.HandleFunc("GET /api/jobs/{id}", d.handleGetJob)
	mux.HandleFunc("POST /api/batches", d.handleAddBatch)
	mux.HandleFunc("GET /api/batches/{id}", d.handleGetBatch)
	mux.HandleFunc("POST /api/jobs/{id}/expire", d.handleExpireJob)
	mux.HandleFunc("POST /api/sweep", d.handleSweep)
	mux.HandleFunc("GET /api/download/{filename}", d.handleDownload)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (d *Daemon) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrTimeout):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

type statusResponse struct {
	Running         bool           `json:"running"`
	GPURotation     bool           `json:"gpu_rotation"`
	StatusCounts    map[string]int `json:"status_counts"`
	StorePath       string         `json:"store_path"`
	LockPath        string         `json:"lock_path"`
	InvitesEnabled  bool           `json:"invites_enabled"`
	InviteCount     int            `json:"invite_count,omitempty"`
	InviteRemaining float64        `json:"invite_remaining_seconds,omitempty"`
}

func (d *Daemon) handleStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := d.jobs.CountByStatus(r.Context())
	if err != nil {
		d.writeError(w, err)
		return
	}
	flat := make(map[string]int, len(counts))
	for status, n := range counts {
		flat[string(status)] = n
	}
	resp := statusResponse{
		Running:        d.running.Load(),
		GPURotation:    d.arbiter.Enabled(),
		StatusCounts:   flat,
		StorePath:      d.cfg.StorePath(),
		LockPath:       d.lockPath,
		InvitesEnabled: d.ledger != nil,
	}
	if d.ledger != nil {
		if count, remaining, err := d.ledger.Stats(r.Context()); err == nil {
			resp.InviteCount = count
			resp.InviteRemaining = remaining
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d *Daemon) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var (
		jobs []*store.Job
		err  error
	)
	if r.URL.Query().Get("incomplete") == "1" {
		jobs, err = d.jobs.GetIncomplete(r.Context())
	} else {
		jobs, err = d.jobs.List(r.Context())
	}
	if err != nil {
		d.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

type addJobRequest struct {
	Path       string `json:"path"`
	InviteCode string `json:"invite_code"`
	Mode       string `json:"mode"`
}

func (d *Daemon) handleAddJob(w http.ResponseWriter, r *http.Request) {
	var req addJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	job, err := d.AddFile(r.Context(), req.Path, req.InviteCode, req.Mode)
	if err != nil {
		d.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

type addBatchRequest struct {
	Name       string   `json:"name"`
	Paths      []string `json:"paths"`
	InviteCode string   `json:"invite_code"`
	Mode       string   `json:"mode"`
}

func (d *Daemon) handleAddBatch(w http.ResponseWriter, r *http.Request) {
	var req addBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	batch, jobs, err := d.AddBatch(r.Context(), req.Name, req.Paths, req.InviteCode, req.Mode)
	if err != nil {
		d.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"batch": batch,
		"jobs":  jobs,
	})
}

func (d *Daemon) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := d.jobs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		d.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (d *Daemon) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	batch, err := d.batches.Get(r.Context(), id)
	if err != nil {
		d.writeError(w, err)
		return
	}
	progress, err := d.batches.Progress(r.Context(), id)
	if err != nil {
		d.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"batch":    batch,
		"progress": progress,
	})
}

func (d *Daemon) handleExpireJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := d.sweeper.ExpireNow(r.Context(), id); err != nil {
		d.writeError(w, err)
		return
	}
	job, err := d.jobs.Get(r.Context(), id)
	if err != nil {
		d.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (d *Daemon) handleSweep(w http.ResponseWriter, r *http.Request) {
	report, err := d.sweeper.Sweep(r.Context())
	if err != nil {
		d.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleDownload serves an output artifact. A job output download marks the
// job downloaded and starts (or extends) its deletion countdown; a batch
// archive download marks every successful member downloaded.
func (d *Daemon) handleDownload(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")
	path := d.layout.OutputPath(filename)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid filename"})
		return
	}
	if _, err := os.Stat(path); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "artifact not found"})
		return
	}

	if job := d.findJobByOutput(r, filename); job != nil {
		if _, err := d.jobs.MarkDownloaded(r.Context(), job.ID); err != nil {
			d.logger.Warn("could not mark job downloaded",
				logging.String(logging.FieldJobID, job.ID), logging.Error(err))
		}
		d.countdown.Touch(filename, job.ID)
	} else if batch := d.findBatchByArchive(r, filename); batch != nil {
		for _, memberID := range batch.JobIDs {
			member, err := d.jobs.Get(r.Context(), memberID)
			if err != nil || !member.Status.IsTerminalSuccess() {
				continue
			}
			if member.Status == store.StatusDone {
				if _, err := d.jobs.MarkDownloaded(r.Context(), memberID); err != nil {
					d.logger.Warn("could not mark batch member downloaded",
						logging.String(logging.FieldJobID, memberID), logging.Error(err))
				}
			}
		}
	}

	w.Header().Set("Content-Disposition", "attachment; filename=\""+filename+"\"")
	http.ServeFile(w, r, path)
}

func (d *Daemon) findJobByOutput(r *http.Request, filename string) *store.Job {
	jobs, err := d.jobs.List(r.Context())
	if err != nil {
		return nil
	}
	for _, job := range jobs {
		if job.OutputFilename == filename && job.Status.IsTerminalSuccess() {
			return job
		}
	}
	return nil
}

func (d *Daemon) findBatchByArchive(r *http.Request, filename string) *store.Batch {
	if !strings.HasSuffix(filename, "_batch.zip") {
		return nil
	}
	batches, err := d.batches.List(r.Context())
	if err != nil {
		return nil
	}
	for _, batch := range batches {
		if batch.ArchiveFilename == filename {
			return batch
		}
	}
	return nil
}
