package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"syscall"
	"time"

	"subtran/internal/store"
	"subtran/internal/sweeper"
)

// apiClient is a thin HTTP client for the daemon admin API.
type apiClient struct {
	base string
	http *http.Client
}

func (c *commandContext) client() (*apiClient, error) {
	addr, err := c.apiAddr()
	if err != nil {
		return nil, err
	}
	return &apiClient{
		base: "http://" + addr,
		http: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (a *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.base+path, payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return wrapDialError(err, a.base)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon: %s", apiErr.Error)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func wrapDialError(err error, base string) error {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("connect to daemon at %s: connection refused; start the daemon with `subtran daemon`", base)
	}
	return fmt.Errorf("connect to daemon at %s: %w", base, err)
}

// daemonStatus mirrors the admin API status payload.
type daemonStatus struct {
	Running         bool           `json:"running"`
	GPURotation     bool           `json:"gpu_rotation"`
	StatusCounts    map[string]int `json:"status_counts"`
	StorePath       string         `json:"store_path"`
	LockPath        string         `json:"lock_path"`
	InvitesEnabled  bool           `json:"invites_enabled"`
	InviteCount     int            `json:"invite_count"`
	InviteRemaining float64        `json:"invite_remaining_seconds"`
}

func (a *apiClient) status(ctx context.Context) (*daemonStatus, error) {
	var resp daemonStatus
	if err := a.do(ctx, http.MethodGet, "/api/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (a *apiClient) listJobs(ctx context.Context, incompleteOnly bool) ([]*store.Job, error) {
	path := "/api/jobs"
	if incompleteOnly {
		path += "?incomplete=1"
	}
	var resp struct {
		Jobs []*store.Job `json:"jobs"`
	}
	if err := a.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

func (a *apiClient) getJob(ctx context.Context, id string) (*store.Job, error) {
	var job store.Job
	if err := a.do(ctx, http.MethodGet, "/api/jobs/"+id, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

type batchDetail struct {
	Batch    *store.Batch `json:"batch"`
	Progress float64      `json:"progress"`
}

func (a *apiClient) getBatch(ctx context.Context, id string) (*batchDetail, error) {
	var resp batchDetail
	if err := a.do(ctx, http.MethodGet, "/api/batches/"+id, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (a *apiClient) addJob(ctx context.Context, path, inviteCode, mode string) (*store.Job, error) {
	req := map[string]string{"path": path, "invite_code": inviteCode, "mode": mode}
	var job store.Job
	if err := a.do(ctx, http.MethodPost, "/api/jobs", req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

type batchCreated struct {
	Batch *store.Batch `json:"batch"`
	Jobs  []*store.Job `json:"jobs"`
}

func (a *apiClient) addBatch(ctx context.Context, name string, paths []string, inviteCode, mode string) (*batchCreated, error) {
	req := map[string]any{
		"name":        name,
		"paths":       paths,
		"invite_code": inviteCode,
		"mode":        mode,
	}
	var resp batchCreated
	if err := a.do(ctx, http.MethodPost, "/api/batches", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (a *apiClient) expireJob(ctx context.Context, id string) (*store.Job, error) {
	var job store.Job
	if err := a.do(ctx, http.MethodPost, "/api/jobs/"+id+"/expire", nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (a *apiClient) sweep(ctx context.Context) (*sweeper.Report, error) {
	var report sweeper.Report
	if err := a.do(ctx, http.MethodPost, "/api/sweep", nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}
