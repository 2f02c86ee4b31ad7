package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testClient(t *testing.T, handler http.Handler) *apiClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return &apiClient{base: server.URL, http: server.Client()}
}

func TestClientStatus(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/status" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"running":true,"status_counts":{"done":2}}`))
	}))

	status, err := client.status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Running || status.StatusCounts["done"] != 2 {
		t.Fatalf("unexpected status payload %+v", status)
	}
}

func TestClientSurfacesDaemonError(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"job not found"}`))
	}))

	_, err := client.getJob(context.Background(), "ghost")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "job not found") {
		t.Fatalf("daemon error message lost: %v", err)
	}
}

func TestClientRefusedConnectionHint(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.Listener.Addr().String()
	server.Close()

	client := &apiClient{base: "http://" + addr, http: http.DefaultClient}
	_, err := client.status(context.Background())
	if err == nil {
		t.Fatal("expected connection error")
	}
	if !strings.Contains(err.Error(), "subtran daemon") {
		t.Fatalf("expected start hint in error, got: %v", err)
	}
}

func TestClientAddJobSendsMode(t *testing.T) {
	var got map[string]string
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/jobs" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"job-1","mode":"subtitle_only"}`))
	}))

	job, err := client.addJob(context.Background(), "/videos/movie.mkv", "INV-1", "subtitle_only")
	if err != nil {
		t.Fatalf("addJob: %v", err)
	}
	if got["mode"] != "subtitle_only" || got["path"] != "/videos/movie.mkv" {
		t.Fatalf("unexpected request payload %v", got)
	}
	if job.ID != "job-1" {
		t.Fatalf("unexpected job %+v", job)
	}
}

func TestClientAddBatch(t *testing.T) {
	var got map[string]any
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/batches" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"batch":{"id":"batch-1","name":"season one"},"jobs":[{"id":"job-1"},{"id":"job-2"}]}`))
	}))

	created, err := client.addBatch(context.Background(), "season one",
		[]string{"/videos/e1.mkv", "/videos/e2.mkv"}, "", "subtitle_and_video")
	if err != nil {
		t.Fatalf("addBatch: %v", err)
	}
	if got["name"] != "season one" || got["mode"] != "subtitle_and_video" {
		t.Fatalf("unexpected request payload %v", got)
	}
	if created.Batch.ID != "batch-1" || len(created.Jobs) != 2 {
		t.Fatalf("unexpected response %+v", created)
	}
}

func TestClientIncompleteQuery(t *testing.T) {
	var gotQuery string
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jobs":[]}`))
	}))

	if _, err := client.listJobs(context.Background(), true); err != nil {
		t.Fatalf("listJobs: %v", err)
	}
	if gotQuery != "incomplete=1" {
		t.Fatalf("unexpected query %q", gotQuery)
	}
}
