package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Piyanshu129/Web-scraper/pkg/state"
)

func TestRootCommand_FlagDefaults(t *testing.T) {
	cmd := newRootCommand()

	projects, err := cmd.Flags().GetStringSlice("projects")
	if err != nil {
		t.Fatalf("Failed to read projects flag: %v", err)
	}
	if len(projects) != 3 || projects[0] != "SPARK" || projects[1] != "HADOOP" || projects[2] != "FLINK" {
		t.Errorf("Unexpected default projects: %v", projects)
	}

	output, _ := cmd.Flags().GetString("output")
	if output != "jira_dataset.jsonl" {
		t.Errorf("Expected default output jira_dataset.jsonl, got %s", output)
	}

	maxResults, _ := cmd.Flags().GetInt("max-results")
	if maxResults != 50 {
		t.Errorf("Expected default max-results 50, got %d", maxResults)
	}

	batchSize, _ := cmd.Flags().GetInt("batch-size")
	if batchSize != 10 {
		t.Errorf("Expected default batch-size 10, got %d", batchSize)
	}

	delay, _ := cmd.Flags().GetDuration("delay")
	if delay != time.Second {
		t.Errorf("Expected default delay 1s, got %s", delay)
	}
}

func TestRun_ResetProjectExitsWithoutScraping(t *testing.T) {
	stateDir := t.TempDir()

	store, err := state.Open(stateDir)
	if err != nil {
		t.Fatalf("Failed to open state: %v", err)
	}
	store.MarkProcessed("SPARK", "SPARK-1")
	store.UpdateProgress("SPARK", 42, "SPARK-1")
	if err := store.Persist(); err != nil {
		t.Fatalf("Failed to persist state: %v", err)
	}

	opts := &options{
		projects:     []string{"SPARK"},
		output:       filepath.Join(t.TempDir(), "out.jsonl"),
		stateDir:     stateDir,
		resetProject: "SPARK",
		logLevel:     "error",
	}

	if err := run(context.Background(), opts); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	// No scraping happened, so no output file was created.
	if _, err := os.Stat(opts.output); !os.IsNotExist(err) {
		t.Errorf("Expected no output file, stat err = %v", err)
	}

	reloaded, err := state.Open(stateDir)
	if err != nil {
		t.Fatalf("Failed to reopen state: %v", err)
	}
	if reloaded.Progress("SPARK").StartAt != 0 {
		t.Errorf("Expected reset cursor, got %d", reloaded.Progress("SPARK").StartAt)
	}
	if reloaded.TotalProcessed() != 0 {
		t.Errorf("Expected empty processed set, got %d", reloaded.TotalProcessed())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler := promhttp.Handler()
	handler.ServeHTTP(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	bodyStr := string(body)
	if !strings.Contains(bodyStr, "# HELP") || !strings.Contains(bodyStr, "# TYPE") {
		t.Error("Expected Prometheus format metrics output")
	}
}

func TestPrintSummary_NilStats(t *testing.T) {
	// Must not panic when a run produced no stats at all.
	printSummary(nil)
}
