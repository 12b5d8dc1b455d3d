// Package state persists harvest progress so interrupted runs can resume
// without refetching already processed issues.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// stateFileName is the checkpoint document inside the state directory.
const stateFileName = "scrape_state.json"

// ProjectProgress is the pagination cursor for one project.
type ProjectProgress struct {
	// StartAt is the pagination offset, monotonic while a project is
	// in progress.
	StartAt int `json:"start_at"`

	// LastIssueKey is advisory: the last key processed in the most
	// recent saved batch.
	LastIssueKey string `json:"last_issue_key,omitempty"`
}

// document is the JSON checkpoint file structure. It stays
// human-inspectable: plain maps and ordered key lists.
type document struct {
	Projects        map[string]ProjectProgress `json:"projects"`
	ProcessedIssues map[string][]string        `json:"processed_issues"`
	LastUpdated     *time.Time                 `json:"last_updated"`
}

func emptyDocument() document {
	return document{
		Projects:        make(map[string]ProjectProgress),
		ProcessedIssues: make(map[string][]string),
	}
}

// Store owns the checkpoint document. Mutations are in-memory until
// Persist is called; persistence is an atomic whole-document rewrite.
type Store struct {
	path      string
	doc       document
	processed map[string]map[string]struct{}
	logger    zerolog.Logger
	now       func() time.Time
}

// Open loads the checkpoint document from the state directory, creating
// the directory if needed. An absent or corrupt document yields a fresh
// empty state: resuming must never crash on bad state, the worst case is
// refetching.
func Open(stateDir string) (*Store, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	s := &Store{
		path:   filepath.Join(stateDir, stateFileName),
		logger: log.With().Str("component", "checkpoint-store").Logger(),
		now:    time.Now,
	}
	s.load()
	return s, nil
}

// load reads the backing document, falling back to empty state on any
// failure.
func (s *Store) load() {
	s.doc = emptyDocument()

	content, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Str("path", s.path).Msg("Failed to read state, starting fresh")
		}
		s.rebuildIndex()
		return
	}

	var doc document
	if err := json.Unmarshal(content, &doc); err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("Corrupt state file, starting fresh")
		s.rebuildIndex()
		return
	}

	if doc.Projects == nil {
		doc.Projects = make(map[string]ProjectProgress)
	}
	if doc.ProcessedIssues == nil {
		doc.ProcessedIssues = make(map[string][]string)
	}
	s.doc = doc
	s.rebuildIndex()

	s.logger.Info().
		Int("projects", len(doc.Projects)).
		Int("total_processed", s.TotalProcessed()).
		Msg("Loaded checkpoint state")
}

// rebuildIndex builds the membership sets over the persisted key lists.
func (s *Store) rebuildIndex() {
	s.processed = make(map[string]map[string]struct{}, len(s.doc.ProcessedIssues))
	for project, keys := range s.doc.ProcessedIssues {
		set := make(map[string]struct{}, len(keys))
		for _, key := range keys {
			set[key] = struct{}{}
		}
		s.processed[project] = set
	}
}

// ProcessedIssues returns a copy of the processed-key set for a project.
func (s *Store) ProcessedIssues(project string) map[string]struct{} {
	set := make(map[string]struct{}, len(s.processed[project]))
	for key := range s.processed[project] {
		set[key] = struct{}{}
	}
	return set
}

// MarkProcessed records an issue key as processed. Marking the same key
// twice is a no-op.
func (s *Store) MarkProcessed(project, issueKey string) {
	set, ok := s.processed[project]
	if !ok {
		set = make(map[string]struct{})
		s.processed[project] = set
	}
	if _, done := set[issueKey]; done {
		return
	}

	set[issueKey] = struct{}{}
	s.doc.ProcessedIssues[project] = append(s.doc.ProcessedIssues[project], issueKey)
}

// Progress returns the pagination cursor for a project, zero if unseen.
func (s *Store) Progress(project string) ProjectProgress {
	return s.doc.Projects[project]
}

// UpdateProgress overwrites the cursor for a project.
func (s *Store) UpdateProgress(project string, startAt int, lastIssueKey string) {
	s.doc.Projects[project] = ProjectProgress{
		StartAt:      startAt,
		LastIssueKey: lastIssueKey,
	}
}

// Reset drops the cursor and processed set for a project. Records already
// written to the output stream are untouched.
func (s *Store) Reset(project string) {
	delete(s.doc.Projects, project)
	delete(s.doc.ProcessedIssues, project)
	delete(s.processed, project)
	s.logger.Info().Str("project", project).Msg("Reset state for project")
}

// TotalProcessed returns the processed-issue count across all projects.
func (s *Store) TotalProcessed() int {
	total := 0
	for _, keys := range s.doc.ProcessedIssues {
		total += len(keys)
	}
	return total
}

// Persist atomically rewrites the backing document, stamping the
// last-updated timestamp. Callers batch mutations and invoke it at
// checkpoints; nothing auto-saves.
func (s *Store) Persist() error {
	now := s.now().UTC()
	s.doc.LastUpdated = &now

	content, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	// Write to a temp file first, then rename for atomicity.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}

	s.logger.Debug().Str("path", s.path).Msg("State saved")
	return nil
}

// Path returns the location of the backing document.
func (s *Store) Path() string {
	return s.path
}

// SetClock sets the timestamp source (for testing).
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}
