package harvest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Piyanshu129/Web-scraper/internal/testutil"
	"github.com/Piyanshu129/Web-scraper/pkg/state"
	"github.com/Piyanshu129/Web-scraper/pkg/transform"
)

// fakeAPI is an in-memory IssueAPI with injectable failures.
type fakeAPI struct {
	mu       sync.Mutex
	projects map[string]map[string]any
	issues   map[string][]map[string]any
	comments map[string]map[string]any

	// totals overrides the reported issue count per project.
	totals map[string]int

	// projectErr fails the metadata probe for a project.
	projectErr map[string]error

	// commentsErr fails every comments fetch for an issue key.
	commentsErr map[string]error

	// failAt fails the next n page fetches at a given cursor. The
	// single-result count probe is never failed.
	failAt map[int]int

	searchCalls int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		projects:    make(map[string]map[string]any),
		issues:      make(map[string][]map[string]any),
		comments:    make(map[string]map[string]any),
		totals:      make(map[string]int),
		projectErr:  make(map[string]error),
		commentsErr: make(map[string]error),
		failAt:      make(map[int]int),
	}
}

func (f *fakeAPI) addProject(key, name string, issues ...map[string]any) {
	f.projects[key] = map[string]any{"key": key, "name": name}
	f.issues[key] = issues
}

func (f *fakeAPI) SearchIssues(ctx context.Context, project string, startAt, maxResults int, jql string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++

	if maxResults > 1 {
		if remaining := f.failAt[startAt]; remaining > 0 {
			f.failAt[startAt] = remaining - 1
			return nil, fmt.Errorf("search failed at %d", startAt)
		}
	}

	all := f.issues[project]
	total := len(all)
	if override, ok := f.totals[project]; ok {
		total = override
	}

	var page []any
	for i := startAt; i < len(all) && i < startAt+maxResults; i++ {
		page = append(page, all[i])
	}
	if page == nil {
		page = []any{}
	}

	return map[string]any{
		"total":  float64(total),
		"issues": page,
	}, nil
}

func (f *fakeAPI) Comments(ctx context.Context, key string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.commentsErr[key]; err != nil {
		return nil, err
	}
	if payload, ok := f.comments[key]; ok {
		return payload, nil
	}
	return map[string]any{"comments": []any{}, "total": float64(0)}, nil
}

func (f *fakeAPI) Project(ctx context.Context, key string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.projectErr[key]; err != nil {
		return nil, err
	}
	if info, ok := f.projects[key]; ok {
		return info, nil
	}
	return nil, fmt.Errorf("no project %s", key)
}

func newTestScraper(t *testing.T, api *fakeAPI, cfg Config) (*Scraper, *state.Store, string) {
	t.Helper()

	store, err := state.Open(t.TempDir())
	require.NoError(t, err)

	outPath := filepath.Join(t.TempDir(), "out.jsonl")
	writer, err := NewWriter(outPath)
	require.NoError(t, err)
	t.Cleanup(func() { writer.Close() })

	s := New(api, store, writer, cfg)
	s.SetSleep(func(ctx context.Context, d time.Duration) error { return ctx.Err() })
	return s, store, outPath
}

func readRecords(t *testing.T, path string) []transform.NormalizedRecord {
	t.Helper()

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var records []transform.NormalizedRecord
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<20)
	for scanner.Scan() {
		var rec transform.NormalizedRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	require.NoError(t, scanner.Err())
	return records
}

func TestRun_SkipsAlreadyProcessedIssues(t *testing.T) {
	api := newFakeAPI()
	api.addProject("X", "Project X",
		testutil.Issue("X-1", "First"),
		testutil.Issue("X-2", "Second"),
		testutil.Issue("X-3", "Third"),
	)

	cfg := DefaultConfig("X")
	cfg.PageSize = 2
	cfg.RequestDelay = 0

	s, store, outPath := newTestScraper(t, api, cfg)
	store.MarkProcessed("X", "X-2")

	stats, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.TotalIssues)
	assert.True(t, stats.Projects["X"].Success)
	assert.Equal(t, 2, stats.Projects["X"].IssuesScraped)

	records := readRecords(t, outPath)
	require.Len(t, records, 2)
	assert.Equal(t, "X-1", records[0].IssueKey)
	assert.Equal(t, "X-3", records[1].IssueKey)
	assert.Equal(t, 0, records[0].CommentCount)
	assert.Equal(t, 0, records[1].CommentCount)

	assert.Equal(t, 3, store.Progress("X").StartAt)
	assert.Len(t, store.ProcessedIssues("X"), 3)
}

func TestRun_ResumesFromSavedCursor(t *testing.T) {
	api := newFakeAPI()
	api.addProject("X", "Project X",
		testutil.Issue("X-1", "First"),
		testutil.Issue("X-2", "Second"),
		testutil.Issue("X-3", "Third"),
	)

	cfg := DefaultConfig("X")
	cfg.PageSize = 2
	cfg.RequestDelay = 0

	s, store, outPath := newTestScraper(t, api, cfg)
	store.MarkProcessed("X", "X-1")
	store.MarkProcessed("X", "X-2")
	store.UpdateProgress("X", 2, "X-2")

	stats, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.TotalIssues)
	records := readRecords(t, outPath)
	require.Len(t, records, 1)
	assert.Equal(t, "X-3", records[0].IssueKey)
	assert.Equal(t, 3, store.Progress("X").StartAt)
}

func TestRun_ChecksAndPersistsEveryPage(t *testing.T) {
	api := newFakeAPI()
	api.addProject("X", "Project X",
		testutil.Issue("X-1", "First"),
		testutil.Issue("X-2", "Second"),
		testutil.Issue("X-3", "Third"),
		testutil.Issue("X-4", "Fourth"),
	)

	cfg := DefaultConfig("X")
	cfg.PageSize = 2
	cfg.BatchSize = 2
	cfg.RequestDelay = 0

	s, store, outPath := newTestScraper(t, api, cfg)

	_, err := s.Run(context.Background())
	require.NoError(t, err)

	// The checkpoint on disk matches the in-memory state after the run.
	reloaded, err := state.Open(filepath.Dir(store.Path()))
	require.NoError(t, err)
	assert.Equal(t, 4, reloaded.Progress("X").StartAt)
	assert.Equal(t, "X-4", reloaded.Progress("X").LastIssueKey)
	assert.Len(t, reloaded.ProcessedIssues("X"), 4)

	assert.Len(t, readRecords(t, outPath), 4)
}

func TestRun_AbortsAfterConsecutivePageFailures(t *testing.T) {
	api := newFakeAPI()
	api.addProject("X", "Project X",
		testutil.Issue("X-1", "First"),
		testutil.Issue("X-2", "Second"),
		testutil.Issue("X-3", "Third"),
	)
	api.failAt[2] = 10

	cfg := DefaultConfig("X")
	cfg.PageSize = 2
	cfg.RequestDelay = 0
	cfg.MaxConsecutiveFailures = 3

	s, store, outPath := newTestScraper(t, api, cfg)

	var sleeps []time.Duration
	s.SetSleep(func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return ctx.Err()
	})

	stats, err := s.Run(context.Background())
	require.NoError(t, err)

	// The project fails but the run completes; partial progress survives.
	assert.False(t, stats.Projects["X"].Success)
	assert.Contains(t, stats.Projects["X"].Error, "too many consecutive page failures")
	assert.Equal(t, 2, stats.Projects["X"].IssuesScraped)
	assert.Equal(t, 2, store.Progress("X").StartAt)
	assert.Len(t, readRecords(t, outPath), 2)

	// Escalating backoff between retries of the same cursor.
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, sleeps)
}

func TestRun_FailureResetsAfterSuccessfulPage(t *testing.T) {
	api := newFakeAPI()
	api.addProject("X", "Project X",
		testutil.Issue("X-1", "First"),
		testutil.Issue("X-2", "Second"),
		testutil.Issue("X-3", "Third"),
	)
	api.failAt[0] = 2
	api.failAt[2] = 2

	cfg := DefaultConfig("X")
	cfg.PageSize = 2
	cfg.RequestDelay = 0
	cfg.MaxConsecutiveFailures = 3

	s, _, outPath := newTestScraper(t, api, cfg)

	stats, err := s.Run(context.Background())
	require.NoError(t, err)

	// Two failures at each cursor stay under the limit because the counter
	// resets on every successful fetch.
	assert.True(t, stats.Projects["X"].Success)
	assert.Len(t, readRecords(t, outPath), 3)
}

func TestRun_EmptyPageEndsProjectEarly(t *testing.T) {
	api := newFakeAPI()
	api.addProject("X", "Project X",
		testutil.Issue("X-1", "First"),
		testutil.Issue("X-2", "Second"),
	)
	// The server claims more issues than it will ever return.
	api.totals["X"] = 50

	cfg := DefaultConfig("X")
	cfg.PageSize = 2
	cfg.RequestDelay = 0

	s, _, outPath := newTestScraper(t, api, cfg)

	stats, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, stats.Projects["X"].Success)
	assert.Len(t, readRecords(t, outPath), 2)
}

func TestRun_ProjectFailureDoesNotStopRun(t *testing.T) {
	api := newFakeAPI()
	api.addProject("BAD", "Bad Project")
	api.projectErr["BAD"] = errors.New("401 unauthorized")
	api.addProject("GOOD", "Good Project", testutil.Issue("GOOD-1", "Works"))

	cfg := DefaultConfig("BAD", "GOOD")
	cfg.RequestDelay = 0

	s, _, outPath := newTestScraper(t, api, cfg)

	stats, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, stats.Projects["BAD"].Success)
	assert.Contains(t, stats.Projects["BAD"].Error, "project lookup")
	assert.True(t, stats.Projects["GOOD"].Success)
	assert.Equal(t, 1, stats.TotalIssues)

	records := readRecords(t, outPath)
	require.Len(t, records, 1)
	assert.Equal(t, "GOOD-1", records[0].IssueKey)
}

func TestRun_CommentsFailureIsNotFatal(t *testing.T) {
	api := newFakeAPI()
	api.addProject("X", "Project X", testutil.Issue("X-1", "First"))
	api.commentsErr["X-1"] = errors.New("comments endpoint down")

	cfg := DefaultConfig("X")
	cfg.RequestDelay = 0

	s, _, outPath := newTestScraper(t, api, cfg)

	stats, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, stats.Projects["X"].Success)
	records := readRecords(t, outPath)
	require.Len(t, records, 1)
	assert.Equal(t, 0, records[0].CommentCount)
}

func TestRun_UntransformableIssueIsSkipped(t *testing.T) {
	broken := map[string]any{"key": "X-2"} // no fields at all

	api := newFakeAPI()
	api.addProject("X", "Project X",
		testutil.Issue("X-1", "First"),
		broken,
		testutil.Issue("X-3", "Third"),
	)

	cfg := DefaultConfig("X")
	cfg.RequestDelay = 0

	s, store, outPath := newTestScraper(t, api, cfg)

	stats, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, stats.Projects["X"].Success)
	assert.Equal(t, 2, stats.TotalIssues)

	records := readRecords(t, outPath)
	require.Len(t, records, 2)
	assert.Equal(t, "X-1", records[0].IssueKey)
	assert.Equal(t, "X-3", records[1].IssueKey)

	// Skipped issues are not marked processed; a later run with a reset
	// cursor would retry them.
	assert.NotContains(t, store.ProcessedIssues("X"), "X-2")
}

func TestRun_CommentsAttachedToRecords(t *testing.T) {
	api := newFakeAPI()
	api.addProject("X", "Project X", testutil.Issue("X-1", "First"))
	api.comments["X-1"] = map[string]any{
		"comments": []any{
			map[string]any{
				"author": map[string]any{"displayName": "Jane"},
				"body":   "Reproduced on trunk",
			},
		},
	}

	cfg := DefaultConfig("X")
	cfg.RequestDelay = 0

	s, _, outPath := newTestScraper(t, api, cfg)

	_, err := s.Run(context.Background())
	require.NoError(t, err)

	records := readRecords(t, outPath)
	require.Len(t, records, 1)
	require.Equal(t, 1, records[0].CommentCount)
	assert.Equal(t, "Jane", records[0].Comments[0].Author)
	assert.Equal(t, "Reproduced on trunk", records[0].Comments[0].Body)
}

func TestRun_ContextCancellation(t *testing.T) {
	api := newFakeAPI()
	api.addProject("X", "Project X", testutil.Issue("X-1", "First"))

	cfg := DefaultConfig("X")
	cfg.RequestDelay = 0

	s, _, _ := newTestScraper(t, api, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := s.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, stats)
	assert.False(t, stats.Projects["X"].Success)
}

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig("SPARK", "HADOOP")

	assert.Equal(t, []string{"SPARK", "HADOOP"}, cfg.Projects)
	assert.Equal(t, 50, cfg.PageSize)
	assert.Equal(t, 10, cfg.BatchSize)
	assert.Equal(t, 1*time.Second, cfg.RequestDelay)
	assert.Equal(t, 5, cfg.MaxConsecutiveFailures)
}
