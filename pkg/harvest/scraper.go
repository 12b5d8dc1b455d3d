// Package harvest drives the fetch-transform-persist pipeline: it pages
// through each project's issue list, skips already processed issues,
// normalizes the rest, and checkpoints progress so a killed run resumes
// where it left off.
package harvest

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Piyanshu129/Web-scraper/pkg/client"
	"github.com/Piyanshu129/Web-scraper/pkg/pacing"
	"github.com/Piyanshu129/Web-scraper/pkg/state"
	"github.com/Piyanshu129/Web-scraper/pkg/transform"
)

// Prometheus metrics for harvest progress.
var (
	harvestIssuesScrapedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_issues_scraped_total",
		Help: "Total issues scraped and written per project",
	}, []string{"project"})

	harvestIssuesSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_issues_skipped_total",
		Help: "Total issues skipped because they were already processed",
	}, []string{"project"})

	harvestTransformFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_transform_failures_total",
		Help: "Total issues dropped because normalization failed",
	}, []string{"project"})

	harvestBatchesFlushedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_batches_flushed_total",
		Help: "Total record batches flushed to the output stream",
	})

	harvestPageFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_page_failures_total",
		Help: "Total page fetch failures per project",
	}, []string{"project"})

	harvestProjectFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_project_failures_total",
		Help: "Total projects that failed and were skipped",
	})
)

// IssueAPI is the subset of the Jira client the orchestrator consumes.
type IssueAPI interface {
	SearchIssues(ctx context.Context, project string, startAt, maxResults int, jql string) (map[string]any, error)
	Comments(ctx context.Context, key string) (map[string]any, error)
	Project(ctx context.Context, key string) (map[string]any, error)
}

// Config holds the orchestrator configuration.
type Config struct {
	// Projects are the Jira project keys to harvest, in order.
	Projects []string

	// PageSize is the maxResults value per search page.
	PageSize int

	// BatchSize is the record count per output flush and checkpoint.
	BatchSize int

	// RequestDelay is the courtesy delay between requests. Comment
	// fetches use half of it, inter-project pauses twice.
	RequestDelay time.Duration

	// MaxConsecutiveFailures aborts a project after this many failed
	// page fetches in a row.
	MaxConsecutiveFailures int
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig(projects ...string) Config {
	return Config{
		Projects:               projects,
		PageSize:               50,
		BatchSize:              10,
		RequestDelay:           1 * time.Second,
		MaxConsecutiveFailures: 5,
	}
}

// Scraper coordinates the API client, checkpoint store, transformer and
// output writer. Execution is strictly sequential: one outstanding
// request at a time.
type Scraper struct {
	api         IssueAPI
	store       *state.Store
	writer      *Writer
	transformer *transform.Transformer
	pacer       *pacing.Pacer
	config      Config
	logger      zerolog.Logger
	sleep       client.SleepFunc
}

// New creates a Scraper.
func New(api IssueAPI, store *state.Store, writer *Writer, cfg Config) *Scraper {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = 5
	}

	return &Scraper{
		api:         api,
		store:       store,
		writer:      writer,
		transformer: transform.New(),
		pacer:       pacing.New(cfg.RequestDelay),
		config:      cfg,
		logger:      log.With().Str("component", "scraper").Logger(),
		sleep:       sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SetSleep sets the failure-backoff sleep function (for testing).
func (s *Scraper) SetSleep(fn client.SleepFunc) {
	s.sleep = fn
}

// SetTransformer replaces the transformer (for testing with a fixed clock).
func (s *Scraper) SetTransformer(t *transform.Transformer) {
	s.transformer = t
}

// Run harvests all configured projects sequentially. A failing project is
// recorded in the stats and the next one proceeds; only context
// cancellation stops the run early.
func (s *Scraper) Run(ctx context.Context) (*RunStats, error) {
	stats := &RunStats{
		Projects:   make(map[string]ProjectStats),
		OutputFile: s.writer.Path(),
	}

	s.logger.Info().
		Strs("projects", s.config.Projects).
		Int("already_processed", s.store.TotalProcessed()).
		Msg("Starting harvest")

	for i, project := range s.config.Projects {
		count, err := s.scrapeProject(ctx, project)
		stats.TotalIssues += count

		if err != nil {
			if ctx.Err() != nil {
				stats.Projects[project] = ProjectStats{
					IssuesScraped: count,
					Success:       false,
					Error:         ctx.Err().Error(),
				}
				return stats, ctx.Err()
			}

			harvestProjectFailuresTotal.Inc()
			s.logger.Error().Err(err).Str("project", project).Msg("Project failed")
			stats.Projects[project] = ProjectStats{
				IssuesScraped: count,
				Success:       false,
				Error:         err.Error(),
			}
		} else {
			stats.Projects[project] = ProjectStats{
				IssuesScraped: count,
				Success:       true,
			}
		}

		// Longer courtesy pause between projects.
		if i < len(s.config.Projects)-1 {
			s.logger.Info().Msg("Waiting before next project")
			if err := s.pacer.ProjectPause(ctx); err != nil {
				return stats, err
			}
		}
	}

	s.logger.Info().Int("total_issues", stats.TotalIssues).Msg("Harvest complete")
	return stats, nil
}

// scrapeProject walks one project: metadata probe, count probe, then the
// pagination loop with dedup, batching and checkpointing. Returns the
// number of newly scraped issues and preserves partial progress on error.
func (s *Scraper) scrapeProject(ctx context.Context, project string) (scraped int, err error) {
	logger := s.logger.With().Str("project", project).Logger()

	// Init: confirm the project exists before paging through it.
	info, err := s.api.Project(ctx, project)
	if err != nil {
		return 0, fmt.Errorf("project lookup: %w", err)
	}
	name := project
	if n, ok := info["name"].(string); ok && n != "" {
		name = n
	}

	processed := s.store.ProcessedIssues(project)
	progress := s.store.Progress(project)

	logger.Info().
		Str("name", name).
		Int("already_processed", len(processed)).
		Int("start_at", progress.StartAt).
		Msg("Scraping project")

	// CountProbe: a 1-result search exposes the total issue count.
	probe, err := s.api.SearchIssues(ctx, project, 0, 1, "")
	if err != nil {
		return 0, fmt.Errorf("issue count probe: %w", err)
	}
	total := intField(probe, "total")
	logger.Info().Int("total_issues", total).Msg("Total issues in project")

	var batch []*transform.NormalizedRecord
	cursor := progress.StartAt
	failures := 0
	seen := len(processed)
	lastKey := progress.LastIssueKey

	// Draining: whatever ends the loop, flush the tail batch and persist.
	defer func() {
		if len(batch) > 0 {
			if flushErr := s.flush(batch, project, cursor, lastKey); flushErr != nil && err == nil {
				err = flushErr
			}
		} else if persistErr := s.store.Persist(); persistErr != nil && err == nil {
			err = persistErr
		}
	}()

	// Paginating.
	for cursor < total {
		if waitErr := s.pacer.WaitRequest(ctx); waitErr != nil {
			return scraped, waitErr
		}

		page, pageErr := s.api.SearchIssues(ctx, project, cursor, s.config.PageSize, "")
		if pageErr != nil {
			if ctx.Err() != nil {
				return scraped, ctx.Err()
			}

			failures++
			harvestPageFailuresTotal.WithLabelValues(project).Inc()
			logger.Warn().
				Err(pageErr).
				Int("start_at", cursor).
				Int("consecutive_failures", failures).
				Msg("Page fetch failed")

			if failures >= s.config.MaxConsecutiveFailures {
				return scraped, fmt.Errorf("too many consecutive page failures at start_at=%d: %w", cursor, pageErr)
			}

			// Back off and retry the same cursor.
			if sleepErr := s.sleep(ctx, time.Duration(1<<failures)*time.Second); sleepErr != nil {
				return scraped, sleepErr
			}
			continue
		}
		failures = 0

		issues := sliceField(page, "issues")
		if len(issues) == 0 {
			logger.Info().Int("start_at", cursor).Msg("No more issues found")
			break
		}

		for _, entry := range issues {
			issue, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			issueKey := stringField(issue, "key")

			if _, done := processed[issueKey]; done {
				seen++
				harvestIssuesSkippedTotal.WithLabelValues(project).Inc()
				continue
			}

			// Short courtesy delay before the comments endpoint.
			if waitErr := s.pacer.WaitComments(ctx); waitErr != nil {
				return scraped, waitErr
			}

			// A failed comments fetch is not fatal: the issue still
			// normalizes from its embedded comment list.
			comments, commentsErr := s.api.Comments(ctx, issueKey)
			if commentsErr != nil {
				if ctx.Err() != nil {
					return scraped, ctx.Err()
				}
				logger.Warn().Err(commentsErr).Str("issue_key", issueKey).Msg("Comments fetch failed")
			}

			rec, transformErr := s.transformer.Transform(issue, comments)
			if transformErr != nil {
				harvestTransformFailuresTotal.WithLabelValues(project).Inc()
				logger.Warn().Err(transformErr).Str("issue_key", issueKey).Msg("Skipping untransformable issue")
				seen++
				continue
			}

			batch = append(batch, rec)
			s.store.MarkProcessed(project, issueKey)
			processed[issueKey] = struct{}{}
			scraped++
			seen++
			lastKey = issueKey
			harvestIssuesScrapedTotal.WithLabelValues(project).Inc()

			if len(batch) >= s.config.BatchSize {
				if flushErr := s.flush(batch, project, cursor, issueKey); flushErr != nil {
					batch = nil
					return scraped, flushErr
				}
				batch = nil
			}
		}

		cursor += len(issues)
		s.store.UpdateProgress(project, cursor, lastKey)
		if persistErr := s.store.Persist(); persistErr != nil {
			return scraped, persistErr
		}

		logger.Info().
			Int("progress", seen).
			Int("total", total).
			Int("start_at", cursor).
			Msg("Page processed")

		// A short page is the final page.
		if len(issues) < s.config.PageSize {
			break
		}
	}

	logger.Info().Int("scraped", scraped).Msg("Completed project")
	return scraped, nil
}

// flush writes the batch to the output stream and checkpoints progress.
// Failures here are surfaced: losing the ability to persist output or
// state is the one thing the harvester cannot work around.
func (s *Scraper) flush(batch []*transform.NormalizedRecord, project string, cursor int, lastKey string) error {
	if err := s.writer.Append(batch); err != nil {
		return fmt.Errorf("flush batch: %w", err)
	}

	s.store.UpdateProgress(project, cursor, lastKey)
	if err := s.store.Persist(); err != nil {
		return fmt.Errorf("persist checkpoint: %w", err)
	}

	harvestBatchesFlushedTotal.Inc()
	s.logger.Debug().
		Str("project", project).
		Int("records", len(batch)).
		Int("start_at", cursor).
		Msg("Flushed batch")
	return nil
}

// Raw payload field helpers. The remote shape is never trusted.

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func stringField(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func sliceField(m map[string]any, key string) []any {
	if s, ok := m[key].([]any); ok {
		return s
	}
	return nil
}
