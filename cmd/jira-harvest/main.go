// Package main is the entry point for the jira-harvest CLI.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Piyanshu129/Web-scraper/pkg/client"
	"github.com/Piyanshu129/Web-scraper/pkg/harvest"
	"github.com/Piyanshu129/Web-scraper/pkg/logging"
	"github.com/Piyanshu129/Web-scraper/pkg/state"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// options collects the CLI flags.
type options struct {
	projects     []string
	output       string
	stateDir     string
	maxResults   int
	batchSize    int
	delay        time.Duration
	reset        bool
	resetProject string
	logLevel     string
	pretty       bool
	metricsAddr  string
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "jira-harvest",
		Short: "Harvest Apache Jira issues into a JSONL training dataset",
		Long: `jira-harvest incrementally scrapes issues from the public Apache Jira
instance, normalizes each into a training-ready record with derived
tasks, and appends results to a JSONL file.

Progress is checkpointed per project; an interrupted run resumes where
it left off. Use --reset or --reset-project to start over.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVar(&opts.projects, "projects", []string{"SPARK", "HADOOP", "FLINK"}, "Jira project keys to scrape")
	flags.StringVar(&opts.output, "output", "jira_dataset.jsonl", "Output JSONL file path")
	flags.StringVar(&opts.stateDir, "state-dir", "state", "Directory for checkpoint state")
	flags.IntVar(&opts.maxResults, "max-results", 50, "Maximum results per search page")
	flags.IntVar(&opts.batchSize, "batch-size", 10, "Issues per batch flush and checkpoint")
	flags.DurationVar(&opts.delay, "delay", time.Second, "Courtesy delay between requests")
	flags.BoolVar(&opts.reset, "reset", false, "Reset state for all configured projects before scraping")
	flags.StringVar(&opts.resetProject, "reset-project", "", "Reset state for a single project and exit")
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flags.BoolVar(&opts.pretty, "pretty", false, "Human-readable console log output")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "Optional listen address for Prometheus /metrics")

	return cmd
}

func run(ctx context.Context, opts *options) error {
	logging.Setup(logging.Config{
		Level:  logging.LogLevel(opts.logLevel),
		Pretty: opts.pretty,
		Output: os.Stderr,
	})

	store, err := state.Open(opts.stateDir)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}

	// --reset-project resets and exits without scraping.
	if opts.resetProject != "" {
		store.Reset(opts.resetProject)
		if err := store.Persist(); err != nil {
			return fmt.Errorf("persist state: %w", err)
		}
		log.Info().Str("project", opts.resetProject).Msg("State reset, exiting")
		return nil
	}

	if opts.reset {
		for _, project := range opts.projects {
			store.Reset(project)
		}
		if err := store.Persist(); err != nil {
			return fmt.Errorf("persist state: %w", err)
		}
	}

	if opts.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			log.Info().Str("addr", opts.metricsAddr).Msg("Serving metrics")
			if err := http.ListenAndServe(opts.metricsAddr, mux); err != nil {
				log.Warn().Err(err).Msg("Metrics server stopped")
			}
		}()
	}

	writer, err := harvest.NewWriter(opts.output)
	if err != nil {
		return fmt.Errorf("open output: %w", err)
	}
	defer writer.Close()

	api := client.NewAPI(client.NewExecutor(client.DefaultConfig()))

	cfg := harvest.DefaultConfig(opts.projects...)
	cfg.PageSize = opts.maxResults
	cfg.BatchSize = opts.batchSize
	cfg.RequestDelay = opts.delay

	scraper := harvest.New(api, store, writer, cfg)

	// Every batch flush and page advance persists the checkpoint, so
	// cancelling mid-run loses at most one unflushed batch.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats, runErr := scraper.Run(ctx)
	printSummary(stats)

	if ctx.Err() != nil {
		log.Info().Msg("Interrupted. State saved, run again to resume")
		return nil
	}
	return runErr
}

// printSummary renders the per-project run summary.
func printSummary(stats *harvest.RunStats) {
	if stats == nil {
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("Scraping Summary")
	t.AppendHeader(table.Row{"Project", "Issues", "Status", "Error"})

	projects := make([]string, 0, len(stats.Projects))
	for project := range stats.Projects {
		projects = append(projects, project)
	}
	sort.Strings(projects)

	for _, project := range projects {
		ps := stats.Projects[project]
		status := "ok"
		if !ps.Success {
			status = "failed"
		}
		t.AppendRow(table.Row{project, ps.IssuesScraped, status, ps.Error})
	}
	t.AppendFooter(table.Row{"Total", stats.TotalIssues, "", stats.OutputFile})
	t.Render()
}
