package harvest

// ProjectStats summarizes one project's outcome within a run.
type ProjectStats struct {
	IssuesScraped int    `json:"issues_scraped"`
	Success       bool   `json:"success"`
	Error         string `json:"error,omitempty"`
}

// RunStats aggregates one invocation. It is ephemeral: never persisted,
// only reported to the caller.
type RunStats struct {
	Projects    map[string]ProjectStats `json:"projects"`
	TotalIssues int                     `json:"total_issues"`
	OutputFile  string                  `json:"output_file"`
}
