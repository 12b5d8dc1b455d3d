package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultExpand lists the fields expanded on search and issue requests.
const DefaultExpand = "changelog,renderedFields"

// API is a thin typed facade over the Executor for the four Jira
// operations the harvester needs. Each call builds the path and query and
// forwards to Execute, returning its result unchanged.
type API struct {
	exec   *Executor
	logger zerolog.Logger
}

// NewAPI creates the Jira API facade.
func NewAPI(exec *Executor) *API {
	return &API{
		exec:   exec,
		logger: log.With().Str("component", "jira-api").Logger(),
	}
}

// SearchIssues fetches one page of the project's issue list. An empty jql
// falls back to the default creation-descending project query.
func (a *API) SearchIssues(ctx context.Context, project string, startAt, maxResults int, jql string) (map[string]any, error) {
	if jql == "" {
		jql = fmt.Sprintf("project = %s ORDER BY created DESC", project)
	}

	query := url.Values{
		"jql":        {jql},
		"startAt":    {strconv.Itoa(startAt)},
		"maxResults": {strconv.Itoa(maxResults)},
		"expand":     {DefaultExpand},
	}

	return a.exec.Execute(ctx, http.MethodGet, "search", query)
}

// Issue fetches one issue by key. An empty expand omits the parameter.
func (a *API) Issue(ctx context.Context, key, expand string) (map[string]any, error) {
	query := url.Values{}
	if expand != "" {
		query.Set("expand", expand)
	}

	return a.exec.Execute(ctx, http.MethodGet, "issue/"+key, query)
}

// Comments fetches the dedicated comments payload for an issue.
func (a *API) Comments(ctx context.Context, key string) (map[string]any, error) {
	return a.exec.Execute(ctx, http.MethodGet, "issue/"+key+"/comment", nil)
}

// Project fetches project metadata.
func (a *API) Project(ctx context.Context, key string) (map[string]any, error) {
	return a.exec.Execute(ctx, http.MethodGet, "project/"+key, nil)
}
