// Package transform converts raw Jira API payloads into normalized
// training-ready records with derived tasks.
package transform

import (
	"errors"
	"time"
)

// ErrNoFields is returned when a raw issue carries no fields mapping at
// all; that is the only condition under which a transform fails.
var ErrNoFields = errors.New("issue has no fields")

// Transformer turns one raw issue plus an optional dedicated comments
// payload into a NormalizedRecord. Apart from the capture timestamp the
// transformation is pure.
type Transformer struct {
	now func() time.Time
}

// New creates a Transformer.
func New() *Transformer {
	return &Transformer{now: time.Now}
}

// SetClock sets the capture-timestamp source (for testing).
func (t *Transformer) SetClock(now func() time.Time) {
	t.now = now
}

// Transform normalizes one raw issue. The comments payload may be nil;
// embedded comments on the issue are merged in either way.
func (t *Transformer) Transform(issue map[string]any, comments map[string]any) (*NormalizedRecord, error) {
	fields, _ := issue["fields"].(map[string]any)
	if len(fields) == 0 {
		return nil, ErrNoFields
	}

	issueKey := stringField(issue, "key")

	// Plain description falls back to the rendered variant when empty.
	// The rendered value is an HTML string, so it is rewrapped to go
	// through the tag-stripping path.
	descField := fields["description"]
	if isEmptyField(descField) {
		if rendered, ok := issue["renderedFields"].(map[string]any); ok {
			if html, ok := rendered["description"].(string); ok && html != "" {
				descField = map[string]any{"rendered": html}
			}
		}
	}

	rec := &NormalizedRecord{
		IssueKey:    issueKey,
		Project:     ValueOf(fields["project"]).Extract(),
		Title:       ValueOf(fields["summary"]).Extract(),
		Description: ValueOf(descField).Extract(),
		Status:      ValueOf(fields["status"]).Extract(),
		IssueType:   ValueOf(fields["issuetype"]).Extract(),
		Priority:    ValueOf(fields["priority"]).Extract(),
		Reporter:    ValueOf(fields["reporter"]).Extract(),
		Assignee:    ValueOf(fields["assignee"]).Extract(),
		Created:     FormatTimestamp(stringField(fields, "created")),
		Updated:     FormatTimestamp(stringField(fields, "updated")),
		Resolved:    FormatTimestamp(stringField(fields, "resolutiondate")),
		Labels:      extractLabels(fields),
		Components:  extractComponents(fields),
		Comments:    mergeComments(fields, comments),
		Metadata: Metadata{
			RawIssueKey: issueKey,
			ScrapedAt:   t.now().UTC().Format(time.RFC3339),
			Source:      Source,
		},
	}
	rec.CommentCount = len(rec.Comments)
	rec.DerivedTasks = deriveTasks(rec)

	return rec, nil
}

// isEmptyField reports whether a raw value has no usable content: absent,
// empty string, or an empty mapping.
func isEmptyField(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case map[string]any:
		return len(val) == 0
	default:
		return false
	}
}

// extractLabels returns the issue's labels in their original order.
func extractLabels(fields map[string]any) []string {
	labels := []string{}
	raw, ok := fields["labels"].([]any)
	if !ok {
		return labels
	}
	for _, label := range raw {
		if s, ok := label.(string); ok {
			labels = append(labels, s)
		}
	}
	return labels
}

// extractComponents returns component names in their original order.
func extractComponents(fields map[string]any) []string {
	components := []string{}
	raw, ok := fields["components"].([]any)
	if !ok {
		return components
	}
	for _, component := range raw {
		if m, ok := component.(map[string]any); ok {
			components = append(components, stringField(m, "name"))
		}
	}
	return components
}

// mergeComments combines the dedicated comments payload with any comment
// list embedded on the issue. Dedicated entries take precedence; embedded
// entries whose body text is already present are dropped.
func mergeComments(fields map[string]any, payload map[string]any) []Comment {
	merged := []Comment{}
	seen := make(map[string]struct{})

	if payload != nil {
		if list, ok := payload["comments"].([]any); ok {
			for _, entry := range list {
				if m, ok := entry.(map[string]any); ok {
					c := normalizeComment(m)
					merged = append(merged, c)
					seen[c.Body] = struct{}{}
				}
			}
		}
	}

	if embedded, ok := fields["comment"].(map[string]any); ok {
		if list, ok := embedded["comments"].([]any); ok {
			for _, entry := range list {
				m, ok := entry.(map[string]any)
				if !ok {
					continue
				}
				c := normalizeComment(m)
				if _, dup := seen[c.Body]; dup {
					continue
				}
				merged = append(merged, c)
				seen[c.Body] = struct{}{}
			}
		}
	}

	return merged
}

func normalizeComment(m map[string]any) Comment {
	return Comment{
		Author:  ValueOf(m["author"]).Extract(),
		Body:    ValueOf(m["body"]).Extract(),
		Created: FormatTimestamp(stringField(m, "created")),
		Updated: FormatTimestamp(stringField(m, "updated")),
	}
}
