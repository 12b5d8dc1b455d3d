package transform

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

var (
	htmlTagPattern    = regexp.MustCompile(`<[^>]+>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// Kind discriminates the shapes a raw Jira field value can take.
type Kind int

const (
	// Missing marks an absent or null field.
	Missing Kind = iota

	// Text marks a plain string field.
	Text

	// Structured marks a nested object field (rendered content, user
	// objects, option values).
	Structured
)

// FieldValue is a tagged view over one raw field value. All flexible-shape
// extraction goes through it instead of ad hoc type switches at call sites.
type FieldValue struct {
	kind Kind
	text string
	obj  map[string]any
}

// ValueOf classifies a raw field value. Scalars other than strings
// stringify directly into the Text variant.
func ValueOf(v any) FieldValue {
	switch val := v.(type) {
	case nil:
		return FieldValue{kind: Missing}
	case string:
		return FieldValue{kind: Text, text: val}
	case map[string]any:
		return FieldValue{kind: Structured, obj: val}
	default:
		return FieldValue{kind: Text, text: stringify(val)}
	}
}

// Kind returns the value's shape.
func (f FieldValue) Kind() Kind {
	return f.kind
}

// IsMissing reports whether the field was absent or null.
func (f FieldValue) IsMissing() bool {
	return f.kind == Missing
}

// Extract resolves the value to plain text using the preference order:
// rendered HTML (tags stripped), name, displayName, value, then the
// concatenation of all string-valued entries. Scalars of other types
// stringify.
func (f FieldValue) Extract() string {
	switch f.kind {
	case Text:
		return strings.TrimSpace(f.text)

	case Structured:
		if rendered, ok := f.obj["rendered"].(string); ok {
			return stripHTML(rendered)
		}
		if name, ok := f.obj["name"]; ok {
			return stringify(name)
		}
		if displayName, ok := f.obj["displayName"]; ok {
			return stringify(displayName)
		}
		if value, ok := f.obj["value"]; ok {
			return stringify(value)
		}

		// Fallback: gather every string-valued entry. Keys are sorted
		// so the result is deterministic regardless of map order.
		keys := make([]string, 0, len(f.obj))
		for key, value := range f.obj {
			if _, ok := value.(string); ok {
				keys = append(keys, key)
			}
		}
		sort.Strings(keys)

		parts := make([]string, 0, len(keys))
		for _, key := range keys {
			parts = append(parts, f.obj[key].(string))
		}
		return strings.TrimSpace(strings.Join(parts, " "))

	default:
		return ""
	}
}

// stripHTML removes tags with a simple non-nested pass and collapses
// whitespace runs.
func stripHTML(s string) string {
	text := htmlTagPattern.ReplaceAllString(s, "")
	text = whitespacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		// JSON numbers decode to float64; keep integers clean.
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%v", val)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", val))
	}
}

// timestampLayouts covers the forms Jira emits, most specific first.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05",
}

// FormatTimestamp reformats an ISO-8601 timestamp (trailing "Z"
// tolerated) to a fixed human-readable UTC string. Unparsable values pass
// through unchanged; empty stays empty.
func FormatTimestamp(ts string) string {
	if ts == "" {
		return ""
	}

	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, ts); err == nil {
			return t.UTC().Format("2006-01-02 15:04:05") + " UTC"
		}
	}
	return ts
}

// stringField fetches a string-typed entry from a raw mapping.
func stringField(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}
