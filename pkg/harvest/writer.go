package harvest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Piyanshu129/Web-scraper/pkg/transform"
)

// Writer appends normalized records to a newline-delimited JSON stream.
// The file is opened in append mode so partial runs never truncate
// previously written records; duplicates are possible across a crash and
// resolved downstream by issue key.
type Writer struct {
	path   string
	file   *os.File
	enc    *json.Encoder
	logger zerolog.Logger
}

// NewWriter opens the output stream for appending, creating parent
// directories as needed.
func NewWriter(path string) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output file: %w", err)
	}

	enc := json.NewEncoder(file)
	enc.SetEscapeHTML(false)

	return &Writer{
		path:   path,
		file:   file,
		enc:    enc,
		logger: log.With().Str("component", "jsonl-writer").Logger(),
	}, nil
}

// Append writes one JSON object per record, each on its own line.
func (w *Writer) Append(records []*transform.NormalizedRecord) error {
	for _, rec := range records {
		if rec == nil {
			continue
		}
		if err := w.enc.Encode(rec); err != nil {
			return fmt.Errorf("write record %s: %w", rec.IssueKey, err)
		}
	}

	w.logger.Debug().Int("records", len(records)).Str("path", w.path).Msg("Appended batch")
	return nil
}

// Path returns the output file location.
func (w *Writer) Path() string {
	return w.path
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	return w.file.Close()
}
