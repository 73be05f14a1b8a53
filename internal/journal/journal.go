// Package journal appends one line per batch event to a shared log file.
//
// A Journal is the single writer of its file: lines are formatted in full
// and written with one call under a mutex, so concurrent work items never
// interleave partial lines. The file is opened with O_APPEND and is never
// truncated.
package journal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrClosed is returned when writing to a closed journal.
var ErrClosed = errors.New("journal: closed")

// Journal is an append-only, line-oriented event log.
//
// Journal is safe for concurrent use.
type Journal struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	closed bool
}

// Open opens path for appending, creating it and its parent directory if
// needed.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal: create directory: %w", err)
		}
	}
	f, err := os.OpenFile(filepath.Clean(path), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644) //nolint:gosec // log file is world-readable
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	return &Journal{w: f, closer: f}, nil
}

// New returns a journal writing to w. Close does not close w.
func New(w io.Writer) *Journal {
	return &Journal{w: w}
}

// Success records a completed work item:
//
//	<input> -> <transform> processed in <seconds> seconds
func (j *Journal) Success(input, transform string, d time.Duration) error {
	return j.line(fmt.Sprintf("%s -> %s processed in %.5f seconds", Path(input), transform, d.Seconds()))
}

// Failure records a failed work item:
//
//	Error processing <input>: <message>
func (j *Journal) Failure(input, message string) error {
	return j.line(fmt.Sprintf("Error processing %s: %s", Path(input), oneLine(message)))
}

// Diagnostic records a free-form line.
func (j *Journal) Diagnostic(message string) error {
	return j.line(oneLine(message))
}

func (j *Journal) line(s string) error {
	buf := make([]byte, 0, len(s)+1)
	buf = append(buf, s...)
	buf = append(buf, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	if _, err := j.w.Write(buf); err != nil {
		return fmt.Errorf("journal: write: %w", err)
	}
	return nil
}

// Close closes the underlying file if the journal opened it.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	if j.closer != nil {
		return j.closer.Close()
	}
	return nil
}

// Path returns p as it is written to the journal. Bytes are kept as given
// except invalid UTF-8 sequences, which become U+FFFD.
func Path(p string) string {
	return strings.ToValidUTF8(p, "\uFFFD")
}

// oneLine collapses line breaks so a message occupies a single line.
func oneLine(s string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
}
