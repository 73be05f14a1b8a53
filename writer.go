package pixkern

import (
	"time"

	"github.com/gogpu/pixkern/internal/imageio"
	"github.com/gogpu/pixkern/internal/journal"
)

// Writer persists transform outputs and records batch events.
type Writer interface {
	// Write encodes img to target, creating missing directories.
	Write(img *Image, target string) error

	// LogSuccess records a completed work item.
	LogSuccess(input, transform string, d time.Duration) error

	// LogFailure records a failed work item.
	LogFailure(input, message string) error

	// LogDiagnostic records a batch-level message.
	LogDiagnostic(message string) error
}

// ResultWriter writes images with imageio and records events in an
// append-only journal.
//
// ResultWriter is safe for concurrent use.
type ResultWriter struct {
	j *journal.Journal
}

var _ Writer = (*ResultWriter)(nil)

// OpenResultWriter opens (or creates) the journal at logPath for appending.
func OpenResultWriter(logPath string) (*ResultWriter, error) {
	j, err := journal.Open(logPath)
	if err != nil {
		return nil, err
	}
	return &ResultWriter{j: j}, nil
}

// Write encodes img to target by file extension. Failures are *WriteError.
func (w *ResultWriter) Write(img *Image, target string) error {
	if err := imageio.Save(img, target); err != nil {
		return &WriteError{Path: target, Err: err}
	}
	return nil
}

// LogSuccess appends "<input> -> <transform> processed in <s> seconds".
func (w *ResultWriter) LogSuccess(input, transform string, d time.Duration) error {
	return w.j.Success(input, transform, d)
}

// LogFailure appends "Error processing <input>: <message>".
func (w *ResultWriter) LogFailure(input, message string) error {
	return w.j.Failure(input, message)
}

// LogDiagnostic appends message as its own line.
func (w *ResultWriter) LogDiagnostic(message string) error {
	return w.j.Diagnostic(message)
}

// Close closes the journal.
func (w *ResultWriter) Close() error {
	return w.j.Close()
}
