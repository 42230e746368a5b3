package errors

import (
	"errors"
	"fmt"
)

var (
	ErrConnection       = errors.New("connection failed")
	ErrTimeout          = errors.New("request timed out")
	ErrCatalogExhausted = errors.New("catalog exhausted")
	ErrDownload         = errors.New("download failed")
	ErrExtraction       = errors.New("archive extraction failed")
	ErrNoContentMatch   = errors.New("no file matches content pattern")
	ErrAmbiguousContent = errors.New("multiple files match content pattern")
	ErrTitleNotFound    = errors.New("title not found")
	ErrTitleAmbiguous   = errors.New("title is ambiguous")
)

// Severity decides how far an error propagates: item errors fail a single
// archive and let the run continue, run errors abort the whole run.
type Severity int

const (
	SeverityItem Severity = iota
	SeverityRun
)

type PipelineError struct {
	Err     error
	Message string
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

func New(sentinel error, message string) *PipelineError {
	return &PipelineError{
		Err:     sentinel,
		Message: message,
	}
}

func Newf(sentinel error, format string, args ...any) *PipelineError {
	return &PipelineError{
		Err:     sentinel,
		Message: fmt.Sprintf(format, args...),
	}
}

// Classify maps an error to its severity. Connection-level failures and an
// exhausted catalog mean the run cannot produce anything useful; everything
// else is scoped to the archive that raised it.
func Classify(err error) Severity {
	switch {
	case errors.Is(err, ErrConnection),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrCatalogExhausted):
		return SeverityRun
	default:
		return SeverityItem
	}
}

func IsRunFatal(err error) bool {
	return Classify(err) == SeverityRun
}
