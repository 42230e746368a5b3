package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Severity
	}{
		{"connection is run fatal", ErrConnection, SeverityRun},
		{"timeout is run fatal", ErrTimeout, SeverityRun},
		{"exhausted catalog is run fatal", ErrCatalogExhausted, SeverityRun},
		{"download failure is per item", ErrDownload, SeverityItem},
		{"extraction failure is per item", ErrExtraction, SeverityItem},
		{"missing content is per item", ErrNoContentMatch, SeverityItem},
		{"ambiguous content is per item", ErrAmbiguousContent, SeverityItem},
		{"missing title is per item", ErrTitleNotFound, SeverityItem},
		{"ambiguous title is per item", ErrTitleAmbiguous, SeverityItem},
		{"unknown errors are per item", errors.New("boom"), SeverityItem},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassifySeesThroughWrapping(t *testing.T) {
	err := fmt.Errorf("fetching page 3: %w", Newf(ErrTimeout, "after %s", "30s"))
	if !IsRunFatal(err) {
		t.Errorf("IsRunFatal(%v) = false, want true", err)
	}
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("errors.Is(%v, ErrTimeout) = false, want true", err)
	}
}

func TestPipelineErrorMessage(t *testing.T) {
	err := New(ErrNoContentMatch, `pattern "*.txt" in archive.zip`)
	want := `no file matches content pattern: pattern "*.txt" in archive.zip`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, ErrNoContentMatch) {
		t.Error("wrapped sentinel not reachable via errors.Is")
	}
}
