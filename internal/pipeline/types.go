package pipeline

import (
	"fmt"
	"strings"
	"time"
)

// LineMessage is the JSON payload for one published content line. Lines keep
// their trailing newline; the title is trimmed.
type LineMessage struct {
	BookTitle string `json:"book_title"`
	BookLine  string `json:"book_line"`
}

// BookRecord summarises one successfully published book. It exists for the
// run report only and is discarded afterwards.
type BookRecord struct {
	Title        string
	URL          string
	SourcePath   string
	TotalLines   int
	NewlineOnly  int
	MessagesSent int
}

// Failure records one archive that could not be published.
type Failure struct {
	URL    string
	Reason string
}

// Result accumulates per-archive outcomes across a run, in arrival order.
type Result struct {
	Successes      []BookRecord
	Failures       []Failure
	Delivered      uint64
	DeliveryFailed uint64
	Elapsed        time.Duration
}

// Summary renders the human-readable run report printed once at the end.
func (r *Result) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Processed %d archives: %d succeeded, %d failed\n",
		len(r.Successes)+len(r.Failures), len(r.Successes), len(r.Failures))
	fmt.Fprintf(&b, "Messages delivered: %d, delivery failures: %d\n", r.Delivered, r.DeliveryFailed)
	fmt.Fprintf(&b, "Elapsed: %s\n", r.Elapsed.Round(time.Millisecond))

	if len(r.Successes) > 0 {
		b.WriteString("\nPublished books:\n")
		for _, rec := range r.Successes {
			fmt.Fprintf(&b, "  %q  lines=%d newline_only=%d messages=%d  %s\n",
				rec.Title, rec.TotalLines, rec.NewlineOnly, rec.MessagesSent, rec.URL)
		}
	}
	if len(r.Failures) > 0 {
		b.WriteString("\nFailed archives:\n")
		for _, f := range r.Failures {
			fmt.Fprintf(&b, "  %s: %s\n", f.URL, f.Reason)
		}
	}
	return b.String()
}
