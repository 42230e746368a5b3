package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gutenfeed/internal/archive"
	"gutenfeed/pkg/config"
	apperrors "gutenfeed/pkg/errors"
	"gutenfeed/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

type fakeLinks struct {
	links []string
	err   error
}

func (f *fakeLinks) Links(ctx context.Context) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.links, nil
}

type fakeArchives struct {
	base  string
	files map[string]string
	errs  map[string]error
	calls []string
}

func (f *fakeArchives) Ingest(ctx context.Context, url string) (*archive.Extraction, error) {
	f.calls = append(f.calls, url)
	if err := f.errs[url]; err != nil {
		return nil, err
	}
	dir, err := os.MkdirTemp(f.base, "ingest-*")
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "book.txt")
	if err := os.WriteFile(path, []byte(f.files[url]), 0o644); err != nil {
		return nil, err
	}
	return &archive.Extraction{ContentPath: path, Dir: dir}, nil
}

type published struct {
	key   string
	value []byte
}

type fakePublisher struct {
	messages []published
	calls    int
	failAt   int
	flushes  int
	flushErr error
}

func (f *fakePublisher) Publish(ctx context.Context, key string, value []byte) error {
	f.calls++
	if f.failAt != 0 && f.calls == f.failAt {
		return errors.New("queue full")
	}
	f.messages = append(f.messages, published{key: key, value: value})
	return nil
}

func (f *fakePublisher) Flush(ctx context.Context) error {
	f.flushes++
	return f.flushErr
}

func (f *fakePublisher) Stats() (uint64, uint64) {
	return uint64(len(f.messages)), 0
}

func testConfig(mode string, minLinks int) *config.Config {
	return &config.Config{
		Harvest: config.HarvestConfig{MinLinks: minLinks},
		Book:    config.BookConfig{TitlePattern: "^Title:", SearchWindow: 40},
		Publish: config.PublishConfig{Mode: mode},
	}
}

func newTestPipeline(t *testing.T, cfg *config.Config, links LinkSource, archives ArchiveSource, pub Publisher) *Pipeline {
	t.Helper()
	p, err := New(cfg, links, archives, pub, metrics.New(prometheus.NewRegistry()), "run-test")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func TestRunPublishesLines(t *testing.T) {
	content := "Title: Moby Dick\n\nCall me Ishmael.\n"
	links := &fakeLinks{links: []string{"book.zip"}}
	archives := &fakeArchives{base: t.TempDir(), files: map[string]string{"book.zip": content}}
	pub := &fakePublisher{}

	cfg := testConfig(config.ModeLines, 1)
	cfg.Tracing.Enabled = true
	p := newTestPipeline(t, cfg, links, archives, pub)

	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(res.Successes) != 1 || len(res.Failures) != 0 {
		t.Fatalf("successes = %d, failures = %d, want 1/0", len(res.Successes), len(res.Failures))
	}

	rec := res.Successes[0]
	if rec.Title != "Moby Dick" {
		t.Errorf("Title = %q, want %q", rec.Title, "Moby Dick")
	}
	if rec.TotalLines != 3 || rec.NewlineOnly != 1 || rec.MessagesSent != 2 {
		t.Errorf("stats = %d/%d/%d, want lines=3 newline_only=1 messages=2",
			rec.TotalLines, rec.NewlineOnly, rec.MessagesSent)
	}

	// Bare-newline lines are skipped; everything else is published with its
	// trailing newline intact, keyed by the trimmed title.
	if len(pub.messages) != 2 {
		t.Fatalf("published %d messages, want 2", len(pub.messages))
	}
	wantLines := []string{"Title: Moby Dick\n", "Call me Ishmael.\n"}
	for i, msg := range pub.messages {
		if msg.key != "Moby Dick" {
			t.Errorf("message %d key = %q, want %q", i, msg.key, "Moby Dick")
		}
		var lm LineMessage
		if err := json.Unmarshal(msg.value, &lm); err != nil {
			t.Fatalf("decoding message %d: %v", i, err)
		}
		if lm.BookTitle != "Moby Dick" {
			t.Errorf("message %d book_title = %q", i, lm.BookTitle)
		}
		if lm.BookLine != wantLines[i] {
			t.Errorf("message %d book_line = %q, want %q", i, lm.BookLine, wantLines[i])
		}
	}

	if res.Delivered != 2 {
		t.Errorf("Delivered = %d, want 2", res.Delivered)
	}
	if pub.flushes != 1 {
		t.Errorf("flushes = %d, want 1", pub.flushes)
	}
}

func TestRunFileModePublishesWholeContent(t *testing.T) {
	content := "Title: Dracula\n\nThe castle.\n"
	links := &fakeLinks{links: []string{"book.zip"}}
	archives := &fakeArchives{base: t.TempDir(), files: map[string]string{"book.zip": content}}
	pub := &fakePublisher{}

	p := newTestPipeline(t, testConfig(config.ModeFile, 1), links, archives, pub)
	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(pub.messages) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.messages))
	}
	if string(pub.messages[0].value) != content {
		t.Errorf("message value = %q, want the whole file", pub.messages[0].value)
	}
	if pub.messages[0].key != "Dracula" {
		t.Errorf("message key = %q, want %q", pub.messages[0].key, "Dracula")
	}
	if res.Successes[0].MessagesSent != 1 {
		t.Errorf("MessagesSent = %d, want 1", res.Successes[0].MessagesSent)
	}
}

func TestRunRecordsFailureAndContinues(t *testing.T) {
	links := &fakeLinks{links: []string{"pair.zip", "good.zip"}}
	archives := &fakeArchives{
		base:  t.TempDir(),
		files: map[string]string{"good.zip": "Title: Good\nBody.\n"},
		errs: map[string]error{
			"pair.zip": apperrors.Newf(apperrors.ErrAmbiguousContent, "pattern %q matches 2 files", "*.txt"),
		},
	}
	pub := &fakePublisher{}

	p := newTestPipeline(t, testConfig(config.ModeLines, 2), links, archives, pub)
	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(res.Failures) != 1 {
		t.Fatalf("failures = %d, want 1", len(res.Failures))
	}
	if res.Failures[0].URL != "pair.zip" {
		t.Errorf("failure URL = %q, want pair.zip", res.Failures[0].URL)
	}
	if !strings.Contains(res.Failures[0].Reason, "multiple files match") {
		t.Errorf("failure Reason = %q, want the ambiguity preserved", res.Failures[0].Reason)
	}
	if len(res.Successes) != 1 || res.Successes[0].URL != "good.zip" {
		t.Fatalf("successes = %+v, want good.zip to still publish", res.Successes)
	}
}

func TestRunAbortsWhenHarvestFails(t *testing.T) {
	links := &fakeLinks{err: apperrors.Newf(apperrors.ErrConnection, "connection refused")}
	archives := &fakeArchives{base: t.TempDir()}
	pub := &fakePublisher{}

	p := newTestPipeline(t, testConfig(config.ModeLines, 1), links, archives, pub)
	_, err := p.Run(context.Background())
	if !errors.Is(err, apperrors.ErrConnection) {
		t.Fatalf("Run() error = %v, want ErrConnection", err)
	}
	if len(archives.calls) != 0 {
		t.Errorf("ingested %d archives after a fatal harvest error, want 0", len(archives.calls))
	}
}

func TestRunProcessesExactlyTheTarget(t *testing.T) {
	var urls []string
	files := map[string]string{}
	for i := 1; i <= 5; i++ {
		url := fmt.Sprintf("book%d.zip", i)
		urls = append(urls, url)
		files[url] = fmt.Sprintf("Title: Book %d\nBody.\n", i)
	}
	links := &fakeLinks{links: urls}
	archives := &fakeArchives{base: t.TempDir(), files: files}
	pub := &fakePublisher{}

	p := newTestPipeline(t, testConfig(config.ModeLines, 3), links, archives, pub)
	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(archives.calls) != 3 {
		t.Errorf("ingested %d archives, want the configured 3", len(archives.calls))
	}
	if len(res.Successes) != 3 {
		t.Errorf("successes = %d, want 3", len(res.Successes))
	}
	for i, rec := range res.Successes {
		if rec.URL != urls[i] {
			t.Errorf("success %d = %q, want %q (arrival order)", i, rec.URL, urls[i])
		}
	}
}

func TestRunRecordsTitleFailures(t *testing.T) {
	links := &fakeLinks{links: []string{"notitle.zip", "twotitles.zip"}}
	archives := &fakeArchives{
		base: t.TempDir(),
		files: map[string]string{
			"notitle.zip":   "Author: Nobody\nBody.\n",
			"twotitles.zip": "Title: One\nTitle: Two\n",
		},
	}
	pub := &fakePublisher{}

	p := newTestPipeline(t, testConfig(config.ModeLines, 2), links, archives, pub)
	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(res.Failures) != 2 {
		t.Fatalf("failures = %d, want 2", len(res.Failures))
	}
	if !strings.Contains(res.Failures[0].Reason, "title not found") {
		t.Errorf("failure 0 Reason = %q, want title not found", res.Failures[0].Reason)
	}
	if !strings.Contains(res.Failures[1].Reason, "title is ambiguous") {
		t.Errorf("failure 1 Reason = %q, want ambiguous title", res.Failures[1].Reason)
	}
	if len(pub.messages) != 0 {
		t.Errorf("published %d messages from unusable books, want 0", len(pub.messages))
	}
}

func TestRunFlushesOncePerArchive(t *testing.T) {
	links := &fakeLinks{links: []string{"a.zip", "b.zip"}}
	archives := &fakeArchives{
		base: t.TempDir(),
		files: map[string]string{
			"a.zip": "Title: A\nBody.\n",
			"b.zip": "Title: B\nBody.\n",
		},
	}
	pub := &fakePublisher{}

	p := newTestPipeline(t, testConfig(config.ModeLines, 2), links, archives, pub)
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if pub.flushes != 2 {
		t.Errorf("flushes = %d, want one barrier per archive", pub.flushes)
	}
}

func TestRunPublishFailureDrainsAndContinues(t *testing.T) {
	links := &fakeLinks{links: []string{"a.zip", "b.zip"}}
	archives := &fakeArchives{
		base: t.TempDir(),
		files: map[string]string{
			"a.zip": "Title: A\nFirst.\nSecond.\n",
			"b.zip": "Title: B\nBody.\n",
		},
	}
	// The second enqueue of the first archive fails.
	pub := &fakePublisher{failAt: 2}

	p := newTestPipeline(t, testConfig(config.ModeLines, 2), links, archives, pub)
	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(res.Failures) != 1 || res.Failures[0].URL != "a.zip" {
		t.Fatalf("failures = %+v, want a.zip only", res.Failures)
	}
	if len(res.Successes) != 1 || res.Successes[0].URL != "b.zip" {
		t.Fatalf("successes = %+v, want b.zip to still publish", res.Successes)
	}
	// One drain flush for the failed archive plus one barrier for the good one.
	if pub.flushes != 2 {
		t.Errorf("flushes = %d, want 2", pub.flushes)
	}
}

func TestSummaryEnumeratesOutcomes(t *testing.T) {
	res := &Result{
		Successes: []BookRecord{
			{Title: "Moby Dick", URL: "moby.zip", TotalLines: 3, NewlineOnly: 1, MessagesSent: 2},
		},
		Failures: []Failure{
			{URL: "broken.zip", Reason: "archive extraction failed: bad magic"},
		},
		Delivered: 2,
		Elapsed:   1500 * time.Millisecond,
	}
	out := res.Summary()
	for _, want := range []string{
		"Processed 2 archives: 1 succeeded, 1 failed",
		`"Moby Dick"`,
		"messages=2",
		"broken.zip: archive extraction failed: bad magic",
		"Messages delivered: 2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Summary() missing %q in:\n%s", want, out)
		}
	}
}
