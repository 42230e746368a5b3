// Package pipeline sequences one run: harvest archive links, then for each
// link download, extract, find the title, and publish. Archives are processed
// strictly one at a time, with a delivery flush between archives so no two
// archives ever have messages in flight together.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"gutenfeed/internal/archive"
	"gutenfeed/internal/book"
	"gutenfeed/pkg/config"
	apperrors "gutenfeed/pkg/errors"
	"gutenfeed/pkg/metrics"
	"gutenfeed/pkg/tracing"
)

// Publisher queues messages for asynchronous delivery. Flush blocks until
// every queued message has a delivery report.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
	Flush(ctx context.Context) error
	Stats() (delivered, failed uint64)
}

// LinkSource yields the archive links for one run.
type LinkSource interface {
	Links(ctx context.Context) ([]string, error)
}

// ArchiveSource turns one link into an extracted content file.
type ArchiveSource interface {
	Ingest(ctx context.Context, url string) (*archive.Extraction, error)
}

// Pipeline drives one run end to end.
type Pipeline struct {
	links     LinkSource
	archives  ArchiveSource
	publisher Publisher

	titlePattern *regexp.Regexp
	window       int
	mode         string
	target       int
	traceRuns    bool
	runID        string

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New wires a Pipeline from configuration and its collaborators.
func New(cfg *config.Config, links LinkSource, archives ArchiveSource, pub Publisher, m *metrics.Metrics, runID string) (*Pipeline, error) {
	titlePattern, err := book.CompilePrefix(cfg.Book.TitlePattern)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		links:        links,
		archives:     archives,
		publisher:    pub,
		titlePattern: titlePattern,
		window:       cfg.Book.SearchWindow,
		mode:         cfg.Publish.Mode,
		target:       cfg.Harvest.MinLinks,
		traceRuns:    cfg.Tracing.Enabled,
		runID:        runID,
		logger:       slog.Default().With("component", "pipeline", "run_id", runID),
		metrics:      m,
	}, nil
}

// Run executes one full pass. Harvest failures abort the run; every failure
// after that is scoped to its archive and recorded, and the run continues
// with the next link. The returned Result holds successes and failures in
// arrival order.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	var root *tracing.Span
	if p.traceRuns {
		root = tracing.StartSpan("pipeline.run", p.runID)
		defer func() {
			root.End()
			root.Log()
		}()
	}

	links, err := p.links.Links(ctx)
	if err != nil {
		return nil, fmt.Errorf("harvesting links: %w", err)
	}
	// The harvester never truncates mid-page, so it may overshoot. The run
	// processes exactly the configured number.
	if len(links) > p.target {
		links = links[:p.target]
	}
	p.logger.Info("harvest complete", "links", len(links))

	res := &Result{}
	for _, url := range links {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		rec, err := p.process(ctx, url, root)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			reason := failureReason(err)
			p.metrics.ArchivesProcessed.WithLabelValues("failure").Inc()
			p.metrics.ArchiveFailures.WithLabelValues(reason).Inc()
			p.logger.Warn("archive failed", "url", url, "reason", reason, "error", err)
			res.Failures = append(res.Failures, Failure{URL: url, Reason: err.Error()})
			continue
		}
		p.metrics.ArchivesProcessed.WithLabelValues("success").Inc()
		p.logger.Info("book published",
			"title", rec.Title,
			"url", url,
			"lines", rec.TotalLines,
			"messages", rec.MessagesSent,
		)
		res.Successes = append(res.Successes, *rec)
	}

	res.Delivered, res.DeliveryFailed = p.publisher.Stats()
	res.Elapsed = time.Since(start)
	return res, nil
}

// process handles a single archive: ingest, title, publish, flush. The
// extraction's scratch directory is released on every exit path.
func (p *Pipeline) process(ctx context.Context, url string, parent *tracing.Span) (rec *BookRecord, err error) {
	start := time.Now()
	defer func() {
		p.metrics.ArchiveDuration.Observe(time.Since(start).Seconds())
	}()

	var span *tracing.Span
	if parent != nil {
		span = parent.StartChild("archive.process")
		span.SetAttr("url", url)
		defer func() {
			if err != nil {
				span.SetAttr("error", err.Error())
			}
			span.End()
		}()
	}

	endIngest := startStage(span, "ingest")
	ext, err := p.archives.Ingest(ctx, url)
	endIngest()
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := ext.Close(); cerr != nil {
			p.logger.Warn("scratch cleanup failed", "url", url, "error", cerr)
		}
	}()

	endTitle := startStage(span, "title")
	content, err := os.ReadFile(ext.ContentPath)
	if err != nil {
		endTitle()
		return nil, fmt.Errorf("reading content file: %w", err)
	}
	lines, err := book.ReadLines(bytes.NewReader(content))
	if err != nil {
		endTitle()
		return nil, err
	}
	title, err := book.FindTitle(lines, p.titlePattern, p.window)
	endTitle()
	if err != nil {
		return nil, err
	}
	key := strings.TrimSpace(title)

	endPublish := startStage(span, "publish")
	defer endPublish()

	sent := 0
	switch p.mode {
	case config.ModeFile:
		if err := p.publisher.Publish(ctx, key, content); err != nil {
			return nil, err
		}
		sent = 1
	default:
		for i, line := range lines {
			if line == "\n" {
				continue
			}
			payload, merr := json.Marshal(LineMessage{BookTitle: key, BookLine: line})
			if merr != nil {
				return nil, fmt.Errorf("encoding line %d: %w", i+1, merr)
			}
			if perr := p.publisher.Publish(ctx, key, payload); perr != nil {
				// Drain what was already queued for this archive so the
				// next one starts with nothing in flight.
				if ferr := p.publisher.Flush(ctx); ferr != nil {
					p.logger.Warn("flush after failed publish", "url", url, "error", ferr)
				}
				return nil, fmt.Errorf("publishing line %d: %w", i+1, perr)
			}
			sent++
		}
	}

	// Barrier between archives: every message gets its delivery report
	// before the next archive starts.
	if err := p.publisher.Flush(ctx); err != nil {
		return nil, fmt.Errorf("waiting for deliveries: %w", err)
	}

	if span != nil {
		span.SetAttr("title", key)
		span.SetAttr("messages", sent)
	}
	return &BookRecord{
		Title:        key,
		URL:          url,
		SourcePath:   ext.ContentPath,
		TotalLines:   len(lines),
		NewlineOnly:  book.CountNewlineOnly(lines),
		MessagesSent: sent,
	}, nil
}

// startStage opens a stage span under parent when tracing is on. The returned
// func ends the span and is safe to call either way.
func startStage(parent *tracing.Span, name string) func() {
	if parent == nil {
		return func() {}
	}
	s := parent.StartChild(name)
	return s.End
}

// failureReason maps an archive error onto the metric label for its kind.
func failureReason(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrDownload):
		return "download"
	case errors.Is(err, apperrors.ErrExtraction):
		return "extraction"
	case errors.Is(err, apperrors.ErrNoContentMatch):
		return "no_content_match"
	case errors.Is(err, apperrors.ErrAmbiguousContent):
		return "ambiguous_content"
	case errors.Is(err, apperrors.ErrTitleNotFound):
		return "title_not_found"
	case errors.Is(err, apperrors.ErrTitleAmbiguous):
		return "title_ambiguous"
	default:
		return "other"
	}
}
