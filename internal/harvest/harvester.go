// Package harvest walks a paginated HTML catalog and accumulates archive
// download links. Pagination follows the catalog's own structure: the last
// anchor on each page is taken as the cursor to the next page.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"time"

	"gutenfeed/pkg/config"
	apperrors "gutenfeed/pkg/errors"
	"gutenfeed/pkg/metrics"

	"github.com/PuerkitoBio/goquery"
)

const userAgent = "Gutenfeed-Harvester/1.0"

// Catalog pages are pagination indexes, not content. Cap the read so a
// misconfigured base URL pointing at a huge document cannot stall the run.
const maxPageBytes = 4 << 20

// Harvester collects archive links from a paginated catalog.
type Harvester struct {
	baseURL      string
	startPath    string
	minLinks     int
	pattern      *regexp.Regexp
	pollInterval time.Duration
	client       *http.Client
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

// New builds a Harvester from configuration. The link pattern is compiled
// once here.
func New(cfg config.HarvestConfig, m *metrics.Metrics) (*Harvester, error) {
	pattern, err := regexp.Compile(cfg.LinkPattern)
	if err != nil {
		return nil, fmt.Errorf("compiling link pattern %q: %w", cfg.LinkPattern, err)
	}
	return &Harvester{
		baseURL:      cfg.BaseURL,
		startPath:    cfg.StartPath,
		minLinks:     cfg.MinLinks,
		pattern:      pattern,
		pollInterval: cfg.PollInterval.Duration(),
		client:       &http.Client{Timeout: cfg.FetchTimeout.Duration()},
		logger:       slog.Default().With("component", "harvester"),
		metrics:      m,
	}, nil
}

// Links walks catalog pages until at least the configured minimum number of
// matching links has accumulated. Matches are recorded as-is, in page order,
// duplicates included. The page fetched on each iteration is baseURL plus the
// current cursor, and the cursor for the next page is the last anchor on the
// page, unfiltered. Any fetch failure aborts the whole harvest: a broken
// catalog page means pagination cannot be trusted either.
func (h *Harvester) Links(ctx context.Context) ([]string, error) {
	var links []string
	path := h.startPath
	for page := 0; len(links) < h.minLinks; page++ {
		if page > 0 {
			if err := sleepCtx(ctx, h.pollInterval); err != nil {
				return nil, err
			}
		}

		pageURL := h.baseURL + path
		hrefs, err := h.fetchPage(ctx, pageURL)
		if err != nil {
			return nil, fmt.Errorf("fetching catalog page %q: %w", pageURL, err)
		}
		if len(hrefs) == 0 {
			return nil, apperrors.Newf(apperrors.ErrCatalogExhausted, "page %q has no links", pageURL)
		}

		matched := 0
		for _, href := range hrefs {
			if h.pattern.MatchString(href) {
				links = append(links, href)
				matched++
			}
		}
		h.metrics.CatalogPagesFetched.Inc()
		h.metrics.LinksHarvested.Add(float64(matched))
		h.logger.Debug("catalog page walked",
			"url", pageURL,
			"anchors", len(hrefs),
			"matched", matched,
			"accumulated", len(links),
		)

		next := hrefs[len(hrefs)-1]
		if next == path {
			return nil, apperrors.Newf(apperrors.ErrCatalogExhausted, "pagination cursor stuck at %q", next)
		}
		path = next
	}
	return links, nil
}

// fetchPage retrieves one catalog page and returns every anchor href in
// document order.
func (h *Harvester) fetchPage(ctx context.Context, url string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrConnection, "building request: %v", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, classifyFetchError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.Newf(apperrors.ErrConnection, "HTTP %d from catalog", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrConnection, "parsing catalog page: %v", err)
	}

	var hrefs []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		if href, ok := sel.Attr("href"); ok {
			hrefs = append(hrefs, href)
		}
	})
	return hrefs, nil
}

// classifyFetchError sorts transport failures into the timeout and connection
// kinds the run-abort policy branches on.
func classifyFetchError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return apperrors.Newf(apperrors.ErrTimeout, "%v", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Newf(apperrors.ErrTimeout, "%v", err)
	}
	return apperrors.Newf(apperrors.ErrConnection, "%v", err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
