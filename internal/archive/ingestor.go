// Package archive downloads one archive at a time, unpacks it into a scratch
// directory, and locates the single content file inside. Every scratch
// resource is scoped to one Ingest call: error paths clean up before
// returning, success hands the caller an Extraction whose Close removes
// everything.
package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gutenfeed/pkg/config"
	apperrors "gutenfeed/pkg/errors"
	"gutenfeed/pkg/metrics"

	"github.com/cavaliergopher/grab/v3"
)

const userAgent = "Gutenfeed-Downloader/1.0"

// Extraction is the product of one successful ingest: the matched content
// file and the scratch directory that owns it. Close releases the scratch
// directory and everything under it, including the downloaded archive.
type Extraction struct {
	ContentPath string
	Dir         string
}

func (e *Extraction) Close() error {
	return os.RemoveAll(e.Dir)
}

// Ingestor fetches and unpacks archives.
type Ingestor struct {
	scratchRoot string
	pattern     string
	chunkSize   int
	client      *grab.Client
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// NewIngestor builds an Ingestor from configuration. An empty scratch dir
// means the OS temp directory; a configured one is created if missing.
func NewIngestor(cfg config.IngestConfig, m *metrics.Metrics) (*Ingestor, error) {
	root := cfg.ScratchDir
	if root == "" {
		root = os.TempDir()
	} else if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating scratch directory: %w", err)
	}

	client := grab.NewClient()
	client.UserAgent = userAgent
	client.HTTPClient = &http.Client{Timeout: cfg.DownloadTimeout.Duration()}

	return &Ingestor{
		scratchRoot: root,
		pattern:     cfg.ContentPattern,
		chunkSize:   cfg.ChunkSize,
		client:      client,
		logger:      slog.Default().With("component", "ingestor"),
		metrics:     m,
	}, nil
}

// Ingest downloads the archive at url, unpacks it, and returns the single
// file matching the content pattern. Zero matches and multiple matches are
// both failures; so is a corrupt archive. All failures are scoped to this one
// archive.
func (ig *Ingestor) Ingest(ctx context.Context, url string) (ext *Extraction, err error) {
	dir, err := os.MkdirTemp(ig.scratchRoot, "gutenfeed-*")
	if err != nil {
		return nil, fmt.Errorf("creating scratch dir: %w", err)
	}
	defer func() {
		if err != nil {
			if rmErr := os.RemoveAll(dir); rmErr != nil {
				ig.logger.Warn("scratch cleanup failed", "dir", dir, "error", rmErr)
			}
		}
	}()

	archivePath := filepath.Join(dir, "archive.zip")
	if err := ig.download(ctx, url, archivePath); err != nil {
		return nil, err
	}

	extractDir := filepath.Join(dir, "extracted")
	if err := unzip(archivePath, extractDir); err != nil {
		return nil, apperrors.Newf(apperrors.ErrExtraction, "%s: %v", url, err)
	}

	matches, err := findContent(extractDir, ig.pattern)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrExtraction, "searching extracted tree: %v", err)
	}
	switch len(matches) {
	case 1:
	case 0:
		return nil, apperrors.Newf(apperrors.ErrNoContentMatch, "pattern %q in %s", ig.pattern, url)
	default:
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = filepath.Base(m)
		}
		return nil, apperrors.Newf(apperrors.ErrAmbiguousContent,
			"pattern %q matches %d files in %s: %s", ig.pattern, len(matches), url, strings.Join(names, ", "))
	}

	ig.logger.Debug("archive ingested", "url", url, "content", matches[0])
	return &Extraction{ContentPath: matches[0], Dir: dir}, nil
}

// download streams the archive into dst in fixed-size chunks.
func (ig *Ingestor) download(ctx context.Context, url, dst string) error {
	req, err := grab.NewRequest(dst, url)
	if err != nil {
		return apperrors.Newf(apperrors.ErrDownload, "building request for %s: %v", url, err)
	}
	req = req.WithContext(ctx)
	req.NoCreateDirectories = true
	req.BufferSize = ig.chunkSize

	resp := ig.client.Do(req)

	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			ig.logger.Debug("download progress",
				"url", url,
				"progress", resp.Progress()*100,
				"bytes_complete", resp.BytesComplete(),
			)
		case <-resp.Done:
			if err := resp.Err(); err != nil {
				return apperrors.Newf(apperrors.ErrDownload, "%s: %v", url, err)
			}
			ig.metrics.BytesDownloaded.Add(float64(resp.BytesComplete()))
			if resp.Size() == 0 {
				// Not failed here: the content-file check downstream is
				// what actually rejects an empty archive.
				ig.logger.Warn("downloaded archive is empty", "url", url)
			}
			ig.logger.Debug("archive downloaded",
				"url", url,
				"path", resp.Filename,
				"size", resp.Size(),
				"duration", resp.Duration(),
			)
			return nil
		}
	}
}

// unzip unpacks src fully into dest, refusing entries that would escape it.
func unzip(src, dest string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer r.Close()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("creating extraction dir: %w", err)
	}

	for _, f := range r.File {
		target, err := sanitizePath(dest, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("creating dir %s: %w", f.Name, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("creating parent of %s: %w", f.Name, err)
		}
		if err := extractFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", f.Name, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("writing %s: %w", f.Name, err)
	}
	return out.Close()
}

// sanitizePath joins an archive entry name onto dest and rejects entries that
// would land outside it.
func sanitizePath(dest, name string) (string, error) {
	target := filepath.Join(dest, name)
	if target != filepath.Clean(dest) && !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
		return "", fmt.Errorf("entry %q escapes extraction dir", name)
	}
	return target, nil
}

// findContent walks the extracted tree collecting files whose base name
// matches the shell glob pattern, in lexical walk order.
func findContent(root, pattern string) ([]string, error) {
	var matches []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ok, err := filepath.Match(pattern, d.Name())
		if err != nil {
			return err
		}
		if ok {
			matches = append(matches, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}
