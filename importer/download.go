package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/haelix/portage/bundle"
	"github.com/haelix/portage/safeio"
)

// ErrNoArchiveURL is returned when a pointer manifest carries no
// archive_url to resolve.
var ErrNoArchiveURL = errors.New("importer: manifest does not reference an archive")

// errInterrupted wraps a mid-stream copy failure. The partial file on disk
// is the resume checkpoint for the next attempt.
type errInterrupted struct{ err error }

func (e *errInterrupted) Error() string { return fmt.Sprintf("download interrupted: %v", e.err) }
func (e *errInterrupted) Unwrap() error { return e.err }

// maxPointerDepth caps how many manifest.json pointers a retrieval URL may
// chain through before the importer gives up.
const maxPointerDepth = 3

// resolveArchiveURL follows manifest.json pointers to the real archive URL.
// Archive URLs pass through unchanged; a pointer whose archive_url is itself
// a manifest URL is followed again, up to maxPointerDepth hops.
func (im *Importer) resolveArchiveURL(ctx context.Context, rawURL string) (string, error) {
	for depth := 0; depth < maxPointerDepth; depth++ {
		u, err := url.Parse(rawURL)
		if err != nil {
			return "", fmt.Errorf("importer: parse url: %w", err)
		}
		if path.Base(u.Path) != bundle.ManifestFilename {
			return rawURL, nil
		}

		next, err := im.fetchPointer(ctx, rawURL)
		if err != nil {
			return "", err
		}
		rawURL = next
	}
	return "", fmt.Errorf("importer: manifest pointer chain exceeds %d hops", maxPointerDepth)
}

// fetchPointer retrieves one pointer manifest and returns its archive_url.
func (im *Importer) fetchPointer(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("importer: build manifest request: %w", err)
	}
	resp, err := im.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("importer: fetch manifest: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("importer: fetch manifest: status %d", resp.StatusCode)
	}

	data, err := safeio.LimitedReadAll(resp.Body, safeio.MaxManifestBody)
	if err != nil {
		return "", fmt.Errorf("importer: read manifest: %w", err)
	}
	m, err := bundle.ParseManifest(data)
	if err != nil {
		return "", err
	}
	if m.ArchiveURL == "" {
		return "", ErrNoArchiveURL
	}
	if err := safeio.ValidateScheme(m.ArchiveURL); err != nil {
		return "", fmt.Errorf("importer: archive url: %w", err)
	}
	return m.ArchiveURL, nil
}

// download streams the archive at rawURL to dest. When dest already holds a
// partial file from a prior attempt, a byte-range request resumes from its
// length; servers that ignore Range get a clean restart. Mid-stream
// failures return *errInterrupted and leave the partial file in place.
func (im *Importer) download(ctx context.Context, rawURL, dest string, p *Progress) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("importer: create download dir: %w", err)
	}

	var offset int64
	if info, err := os.Stat(dest); err == nil {
		offset = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("importer: build download request: %w", err)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		im.logger.Info("resuming download", "dest", dest, "offset", offset)
	}

	resp, err := im.client.Do(req)
	if err != nil {
		return fmt.Errorf("importer: download: %w", err)
	}
	defer resp.Body.Close()

	var out *os.File
	switch resp.StatusCode {
	case http.StatusPartialContent:
		out, err = os.OpenFile(dest, os.O_WRONLY|os.O_APPEND, 0o644)
	case http.StatusOK:
		// Server ignored the range header (or no partial existed): restart.
		offset = 0
		out, err = os.Create(dest)
	case http.StatusRequestedRangeNotSatisfiable:
		// The partial file already covers the whole object.
		if offset > 0 {
			p.setDownloaded(offset, offset)
			return nil
		}
		return fmt.Errorf("importer: download: status %d", resp.StatusCode)
	default:
		return fmt.Errorf("importer: download: status %d", resp.StatusCode)
	}
	if err != nil {
		return fmt.Errorf("importer: open %s: %w", dest, err)
	}
	defer out.Close()

	total := offset
	if resp.ContentLength > 0 {
		total = offset + resp.ContentLength
	}
	p.setDownloaded(offset, total)

	buf := make([]byte, 128<<10)
	written := offset
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return fmt.Errorf("importer: write %s: %w", dest, werr)
			}
			written += int64(n)
			p.setDownloaded(written, total)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return &errInterrupted{err: rerr}
		}
	}

	if total > 0 && written < total {
		return &errInterrupted{err: fmt.Errorf("short body: %d of %d bytes", written, total)}
	}
	return nil
}

// downloadDest derives the local partial-file path for a URL. Keyed by the
// archive's base name so a retry of the same bundle finds its checkpoint.
func (im *Importer) downloadDest(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("importer: parse url: %w", err)
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("importer: url has no archive name: %s", rawURL)
	}
	return filepath.Join(im.workDir, "downloads", name), nil
}
