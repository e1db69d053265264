// Package safeio provides the security primitives the portability pipeline
// needs at its trust boundaries: path traversal guards for archive
// extraction, retrieval-URL scheme checks, and bounded I/O helpers.
package safeio

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"
)

// MaxManifestBody caps manifest and pointer-document fetches (4 MiB).
// Archives stream to disk and are not subject to this limit.
const MaxManifestBody int64 = 4 << 20

// ErrPathTraversal is returned when an archive entry or user-supplied path
// escapes its base directory.
var ErrPathTraversal = errors.New("safeio: path traversal detected")

// ErrUnsafeScheme is returned when a retrieval URL uses a non-HTTP(S) scheme.
var ErrUnsafeScheme = errors.New("safeio: only http and https schemes are allowed")

// SafePath validates that joining base and entry does not escape base.
// Returns the cleaned joined path or ErrPathTraversal. Entry names come
// from untrusted tar archives, so ".." is rejected outright.
func SafePath(base, entry string) (string, error) {
	if strings.Contains(entry, "..") {
		return "", ErrPathTraversal
	}
	cleaned := filepath.Join(base, filepath.Clean("/"+entry))
	cleanBase := filepath.Clean(base)
	if cleaned != cleanBase && !strings.HasPrefix(cleaned, cleanBase+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}
	return cleaned, nil
}

// ValidateScheme checks that rawURL parses and uses http or https.
// Retrieval URLs arrive from the environment or the control plane; anything
// else (file:, ftp:, javascript:) is rejected before a request is built.
func ValidateScheme(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("safeio: invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrUnsafeScheme
	}
	if u.Host == "" {
		return fmt.Errorf("safeio: URL has no host")
	}
	return nil
}

// LimitedReadAll reads at most maxBytes from r, erroring if the limit is
// exceeded rather than truncating silently.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	lr := io.LimitReader(r, maxBytes+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("safeio: body exceeds %d bytes", maxBytes)
	}
	return data, nil
}
