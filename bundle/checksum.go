package bundle

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// ChecksumMismatchError reports a component whose recomputed checksum does
// not match the manifest value. Both digests are carried for diagnosis.
type ChecksumMismatchError struct {
	Component string
	Expected  string
	Actual    string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("bundle: checksum mismatch for component %q: expected %s, got %s",
		e.Component, e.Expected, e.Actual)
}

// HashTree computes the SHA-256 checksum of the subtree rooted at dir.
//
// The hash covers, in sorted relative-path order, the concatenation of each
// regular file's slash-separated relative path and its bytes. Hashing the
// path makes the digest sensitive to renames and moves within the
// component, not just to byte content. Directory-listing order of the
// underlying filesystem does not affect the result.
func HashTree(dir string) (checksum string, sizeBytes int64, fileCount int, err error) {
	paths, err := listFiles(dir)
	if err != nil {
		return "", 0, 0, err
	}

	h := sha256.New()
	for _, rel := range paths {
		full := filepath.Join(dir, filepath.FromSlash(rel))
		info, err := os.Stat(full)
		if err != nil {
			return "", 0, 0, fmt.Errorf("bundle: stat %s: %w", rel, err)
		}
		io.WriteString(h, rel)
		f, err := os.Open(full)
		if err != nil {
			return "", 0, 0, fmt.Errorf("bundle: open %s: %w", rel, err)
		}
		if _, err := io.Copy(h, f); err != nil {
			f.Close()
			return "", 0, 0, fmt.Errorf("bundle: hash %s: %w", rel, err)
		}
		f.Close()
		sizeBytes += info.Size()
		fileCount++
	}
	return hex.EncodeToString(h.Sum(nil)), sizeBytes, fileCount, nil
}

// VerifyComponent recomputes the checksum of the component's subtree under
// root and compares it to the manifest value. Returns a
// *ChecksumMismatchError on divergence.
func VerifyComponent(root string, c Component) error {
	dir := filepath.Join(root, filepath.FromSlash(trimSlash(c.Path)))
	actual, _, _, err := HashTree(dir)
	if err != nil {
		return fmt.Errorf("bundle: verify %s: %w", c.Name, err)
	}
	if actual != c.Checksum {
		return &ChecksumMismatchError{Component: c.Name, Expected: c.Checksum, Actual: actual}
	}
	return nil
}

// listFiles returns the sorted slash-separated relative paths of every
// regular file under dir.
func listFiles(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bundle: walk %s: %w", dir, err)
	}
	sort.Strings(paths)
	return paths, nil
}

func trimSlash(p string) string {
	for len(p) > 0 && p[len(p)-1] == '/' {
		p = p[:len(p)-1]
	}
	return p
}
