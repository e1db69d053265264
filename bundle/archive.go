package bundle

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/haelix/portage/safeio"
)

// ErrNoBundleRoot is returned when an extracted archive does not contain
// exactly one top-level directory (the customer id).
var ErrNoBundleRoot = errors.New("bundle: archive has no single top-level directory")

// Create writes a gzip-compressed tar of srcDir at archivePath. Entries are
// named under filepath.Base(srcDir) so the archive's single top-level
// directory is the customer id. Entry order is deterministic (sorted
// relative paths), so identical trees produce identical archives apart from
// file timestamps.
func Create(archivePath, srcDir string) error {
	paths, err := listFiles(srcDir)
	if err != nil {
		return err
	}

	f, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("bundle: create archive: %w", err)
	}
	defer f.Close()

	gw := gzip.NewWriter(f)
	tw := tar.NewWriter(gw)

	top := filepath.Base(srcDir)
	for _, rel := range paths {
		full := filepath.Join(srcDir, filepath.FromSlash(rel))
		info, err := os.Stat(full)
		if err != nil {
			return fmt.Errorf("bundle: stat %s: %w", rel, err)
		}
		hdr := &tar.Header{
			Name:    top + "/" + rel,
			Size:    info.Size(),
			Mode:    0o644,
			ModTime: info.ModTime(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("bundle: write header %s: %w", rel, err)
		}
		src, err := os.Open(full)
		if err != nil {
			return fmt.Errorf("bundle: open %s: %w", rel, err)
		}
		if _, err := io.Copy(tw, src); err != nil {
			src.Close()
			return fmt.Errorf("bundle: write %s: %w", rel, err)
		}
		src.Close()
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("bundle: close tar: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("bundle: close gzip: %w", err)
	}
	return nil
}

// Extract unpacks the tar.gz at archivePath into destDir. Every entry name
// passes through safeio.SafePath, so an archive cannot write outside
// destDir.
func Extract(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("bundle: open archive: %w", err)
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("bundle: gzip reader: %w", err)
	}
	defer gr.Close()

	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("bundle: read tar: %w", err)
		}

		target, err := safeio.SafePath(destDir, hdr.Name)
		if err != nil {
			return fmt.Errorf("bundle: entry %q: %w", hdr.Name, err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("bundle: mkdir %s: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("bundle: mkdir for %s: %w", hdr.Name, err)
			}
			out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode)&0o777)
			if err != nil {
				return fmt.Errorf("bundle: create %s: %w", hdr.Name, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return fmt.Errorf("bundle: extract %s: %w", hdr.Name, err)
			}
			out.Close()
		default:
			// Symlinks, devices etc. never appear in bundles; skip rather
			// than materialize something an attacker controls.
			continue
		}
	}
}

// FindRoot locates the single top-level directory of an extracted archive.
func FindRoot(destDir string) (string, error) {
	entries, err := os.ReadDir(destDir)
	if err != nil {
		return "", fmt.Errorf("bundle: read extraction dir: %w", err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	if len(dirs) != 1 {
		return "", fmt.Errorf("%w: found %d", ErrNoBundleRoot, len(dirs))
	}
	return filepath.Join(destDir, dirs[0]), nil
}
