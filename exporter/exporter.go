// Package exporter packages a customer's staged data into a portable,
// integrity-verified bundle: per-component copy and checksum, object-store
// staging pull, stats aggregation, manifest, compressed archive, optional
// upload with a time-limited retrieval URL.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/haelix/portage/bundle"
	"github.com/haelix/portage/idgen"
	"github.com/haelix/portage/kit"
	"github.com/haelix/portage/objstore"
	"github.com/haelix/portage/observability"
)

// components in export order. raw is appended when requested.
var components = []string{
	bundle.ComponentDelta,
	bundle.ComponentVectors,
	bundle.ComponentMetadata,
	bundle.ComponentLora,
	bundle.ComponentHandlers,
}

// Options controls one export run.
type Options struct {
	// IncludeRaw adds the raw uploads component to the bundle.
	IncludeRaw bool
	// OnProgress receives coarse stage updates. May be nil.
	OnProgress func(stage string, pct float64)
}

// Bundle is the outcome of a successful export run.
type Bundle struct {
	Manifest     *bundle.Manifest
	BundleDir    string
	ArchivePath  string
	// RetrievalURL is a presigned object-store URL when upload succeeded,
	// otherwise a local-path reference.
	RetrievalURL string
	// Warnings collects best-effort failures (object-store pull, upload)
	// that did not abort the run.
	Warnings []string
}

// Exporter builds bundles from the instance's staged data areas.
type Exporter struct {
	stagingRoot string
	exportRoot  string
	createdBy   string
	store       objstore.Store // nil when the instance has no object store
	events      *observability.EventLogger
	logger      *slog.Logger
	now         func() time.Time
	newRunID    idgen.Generator
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithObjectStore attaches the object store used for the staging pull and
// the archive upload.
func WithObjectStore(s objstore.Store) Option { return func(e *Exporter) { e.store = s } }

// WithEventLogger attaches the observability event logger.
func WithEventLogger(l *observability.EventLogger) Option { return func(e *Exporter) { e.events = l } }

// WithClock overrides the timestamp source (tests).
func WithClock(now func() time.Time) Option { return func(e *Exporter) { e.now = now } }

// New creates an Exporter reading staged data under stagingRoot and writing
// bundles under exportRoot.
func New(stagingRoot, exportRoot, createdBy string, logger *slog.Logger, opts ...Option) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Exporter{
		stagingRoot: stagingRoot,
		exportRoot:  exportRoot,
		createdBy:   createdBy,
		logger:      logger,
		now:         time.Now,
		newRunID:    idgen.Prefixed("exp_", idgen.Default),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Export packages customerID's staged data. Individual component absences
// are skipped, the object-store pull is best-effort, and only archive
// creation failures are fatal. The customer's staged data is copied, never
// moved.
func (e *Exporter) Export(ctx context.Context, customerID string, opts Options) (*Bundle, error) {
	runID := e.newRunID()
	ctx = kit.WithRunID(kit.WithCustomerID(ctx, customerID), runID)
	logger := e.logger.With("customer_id", customerID, "run_id", runID)

	ts := idgen.Timestamp(e.now())
	outDir := filepath.Join(e.exportRoot, customerID+"_"+ts)
	bundleDir := filepath.Join(outDir, customerID)
	if err := os.MkdirAll(bundleDir, 0o755); err != nil {
		return nil, fmt.Errorf("exporter: create bundle dir: %w", err)
	}

	out := &Bundle{BundleDir: bundleDir}
	progress(opts, "start", 0)

	// 1. Copy staged component subtrees. A missing subtree is not an error.
	stagedRoot := filepath.Join(e.stagingRoot, customerID)
	names := components
	if opts.IncludeRaw {
		names = append(append([]string{}, components...), bundle.ComponentRaw)
	}
	for _, name := range names {
		src := filepath.Join(stagedRoot, name)
		if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
			logger.Debug("component not staged, skipping", "component", name)
			continue
		}
		if err := copyTree(src, filepath.Join(bundleDir, name)); err != nil {
			// Per-component failures do not abort the run.
			msg := fmt.Sprintf("component %s: copy failed: %v", name, err)
			logger.Warn("component export failed", "component", name, "error", err)
			out.Warnings = append(out.Warnings, msg)
		}
	}
	progress(opts, "components", 30)

	// 2. Pull object-store-resident staging data into the matching
	// component subtrees. Supplementary data: log, warn and continue.
	if e.store != nil {
		e.pullStaging(ctx, customerID, bundleDir, names, out, logger)
	}
	progress(opts, "objstore", 50)

	// 3. Hash each component subtree now that it holds both local and
	// pulled files; the checksum must cover exactly what the archive will
	// carry.
	manifest := bundle.NewManifest(customerID, e.createdBy, e.now())
	for _, name := range names {
		dir := filepath.Join(bundleDir, name)
		if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		sum, size, count, err := bundle.HashTree(dir)
		if err != nil {
			msg := fmt.Sprintf("component %s: checksum failed: %v", name, err)
			logger.Warn("component checksum failed", "component", name, "error", err)
			out.Warnings = append(out.Warnings, msg)
			continue
		}
		// The archive carries regular files only, so an empty subtree would
		// not survive extraction; a descriptor for it could never verify.
		if count == 0 {
			logger.Debug("component empty, omitting", "component", name)
			continue
		}
		manifest.Components = append(manifest.Components, bundle.Component{
			Name:      name,
			Path:      name + "/",
			SizeBytes: size,
			Checksum:  sum,
			FileCount: count,
			Format:    bundle.ComponentFormat(name),
		})
	}
	progress(opts, "checksums", 60)

	// 4. Aggregate stats from the bundle contents.
	manifest.Stats = collectStats(bundleDir, manifest, logger)
	progress(opts, "stats", 70)

	// 5. Manifest.
	if err := manifest.WriteFile(filepath.Join(bundleDir, bundle.ManifestFilename)); err != nil {
		return nil, fmt.Errorf("exporter: %w", err)
	}
	out.Manifest = manifest

	// 6. Archive. Failure here is fatal: without the archive there is no
	// bundle to hand over.
	archiveName := customerID + "_" + ts + ".tar.gz"
	archivePath := filepath.Join(e.exportRoot, archiveName)
	if err := bundle.Create(archivePath, bundleDir); err != nil {
		return nil, fmt.Errorf("exporter: create archive: %w", err)
	}
	out.ArchivePath = archivePath
	progress(opts, "archive", 85)

	// 7. Upload and presign; degrade to a local-path reference when the
	// object store is absent or refuses.
	out.RetrievalURL = e.uploadArchive(ctx, customerID, archivePath, archiveName, out, logger)
	progress(opts, "done", 100)

	if e.events != nil {
		e.events.Log(ctx, observability.Event{
			Type:       "export_completed",
			CustomerID: customerID,
			RunID:      runID,
			Detail:     fmt.Sprintf(`{"components":%d,"warnings":%d}`, len(manifest.Components), len(out.Warnings)),
			Success:    true,
		})
	}
	logger.Info("export completed",
		"archive", archivePath,
		"components", len(manifest.Components),
		"total_size_bytes", manifest.Stats.TotalSizeBytes,
		"warnings", len(out.Warnings))
	return out, nil
}

// pullStaging routes each object under the customer's staging prefix into
// the component subtree matching its first path segment. Only the component
// names being exported are valid routes: anything else would travel in the
// archive without a manifest descriptor and so without verification.
func (e *Exporter) pullStaging(ctx context.Context, customerID, bundleDir string, names []string, out *Bundle, logger *slog.Logger) {
	allowed := make(map[string]bool, len(names))
	for _, n := range names {
		allowed[n] = true
	}
	keys, err := e.store.ListStaging(ctx, customerID)
	if err != nil {
		msg := fmt.Sprintf("object store: list staging: %v", err)
		logger.Warn("object store staging list failed", "error", err)
		out.Warnings = append(out.Warnings, msg)
		return
	}
	for _, key := range keys {
		first, _, ok := strings.Cut(key, "/")
		if !ok || first == "" {
			continue // loose objects with no component segment
		}
		if !allowed[first] {
			msg := fmt.Sprintf("object store: %s: not under a known component", key)
			logger.Warn("staging object outside known components", "key", key)
			out.Warnings = append(out.Warnings, msg)
			continue
		}
		dst := filepath.Join(bundleDir, filepath.FromSlash(key))
		if err := e.fetchObject(ctx, customerID, key, dst); err != nil {
			msg := fmt.Sprintf("object store: pull %s: %v", key, err)
			logger.Warn("object store pull failed", "key", key, "error", err)
			out.Warnings = append(out.Warnings, msg)
		}
	}
}

func (e *Exporter) fetchObject(ctx context.Context, customerID, key, dst string) error {
	rc, err := e.store.FetchStaging(ctx, customerID, key)
	if err != nil {
		return err
	}
	defer rc.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (e *Exporter) uploadArchive(ctx context.Context, customerID, archivePath, archiveName string, out *Bundle, logger *slog.Logger) string {
	if e.store == nil {
		logger.Info("object store not configured, returning local archive path")
		return archivePath
	}
	key, err := e.store.UploadExport(ctx, customerID, archivePath, archiveName)
	if err != nil {
		msg := fmt.Sprintf("object store: upload: %v", err)
		logger.Warn("archive upload failed, returning local path", "error", err)
		out.Warnings = append(out.Warnings, msg)
		return archivePath
	}
	u, err := e.store.PresignURL(ctx, key, objstore.PresignExpiry)
	if err != nil {
		msg := fmt.Sprintf("object store: presign: %v", err)
		logger.Warn("presign failed, returning local path", "error", err)
		out.Warnings = append(out.Warnings, msg)
		return archivePath
	}
	return u
}

func progress(opts Options, stage string, pct float64) {
	if opts.OnProgress != nil {
		opts.OnProgress(stage, pct)
	}
}

// copyTree copies every regular file under src to the same relative path
// under dst.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
