// Package importer re-materializes an exported bundle inside a freshly
// provisioned instance: resumable download, extraction, checksum
// verification, ordered component materialization through a shadow staging
// directory, and best-effort completion signaling to the control plane.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/haelix/portage/bundle"
	"github.com/haelix/portage/controlplane"
	"github.com/haelix/portage/idgen"
	"github.com/haelix/portage/kit"
	"github.com/haelix/portage/lease"
	"github.com/haelix/portage/observability"
	"github.com/haelix/portage/safeio"
)

// downloadTimeout bounds one archive transfer. Bundles reach tens of
// gigabytes on slow links, so this is deliberately generous; an
// interruption leaves a resumable partial file rather than failing the
// bundle outright.
const downloadTimeout = time.Hour

// leaseTTL bounds how long one run may hold a customer's import lease.
const leaseTTL = 2 * time.Hour

// importOrder is the fixed materialization sequence. Later phases assume
// earlier ones have already landed; handlers and raw travel in the bundle
// but are not materialized into the live layout.
var importOrder = []struct {
	component string
	status    Status
	bandEnd   float64
}{
	{bundle.ComponentDelta, StatusImportingDelta, bandDeltaEnd},
	{bundle.ComponentVectors, StatusImportingVectors, bandVectorsEnd},
	{bundle.ComponentLora, StatusImportingLora, bandLoraEnd},
	{bundle.ComponentMetadata, StatusImportingMetadata, bandMetadataEnd},
}

// Options controls one import run.
type Options struct {
	// OnProgress receives every progress transition. May be nil.
	OnProgress func(*Progress)
}

// Importer consumes bundles into the local storage layout.
type Importer struct {
	dataDir    string
	workDir    string
	instanceID string
	client     *http.Client
	signals    *controlplane.Client
	leases     *lease.Store
	events     *observability.EventLogger
	logger     *slog.Logger
	newID      idgen.Generator
}

// Option configures an Importer.
type Option func(*Importer)

// WithControlPlane attaches the completion-signal client.
func WithControlPlane(c *controlplane.Client) Option { return func(im *Importer) { im.signals = c } }

// WithLeaseStore attaches the per-customer import lease store. The lease is
// acquired as soon as the manifest names the customer, before verification,
// and released on every exit path.
func WithLeaseStore(s *lease.Store) Option { return func(im *Importer) { im.leases = s } }

// WithEventLogger attaches the observability event logger.
func WithEventLogger(l *observability.EventLogger) Option { return func(im *Importer) { im.events = l } }

// WithHTTPClient overrides the download client (tests).
func WithHTTPClient(c *http.Client) Option { return func(im *Importer) { im.client = c } }

// New creates an Importer materializing into dataDir and scratching in
// workDir.
func New(dataDir, workDir, instanceID string, logger *slog.Logger, opts ...Option) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	im := &Importer{
		dataDir:    dataDir,
		workDir:    workDir,
		instanceID: instanceID,
		client:     &http.Client{Timeout: downloadTimeout},
		logger:     logger,
		newID:      idgen.Prefixed("imp_", idgen.Default),
	}
	for _, o := range opts {
		o(im)
	}
	return im
}

// ImportFromURL runs one full import from a manifest or archive URL.
//
// The returned Result reports success=false together with the error; the
// Progress inside carries the failing phase. A paused download is reported
// as an error too — re-invoking with the same URL resumes from the on-disk
// partial file.
func (im *Importer) ImportFromURL(ctx context.Context, rawURL string, opts Options) (*Result, error) {
	importID := im.newID()
	ctx = kit.WithRunID(ctx, importID)
	logger := im.logger.With("import_id", importID)

	p := newProgress(importID, opts.OnProgress)
	res := &Result{ImportID: importID, Progress: p.snapshot()}

	err := im.run(ctx, rawURL, p, res, logger)
	res.CustomerID = p.CustomerID
	res.Progress = p.snapshot()
	if err != nil {
		// A paused download is not a final outcome: the partial file resumes
		// on the next attempt, so the control plane is not signaled.
		if p.Status == StatusPaused {
			im.logEvent(ctx, p, "import_paused", err.Error(), false)
			return res, err
		}
		p.fail(err)
		res.Progress = p.snapshot()
		im.logEvent(ctx, p, "import_failed", err.Error(), false)
		im.signal(ctx, p, res, logger)
		return res, err
	}

	res.Success = true
	im.logEvent(ctx, p, "import_completed", "", true)
	im.signal(ctx, p, res, logger)
	return res, nil
}

func (im *Importer) run(ctx context.Context, rawURL string, p *Progress, res *Result, logger *slog.Logger) error {
	if err := safeio.ValidateScheme(rawURL); err != nil {
		return fmt.Errorf("importer: retrieval url: %w", err)
	}

	// Download. A manifest.json URL is a pointer to the real archive.
	p.set(StatusDownloading, 0)
	archiveURL, err := im.resolveArchiveURL(ctx, rawURL)
	if err != nil {
		return err
	}
	dest, err := im.downloadDest(archiveURL)
	if err != nil {
		return err
	}
	if err := im.download(ctx, archiveURL, dest, p); err != nil {
		var interrupted *errInterrupted
		if errors.As(err, &interrupted) {
			p.pause(err)
			logger.Warn("download interrupted, partial file kept for resume",
				"dest", dest, "bytes", p.BytesDownloaded, "error", err)
			return fmt.Errorf("importer: %w", err)
		}
		return err
	}
	logger.Info("archive downloaded", "dest", dest, "bytes", p.BytesDownloaded)

	// Extract into a per-run scratch directory.
	p.set(StatusExtracting, bandDownloadEnd)
	extractDir := filepath.Join(im.workDir, "extract_"+p.ImportID)
	defer os.RemoveAll(extractDir)
	if err := bundle.Extract(dest, extractDir); err != nil {
		return err
	}
	root, err := bundle.FindRoot(extractDir)
	if err != nil {
		return err
	}
	manifest, err := bundle.ReadManifest(filepath.Join(root, bundle.ManifestFilename))
	if err != nil {
		return err
	}
	p.CustomerID = manifest.CustomerID
	ctx = kit.WithCustomerID(ctx, manifest.CustomerID)
	logger = logger.With("customer_id", manifest.CustomerID)
	p.set(StatusExtracting, bandExtractEnd)

	// The customer is known now: serialize against other runs before
	// touching anything keyed by the customer.
	if im.leases != nil {
		l, err := im.leases.Acquire(ctx, manifest.CustomerID, im.instanceID, leaseTTL)
		if err != nil {
			return fmt.Errorf("importer: %w", err)
		}
		defer l.Release()
	}

	// Verification gate: every component checksum must match before any
	// materialization begins.
	p.set(StatusVerifying, bandExtractEnd)
	for _, c := range manifest.Components {
		if err := bundle.VerifyComponent(root, c); err != nil {
			return err
		}
	}
	logger.Info("all component checksums verified", "components", len(manifest.Components))
	p.set(StatusVerifying, bandVerifyEnd)

	// Materialize through a shadow directory: every component is staged
	// first, and the live layout is only touched once all of them staged
	// cleanly.
	shadow := filepath.Join(im.workDir, "stage_"+p.ImportID)
	defer os.RemoveAll(shadow)
	staged, err := im.stageComponents(root, shadow, manifest, p)
	if err != nil {
		return err
	}
	if err := im.swapIntoLayout(manifest.CustomerID, shadow, staged); err != nil {
		return err
	}
	res.ImportedDocuments = bundle.CountDocuments(filepath.Join(root, bundle.ComponentMetadata))
	res.ImportedChunks = bundle.CountFiles(filepath.Join(root, bundle.ComponentDelta, "chunks"))
	res.ImportedEmbeddings = bundle.CountFiles(filepath.Join(root, bundle.ComponentVectors))

	// Finalize: scratch space and the downloaded archive are no longer
	// needed once the layout holds the data.
	p.set(StatusFinalizing, bandMetadataEnd)
	if err := os.Remove(dest); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("could not remove downloaded archive", "dest", dest, "error", err)
	}
	res.LakehousePath = filepath.Join(im.dataDir, "lakehouse", manifest.CustomerID)
	if manifest.Component(bundle.ComponentLora) != nil {
		res.LoraPath = filepath.Join(im.dataDir, "lora", manifest.CustomerID)
	}

	p.set(StatusCompleted, bandFinalizeEnd)
	logger.Info("import completed",
		"documents", res.ImportedDocuments,
		"chunks", res.ImportedChunks,
		"embeddings", res.ImportedEmbeddings,
		"lakehouse_path", res.LakehousePath)
	return nil
}

// stageComponents copies each manifest component present in the bundle into
// the shadow directory in the fixed import order. Returns the component
// names staged.
func (im *Importer) stageComponents(root, shadow string, manifest *bundle.Manifest, p *Progress) ([]string, error) {
	var staged []string
	for _, phase := range importOrder {
		c := manifest.Component(phase.component)
		if c == nil {
			continue
		}
		p.set(phase.status, p.Percent)
		src := filepath.Join(root, filepath.FromSlash(trimTrailingSlash(c.Path)))
		if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		n, err := copyTreeCounting(src, filepath.Join(shadow, phase.component))
		if err != nil {
			return nil, fmt.Errorf("importer: stage %s: %w", phase.component, err)
		}
		staged = append(staged, phase.component)
		p.FilesImported += n
		p.set(phase.status, phase.bandEnd)
	}
	return staged, nil
}

// swapIntoLayout renames staged component directories into the live
// layout. All staging succeeded before the first rename, so a failure
// earlier in the run leaves the layout untouched; the rename loop itself is
// the only non-atomic window.
func (im *Importer) swapIntoLayout(customerID, shadow string, staged []string) error {
	for _, name := range staged {
		src := filepath.Join(shadow, name)
		dst := im.layoutPath(customerID, name)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("importer: layout dir for %s: %w", name, err)
		}
		// Re-imports replace the prior materialization wholesale.
		if err := os.RemoveAll(dst); err != nil {
			return fmt.Errorf("importer: clear %s: %w", dst, err)
		}
		if err := os.Rename(src, dst); err != nil {
			return fmt.Errorf("importer: swap %s: %w", name, err)
		}
	}
	return nil
}

// layoutPath maps a component to its live location.
func (im *Importer) layoutPath(customerID, component string) string {
	switch component {
	case bundle.ComponentDelta:
		return filepath.Join(im.dataDir, "lakehouse", customerID, "delta")
	case bundle.ComponentVectors:
		return filepath.Join(im.dataDir, "vectors", customerID)
	case bundle.ComponentLora:
		return filepath.Join(im.dataDir, "lora", customerID)
	default:
		return filepath.Join(im.dataDir, component, customerID)
	}
}

// signal notifies the control plane. Best-effort: a failure is logged and
// recorded but never alters the run's outcome.
func (im *Importer) signal(ctx context.Context, p *Progress, res *Result, logger *slog.Logger) {
	if im.signals == nil {
		return
	}
	if err := im.signals.Signal(ctx, p.CustomerID, p.ImportID, res); err != nil {
		im.logEvent(ctx, p, "signal_failed", err.Error(), false)
	}
}

func (im *Importer) logEvent(ctx context.Context, p *Progress, eventType, detail string, success bool) {
	if im.events == nil {
		return
	}
	im.events.Log(ctx, observability.Event{
		Type:       eventType,
		CustomerID: p.CustomerID,
		RunID:      p.ImportID,
		Phase:      string(p.Status),
		Detail:     detail,
		Success:    success,
	})
}

func trimTrailingSlash(p string) string {
	for len(p) > 0 && p[len(p)-1] == '/' {
		p = p[:len(p)-1]
	}
	return p
}

// copyTreeCounting copies every regular file under src to dst, returning
// the number of files copied.
func copyTreeCounting(src, dst string) (int, error) {
	count := 0
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
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
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		out, err := os.Create(target)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, in); err != nil {
			out.Close()
			return err
		}
		count++
		return out.Close()
	})
	return count, err
}
