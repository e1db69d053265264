package importer

import (
	"time"
)

// Status is an import run phase. Transitions are linear; failed is
// reachable from any phase and paused only from downloading (interrupted
// transfer, resumable on retry).
type Status string

const (
	StatusPending           Status = "pending"
	StatusDownloading       Status = "downloading"
	StatusPaused            Status = "paused"
	StatusExtracting        Status = "extracting"
	StatusVerifying         Status = "verifying"
	StatusImportingDelta    Status = "importing_delta"
	StatusImportingVectors  Status = "importing_vectors"
	StatusImportingLora     Status = "importing_lora"
	StatusImportingMetadata Status = "importing_metadata"
	StatusFinalizing        Status = "finalizing"
	StatusCompleted         Status = "completed"
	StatusFailed            Status = "failed"
)

// Progress is the state-machine value object threaded through every phase.
// It is owned exclusively by one in-flight run and never shared across
// concurrent imports for the same customer.
type Progress struct {
	ImportID        string    `json:"import_id"`
	CustomerID      string    `json:"customer_id,omitempty"`
	Status          Status    `json:"status"`
	Percent         float64   `json:"percent"`
	BytesDownloaded int64     `json:"bytes_downloaded"`
	BytesTotal      int64     `json:"bytes_total"`
	FilesImported   int       `json:"files_imported"`
	Error           string    `json:"error,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	onChange func(*Progress)
}

// Overall progress bands per phase. Download owns 0-30; each later phase
// ends at its band ceiling.
const (
	bandDownloadEnd = 30.0
	bandExtractEnd  = 40.0
	bandVerifyEnd   = 50.0
	bandDeltaEnd    = 65.0
	bandVectorsEnd  = 80.0
	bandLoraEnd     = 85.0
	bandMetadataEnd = 95.0
	bandFinalizeEnd = 100.0
)

func newProgress(importID string, onChange func(*Progress)) *Progress {
	now := time.Now().UTC()
	return &Progress{
		ImportID:  importID,
		Status:    StatusPending,
		StartedAt: now,
		UpdatedAt: now,
		onChange:  onChange,
	}
}

func (p *Progress) set(status Status, percent float64) {
	p.Status = status
	p.Percent = percent
	p.touch()
}

// setDownloaded scales download byte counts into the 0-30 band.
func (p *Progress) setDownloaded(done, total int64) {
	p.BytesDownloaded = done
	p.BytesTotal = total
	if total > 0 {
		p.Percent = bandDownloadEnd * float64(done) / float64(total)
	}
	p.touch()
}

func (p *Progress) fail(err error) {
	p.Status = StatusFailed
	p.Error = err.Error()
	p.touch()
}

func (p *Progress) pause(err error) {
	p.Status = StatusPaused
	p.Error = err.Error()
	p.touch()
}

func (p *Progress) touch() {
	p.UpdatedAt = time.Now().UTC()
	if p.onChange != nil {
		p.onChange(p)
	}
}

// snapshot returns a copy safe to hand outside the run.
func (p *Progress) snapshot() Progress {
	c := *p
	c.onChange = nil
	return c
}

// Result is the outcome of one import run.
type Result struct {
	Success            bool     `json:"success"`
	CustomerID         string   `json:"customer_id"`
	ImportID           string   `json:"import_id"`
	Progress           Progress `json:"progress"`
	ImportedDocuments  int      `json:"imported_documents"`
	ImportedChunks     int      `json:"imported_chunks"`
	ImportedEmbeddings int      `json:"imported_embeddings"`
	LakehousePath      string   `json:"lakehouse_path,omitempty"`
	LoraPath           string   `json:"lora_path,omitempty"`
}
