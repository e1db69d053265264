// Package bundle defines the wire format of a customer data bundle and the
// hashing and archive primitives shared by the exporter and the importer.
//
// A bundle is a gzip-compressed tar whose single top-level entry is the
// customer id; beneath it sit one subdirectory per component plus
// manifest.json. The manifest is written once per export run and never
// mutated afterwards.
package bundle

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ManifestVersion is the manifest format version.
const ManifestVersion = "1.0.0"

// SchemaVersion is the payload schema version, independent of the manifest
// format version.
const SchemaVersion = "2025.01"

// ManifestFilename is the manifest's name inside the bundle root.
const ManifestFilename = "manifest.json"

// MinPlatformVersion is the lowest instance version able to consume bundles
// produced by this code.
const MinPlatformVersion = "1.0.0"

// Component names. Each names an independently checksummed subtree of the
// bundle root.
const (
	ComponentDelta    = "delta"    // structured tables (parquet)
	ComponentVectors  = "vectors"  // vector indices
	ComponentMetadata = "metadata" // document metadata (json)
	ComponentLora     = "lora"     // model-adapter weights
	ComponentHandlers = "handlers" // custom handler code
	ComponentRaw      = "raw"      // raw uploads, opt-in
)

// RequiredServices lists the storage/service kinds an importing instance
// must have available.
var RequiredServices = []string{"postgres", "minio", "embeddings", "vllm"}

// Manifest describes a bundle's components, checksums and requirements.
// Immutable once written into the archive.
type Manifest struct {
	Version       string       `json:"version"`
	SchemaVersion string       `json:"schema_version"`
	CustomerID    string       `json:"customer_id"`
	CreatedAt     time.Time    `json:"created_at"`
	CreatedBy     string       `json:"created_by"`
	Components    []Component  `json:"components"`
	Stats         Stats        `json:"stats"`
	Requirements  Requirements `json:"import_requirements"`

	// ArchiveURL is only ever present in the pointer document the control
	// plane hands to an importer; the manifest inside a bundle never
	// carries it.
	ArchiveURL string `json:"archive_url,omitempty"`
}

// Component describes one named subtree of the bundle. The checksum covers
// the entire subtree rooted at Path as a single hashed unit.
type Component struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum_sha256"`
	FileCount int    `json:"file_count"`
	Format    string `json:"format"`
}

// Stats holds aggregate counts derived from component contents. They are
// informational and never used for integrity checks.
type Stats struct {
	TotalDocuments  int   `json:"total_documents"`
	TotalChunks     int   `json:"total_chunks"`
	TotalEmbeddings int   `json:"total_embeddings"`
	TotalSizeBytes  int64 `json:"total_size_bytes"`
}

// Requirements declares what an importing instance must provide.
type Requirements struct {
	MinPlatformVersion string   `json:"min_os_version"`
	RequiredServices   []string `json:"required_services"`
}

// ComponentFormat maps a component name to its payload format tag.
func ComponentFormat(name string) string {
	switch name {
	case ComponentDelta:
		return "parquet"
	case ComponentVectors:
		return "faiss"
	case ComponentMetadata:
		return "json"
	case ComponentLora:
		return "safetensors"
	case ComponentHandlers:
		return "python"
	default:
		return "mixed"
	}
}

// NewManifest creates a manifest skeleton for one export run.
func NewManifest(customerID, createdBy string, now time.Time) *Manifest {
	return &Manifest{
		Version:       ManifestVersion,
		SchemaVersion: SchemaVersion,
		CustomerID:    customerID,
		CreatedAt:     now.UTC(),
		CreatedBy:     createdBy,
		Requirements: Requirements{
			MinPlatformVersion: MinPlatformVersion,
			RequiredServices:   RequiredServices,
		},
	}
}

// Component returns the descriptor for name, or nil.
func (m *Manifest) Component(name string) *Component {
	for i := range m.Components {
		if m.Components[i].Name == name {
			return &m.Components[i]
		}
	}
	return nil
}

// WriteFile serializes the manifest as indented JSON at path.
func (m *Manifest) WriteFile(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("bundle: marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("bundle: write manifest: %w", err)
	}
	return nil
}

// ReadManifest loads and parses a manifest.json from disk.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bundle: read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest parses manifest JSON bytes.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("bundle: parse manifest: %w", err)
	}
	if m.CustomerID == "" {
		return nil, fmt.Errorf("bundle: manifest has no customer_id")
	}
	return &m, nil
}
