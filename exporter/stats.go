package exporter

import (
	"log/slog"
	"path/filepath"

	"github.com/haelix/portage/bundle"
)

// collectStats derives aggregate counts from the bundle contents.
// total_documents comes from the metadata JSON payloads, total_chunks from
// the delta chunk files, and total_embeddings from the vector component
// itself rather than being assumed equal to the chunk count.
func collectStats(bundleDir string, m *bundle.Manifest, logger *slog.Logger) bundle.Stats {
	var stats bundle.Stats

	stats.TotalDocuments = bundle.CountDocuments(filepath.Join(bundleDir, bundle.ComponentMetadata))
	stats.TotalChunks = bundle.CountFiles(filepath.Join(bundleDir, bundle.ComponentDelta, "chunks"))
	stats.TotalEmbeddings = bundle.CountFiles(filepath.Join(bundleDir, bundle.ComponentVectors))

	for _, c := range m.Components {
		stats.TotalSizeBytes += c.SizeBytes
	}
	if stats.TotalChunks != stats.TotalEmbeddings {
		logger.Debug("chunk and embedding counts diverge",
			"chunks", stats.TotalChunks, "embeddings", stats.TotalEmbeddings)
	}
	return stats
}
