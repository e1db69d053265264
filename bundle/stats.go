package bundle

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
)

// CountFiles counts regular files under dir. A missing dir counts zero;
// unreadable entries are skipped rather than failing the count, since
// stats are informational and never used for integrity checks.
func CountFiles(dir string) int {
	count := 0
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			count++
		}
		return nil
	})
	return count
}

// CountDocuments sums document entries across the .json files directly
// under metadataDir. A file may be a top-level array of documents or an
// object carrying a "documents" array; anything else counts zero.
func CountDocuments(metadataDir string) int {
	entries, err := os.ReadDir(metadataDir)
	if err != nil {
		return 0
	}
	total := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(metadataDir, e.Name()))
		if err != nil {
			continue
		}
		total += documentCount(data)
	}
	return total
}

func documentCount(data []byte) int {
	var asList []json.RawMessage
	if err := json.Unmarshal(data, &asList); err == nil {
		return len(asList)
	}
	var asObject struct {
		Documents []json.RawMessage `json:"documents"`
	}
	if err := json.Unmarshal(data, &asObject); err == nil {
		return len(asObject.Documents)
	}
	return 0
}
