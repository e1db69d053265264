package bundle

import (
	"path/filepath"
	"testing"
)

func TestCountDocumentsAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	// 40 + 2 = 42 list entries across two JSON files.
	writeFile(t, filepath.Join(dir, "batch1.json"), listOfDocs(40))
	writeFile(t, filepath.Join(dir, "batch2.json"), `{"documents":[{"id":"a"},{"id":"b"}]}`)
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")
	writeFile(t, filepath.Join(dir, "scalar.json"), `"just a string"`)

	if got := CountDocuments(dir); got != 42 {
		t.Fatalf("documents: got %d, want 42", got)
	}
}

func TestCountDocumentsMissingDir(t *testing.T) {
	if got := CountDocuments(filepath.Join(t.TempDir(), "absent")); got != 0 {
		t.Fatalf("missing dir: got %d, want 0", got)
	}
}

func TestCountFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a"), "x")
	writeFile(t, filepath.Join(dir, "sub", "b"), "y")

	if got := CountFiles(dir); got != 2 {
		t.Fatalf("files: got %d, want 2", got)
	}
	if got := CountFiles(filepath.Join(dir, "absent")); got != 0 {
		t.Fatalf("missing dir: got %d, want 0", got)
	}
}

func listOfDocs(n int) string {
	out := "["
	for i := 0; i < n; i++ {
		if i > 0 {
			out += ","
		}
		out += `{"id":1}`
	}
	return out + "]"
}
