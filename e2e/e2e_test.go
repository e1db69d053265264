// Package e2e tests the full export/import chain wired the way a production
// instance composes it: exporter bundle on one side, HTTP retrieval and
// importer materialization on the other, with the lease store, event log and
// completion signal attached.
package e2e

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/haelix/portage/controlplane"
	"github.com/haelix/portage/dbopen"
	"github.com/haelix/portage/exporter"
	"github.com/haelix/portage/importer"
	"github.com/haelix/portage/lease"
	"github.com/haelix/portage/observability"
)

// stage writes a realistic customer data tree under stagingRoot.
func stage(t *testing.T, stagingRoot, customerID string) map[string]string {
	t.Helper()
	files := map[string]string{
		"delta/chunks/0001.parquet": "chunk payload one",
		"delta/chunks/0002.parquet": "chunk payload two",
		"delta/tables/docs.parquet": "document rows",
		"vectors/index-0.faiss":     "vector index zero",
		"vectors/index-1.faiss":     "vector index one",
		"metadata/docs.json":        docList(42),
		"lora/adapter.safetensors":  "adapter weights",
		"handlers/custom.py":        "def handle(doc): return doc",
	}
	for rel, content := range files {
		path := filepath.Join(stagingRoot, customerID, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return files
}

func docList(n int) string {
	out := "["
	for i := 0; i < n; i++ {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf(`{"id":"doc-%d"}`, i)
	}
	return out + "]"
}

// hashDir fingerprints every regular file under dir by relative path.
func hashDir(t *testing.T, dir string) map[string][32]byte {
	t.Helper()
	out := make(map[string][32]byte)
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = sha256.Sum256(data)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestExportImportRoundTrip(t *testing.T) {
	staging, exports := t.TempDir(), t.TempDir()
	stage(t, staging, "cust_rt")

	// Export side.
	exp := exporter.New(staging, exports, "e2e", nil)
	bundleOut, err := exp.Export(context.Background(), "cust_rt", exporter.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(bundleOut.Warnings) != 0 {
		t.Fatalf("export warnings: %v", bundleOut.Warnings)
	}

	// The archive travels over HTTP, as from a presigned URL.
	srv := httptest.NewServer(http.FileServer(http.Dir(exports)))
	defer srv.Close()
	archiveURL := srv.URL + "/" + filepath.Base(bundleOut.ArchivePath)

	// Import side: fresh instance with the full production wiring.
	var signaled controlplane.Signal
	cpSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &signaled); err != nil {
			t.Errorf("signal payload: %v", err)
		}
	}))
	defer cpSrv.Close()

	db := dbopen.OpenMemory(t,
		dbopen.WithSchema(lease.Schema),
		dbopen.WithSchema(observability.Schema))
	events := observability.NewEventLogger(db)

	dataDir := t.TempDir()
	im := importer.New(dataDir, t.TempDir(), "inst-e2e", nil,
		importer.WithControlPlane(controlplane.New(cpSrv.URL, "inst-e2e", nil)),
		importer.WithLeaseStore(lease.NewStore(db)),
		importer.WithEventLogger(events))

	res, err := im.ImportFromURL(context.Background(), archiveURL, importer.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.CustomerID != "cust_rt" {
		t.Fatalf("result: %+v", res)
	}
	if res.ImportedDocuments != 42 {
		t.Fatalf("documents: %d", res.ImportedDocuments)
	}

	// Every materialized component is byte-identical to the staged source.
	pairs := []struct{ src, dst string }{
		{filepath.Join(staging, "cust_rt", "delta"), filepath.Join(dataDir, "lakehouse", "cust_rt", "delta")},
		{filepath.Join(staging, "cust_rt", "vectors"), filepath.Join(dataDir, "vectors", "cust_rt")},
		{filepath.Join(staging, "cust_rt", "lora"), filepath.Join(dataDir, "lora", "cust_rt")},
		{filepath.Join(staging, "cust_rt", "metadata"), filepath.Join(dataDir, "metadata", "cust_rt")},
	}
	for _, pair := range pairs {
		src, dst := hashDir(t, pair.src), hashDir(t, pair.dst)
		if len(src) != len(dst) {
			t.Fatalf("%s: %d files staged, %d materialized", pair.dst, len(src), len(dst))
		}
		for rel, sum := range src {
			if !bytes.Equal(sum[:], firstOr(dst, rel)) {
				t.Fatalf("%s/%s differs from staged source", pair.dst, rel)
			}
		}
	}

	// The completion signal carried the run's identity.
	if signaled.CustomerID != "cust_rt" || signaled.ImportID != res.ImportID || signaled.InstanceID != "inst-e2e" {
		t.Fatalf("signal: %+v", signaled)
	}

	// Both sides of the run reached the event log.
	recorded, err := events.Recent(context.Background(), "cust_rt", 10)
	if err != nil {
		t.Fatal(err)
	}
	var types []string
	for _, ev := range recorded {
		types = append(types, ev.Type)
	}
	sort.Strings(types)
	if len(types) != 1 || types[0] != "import_completed" {
		t.Fatalf("events: %v", types)
	}

	// The lease is free again after the run.
	l, err := lease.NewStore(db).Acquire(context.Background(), "cust_rt", "another", time.Hour)
	if err != nil {
		t.Fatalf("lease not released: %v", err)
	}
	l.Release()
}

func TestRoundTripWithEmptyComponent(t *testing.T) {
	staging, exports := t.TempDir(), t.TempDir()
	stage(t, staging, "cust_empty")
	// A customer who never trained an adapter still has the directory.
	if err := os.RemoveAll(filepath.Join(staging, "cust_empty", "lora")); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(staging, "cust_empty", "lora"), 0o755); err != nil {
		t.Fatal(err)
	}

	exp := exporter.New(staging, exports, "e2e", nil)
	bundleOut, err := exp.Export(context.Background(), "cust_empty", exporter.Options{})
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.FileServer(http.Dir(exports)))
	defer srv.Close()

	dataDir := t.TempDir()
	im := importer.New(dataDir, t.TempDir(), "inst-e2e", nil)
	res, err := im.ImportFromURL(context.Background(),
		srv.URL+"/"+filepath.Base(bundleOut.ArchivePath), importer.Options{})
	if err != nil {
		t.Fatalf("freshly exported bundle must import: %v", err)
	}
	if !res.Success || res.Progress.Status != importer.StatusCompleted {
		t.Fatalf("result: %+v", res)
	}
	if res.LoraPath != "" {
		t.Fatalf("lora path reported for a bundle without adapters: %s", res.LoraPath)
	}
	if _, err := os.Stat(filepath.Join(dataDir, "lakehouse", "cust_empty", "delta")); err != nil {
		t.Fatalf("delta missing: %v", err)
	}
}

func firstOr(m map[string][32]byte, key string) []byte {
	sum, ok := m[key]
	if !ok {
		return nil
	}
	return sum[:]
}
