package importer

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testContent(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte('a' + i%26)
	}
	return buf
}

func TestDownloadResumesFromPartialFile(t *testing.T) {
	content := testContent(200 << 10)
	var sawRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawRange = r.Header.Get("Range")
		http.ServeContent(w, r, "cust_1.tar.gz", time.Now(), bytes.NewReader(content))
	}))
	defer srv.Close()

	im := New(t.TempDir(), t.TempDir(), "inst-1", nil)
	dest := filepath.Join(im.workDir, "downloads", "cust_1.tar.gz")
	os.MkdirAll(filepath.Dir(dest), 0o755)
	if err := os.WriteFile(dest, content[:80<<10], 0o644); err != nil {
		t.Fatal(err)
	}

	p := newProgress("imp_test", nil)
	if err := im.download(context.Background(), srv.URL+"/cust_1.tar.gz", dest, p); err != nil {
		t.Fatal(err)
	}

	if !strings.HasPrefix(sawRange, "bytes=") {
		t.Fatalf("no range request sent: %q", sawRange)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("resumed file diverges: %d vs %d bytes", len(got), len(content))
	}
	if p.BytesDownloaded != int64(len(content)) {
		t.Fatalf("bytes_downloaded: %d", p.BytesDownloaded)
	}
}

func TestDownloadRestartsWhenRangeIgnored(t *testing.T) {
	content := testContent(64 << 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Pretend to be a server with no range support.
		w.WriteHeader(http.StatusOK)
		w.Write(content)
	}))
	defer srv.Close()

	im := New(t.TempDir(), t.TempDir(), "inst-1", nil)
	dest := filepath.Join(im.workDir, "downloads", "cust_1.tar.gz")
	os.MkdirAll(filepath.Dir(dest), 0o755)
	if err := os.WriteFile(dest, []byte("stale partial data"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := newProgress("imp_test", nil)
	if err := im.download(context.Background(), srv.URL+"/cust_1.tar.gz", dest, p); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Fatal("restart did not replace the partial file")
	}
}

func TestDownloadAlreadyComplete(t *testing.T) {
	content := testContent(4 << 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
	}))
	defer srv.Close()

	im := New(t.TempDir(), t.TempDir(), "inst-1", nil)
	dest := filepath.Join(im.workDir, "downloads", "cust_1.tar.gz")
	os.MkdirAll(filepath.Dir(dest), 0o755)
	if err := os.WriteFile(dest, content, 0o644); err != nil {
		t.Fatal(err)
	}

	p := newProgress("imp_test", nil)
	if err := im.download(context.Background(), srv.URL+"/cust_1.tar.gz", dest, p); err != nil {
		t.Fatalf("complete partial must satisfy the download: %v", err)
	}
	if p.BytesDownloaded != int64(len(content)) {
		t.Fatalf("bytes_downloaded: %d", p.BytesDownloaded)
	}
}

func TestDownloadInterruptedKeepsPartial(t *testing.T) {
	content := testContent(256 << 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Declare the full length but cut the stream short.
		w.Header().Set("Content-Length", "262144")
		w.WriteHeader(http.StatusOK)
		w.Write(content[:32<<10])
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}))
	defer srv.Close()

	im := New(t.TempDir(), t.TempDir(), "inst-1", nil)
	dest := filepath.Join(im.workDir, "downloads", "cust_1.tar.gz")

	p := newProgress("imp_test", nil)
	err := im.download(context.Background(), srv.URL+"/cust_1.tar.gz", dest, p)
	var interrupted *errInterrupted
	if !errors.As(err, &interrupted) {
		t.Fatalf("expected errInterrupted, got %v", err)
	}

	// The partial file is the resume checkpoint.
	info, statErr := os.Stat(dest)
	if statErr != nil {
		t.Fatalf("partial file missing: %v", statErr)
	}
	if info.Size() == 0 {
		t.Fatal("partial file empty")
	}
}

func TestDownloadDestRejectsBareHost(t *testing.T) {
	im := New(t.TempDir(), t.TempDir(), "inst-1", nil)
	if _, err := im.downloadDest("https://example.com/"); err == nil {
		t.Fatal("expected error for URL without an archive name")
	}
	dest, err := im.downloadDest("https://example.com/exports/cust_1.tar.gz")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(dest) != "cust_1.tar.gz" {
		t.Fatalf("dest: %s", dest)
	}
}
