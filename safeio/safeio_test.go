package safeio

import (
	"errors"
	"strings"
	"testing"
)

func TestSafePath(t *testing.T) {
	tests := []struct {
		base, entry string
		wantErr     bool
	}{
		{"/work/extract", "cust_1/delta/part-0.parquet", false},
		{"/work/extract", "cust_1/manifest.json", false},
		{"/work/extract", "../etc/passwd", true},
		{"/work/extract", "cust_1/../../outside", true},
		{"/work/extract", "cust_1/..", true},
		{"/work/extract", "/abs/becomes/relative", false},
	}
	for _, tt := range tests {
		got, err := SafePath(tt.base, tt.entry)
		if (err != nil) != tt.wantErr {
			t.Errorf("SafePath(%q, %q) error=%v, wantErr=%v", tt.base, tt.entry, err, tt.wantErr)
		}
		if err == nil && !strings.HasPrefix(got, "/work/extract") {
			t.Errorf("SafePath(%q, %q) escaped base: %s", tt.base, tt.entry, got)
		}
	}
}

func TestValidateScheme(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://storage.example.com/exports/a.tar.gz", false},
		{"http://minio:9000/portage/exports/a.tar.gz", false},
		{"file:///etc/passwd", true},
		{"ftp://host/archive", true},
		{"javascript:alert(1)", true},
		{"https://", true}, // no host
	}
	for _, tt := range tests {
		err := ValidateScheme(tt.url)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateScheme(%q) error=%v, wantErr=%v", tt.url, err, tt.wantErr)
		}
	}
}

func TestLimitedReadAll(t *testing.T) {
	data, err := LimitedReadAll(strings.NewReader("under the limit"), 64)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "under the limit" {
		t.Fatalf("got %q", data)
	}

	if _, err := LimitedReadAll(strings.NewReader(strings.Repeat("x", 65)), 64); err == nil {
		t.Fatal("expected error past the limit")
	}
}

func TestSafePathSentinel(t *testing.T) {
	_, err := SafePath("/base", "../escape")
	if !errors.Is(err, ErrPathTraversal) {
		t.Fatalf("expected ErrPathTraversal, got %v", err)
	}
}
