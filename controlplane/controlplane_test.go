package controlplane

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSignalDelivers(t *testing.T) {
	var gotPath, gotContentType string
	var got Signal
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "inst-1", nil)
	err := c.Signal(context.Background(), "cust_1", "imp_1", map[string]any{"success": true})
	if err != nil {
		t.Fatal(err)
	}
	if gotPath != SignalPath {
		t.Fatalf("path: %s", gotPath)
	}
	if gotContentType != "application/json" {
		t.Fatalf("content type: %s", gotContentType)
	}
	if got.CustomerID != "cust_1" || got.ImportID != "imp_1" || got.InstanceID != "inst-1" {
		t.Fatalf("signal: %+v", got)
	}
}

func TestSignalDisabledWithoutBaseURL(t *testing.T) {
	c := New("", "inst-1", nil)
	if err := c.Signal(context.Background(), "cust_1", "imp_1", nil); err != nil {
		t.Fatalf("disabled client must no-op: %v", err)
	}
}

func TestSignalRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown customer", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := New(srv.URL, "inst-1", nil)
	if err := c.Signal(context.Background(), "cust_1", "imp_1", nil); err == nil {
		t.Fatal("expected error for 4xx response")
	}
}

func TestSignalUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // deliberately down

	c := New(srv.URL, "inst-1", nil)
	if err := c.Signal(context.Background(), "cust_1", "imp_1", nil); err == nil {
		t.Fatal("expected error for unreachable control plane")
	}
}
