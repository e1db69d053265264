// Package idgen provides pluggable ID generation for the portage pipeline.
//
// Constructors across the repo (importer, observability, lease) accept a
// Generator, making the ID strategy a startup-time decision rather than a
// compile-time one.
package idgen

import (
	"time"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// Default is the ecosystem convention: UUIDv7.
var Default = UUIDv7()

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
// Time-sortable and globally unique, so import IDs sort by creation time
// in the ledger and in control-plane logs.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID.
// Used for type-scoped identifiers ("imp_", "evt_", "exp_").
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Timestamp returns the UTC timestamp token used to name export bundle
// directories and archives: "20060102_150405".
func Timestamp(t time.Time) string {
	return t.UTC().Format("20060102_150405")
}
