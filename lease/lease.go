// Package lease serializes imports per customer. Two simultaneous imports
// for one customer would race on the same live layout, so every import run
// acquires a lease first and releases it on all exit paths.
//
// The store is SQLite-backed and local to the instance: the boot trigger
// and the status service are the only importers this instance runs, so an
// in-process lease is sufficient. Cross-instance serialization stays a
// control-plane concern.
package lease

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/haelix/portage/idgen"
)

// Schema creates the import_leases table. Pass to dbopen.WithSchema.
const Schema = `
CREATE TABLE IF NOT EXISTS import_leases (
	customer_id TEXT PRIMARY KEY,
	lease_id    TEXT NOT NULL,
	holder      TEXT NOT NULL,
	acquired_at INTEGER NOT NULL,
	expires_at  INTEGER NOT NULL
);
`

// ErrHeld is returned when a live lease already exists for the customer.
var ErrHeld = errors.New("lease: already held for customer")

// Store grants per-customer leases.
type Store struct {
	db    *sql.DB
	newID idgen.Generator
	now   func() time.Time
}

// NewStore creates a lease store over db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, newID: idgen.Prefixed("lse_", idgen.Default), now: time.Now}
}

// Lease is a scoped grant. Release is idempotent and safe to defer on every
// exit path.
type Lease struct {
	ID         string
	CustomerID string
	Holder     string

	store *Store
	once  sync.Once
}

// Acquire grants the customer's lease to holder for ttl. An existing
// unexpired lease yields ErrHeld; an expired one is reclaimed.
func (s *Store) Acquire(ctx context.Context, customerID, holder string, ttl time.Duration) (*Lease, error) {
	now := s.now().Unix()
	id := s.newID()

	// Single UPSERT keyed on customer_id: the WHERE on the conflict arm
	// makes reclaim-if-expired atomic under SQLite's write lock.
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO import_leases (customer_id, lease_id, holder, acquired_at, expires_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT(customer_id) DO UPDATE SET
			lease_id = excluded.lease_id,
			holder = excluded.holder,
			acquired_at = excluded.acquired_at,
			expires_at = excluded.expires_at
		WHERE import_leases.expires_at < ?`,
		customerID, id, holder, now, now+int64(ttl.Seconds()), now)
	if err != nil {
		return nil, fmt.Errorf("lease: acquire: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("lease: acquire: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrHeld, customerID)
	}
	return &Lease{ID: id, CustomerID: customerID, Holder: holder, store: s}, nil
}

// Release frees the lease. Only the row still carrying this lease's id is
// deleted, so a reclaimed lease cannot be released by its old holder.
func (l *Lease) Release() error {
	var err error
	l.once.Do(func() {
		_, err = l.store.db.Exec(
			`DELETE FROM import_leases WHERE customer_id = ? AND lease_id = ?`,
			l.CustomerID, l.ID)
	})
	if err != nil {
		return fmt.Errorf("lease: release: %w", err)
	}
	return nil
}
