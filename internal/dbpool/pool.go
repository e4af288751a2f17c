// Package dbpool is the DB pool collaborator (spec section 6): opaque to
// the reactor, touched only by the login-form handler. It is a bounded,
// channel-backed pool of *sql.DB handles, shaped after the checkout/return
// pattern in other_examples/6422c19f_eurozulu-pools' Pool (a buffered
// channel as the free list, blocking Get, non-blocking-safe Put).
//
// The driver is intentionally left pluggable (a DSN plus a driver name the
// caller registered via a blank database/sql driver import) rather than
// hard-wired to a specific SQL driver: no SQL driver package appears
// anywhere in the retrieved example corpus, so importing one here would be
// a fabricated dependency rather than a grounded one. See DESIGN.md.
package dbpool

import (
	"context"
	"database/sql"
	"fmt"
)

// Pool hands out *sql.DB handles from a fixed-size free list. database/sql
// already pools physical connections internally; this layer exists to cap
// how many *logical* checkouts the login-form handler may hold
// concurrently, matching the explicit "connPoolNum" knob spec section 6
// requires at the application level.
type Pool struct {
	free chan *sql.DB
	db   *sql.DB
}

// Open opens driverName/dsn and pre-seeds a free list of size n sharing the
// single underlying *sql.DB (safe: database/sql handles are already
// goroutine-safe and internally pooled; this free list only throttles
// concurrent application-level checkouts).
func Open(driverName, dsn string, n int) (*Pool, error) {
	if n <= 0 {
		return nil, fmt.Errorf("dbpool: connPoolNum must be positive, got %d", n)
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("dbpool: open: %w", err)
	}

	p := &Pool{free: make(chan *sql.DB, n), db: db}
	for i := 0; i < n; i++ {
		p.free <- db
	}
	return p, nil
}

// Get blocks until a slot is free or ctx is done.
func (p *Pool) Get(ctx context.Context) (*sql.DB, error) {
	select {
	case h := <-p.free:
		return h, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Put returns a handle checked out via Get.
func (p *Pool) Put(h *sql.DB) {
	p.free <- h
}

// Close closes the underlying database handle.
func (p *Pool) Close() error {
	return p.db.Close()
}
