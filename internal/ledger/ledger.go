// Package ledger abstracts the record store the custody core runs against.
//
// The underlying runtime is expected to provide per-key atomic read/write, a
// secondary-index equality query, a paginated variant, and a per-key version
// history. Two implementations exist: an in-memory store for tests and
// single-node deployments, and a postgres store for durable deployments.
//
// One engine serves both ledger variants; Mode only selects which permission
// matrix and HTTP surface a deployment mounts, not a different storage
// implementation.
package ledger

import (
	"context"
	"encoding/json"
	"time"
)

// Mode designates which ledger variant an engine instance serves.
type Mode string

const (
	// ModeHot is the actively mutable ledger holding open investigations.
	ModeHot Mode = "hot"
	// ModeCold is the write-once archive ledger.
	ModeCold Mode = "cold"
)

// Version is one entry in a key's history: the record value as of one
// transaction, oldest first. Deleted versions carry a tombstone marker and
// no value.
type Version struct {
	TxID      string          `json:"tx_id"`
	Timestamp time.Time       `json:"timestamp"`
	IsDelete  bool            `json:"is_delete"`
	Value     json.RawMessage `json:"value,omitempty"`
}

// Store is the record store consumed from the underlying ledger runtime.
//
// All values are UTF-8 JSON documents. Get returns sentinel.ErrNotFound for
// absent keys; Create returns sentinel.ErrConflict when the key exists.
// Update and PutBatch are atomic: concurrent writers to the same key are
// serialized and a failure leaves prior state untouched.
type Store interface {
	Get(ctx context.Context, key string) (json.RawMessage, error)
	Create(ctx context.Context, key string, value json.RawMessage) error
	Put(ctx context.Context, key string, value json.RawMessage) error
	// Update applies fn to the current value of key under the store's
	// per-key serialization. fn receives the current document and returns
	// the replacement. Absent keys fail with sentinel.ErrNotFound.
	Update(ctx context.Context, key string, fn func(current json.RawMessage) (json.RawMessage, error)) error
	// UpdateBatch is Update plus companion writes: fn returns the
	// replacement for key and additional puts, and all of them commit
	// atomically under the same serialization as Update. Cross-key
	// invariants that hang off a read-modify-write (a parent counter, a
	// record derived from the current value of another) go through here so
	// concurrent writers cannot interleave between the read and the
	// commit.
	UpdateBatch(ctx context.Context, key string, fn func(current json.RawMessage) (json.RawMessage, map[string]json.RawMessage, error)) error
	// PutBatch writes several keys in one atomic commit.
	PutBatch(ctx context.Context, puts map[string]json.RawMessage) error
	// Query returns all documents whose top-level fields equal every
	// selector entry. Results are ordered by key. The secondary index may
	// be eventually consistent relative to the primary key space.
	Query(ctx context.Context, selector map[string]string) ([]json.RawMessage, error)
	// QueryPage is the paginated variant. An empty bookmark starts from the
	// beginning; the returned bookmark resumes after the last result, and is
	// empty once the result space is exhausted.
	QueryPage(ctx context.Context, selector map[string]string, pageSize int, bookmark string) ([]json.RawMessage, string, error)
	// History returns the full version history of key, oldest first,
	// including delete markers. Absent keys yield an empty history.
	History(ctx context.Context, key string) ([]Version, error)
	// Delete removes the record, leaving a tombstone in its history.
	Delete(ctx context.Context, key string) error
}
