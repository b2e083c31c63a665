package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"custodia/pkg/platform/sentinel"
	"custodia/pkg/requestcontext"
)

// PostgresStore is the durable ledger engine. Records live in a JSONB table
// keyed by (ledger, key); every commit also appends to a history table so
// the per-key version iterator matches the runtime contract. Selector
// queries use JSONB containment over a GIN index.
type PostgresStore struct {
	db     *sql.DB
	ledger string
}

// NewPostgres creates a store scoped to one ledger name so a single database
// can back both the hot and cold engines in development.
func NewPostgres(db *sql.DB, ledgerName string) *PostgresStore {
	return &PostgresStore{db: db, ledger: ledgerName}
}

// Schema returns the DDL this store expects. Applied by cmd/server at boot
// and by integration tests.
func Schema() string {
	return `
CREATE TABLE IF NOT EXISTS ledger_records (
    ledger     TEXT        NOT NULL,
    key        TEXT        NOT NULL,
    doc        JSONB       NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (ledger, key)
);
CREATE INDEX IF NOT EXISTS ledger_records_doc_idx ON ledger_records USING GIN (doc);

CREATE TABLE IF NOT EXISTS ledger_history (
    id         BIGSERIAL   PRIMARY KEY,
    ledger     TEXT        NOT NULL,
    key        TEXT        NOT NULL,
    tx_id      TEXT        NOT NULL,
    committed  TIMESTAMPTZ NOT NULL,
    is_delete  BOOLEAN     NOT NULL DEFAULT FALSE,
    doc        JSONB
);
CREATE INDEX IF NOT EXISTS ledger_history_key_idx ON ledger_history (ledger, key, id);
`
}

func (s *PostgresStore) Get(ctx context.Context, key string) (json.RawMessage, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM ledger_records WHERE ledger = $1 AND key = $2`,
		s.ledger, key).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return doc, nil
}

func (s *PostgresStore) Create(ctx context.Context, key string, value json.RawMessage) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO ledger_records (ledger, key, doc, updated_at)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (ledger, key) DO NOTHING`,
			s.ledger, key, []byte(value), requestcontext.Now(ctx))
		if err != nil {
			return fmt.Errorf("create %s: %w", key, err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return sentinel.ErrConflict
		}
		return s.appendHistory(ctx, tx, key, value, false)
	})
}

func (s *PostgresStore) Put(ctx context.Context, key string, value json.RawMessage) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.upsert(ctx, tx, key, value); err != nil {
			return err
		}
		return s.appendHistory(ctx, tx, key, value, false)
	})
}

func (s *PostgresStore) Update(ctx context.Context, key string, fn func(current json.RawMessage) (json.RawMessage, error)) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var doc []byte
		err := tx.QueryRowContext(ctx,
			`SELECT doc FROM ledger_records WHERE ledger = $1 AND key = $2 FOR UPDATE`,
			s.ledger, key).Scan(&doc)
		if errors.Is(err, sql.ErrNoRows) {
			return sentinel.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock %s: %w", key, err)
		}
		next, err := fn(doc)
		if err != nil {
			return err
		}
		if err := s.upsert(ctx, tx, key, next); err != nil {
			return err
		}
		return s.appendHistory(ctx, tx, key, next, false)
	})
}

func (s *PostgresStore) UpdateBatch(ctx context.Context, key string, fn func(current json.RawMessage) (json.RawMessage, map[string]json.RawMessage, error)) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var doc []byte
		err := tx.QueryRowContext(ctx,
			`SELECT doc FROM ledger_records WHERE ledger = $1 AND key = $2 FOR UPDATE`,
			s.ledger, key).Scan(&doc)
		if errors.Is(err, sql.ErrNoRows) {
			return sentinel.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock %s: %w", key, err)
		}
		next, puts, err := fn(doc)
		if err != nil {
			return err
		}
		if err := s.upsert(ctx, tx, key, next); err != nil {
			return err
		}
		if err := s.appendHistory(ctx, tx, key, next, false); err != nil {
			return err
		}
		for putKey, value := range puts {
			if err := s.upsert(ctx, tx, putKey, value); err != nil {
				return err
			}
			if err := s.appendHistory(ctx, tx, putKey, value, false); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) PutBatch(ctx context.Context, puts map[string]json.RawMessage) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for key, value := range puts {
			if err := s.upsert(ctx, tx, key, value); err != nil {
				return err
			}
			if err := s.appendHistory(ctx, tx, key, value, false); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM ledger_records WHERE ledger = $1 AND key = $2`, s.ledger, key)
		if err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return sentinel.ErrNotFound
		}
		return s.appendHistory(ctx, tx, key, nil, true)
	})
}

func (s *PostgresStore) Query(ctx context.Context, selector map[string]string) ([]json.RawMessage, error) {
	sel, err := selectorJSON(selector)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM ledger_records WHERE ledger = $1 AND doc @> $2::jsonb ORDER BY key`,
		s.ledger, sel)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	return scanDocs(rows)
}

func (s *PostgresStore) QueryPage(ctx context.Context, selector map[string]string, pageSize int, bookmark string) ([]json.RawMessage, string, error) {
	sel, err := selectorJSON(selector)
	if err != nil {
		return nil, "", err
	}
	if pageSize <= 0 {
		results, err := s.Query(ctx, selector)
		return results, "", err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, doc FROM ledger_records
		 WHERE ledger = $1 AND doc @> $2::jsonb AND key > $3
		 ORDER BY key LIMIT $4`,
		s.ledger, sel, bookmark, pageSize)
	if err != nil {
		return nil, "", fmt.Errorf("query page: %w", err)
	}
	defer rows.Close()

	var results []json.RawMessage
	var lastKey string
	for rows.Next() {
		var key string
		var doc []byte
		if err := rows.Scan(&key, &doc); err != nil {
			return nil, "", err
		}
		results = append(results, doc)
		lastKey = key
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	if len(results) < pageSize {
		return results, "", nil
	}
	return results, lastKey, nil
}

func (s *PostgresStore) History(ctx context.Context, key string) ([]Version, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tx_id, committed, is_delete, doc FROM ledger_history
		 WHERE ledger = $1 AND key = $2 ORDER BY id`,
		s.ledger, key)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", key, err)
	}
	defer rows.Close()

	var versions []Version
	for rows.Next() {
		var v Version
		var doc []byte
		if err := rows.Scan(&v.TxID, &v.Timestamp, &v.IsDelete, &doc); err != nil {
			return nil, err
		}
		v.Value = doc
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (s *PostgresStore) upsert(ctx context.Context, tx *sql.Tx, key string, value json.RawMessage) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_records (ledger, key, doc, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (ledger, key) DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at`,
		s.ledger, key, []byte(value), requestcontext.Now(ctx))
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) appendHistory(ctx context.Context, tx *sql.Tx, key string, value json.RawMessage, isDelete bool) error {
	var doc any
	if value != nil {
		doc = []byte(value)
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_history (ledger, key, tx_id, committed, is_delete, doc)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ledger, key, requestcontext.TxID(ctx), requestcontext.Now(ctx), isDelete, doc)
	if err != nil {
		return fmt.Errorf("append history %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func selectorJSON(selector map[string]string) ([]byte, error) {
	if selector == nil {
		selector = map[string]string{}
	}
	return json.Marshal(selector)
}

func scanDocs(rows *sql.Rows) ([]json.RawMessage, error) {
	var results []json.RawMessage
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		results = append(results, doc)
	}
	return results, rows.Err()
}
