package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DB is a KV backed by a single SQLite table.
type DB struct {
	sql  *sql.DB
	opts options
}

func Open(path string, opts ...Option) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	// Ensure schema exists for convenience.
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS kv (
  key         TEXT PRIMARY KEY,
  value       BLOB NOT NULL,
  codec       TEXT NOT NULL DEFAULT 'json' CHECK (codec IN ('json','zstd')),
  raw_size    INTEGER NOT NULL,
  updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
    `); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{sql: db, opts: buildOptions(opts)}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

func (d *DB) Save(ctx context.Context, key string, value interface{}) (err error) {
	raw, err := json.Marshal(resolve(value))
	if err != nil {
		return fmt.Errorf("cannot marshal %s: %w", key, err)
	}
	codec := codecJSON
	if d.opts.compress {
		codec = codecZstd
	}
	stored, err := encodeValue(codec, raw)
	if err != nil {
		return fmt.Errorf("cannot encode %s: %w", key, err)
	}

	tx, err := d.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var others int64
	if err = tx.QueryRowContext(ctx, "SELECT COALESCE(SUM(raw_size), 0) FROM kv WHERE key != ?", key).Scan(&others); err != nil {
		return err
	}
	if !d.opts.fits(others, int64(len(raw))) {
		err = fmt.Errorf("cannot save %s (%d bytes): %w", key, len(raw), ErrStorageFull)
		return err
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO kv(key, value, codec, raw_size, updated_at) VALUES(?,?,?,?,CURRENT_TIMESTAMP)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, codec = excluded.codec, raw_size = excluded.raw_size, updated_at = CURRENT_TIMESTAMP`,
		key, stored, codec, len(raw))
	if err != nil {
		err = mapFull(key, err)
		return err
	}
	if err = tx.Commit(); err != nil {
		err = mapFull(key, err)
		return err
	}
	return nil
}

func (d *DB) Load(ctx context.Context, key string, dst interface{}) (bool, error) {
	if err := checkTarget(dst); err != nil {
		return false, err
	}
	var (
		stored []byte
		codec  string
	)
	err := d.sql.QueryRowContext(ctx, "SELECT value, codec FROM kv WHERE key = ?", key).Scan(&stored, &codec)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	raw, err := decodeValue(codec, stored)
	if err != nil {
		// An undecodable blob is treated like malformed JSON.
		raw = nil
	}
	return decodeInto(d.opts.log, key, raw, dst), nil
}

func (d *DB) Delete(ctx context.Context, key string) error {
	_, err := d.sql.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key)
	return err
}

func (d *DB) Keys(ctx context.Context) ([]string, error) {
	rows, err := d.sql.QueryContext(ctx, "SELECT key FROM kv ORDER BY key")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Stats returns per-key size information.
func (d *DB) Stats(ctx context.Context) ([]KeyStats, error) {
	rows, err := d.sql.QueryContext(ctx, "SELECT key, codec, raw_size, LENGTH(value), updated_at FROM kv ORDER BY key")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []KeyStats
	for rows.Next() {
		var s KeyStats
		var updatedAt string
		if err := rows.Scan(&s.Key, &s.Codec, &s.RawBytes, &s.StoredBytes, &updatedAt); err != nil {
			return nil, err
		}
		s.UpdatedAt = parseTimestamp(updatedAt)
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stats, nil
}

// parseTimestamp parses SQLite CURRENT_TIMESTAMP format, falling back to RFC3339.
func parseTimestamp(s string) time.Time {
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}

func mapFull(key string, err error) error {
	var serr *sqlite.Error
	if errors.As(err, &serr) && serr.Code()&0xff == sqlite3.SQLITE_FULL {
		return fmt.Errorf("cannot save %s: %w (%v)", key, ErrStorageFull, err)
	}
	return err
}
