package storage

import "context"

// PutRaw stores raw bytes under key as-is, bypassing validation and the quota.
func (d *DB) PutRaw(ctx context.Context, key string, raw []byte) error {
	_, err := d.sql.ExecContext(ctx, `INSERT INTO kv(key, value, codec, raw_size) VALUES(?,?,'json',?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, codec = 'json', raw_size = excluded.raw_size, updated_at = CURRENT_TIMESTAMP`,
		key, raw, len(raw))
	return err
}
