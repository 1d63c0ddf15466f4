package storage

import (
	"context"
	"time"
)

// KV is the durable key/value surface both stores persist through.
type KV interface {
	// Save serializes value as JSON and stores it under key. A Producer is
	// called to build the value. Errors matching ErrStorageFull mean the quota
	// was exhausted.
	Save(ctx context.Context, key string, value interface{}) error
	// Load decodes the value stored under key into dst, which must be a non-nil pointer.
	// It reports false when the key is missing or its contents were unreadable; in the
	// latter case dst is reset to its zero value and a warning is logged.
	Load(ctx context.Context, key string, dst interface{}) (bool, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// Producer builds the value to save at write time. ReclaimingKV calls it again
// for its retry, so the retried value reflects what the reclaim hook freed.
type Producer func() interface{}

func resolve(value interface{}) interface{} {
	if p, ok := value.(Producer); ok {
		return p()
	}
	return value
}

// KeyStats describes a single stored value.
type KeyStats struct {
	Key         string
	Codec       string
	RawBytes    int64
	StoredBytes int64
	UpdatedAt   time.Time
}
