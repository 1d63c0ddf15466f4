package storage

import "errors"

// Well-known keys of the persisted layout.
const (
	TierDataKey   = "tier-data"
	ImageStoreKey = "image-store"
	CommentsKey   = "comments"
)

var (
	// ErrStorageFull is returned by Save when the value does not fit in the quota.
	ErrStorageFull = errors.New("storage full")
	// ErrCorruptState marks stored data that could not be decoded.
	ErrCorruptState = errors.New("corrupt persisted state")
)

const (
	codecJSON = "json"
	codecZstd = "zstd"
)
