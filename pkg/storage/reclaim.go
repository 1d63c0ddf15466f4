package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ReclaimFunc frees space in the backing store, typically by sweeping unused images.
type ReclaimFunc func(ctx context.Context) error

// ReclaimingKV wraps a KV so that a Save hitting ErrStorageFull runs the reclaim
// hook once and retries exactly once before giving up. Values whose content
// depends on what the hook frees should be passed as a Producer.
type ReclaimingKV struct {
	KV

	mu         sync.Mutex
	reclaim    ReclaimFunc
	reclaiming bool
}

// NewReclaiming wraps kv. The hook may be installed later with SetReclaim.
func NewReclaiming(kv KV, reclaim ReclaimFunc) *ReclaimingKV {
	return &ReclaimingKV{KV: kv, reclaim: reclaim}
}

func (r *ReclaimingKV) SetReclaim(reclaim ReclaimFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reclaim = reclaim
}

func (r *ReclaimingKV) Save(ctx context.Context, key string, value interface{}) error {
	err := r.KV.Save(ctx, key, value)
	if err == nil || !errors.Is(err, ErrStorageFull) {
		return err
	}

	r.mu.Lock()
	reclaim := r.reclaim
	// Saves issued by the hook itself are not retried again.
	if reclaim == nil || r.reclaiming {
		r.mu.Unlock()
		return err
	}
	r.reclaiming = true
	r.mu.Unlock()

	rerr := reclaim(ctx)

	r.mu.Lock()
	r.reclaiming = false
	r.mu.Unlock()

	if retryErr := r.KV.Save(ctx, key, value); retryErr != nil {
		if rerr != nil {
			return fmt.Errorf("%w (reclaim failed: %v)", retryErr, rerr)
		}
		return retryErr
	}
	return nil
}
