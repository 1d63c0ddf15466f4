package board

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/anitier/anitier/internal/utils"
	"github.com/anitier/anitier/pkg/comments"
	"github.com/anitier/anitier/pkg/images"
	"github.com/anitier/anitier/pkg/storage"
	"github.com/anitier/anitier/pkg/tiers"
	"github.com/sirupsen/logrus"
)

// ErrStaleTarget is returned by Commit when the board changed after the target was selected.
var ErrStaleTarget = errors.New("stale target")

// Config controls how a Board is assembled.
type Config struct {
	Labels      []tiers.Label
	Fingerprint images.Fingerprint
	Logger      logrus.FieldLogger
	// Reconcile repairs image refcounts from the loaded tiers when the board opens.
	Reconcile bool
}

// Board ties the tier store, the image store and comments to one KV and
// serialises access to them. Long running work (reading files, fetching
// metadata) should happen outside the board and be committed with a Target.
type Board struct {
	mu sync.Mutex

	kv       *storage.ReclaimingKV
	images   *images.Store
	tiers    *tiers.Store
	comments *comments.Store
	log      logrus.FieldLogger

	generation uint64
}

// Draft describes an entry before its image has been stored.
type Draft struct {
	Title      string
	ExternalID string
	Source     string
	ImageURL   string
	// Image is a locally supplied payload; it is stored on commit.
	Image []byte
}

// Open builds a Board over kv and loads its persisted state.
func Open(ctx context.Context, kv storage.KV, cfg Config) (*Board, error) {
	log := cfg.Logger
	if log == nil {
		log = utils.Log
	}
	labels := cfg.Labels
	if len(labels) == 0 {
		labels = tiers.DefaultLabels()
	}

	b := &Board{kv: storage.NewReclaiming(kv, nil), log: log}

	imgOpts := []images.Option{images.WithLogger(log)}
	if cfg.Fingerprint != nil {
		imgOpts = append(imgOpts, images.WithFingerprint(cfg.Fingerprint))
	}
	b.images = images.New(b.kv, imgOpts...)

	ts, err := tiers.New(b.kv, labels, b.images, tiers.WithLogger(log))
	if err != nil {
		return nil, err
	}
	b.tiers = ts
	b.comments = comments.New(b.kv, comments.WithLogger(log))

	b.kv.SetReclaim(func(ctx context.Context) error {
		n, err := b.images.Cleanup(ctx)
		b.log.WithField("removed", n).Warn("Storage full, swept unused images before retrying")
		return err
	})

	if err := b.images.Load(ctx); err != nil {
		return nil, err
	}
	if err := b.tiers.Load(ctx); err != nil {
		return nil, err
	}
	if err := b.comments.Load(ctx); err != nil {
		return nil, err
	}
	if cfg.Reconcile {
		if _, err := b.images.Reconcile(ctx, b.tiers.HashRefs()); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Tiers exposes the tier store for reads. Mutations should go through the Board.
func (b *Board) Tiers() *tiers.Store { return b.tiers }

// Images exposes the image store for reads.
func (b *Board) Images() *images.Store { return b.images }

func (b *Board) Comments() *comments.Store { return b.comments }

func (b *Board) bump() {
	b.generation++
}

// toEntry stores the draft's image, if any, and returns the entry to write.
func (b *Board) toEntry(ctx context.Context, d Draft) (tiers.Entry, error) {
	e := tiers.Entry{
		Title:      d.Title,
		ExternalID: d.ExternalID,
		Source:     d.Source,
		ImageURL:   d.ImageURL,
	}
	if e.Source == "" {
		e.Source = tiers.SourceCustom
	}
	if len(d.Image) == 0 {
		return e, e.Validate()
	}
	if d.ImageURL != "" {
		return tiers.Entry{}, fmt.Errorf("%w: %q has both an image url and an image payload", tiers.ErrInvalidEntry, d.Title)
	}
	if strings.TrimSpace(d.Title) == "" {
		return tiers.Entry{}, fmt.Errorf("%w: title is required", tiers.ErrInvalidEntry)
	}
	hash, err := b.images.Store(ctx, d.Image)
	if err != nil {
		if hash != "" {
			err = errors.Join(err, b.images.Release(ctx, hash))
		}
		return tiers.Entry{}, err
	}
	e.ImageHash = hash
	return e, nil
}

// undo releases the image of an entry that never made it into a tier.
func (b *Board) undo(ctx context.Context, e tiers.Entry) error {
	if e.ImageHash == "" {
		return nil
	}
	return b.images.Release(ctx, e.ImageHash)
}

type writeFunc func(ctx context.Context, label tiers.Label, index int, e tiers.Entry) (bool, error)

func (b *Board) write(ctx context.Context, fn writeFunc, label tiers.Label, index int, d Draft) (bool, error) {
	if !b.tiers.Has(label) {
		b.log.WithFields(logrus.Fields{"tier": label, "index": index}).WithError(tiers.ErrUnknownTier).Warn("write ignored")
		return false, nil
	}
	e, err := b.toEntry(ctx, d)
	if err != nil {
		return false, err
	}
	changed, err := fn(ctx, label, index, e)
	if !changed {
		return false, errors.Join(err, b.undo(ctx, e))
	}
	b.bump()
	return true, err
}

// Add places a new entry at (label, index).
func (b *Board) Add(ctx context.Context, label tiers.Label, index int, d Draft) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.write(ctx, b.tiers.AddEntry, label, index, d)
}

// Replace overwrites the entry at (label, index).
func (b *Board) Replace(ctx context.Context, label tiers.Label, index int, d Draft) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.write(ctx, b.tiers.ReplaceEntry, label, index, d)
}

func (b *Board) Remove(ctx context.Context, label tiers.Label, index int) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	changed, err := b.tiers.RemoveEntry(ctx, label, index)
	if changed {
		b.bump()
	}
	return changed, err
}

// Move is the drop handler: callers report where an entry was dragged from and
// where it was dropped, index correction happens in the tier store.
func (b *Board) Move(ctx context.Context, from tiers.Label, fromIndex int, to tiers.Label, toIndex int) (tiers.MoveResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	res, err := b.tiers.MoveEntry(ctx, from, fromIndex, to, toIndex)
	if res.Moved {
		b.bump()
	}
	return res, err
}

// Cleanup sweeps unreferenced images.
func (b *Board) Cleanup(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.images.Cleanup(ctx)
}

// Reconcile recomputes image refcounts from the live entries.
func (b *Board) Reconcile(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.images.Reconcile(ctx, b.tiers.HashRefs())
}

func (b *Board) ImageStats() images.Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.images.Stats()
}

// Image returns a stored payload by hash.
func (b *Board) Image(hash string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.images.Get(hash)
}

func (b *Board) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.images.Stats()
	n := 0
	for _, l := range b.tiers.Labels() {
		n += len(b.tiers.Entries(l))
	}
	return fmt.Sprintf("board{entries=%d images=%d generation=%d}", n, st.Total, b.generation)
}
