package board

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/anitier/anitier/pkg/comments"
	"github.com/anitier/anitier/pkg/images"
	"github.com/anitier/anitier/pkg/storage"
	"github.com/anitier/anitier/pkg/tiers"
	"github.com/tidwall/gjson"
)

// SnapshotVersion is the export format version written by Export.
const SnapshotVersion = 1

// Snapshot is the import/export document.
type Snapshot struct {
	Version  int                `json:"version"`
	Tiers    tiers.Data         `json:"tier-data"`
	Images   images.Data        `json:"image-store"`
	Comments []comments.Comment `json:"comments,omitempty"`
}

// Snapshot captures the whole board.
func (b *Board) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Version:  SnapshotVersion,
		Tiers:    b.tiers.Snapshot(),
		Images:   b.images.Snapshot(),
		Comments: b.comments.List(),
	}
}

// Export writes the board as indented JSON.
func (b *Board) Export(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(b.Snapshot()); err != nil {
		return fmt.Errorf("cannot export board: %w", err)
	}
	return nil
}

// Import replaces the board with the snapshot read from r. Unlike loading from
// storage, a malformed document is an error and leaves the board untouched.
// Image refcounts are recomputed from the imported tiers.
func (b *Board) Import(ctx context.Context, r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("cannot read snapshot: %w", err)
	}
	if !gjson.ValidBytes(raw) {
		return fmt.Errorf("%w: snapshot is not valid JSON", storage.ErrCorruptState)
	}
	if v := gjson.GetBytes(raw, "version"); v.Exists() && v.Int() > SnapshotVersion {
		return fmt.Errorf("snapshot version %d is newer than supported version %d", v.Int(), SnapshotVersion)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrCorruptState, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	prevTiers := b.tiers.Snapshot()
	if err := b.tiers.Restore(snap.Tiers); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrCorruptState, err)
	}
	prevImages := b.images.Snapshot()
	prevComments := b.comments.List()
	b.images.Restore(snap.Images)
	b.comments.Restore(snap.Comments)

	refs := b.tiers.HashRefs()
	for hash := range refs {
		if _, ok := b.images.Get(hash); !ok {
			_ = b.tiers.Restore(prevTiers)
			b.images.Restore(prevImages)
			b.comments.Restore(prevComments)
			return fmt.Errorf("%w: entry references missing image %s", storage.ErrCorruptState, hash)
		}
	}
	b.bump()

	b.images.Recount(refs)

	// Until the new tiers are stored, the stored tiers may still point at the
	// previous images, so those stay in storage until the final image save.
	if err := b.images.SaveMerged(ctx, prevImages); err != nil {
		return err
	}
	if err := b.tiers.Save(ctx); err != nil {
		return err
	}
	if err := b.images.Save(ctx); err != nil {
		return err
	}
	return b.comments.Save(ctx)
}
