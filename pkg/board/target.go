package board

import (
	"context"
	"fmt"

	"github.com/anitier/anitier/pkg/tiers"
)

// Mode says what a committed Target does with its slot.
type Mode int

const (
	ModeAdd Mode = iota
	ModeReplace
)

func (m Mode) String() string {
	if m == ModeReplace {
		return "replace"
	}
	return "add"
}

// Target is a slot captured when an asynchronous add or replace starts.
// It is only valid while the board is unchanged.
type Target struct {
	Tier       tiers.Label
	Index      int
	Mode       Mode
	Generation uint64
}

// Select records a new current target. Any target selected earlier becomes stale.
func (b *Board) Select(label tiers.Label, index int, mode Mode) Target {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bump()
	return Target{Tier: label, Index: index, Mode: mode, Generation: b.generation}
}

// Commit writes d into the slot captured by t. It fails with ErrStaleTarget if
// another selection or mutation happened after t was taken, in which case no
// image is stored.
func (b *Board) Commit(ctx context.Context, t Target, d Draft) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t.Generation != b.generation {
		return false, fmt.Errorf("%w: %s %s[%d] selected at generation %d, board is at %d",
			ErrStaleTarget, t.Mode, t.Tier, t.Index, t.Generation, b.generation)
	}
	if t.Mode == ModeReplace {
		return b.write(ctx, b.tiers.ReplaceEntry, t.Tier, t.Index, d)
	}
	return b.write(ctx, b.tiers.AddEntry, t.Tier, t.Index, d)
}
