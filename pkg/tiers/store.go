package tiers

import (
	"context"
	"errors"
	"fmt"

	"github.com/anitier/anitier/internal/utils"
	"github.com/anitier/anitier/pkg/storage"
	"github.com/sirupsen/logrus"
)

// ImageReleaser drops a counted image reference.
type ImageReleaser interface {
	Release(ctx context.Context, hash string) error
}

// Data is the persisted form: each label maps to a null padded array.
type Data map[Label][]*Entry

// Store holds the ranked entries of every configured tier.
// It is not safe for concurrent use.
type Store struct {
	kv       storage.KV
	key      string
	labels   []Label
	tiers    map[Label]*Tier
	releaser ImageReleaser
	log      logrus.FieldLogger
}

// Option configures a Store.
type Option func(*Store)

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Store) { s.log = l }
}

// WithKey changes the KV key the store persists under.
func WithKey(key string) Option {
	return func(s *Store) { s.key = key }
}

// New creates an empty store for labels. releaser may be nil when entries
// never carry image hashes.
func New(kv storage.KV, labels []Label, releaser ImageReleaser, opts ...Option) (*Store, error) {
	raw := make([]string, len(labels))
	for i, l := range labels {
		raw[i] = string(l)
	}
	labels, err := ParseLabels(raw)
	if err != nil {
		return nil, err
	}
	s := &Store{
		kv:       kv,
		key:      storage.TierDataKey,
		labels:   labels,
		releaser: releaser,
		log:      utils.Log,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.reset()
	return s, nil
}

func (s *Store) reset() {
	s.tiers = make(map[Label]*Tier, len(s.labels))
	for _, l := range s.labels {
		s.tiers[l] = newTier()
	}
}

// Load replaces the in-memory state with the persisted one. Unreadable or
// invalid data leaves every tier empty.
func (s *Store) Load(ctx context.Context) error {
	var d Data
	found, err := s.kv.Load(ctx, s.key, &d)
	if err != nil {
		return fmt.Errorf("cannot load tiers: %w", err)
	}
	s.reset()
	if !found {
		return nil
	}
	if err := s.Restore(d); err != nil {
		s.log.WithError(fmt.Errorf("%w: %v", storage.ErrCorruptState, err)).Warn("Discarding stored tiers")
		s.reset()
	}
	return nil
}

// Save persists the current state.
func (s *Store) Save(ctx context.Context) error {
	if err := s.kv.Save(ctx, s.key, storage.Producer(func() interface{} { return s.Snapshot() })); err != nil {
		return fmt.Errorf("cannot save tiers: %w", err)
	}
	return nil
}

// Snapshot returns the persisted form of every tier.
func (s *Store) Snapshot() Data {
	d := make(Data, len(s.labels))
	for _, l := range s.labels {
		d[l] = s.tiers[l].padded()
	}
	return d
}

// Restore replaces the in-memory state with d without persisting it. Labels
// outside the configured set are dropped. On error the store is unchanged.
func (s *Store) Restore(d Data) error {
	next := make(map[Label]*Tier, len(s.labels))
	for _, l := range s.labels {
		next[l] = newTier()
	}
	for l, arr := range d {
		if _, ok := next[l]; !ok {
			s.log.WithField("tier", l).Warn("Dropping unknown tier from stored data")
			continue
		}
		for i, e := range arr {
			if e == nil {
				continue
			}
			if err := e.Validate(); err != nil {
				return fmt.Errorf("tier %s slot %d: %w", l, i, err)
			}
		}
		next[l] = fromPadded(arr)
	}
	s.tiers = next
	return nil
}

// Labels returns the configured labels in display order.
func (s *Store) Labels() []Label {
	return append([]Label(nil), s.labels...)
}

// Has reports whether label is configured.
func (s *Store) Has(label Label) bool {
	_, ok := s.tiers[label]
	return ok
}

// Entries returns the non-empty slots of label in order, or nil for an unknown label.
func (s *Store) Entries(label Label) []Slot {
	t, ok := s.tiers[label]
	if !ok {
		return nil
	}
	return t.Slots()
}

// At returns the entry at (label, index).
func (s *Store) At(label Label, index int) (Entry, bool) {
	t, ok := s.tiers[label]
	if !ok {
		return Entry{}, false
	}
	return t.At(index)
}

// Len returns the slot count of label, empty slots included.
func (s *Store) Len(label Label) int {
	if t, ok := s.tiers[label]; ok {
		return t.Len()
	}
	return 0
}

// HashRefs counts live references per image hash.
func (s *Store) HashRefs() map[string]int {
	refs := make(map[string]int)
	for _, t := range s.tiers {
		for _, e := range t.slots {
			if e.ImageHash != "" {
				refs[e.ImageHash]++
			}
		}
	}
	return refs
}

func (s *Store) reject(op string, err error, fields logrus.Fields) {
	s.log.WithFields(fields).WithError(err).Warnf("%s ignored", op)
}

func (s *Store) lookup(op string, label Label, index int) (*Tier, bool) {
	fields := logrus.Fields{"tier": label, "index": index}
	t, ok := s.tiers[label]
	if !ok {
		s.reject(op, ErrUnknownTier, fields)
		return nil, false
	}
	if index < 0 {
		s.reject(op, ErrInvalidSlot, fields)
		return nil, false
	}
	return t, true
}

func (s *Store) release(ctx context.Context, hash string) error {
	if hash == "" || s.releaser == nil {
		return nil
	}
	return s.releaser.Release(ctx, hash)
}

// AddEntry places e at index. An empty slot is filled in place; an occupied
// one makes room by shifting it and its successors right. Writing past the
// end pads the tier with empty slots. It reports false when nothing changed.
//
// AddEntry never overwrites: an overwrite would drop the old entry's image
// reference without releasing it. Last-writer-wins at a slot is ReplaceEntry.
func (s *Store) AddEntry(ctx context.Context, label Label, index int, e Entry) (bool, error) {
	if err := e.Validate(); err != nil {
		return false, err
	}
	t, ok := s.lookup("add", label, index)
	if !ok {
		return false, nil
	}
	if _, occupied := t.At(index); occupied {
		t.insert(index, e)
	} else {
		t.set(index, e)
	}
	return true, s.Save(ctx)
}

// ReplaceEntry overwrites the slot at index. Any image the old entry owned is
// released before the new entry is written.
func (s *Store) ReplaceEntry(ctx context.Context, label Label, index int, e Entry) (bool, error) {
	if err := e.Validate(); err != nil {
		return false, err
	}
	t, ok := s.lookup("replace", label, index)
	if !ok {
		return false, nil
	}
	var releaseErr error
	if old, ok := t.At(index); ok {
		releaseErr = s.release(ctx, old.ImageHash)
	}
	t.set(index, e)
	return true, errors.Join(releaseErr, s.Save(ctx))
}

// RemoveEntry releases the entry's image and splices the slot out.
func (s *Store) RemoveEntry(ctx context.Context, label Label, index int) (bool, error) {
	t, ok := s.lookup("remove", label, index)
	if !ok {
		return false, nil
	}
	old, ok := t.At(index)
	if !ok {
		s.reject("remove", ErrInvalidSlot, logrus.Fields{"tier": label, "index": index})
		return false, nil
	}
	releaseErr := s.release(ctx, old.ImageHash)
	t.remove(index)
	return true, errors.Join(releaseErr, s.Save(ctx))
}

// MoveEntry relocates the entry at (from, fromIndex) so it lands at toIndex of
// to, with splice semantics on both ends. When moving forward within one tier
// the removal has already shifted the target left, so toIndex is lowered by one.
func (s *Store) MoveEntry(ctx context.Context, from Label, fromIndex int, to Label, toIndex int) (MoveResult, error) {
	src, ok := s.lookup("move", from, fromIndex)
	if !ok {
		return MoveResult{Recover: true}, nil
	}
	dst, ok := s.lookup("move", to, toIndex)
	if !ok {
		return MoveResult{Recover: true}, nil
	}
	if _, ok := src.At(fromIndex); !ok {
		s.reject("move", ErrInvalidSlot, logrus.Fields{"tier": from, "index": fromIndex})
		return MoveResult{Recover: true}, nil
	}

	e, _ := src.remove(fromIndex)
	adjusted := toIndex
	if from == to && toIndex > fromIndex {
		adjusted = toIndex - 1
	}
	dst.insert(adjusted, e)

	res := MoveResult{Moved: true, CrossTier: from != to}
	return res, s.Save(ctx)
}
