package images

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/anitier/anitier/internal/utils"
	"github.com/anitier/anitier/pkg/storage"
	"github.com/sirupsen/logrus"
)

// ErrEmptyPayload is returned when storing a zero length payload.
var ErrEmptyPayload = errors.New("empty image payload")

// Store is a content-addressed, reference-counted payload store.
// It is not safe for concurrent use.
type Store struct {
	kv          storage.KV
	key         string
	fingerprint Fingerprint
	log         logrus.FieldLogger
	records     map[string]*Record
}

// Option configures a Store.
type Option func(*Store)

// WithFingerprint replaces the default SHA256 fingerprint.
func WithFingerprint(f Fingerprint) Option {
	return func(s *Store) { s.fingerprint = f }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Store) { s.log = l }
}

// WithKey changes the KV key the store persists under.
func WithKey(key string) Option {
	return func(s *Store) { s.key = key }
}

func New(kv storage.KV, opts ...Option) *Store {
	s := &Store{
		kv:          kv,
		key:         storage.ImageStoreKey,
		fingerprint: SHA256,
		log:         utils.Log,
		records:     make(map[string]*Record),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces the in-memory state with the persisted one.
// Unreadable data leaves the store empty.
func (s *Store) Load(ctx context.Context) error {
	var d Data
	found, err := s.kv.Load(ctx, s.key, &d)
	if err != nil {
		return fmt.Errorf("cannot load images: %w", err)
	}
	s.records = make(map[string]*Record)
	if found {
		s.Restore(d)
	}
	return nil
}

// Save persists the current state.
func (s *Store) Save(ctx context.Context) error {
	snapshot := storage.Producer(func() interface{} { return s.Snapshot() })
	if err := s.kv.Save(ctx, s.key, snapshot); err != nil {
		return fmt.Errorf("cannot save images: %w", err)
	}
	return nil
}

// Store adds a reference to payload and returns its hash. Identical payloads
// always share one record.
func (s *Store) Store(ctx context.Context, payload []byte) (string, error) {
	if len(payload) == 0 {
		return "", ErrEmptyPayload
	}
	hash := s.fingerprint(payload)
	if rec, ok := s.records[hash]; ok {
		rec.Refcount++
		s.log.WithFields(logrus.Fields{"hash": hash, "refcount": rec.Refcount}).Debug("Image deduplicated")
	} else {
		s.records[hash] = &Record{
			Hash:     hash,
			Payload:  append([]byte(nil), payload...),
			Refcount: 1,
		}
		s.log.WithFields(logrus.Fields{"hash": hash, "bytes": len(payload)}).Debug("Image stored")
	}
	return hash, s.Save(ctx)
}

// Retain adds a reference to an existing record. It reports false if the hash is unknown.
func (s *Store) Retain(ctx context.Context, hash string) (bool, error) {
	rec, ok := s.records[hash]
	if !ok {
		s.log.WithField("hash", hash).Warn("Retain of unknown image ignored")
		return false, nil
	}
	rec.Refcount++
	return true, s.Save(ctx)
}

// Release drops a reference and deletes the record once nothing refers to it.
func (s *Store) Release(ctx context.Context, hash string) error {
	rec, ok := s.records[hash]
	if !ok {
		s.log.WithField("hash", hash).Warn("Release of unknown image ignored")
		return nil
	}
	rec.Refcount--
	if rec.Refcount <= 0 {
		delete(s.records, hash)
		s.log.WithField("hash", hash).Debug("Image deleted")
	}
	return s.Save(ctx)
}

// Cleanup deletes every record that nothing refers to and returns how many were removed.
func (s *Store) Cleanup(ctx context.Context) (int, error) {
	n := s.sweep()
	if n == 0 {
		return 0, nil
	}
	s.log.WithField("removed", n).Info("Swept unused images")
	return n, s.Save(ctx)
}

func (s *Store) sweep() int {
	n := 0
	for hash, rec := range s.records {
		if rec.Refcount <= 0 {
			delete(s.records, hash)
			n++
		}
	}
	return n
}

// Reconcile sets every refcount to the number of references observed in refs,
// then sweeps records left without references. It returns the number of
// records whose count was wrong.
func (s *Store) Reconcile(ctx context.Context, refs map[string]int) (int, error) {
	changed, removed := s.recount(refs)
	if changed == 0 && removed == 0 {
		return 0, nil
	}
	return changed, s.Save(ctx)
}

// Recount is Reconcile without persisting.
func (s *Store) Recount(refs map[string]int) int {
	changed, _ := s.recount(refs)
	return changed
}

func (s *Store) recount(refs map[string]int) (changed, removed int) {
	for hash, rec := range s.records {
		if want := refs[hash]; rec.Refcount != want {
			s.log.WithFields(logrus.Fields{"hash": hash, "have": rec.Refcount, "want": want}).Warn("Refcount drift repaired")
			rec.Refcount = want
			changed++
		}
	}
	for hash := range refs {
		if _, ok := s.records[hash]; !ok {
			s.log.WithField("hash", hash).Warn("Entry references a missing image")
		}
	}
	return changed, s.sweep()
}

// SaveMerged persists the current records plus every record of keep that is
// not held in memory. It lets a caller replace the referencing data before
// the images it no longer needs disappear from storage.
func (s *Store) SaveMerged(ctx context.Context, keep Data) error {
	merged := storage.Producer(func() interface{} {
		d := s.Snapshot()
		have := make(map[string]bool, len(d.Entries))
		for _, e := range d.Entries {
			have[e.Hash] = true
		}
		counts := make(map[string]int, len(keep.Refcounts))
		for _, c := range keep.Refcounts {
			counts[c.Hash] = c.Count
		}
		for _, e := range keep.Entries {
			if have[e.Hash] {
				continue
			}
			d.Entries = append(d.Entries, e)
			d.Refcounts = append(d.Refcounts, CountPair{Hash: e.Hash, Count: counts[e.Hash]})
		}
		return d
	})
	if err := s.kv.Save(ctx, s.key, merged); err != nil {
		return fmt.Errorf("cannot save images: %w", err)
	}
	return nil
}

// Get returns the payload stored under hash.
func (s *Store) Get(hash string) ([]byte, bool) {
	rec, ok := s.records[hash]
	if !ok {
		return nil, false
	}
	return rec.Payload, true
}

// Refcount returns the reference count of hash, or 0 when absent.
func (s *Store) Refcount(hash string) int {
	if rec, ok := s.records[hash]; ok {
		return rec.Refcount
	}
	return 0
}

func (s *Store) Stats() Stats {
	var st Stats
	for _, rec := range s.records {
		st.Total++
		if rec.Refcount > 0 {
			st.Used++
		} else {
			st.Unused++
		}
		st.TotalSizeBytes += int64(len(rec.Payload))
	}
	return st
}

// Records returns all records ordered by hash.
func (s *Store) Records() []Record {
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hash < out[j].Hash })
	return out
}

// Snapshot returns the persisted form of the store, ordered by hash.
func (s *Store) Snapshot() Data {
	recs := s.Records()
	d := Data{
		Entries:   make([]PayloadPair, 0, len(recs)),
		Refcounts: make([]CountPair, 0, len(recs)),
	}
	for _, rec := range recs {
		d.Entries = append(d.Entries, PayloadPair{Hash: rec.Hash, Payload: rec.Payload})
		d.Refcounts = append(d.Refcounts, CountPair{Hash: rec.Hash, Count: rec.Refcount})
	}
	return d
}

// Restore replaces the in-memory state with d without persisting it.
// Refcounts without a payload are dropped; payloads without a refcount start at 0.
func (s *Store) Restore(d Data) {
	records := make(map[string]*Record, len(d.Entries))
	for _, e := range d.Entries {
		records[e.Hash] = &Record{Hash: e.Hash, Payload: e.Payload}
	}
	for _, c := range d.Refcounts {
		rec, ok := records[c.Hash]
		if !ok {
			s.log.WithField("hash", c.Hash).Warn("Dropping refcount without payload")
			continue
		}
		rec.Refcount = c.Count
	}
	s.records = records
}
