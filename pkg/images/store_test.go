package images

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"testing"

	"github.com/anitier/anitier/pkg/storage"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestStore(t *testing.T, opts ...Option) (*Store, *storage.Memory) {
	t.Helper()
	kv := storage.NewMemory(storage.WithLogger(quietLogger()))
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	return New(kv, opts...), kv
}

func TestStore_DeduplicatesIdenticalPayloads(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	h1, err := s.Store(ctx, []byte("cover-a"))
	require.NoError(t, err)
	before := s.Stats().Total

	h2, err := s.Store(ctx, []byte("cover-a"))
	require.NoError(t, err)

	require.Equal(t, h1, h2)
	require.Equal(t, 1, before)
	require.Equal(t, 1, s.Stats().Total)
	require.Equal(t, 2, s.Refcount(h1))
}

func TestStore_RejectsEmptyPayload(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Store(context.Background(), nil)
	require.ErrorIs(t, err, ErrEmptyPayload)
}

func TestRelease_RefcountLifecycle(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	h, err := s.Store(ctx, []byte("cover"))
	require.NoError(t, err)
	_, err = s.Store(ctx, []byte("cover"))
	require.NoError(t, err)

	require.NoError(t, s.Release(ctx, h))
	payload, ok := s.Get(h)
	require.True(t, ok)
	require.Equal(t, []byte("cover"), payload)

	require.NoError(t, s.Release(ctx, h))
	_, ok = s.Get(h)
	require.False(t, ok)
	require.Equal(t, Stats{}, s.Stats())
}

func TestRelease_UnknownHashIsNoop(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Release(context.Background(), "missing"))
	require.Equal(t, 0, s.Stats().Total)
}

func TestRetain(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	ok, err := s.Retain(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	h, err := s.Store(ctx, []byte("cover"))
	require.NoError(t, err)
	ok, err = s.Retain(ctx, h)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, s.Refcount(h))
}

func TestCleanup_NeverRemovesLiveRecords(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))
	payloads := [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d")}

	for round := 0; round < 50; round++ {
		s, _ := newTestStore(t)
		live := map[string]int{}
		for step := 0; step < 40; step++ {
			p := payloads[rng.Intn(len(payloads))]
			if rng.Intn(3) == 0 {
				h := SHA256(p)
				require.NoError(t, s.Release(ctx, h))
				if live[h] > 0 {
					live[h]--
				}
				continue
			}
			h, err := s.Store(ctx, p)
			require.NoError(t, err)
			live[h]++
		}

		// Simulate drift from a crash between an entry delete and its release.
		for _, rec := range s.records {
			if rng.Intn(4) == 0 {
				rec.Refcount = 0
				live[rec.Hash] = 0
			}
		}

		_, err := s.Cleanup(ctx)
		require.NoError(t, err)
		for h, n := range live {
			_, ok := s.Get(h)
			require.Equal(t, n > 0, ok, "hash %s with %d refs", h, n)
		}
		require.Equal(t, 0, s.Stats().Unused)
	}
}

func TestCleanup_ReportsRemovedCount(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	s.Restore(Data{
		Entries: []PayloadPair{
			{Hash: "live", Payload: []byte("1")},
			{Hash: "dead", Payload: []byte("22")},
			{Hash: "orphan", Payload: []byte("333")},
		},
		Refcounts: []CountPair{{Hash: "live", Count: 1}, {Hash: "dead", Count: 0}},
	})

	st := s.Stats()
	require.Equal(t, Stats{Total: 3, Used: 1, Unused: 2, TotalSizeBytes: 6}, st)

	n, err := s.Cleanup(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, Stats{Total: 1, Used: 1, TotalSizeBytes: 1}, s.Stats())
}

func TestReconcile_RepairsDrift(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	s.Restore(Data{
		Entries: []PayloadPair{
			{Hash: "a", Payload: []byte("a")},
			{Hash: "b", Payload: []byte("b")},
			{Hash: "c", Payload: []byte("c")},
		},
		Refcounts: []CountPair{{Hash: "a", Count: 5}, {Hash: "b", Count: 1}, {Hash: "c", Count: 1}},
	})

	changed, err := s.Reconcile(ctx, map[string]int{"a": 2, "b": 1, "ghost": 1})
	require.NoError(t, err)
	require.Equal(t, 2, changed)
	require.Equal(t, 2, s.Refcount("a"))
	require.Equal(t, 1, s.Refcount("b"))
	_, ok := s.Get("c")
	require.False(t, ok)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, kv := newTestStore(t)

	h1, err := s.Store(ctx, []byte("first"))
	require.NoError(t, err)
	_, err = s.Store(ctx, []byte("first"))
	require.NoError(t, err)
	_, err = s.Store(ctx, bytes.Repeat([]byte{0xff, 0x00}, 64))
	require.NoError(t, err)

	reloaded := New(kv, WithLogger(quietLogger()))
	require.NoError(t, reloaded.Load(ctx))
	require.Equal(t, s.Records(), reloaded.Records())
	require.Equal(t, 2, reloaded.Refcount(h1))
}

func TestLoad_PersistedLayout(t *testing.T) {
	ctx := context.Background()
	s, kv := newTestStore(t)
	h, err := s.Store(ctx, []byte("hi"))
	require.NoError(t, err)

	raw, ok := kv.Raw(storage.ImageStoreKey)
	require.True(t, ok)

	var generic map[string][][]interface{}
	require.NoError(t, json.Unmarshal(raw, &generic))
	require.Equal(t, []interface{}{h, "aGk="}, generic["entries"][0])
	require.Equal(t, []interface{}{h, float64(1)}, generic["refcounts"][0])
}

func TestLoad_CorruptDataResets(t *testing.T) {
	ctx := context.Background()
	s, kv := newTestStore(t)
	_, err := s.Store(ctx, []byte("kept in memory"))
	require.NoError(t, err)

	kv.PutRaw(storage.ImageStoreKey, []byte(`{"entries":[["only-one-element"]],"refcounts":[]}`))
	require.NoError(t, s.Load(ctx))
	require.Equal(t, Stats{}, s.Stats())
}

func TestPrefixFingerprint_CollidesOnSharedPrefix(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, WithFingerprint(PrefixSHA256(4)))

	h1, err := s.Store(ctx, []byte("data:image/png;AAAA"))
	require.NoError(t, err)
	h2, err := s.Store(ctx, []byte("data:image/png;BBBB"))
	require.NoError(t, err)

	require.Equal(t, h1, h2)
	require.Equal(t, 1, s.Stats().Total)
	require.NotEqual(t, SHA256([]byte("data:image/png;AAAA")), SHA256([]byte("data:image/png;BBBB")))
}

func TestSaveMerged_KeepsPreviousRecordsInStorage(t *testing.T) {
	ctx := context.Background()
	s, kv := newTestStore(t)
	old, err := s.Store(ctx, []byte("old"))
	require.NoError(t, err)
	prev := s.Snapshot()

	s.Restore(Data{Entries: []PayloadPair{{Hash: "new", Payload: []byte("new")}}})
	require.Equal(t, 1, s.Recount(map[string]int{"new": 1}))
	require.NoError(t, s.SaveMerged(ctx, prev))

	reloaded := New(kv, WithLogger(quietLogger()))
	require.NoError(t, reloaded.Load(ctx))
	require.Equal(t, 1, reloaded.Refcount(old))
	require.Equal(t, 1, reloaded.Refcount("new"))

	// The in-memory store only holds what was restored.
	_, ok := s.Get(old)
	require.False(t, ok)
}
