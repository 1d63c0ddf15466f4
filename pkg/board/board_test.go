package board

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/anitier/anitier/pkg/images"
	"github.com/anitier/anitier/pkg/storage"
	"github.com/anitier/anitier/pkg/tiers"
	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

var testLabels = []tiers.Label{"9", "7"}

func openBoard(t *testing.T, kv storage.KV) *Board {
	t.Helper()
	b, err := Open(context.Background(), kv, Config{Labels: testLabels, Logger: quietLogger()})
	require.NoError(t, err)
	return b
}

func newMemory(opts ...storage.Option) *storage.Memory {
	return storage.NewMemory(append([]storage.Option{storage.WithLogger(quietLogger())}, opts...)...)
}

func withImage(title string, payload string) Draft {
	return Draft{Title: title, Image: []byte(payload), Source: tiers.SourceCustom}
}

func withURL(title string) Draft {
	return Draft{Title: title, ImageURL: "https://img.example/" + title, Source: tiers.SourceSearch}
}

func TestAdd_SharedImageIsCountedPerEntry(t *testing.T) {
	ctx := context.Background()
	b := openBoard(t, newMemory())

	ok, err := b.Add(ctx, "9", 0, withImage("A", "cover"))
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = b.Add(ctx, "7", 0, withImage("A again", "cover"))
	require.NoError(t, err)
	require.True(t, ok)

	e, _ := b.Tiers().At("9", 0)
	require.Equal(t, images.SHA256([]byte("cover")), e.ImageHash)
	require.Empty(t, e.ImageURL)
	require.Equal(t, 2, b.Images().Refcount(e.ImageHash))
	require.Equal(t, images.Stats{Total: 1, Used: 1, TotalSizeBytes: 5}, b.ImageStats())

	_, err = b.Remove(ctx, "9", 0)
	require.NoError(t, err)
	_, ok = b.Image(e.ImageHash)
	require.True(t, ok)

	_, err = b.Remove(ctx, "7", 0)
	require.NoError(t, err)
	_, ok = b.Image(e.ImageHash)
	require.False(t, ok)
}

func TestAdd_UnknownTierStoresNothing(t *testing.T) {
	ctx := context.Background()
	kv := newMemory()
	b := openBoard(t, kv)

	ok, err := b.Add(ctx, "3", 0, withImage("A", "cover"))
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = b.Add(ctx, "9", -4, withImage("A", "cover"))
	require.NoError(t, err)
	require.False(t, ok)

	require.Equal(t, 0, b.ImageStats().Total)
}

func TestAdd_RejectsUrlAndPayloadTogether(t *testing.T) {
	b := openBoard(t, newMemory())
	d := withImage("A", "cover")
	d.ImageURL = "https://img.example/a"

	_, err := b.Add(context.Background(), "9", 0, d)
	require.True(t, errors.Is(err, tiers.ErrInvalidEntry))
	require.Equal(t, 0, b.ImageStats().Total)
}

func TestReplace_ReleasesPreviousImage(t *testing.T) {
	ctx := context.Background()
	b := openBoard(t, newMemory())

	_, err := b.Add(ctx, "9", 0, withImage("A", "old-cover"))
	require.NoError(t, err)
	old, _ := b.Tiers().At("9", 0)

	ok, err := b.Replace(ctx, "9", 0, withImage("A", "new-cover"))
	require.NoError(t, err)
	require.True(t, ok)

	_, ok = b.Image(old.ImageHash)
	require.False(t, ok)
	require.Equal(t, 1, b.ImageStats().Total)

	// Replacing with the same image keeps exactly one reference.
	_, err = b.Replace(ctx, "9", 0, withImage("A", "new-cover"))
	require.NoError(t, err)
	cur, _ := b.Tiers().At("9", 0)
	require.Equal(t, 1, b.Images().Refcount(cur.ImageHash))

	_, err = b.Replace(ctx, "9", 0, withURL("A"))
	require.NoError(t, err)
	require.Equal(t, 0, b.ImageStats().Total)
}

func TestMove_KeepsImageReferences(t *testing.T) {
	ctx := context.Background()
	b := openBoard(t, newMemory())
	_, err := b.Add(ctx, "9", 0, withImage("A", "a"))
	require.NoError(t, err)
	_, err = b.Add(ctx, "9", 1, withURL("B"))
	require.NoError(t, err)

	res, err := b.Move(ctx, "9", 0, "7", 0)
	require.NoError(t, err)
	require.Equal(t, tiers.MoveResult{Moved: true, CrossTier: true}, res)

	e, _ := b.Tiers().At("7", 0)
	require.Equal(t, "A", e.Title)
	require.Equal(t, 1, b.Images().Refcount(e.ImageHash))

	res, err = b.Move(ctx, "9", 4, "7", 0)
	require.NoError(t, err)
	require.True(t, res.Recover)
}

func TestCommit_RejectsStaleTarget(t *testing.T) {
	ctx := context.Background()
	b := openBoard(t, newMemory())

	first := b.Select("9", 0, ModeAdd)
	second := b.Select("7", 0, ModeAdd)

	_, err := b.Commit(ctx, first, withImage("late", "slow-file"))
	require.True(t, errors.Is(err, ErrStaleTarget))
	require.Equal(t, 0, b.ImageStats().Total)

	ok, err := b.Commit(ctx, second, withImage("fresh", "fast-file"))
	require.NoError(t, err)
	require.True(t, ok)

	// The commit itself changed the board, so the token cannot be reused.
	_, err = b.Commit(ctx, second, withURL("again"))
	require.True(t, errors.Is(err, ErrStaleTarget))
}

func TestCommit_ReplaceMode(t *testing.T) {
	ctx := context.Background()
	b := openBoard(t, newMemory())
	_, err := b.Add(ctx, "9", 0, withImage("A", "a"))
	require.NoError(t, err)

	target := b.Select("9", 0, ModeReplace)
	done := make(chan error)
	go func() {
		_, err := b.Commit(ctx, target, withURL("B"))
		done <- err
	}()
	require.NoError(t, <-done)

	e, _ := b.Tiers().At("9", 0)
	require.Equal(t, "B", e.Title)
	require.Equal(t, 1, b.Tiers().Len("9"))
	require.Equal(t, 0, b.ImageStats().Total)
}

// orphanImageStore is a stored image store holding one unreferenced 300 byte image.
func orphanImageStore() []byte {
	return []byte(`{"entries":[["orphan","` + strings.Repeat("QUFB", 100) + `"]],"refcounts":[["orphan",0]]}`)
}

func TestStorageFull_CleanupThenRetry(t *testing.T) {
	ctx := context.Background()
	kv := newMemory(storage.WithQuota(500))
	kv.PutRaw(storage.ImageStoreKey, orphanImageStore())

	b := openBoard(t, kv)
	require.Equal(t, 1, b.ImageStats().Unused)

	ok, err := b.Add(ctx, "9", 0, withURL("A"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, images.Stats{}, b.ImageStats())

	reloaded := openBoard(t, kv)
	require.Len(t, reloaded.Tiers().Entries("9"), 1)
}

func TestStorageFull_CleanupMakesRoomForImage(t *testing.T) {
	ctx := context.Background()
	kv := newMemory(storage.WithQuota(500))
	kv.PutRaw(storage.ImageStoreKey, orphanImageStore())
	b := openBoard(t, kv)

	ok, err := b.Add(ctx, "9", 0, withImage("A", "hello"))
	require.NoError(t, err)
	require.True(t, ok)

	hash := images.SHA256([]byte("hello"))
	require.Equal(t, images.Stats{Total: 1, Used: 1, TotalSizeBytes: 5}, b.ImageStats())

	raw, found := kv.Raw(storage.ImageStoreKey)
	require.True(t, found)
	require.NotContains(t, string(raw), "orphan")
	require.Contains(t, string(raw), hash)

	reloaded := openBoard(t, kv)
	payload, found := reloaded.Image(hash)
	require.True(t, found)
	require.Equal(t, "hello", string(payload))
	e, _ := reloaded.Tiers().At("9", 0)
	require.Equal(t, hash, e.ImageHash)
}

func TestStorageFull_SurfacesWhenCleanupIsNotEnough(t *testing.T) {
	ctx := context.Background()
	kv := newMemory(storage.WithQuota(120))
	b := openBoard(t, kv)

	ok, err := b.Add(ctx, "9", 0, withImage("big", strings.Repeat("x", 200)))
	require.True(t, errors.Is(err, storage.ErrStorageFull))
	require.False(t, ok)
	require.Empty(t, b.Tiers().Entries("9"))

	ok, err = b.Add(ctx, "9", 0, withURL(strings.Repeat("long-title-", 12)))
	require.True(t, errors.Is(err, storage.ErrStorageFull))
	// The in-memory board is ahead of storage until the next successful save.
	require.True(t, ok)
	require.Len(t, b.Tiers().Entries("9"), 1)
}

func TestOpen_CorruptStateStartsEmpty(t *testing.T) {
	kv := newMemory()
	kv.PutRaw(storage.TierDataKey, []byte(`{"9":[{"title":`))
	kv.PutRaw(storage.ImageStoreKey, []byte(`[]`))

	b := openBoard(t, kv)
	require.Empty(t, b.Tiers().Entries("9"))
	require.Equal(t, images.Stats{}, b.ImageStats())
}

func TestOpen_ReconcileRepairsDrift(t *testing.T) {
	ctx := context.Background()
	kv := newMemory()
	b := openBoard(t, kv)
	_, err := b.Add(ctx, "9", 0, withImage("A", "a"))
	require.NoError(t, err)
	_, err = b.Add(ctx, "9", 1, withImage("B", "a"))
	require.NoError(t, err)
	_, err = b.Add(ctx, "7", 0, withImage("C", "c"))
	require.NoError(t, err)

	// Crash between deleting C and releasing its image, and a lost increment.
	snap := b.Tiers().Snapshot()
	snap["7"] = []*tiers.Entry{}
	require.NoError(t, kv.Save(ctx, storage.TierDataKey, snap))
	imgs := b.Images().Snapshot()
	for i := range imgs.Refcounts {
		if imgs.Refcounts[i].Hash == images.SHA256([]byte("a")) {
			imgs.Refcounts[i].Count = 1
		}
	}
	require.NoError(t, kv.Save(ctx, storage.ImageStoreKey, imgs))

	repaired, err := Open(ctx, kv, Config{Labels: testLabels, Logger: quietLogger(), Reconcile: true})
	require.NoError(t, err)
	require.Equal(t, images.Stats{Total: 1, Used: 1, TotalSizeBytes: 1}, repaired.ImageStats())
	require.Equal(t, 2, repaired.Images().Refcount(images.SHA256([]byte("a"))))
}

func TestExportImport_RoundTrip(t *testing.T) {
	ctx := context.Background()
	src := openBoard(t, newMemory())
	_, err := src.Add(ctx, "9", 2, withImage("A", "shared"))
	require.NoError(t, err)
	_, err = src.Add(ctx, "7", 0, withImage("B", "shared"))
	require.NoError(t, err)
	_, err = src.Add(ctx, "7", 1, Draft{Title: "C", ImageURL: "u", ExternalID: "1234", Source: tiers.SourceSearch})
	require.NoError(t, err)
	_, err = src.AddComment(ctx, "A", "u", "great", "2")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, src.Export(&buf))

	dstKV := newMemory()
	dst := openBoard(t, dstKV)
	_, err = dst.Add(ctx, "9", 0, withImage("gone", "replaced"))
	require.NoError(t, err)
	require.NoError(t, dst.Import(ctx, &buf))

	if diff := cmp.Diff(src.Snapshot(), dst.Snapshot()); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}

	reloaded := openBoard(t, dstKV)
	if diff := cmp.Diff(src.Snapshot(), reloaded.Snapshot()); diff != "" {
		t.Fatalf("persisted snapshot mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, reloaded.CommentsFor("A"), 1)
}

func TestImport_RejectsBadDocuments(t *testing.T) {
	ctx := context.Background()
	docs := map[string]string{
		"malformed":       `{"tier-data": {`,
		"newer version":   `{"version": 99, "tier-data": {}}`,
		"missing image":   `{"version":1,"tier-data":{"9":[{"title":"A","imageHash":"nope","source":"custom"}]},"image-store":{"entries":[],"refcounts":[]}}`,
		"invalid entry":   `{"version":1,"tier-data":{"9":[{"title":"","imageUrl":"u","source":"custom"}]}}`,
		"bad image pairs": `{"version":1,"tier-data":{},"image-store":{"entries":[["a"]],"refcounts":[]}}`,
	}
	for name, doc := range docs {
		t.Run(name, func(t *testing.T) {
			b := openBoard(t, newMemory())
			_, err := b.Add(ctx, "9", 0, withImage("keep", "k"))
			require.NoError(t, err)
			before := b.Snapshot()

			require.Error(t, b.Import(ctx, strings.NewReader(doc)))
			if diff := cmp.Diff(before, b.Snapshot()); diff != "" {
				t.Fatalf("board changed (-want +got):\n%s", diff)
			}
		})
	}
}

func TestImport_ReconcilesRefcounts(t *testing.T) {
	ctx := context.Background()
	b := openBoard(t, newMemory())
	h := images.SHA256([]byte("x"))
	doc := `{"version":1,
"tier-data":{"9":[{"title":"A","imageHash":"` + h + `","source":"custom"},null,{"title":"B","imageHash":"` + h + `","source":"custom"}],"7":[]},
"image-store":{"entries":[["` + h + `","eA=="],["unused","eQ=="]],"refcounts":[["` + h + `",7],["unused",3]]}}`

	require.NoError(t, b.Import(ctx, strings.NewReader(doc)))
	require.Equal(t, 2, b.Images().Refcount(h))
	require.Equal(t, images.Stats{Total: 1, Used: 1, TotalSizeBytes: 1}, b.ImageStats())
	require.Equal(t, 3, b.Tiers().Len("9"))
}

// failingSaves rejects every save of one key.
type failingSaves struct {
	storage.KV
	failKey string
}

func (f *failingSaves) Save(ctx context.Context, key string, value interface{}) error {
	if key == f.failKey {
		return errors.New("disk error")
	}
	return f.KV.Save(ctx, key, value)
}

func TestImport_FailedTierSaveKeepsStoredImages(t *testing.T) {
	ctx := context.Background()
	mem := newMemory()
	kv := &failingSaves{KV: mem}
	b := openBoard(t, kv)
	_, err := b.Add(ctx, "9", 0, withImage("A", "old-cover"))
	require.NoError(t, err)

	src := openBoard(t, newMemory())
	_, err = src.Add(ctx, "7", 0, withImage("B", "new-cover"))
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, src.Export(&buf))

	kv.failKey = storage.TierDataKey
	require.Error(t, b.Import(ctx, &buf))

	reopened, err := Open(ctx, mem, Config{Labels: testLabels, Logger: quietLogger(), Reconcile: true})
	require.NoError(t, err)
	e, ok := reopened.Tiers().At("9", 0)
	require.True(t, ok)
	require.Equal(t, "A", e.Title)
	payload, ok := reopened.Image(e.ImageHash)
	require.True(t, ok)
	require.Equal(t, "old-cover", string(payload))
	require.Equal(t, images.Stats{Total: 1, Used: 1, TotalSizeBytes: 9}, reopened.ImageStats())
}
