package docstore

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-docstore/frame"
	"github.com/goliatone/go-docstore/pkg/activity"
	"github.com/goliatone/go-docstore/pkg/state"
)

func newFileStore(t *testing.T, name string, opts ...StoreOption) *Store {
	t.Helper()
	store, err := NewFileStore(filepath.Join(t.TempDir(), name), opts...)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return store
}

func mustLoad(t *testing.T, store *Store) any {
	t.Helper()
	tree, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return tree
}

func TestStoreLoadMissingFile(t *testing.T) {
	store := newFileStore(t, "missing.json")
	if store.Exists(context.Background()) {
		t.Fatalf("expected missing document")
	}
	tree := mustLoad(t, store)
	if m, ok := tree.(*Map); !ok || m.Len() != 0 {
		t.Fatalf("expected empty mapping, got %#v", tree)
	}
	if _, err := os.Stat(store.Path()); !os.IsNotExist(err) {
		t.Fatalf("Load must not create the file")
	}
}

func TestStoreSaveMergesTopLevelKeys(t *testing.T) {
	ctx := context.Background()
	for _, format := range allFormats {
		t.Run(string(format), func(t *testing.T) {
			store := newFileStore(t, "doc."+string(format))
			if _, err := store.Save(ctx, map[string]any{"a": 1, "b": 2}); err != nil {
				t.Fatalf("first Save: %v", err)
			}
			if _, err := store.Save(ctx, MapOf("b", 3, "c", 4)); err != nil {
				t.Fatalf("second Save: %v", err)
			}
			want := MapOf("a", int64(1), "b", int64(3), "c", int64(4))
			if got := mustLoad(t, store); !TreeEqual(got, want) {
				t.Fatalf("unexpected merged document %#v", Plain(got))
			}
		})
	}
}

func TestStoreSaveShallowReplacesNestedMappings(t *testing.T) {
	ctx := context.Background()
	store := newFileStore(t, "doc.json")
	if _, err := store.Save(ctx, MapOf("db", MapOf("host", "a", "port", 1))); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := store.Save(ctx, MapOf("db", MapOf("host", "b"))); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got := mustLoad(t, store); !TreeEqual(got, MapOf("db", MapOf("host", "b"))) {
		t.Fatalf("expected nested mapping to be replaced, got %#v", Plain(got))
	}

	if _, err := store.Save(ctx, MapOf("db", MapOf("port", 2)), WithDeepMerge()); err != nil {
		t.Fatalf("deep Save: %v", err)
	}
	if got := mustLoad(t, store); !TreeEqual(got, MapOf("db", MapOf("host", "b", "port", int64(2)))) {
		t.Fatalf("expected deep merge, got %#v", Plain(got))
	}
}

func TestStoreSaveSortsSequence(t *testing.T) {
	ctx := context.Background()
	store := newFileStore(t, "list.yaml")
	if _, err := store.Save(ctx, []string{"z", "a", "m"}, WithSort(Ascending)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got := mustLoad(t, store); !TreeEqual(got, []any{"a", "m", "z"}) {
		t.Fatalf("expected ascending sequence, got %#v", got)
	}

	if _, err := store.Save(ctx, []any{int64(1), int64(3), int64(2)}, WithSort(Descending)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got := mustLoad(t, store); !TreeEqual(got, []any{int64(3), int64(2), int64(1)}) {
		t.Fatalf("expected sequence to replace and sort descending, got %#v", got)
	}
}

func TestStoreSaveSequenceOverMappingKeepsDocument(t *testing.T) {
	ctx := context.Background()
	store := newFileStore(t, "doc.json")
	if _, err := store.Save(ctx, MapOf("a", 1, "b", 2)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	before, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if _, err := store.Save(ctx, []any{"z", "a"}); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	after, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Fatalf("rejected save rewrote the document")
	}
}

func TestStoreSaveSortsMergedMappingKeys(t *testing.T) {
	ctx := context.Background()
	store := newFileStore(t, "doc.json")
	if _, err := store.Save(ctx, MapOf("m", 1, "z", 2)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := store.Save(ctx, MapOf("a", 3), WithSort(Ascending)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	tree := mustLoad(t, store).(*Map)
	if got := tree.Keys(); !slices.Equal(got, []string{"a", "m", "z"}) {
		t.Fatalf("expected sorted keys, got %v", got)
	}
}

func TestStoreSaveWithoutSortKeepsInsertionOrder(t *testing.T) {
	ctx := context.Background()
	store := newFileStore(t, "doc.yaml")
	if _, err := store.Save(ctx, MapOf("z", 1, "a", 2)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := store.Save(ctx, MapOf("m", 3), WithSort(nil)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got := mustLoad(t, store).(*Map).Keys(); !slices.Equal(got, []string{"z", "a", "m"}) {
		t.Fatalf("expected insertion order, got %v", got)
	}
}

func TestStoreSaveSortKeyFunc(t *testing.T) {
	ctx := context.Background()
	store := newFileStore(t, "doc.json")
	byLength := func(item any) (any, error) { return len(item.(string)), nil }
	if _, err := store.Save(ctx, []any{"ccc", "a", "bb"}, WithSortKey(byLength)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got := mustLoad(t, store); !TreeEqual(got, []any{"a", "bb", "ccc"}) {
		t.Fatalf("unexpected order %#v", got)
	}
}

func TestStoreSaveRejectsUnsortableRoot(t *testing.T) {
	if _, err := newFileStore(t, "doc.json").Save(context.Background(), 42); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected configuration error for scalar root, got %v", err)
	}
}

func TestStoreSaveUnknownTypeLeavesFileUntouched(t *testing.T) {
	ctx := context.Background()
	store := newFileStore(t, "doc.json")
	if _, err := store.Save(ctx, MapOf("a", 1)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	before, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	type opaque struct{}
	if _, err := store.Save(ctx, MapOf("b", opaque{})); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
	after, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Fatalf("failed save modified the file:\n%s\n---\n%s", before, after)
	}

	fresh := newFileStore(t, "fresh.json")
	if _, err := fresh.Save(ctx, MapOf("b", opaque{})); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
	if fresh.Exists(ctx) {
		t.Fatalf("failed first save created the file")
	}
}

func TestStoreLoadUnknownTag(t *testing.T) {
	store := newFileStore(t, "doc.json")
	if err := os.WriteFile(store.Path(), []byte(`{"x": {"__type__": "nope", "repr": "1"}}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := store.Load(context.Background())
	var derr *DeserializeError
	if !errors.As(err, &derr) {
		t.Fatalf("expected DeserializeError, got %v", err)
	}
	if derr.Path != store.Path() || derr.Tag != "nope" {
		t.Fatalf("expected path and tag on error, got %+v", derr)
	}
	if !errors.Is(err, ErrUnknownHandler) {
		t.Fatalf("expected ErrUnknownHandler in chain, got %v", err)
	}

	if _, err := store.Save(context.Background(), MapOf("y", 1)); !errors.Is(err, ErrDeserialize) {
		t.Fatalf("expected Save to refuse a corrupt document, got %v", err)
	}
}

func TestStoreLoadEmptyFile(t *testing.T) {
	store := newFileStore(t, "doc.yaml")
	if err := os.WriteFile(store.Path(), nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := store.Load(context.Background())
	if !errors.Is(err, ErrEmptyInput) || !errors.Is(err, ErrDeserialize) {
		t.Fatalf("expected empty input deserialize error, got %v", err)
	}
}

func TestStoreCompressedFile(t *testing.T) {
	ctx := context.Background()
	store := newFileStore(t, "doc.json"+CompressedSuffix)
	tree := MapOf("when", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), "text", strings.Repeat("abc", 100))
	meta, err := store.Save(ctx, tree)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	raw, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.HasPrefix(raw, []byte{0x28, 0xb5, 0x2f, 0xfd}) {
		t.Fatalf("expected a zstd frame on disk, got % x", raw[:min(len(raw), 8)])
	}
	if meta.Size <= int64(len(raw)) {
		t.Fatalf("expected uncompressed size %d to exceed file size %d", meta.Size, len(raw))
	}
	if got := mustLoad(t, store); !TreeEqual(got, tree) {
		t.Fatalf("unexpected tree %#v", Plain(got))
	}
}

func TestStoreExpectedETag(t *testing.T) {
	ctx := context.Background()
	store := newFileStore(t, "doc.json")

	if _, err := store.Save(ctx, MapOf("a", 1), WithExpectedETag("stale")); !errors.Is(err, ErrETagMismatch) {
		t.Fatalf("expected mismatch for missing document, got %v", err)
	}
	first, err := store.Save(ctx, MapOf("a", 1))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if first.ETag == "" || first.SnapshotID == "" {
		t.Fatalf("expected etag and snapshot id, got %+v", first)
	}
	stat, ok, err := store.Stat(ctx)
	if err != nil || !ok || stat.ETag != first.ETag {
		t.Fatalf("expected Stat to report saved etag, got %+v ok=%v err=%v", stat, ok, err)
	}

	second, err := store.Save(ctx, MapOf("b", 2), WithExpectedETag(first.ETag))
	if err != nil {
		t.Fatalf("Save with current etag: %v", err)
	}
	if second.ETag == first.ETag {
		t.Fatalf("expected etag to change")
	}
	if _, err := store.Save(ctx, MapOf("c", 3), WithExpectedETag(first.ETag)); !errors.Is(err, ErrETagMismatch) {
		t.Fatalf("expected mismatch for stale etag, got %v", err)
	}
	if got := mustLoad(t, store); !TreeEqual(got, MapOf("a", int64(1), "b", int64(2))) {
		t.Fatalf("rejected save modified the document: %#v", Plain(got))
	}
}

func TestStoreEmitsActivityEvents(t *testing.T) {
	ctx := context.Background()
	capture := &activity.CaptureHook{}
	store := newFileStore(t, "doc.json", WithActivityHooks(activity.Hooks{capture}, "configs"))

	created, err := store.Save(ctx, MapOf("a", 1))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	actorCtx := activity.ContextWithActor(ctx, activity.Actor{ActorID: "deployer"})
	if _, err := store.Save(actorCtx, MapOf("b", 2), WithSort(Ascending)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	mustLoad(t, store)

	want := []string{activity.VerbDocumentCreated, activity.VerbDocumentSaved, activity.VerbDocumentLoaded}
	if verbs := capture.Verbs(); !slices.Equal(verbs, want) {
		t.Fatalf("unexpected verbs %v", verbs)
	}
	saved := capture.Events()[1]
	if saved.Channel != "configs" || saved.ObjectID() != store.Path() || saved.ActorID != "deployer" {
		t.Fatalf("unexpected event routing %+v", saved)
	}
	if saved.Document.PreviousETag != created.ETag || !saved.Document.Sorted || !slices.Equal(saved.Document.Keys, []string{"b"}) {
		t.Fatalf("unexpected saved document %+v", saved.Document)
	}
}

func TestStoreActivityHookFailureDoesNotFailSave(t *testing.T) {
	logger := &captureLogger{}
	capture := &activity.CaptureHook{Err: errors.New("sink down")}
	store := newFileStore(t, "doc.json", WithActivityHooks(activity.Hooks{capture}, ""), WithStoreLogger(logger))
	if _, err := store.Save(context.Background(), MapOf("a", 1)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if logger.count("warn activity hook failed") != 1 {
		t.Fatalf("expected hook failure warning, got %v", logger.messages)
	}
	if events := capture.Events(); len(events) != 1 || events[0].Channel != activity.DefaultChannel {
		t.Fatalf("expected one event on the default channel, got %+v", events)
	}
}

func TestStoreMemoryBackend(t *testing.T) {
	ctx := context.Background()
	backend := state.NewMemoryBackend()
	store, err := NewStore(backend, "settings.yaml")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if store.Document().Format() != FormatYAML {
		t.Fatalf("expected format from key extension, got %q", store.Document().Format())
	}
	if _, err := store.Save(ctx, MapOf("timeout", 5*time.Second)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, _, ok, err := backend.Read(ctx, "settings.yaml")
	if err != nil || !ok {
		t.Fatalf("expected stored document, ok=%v err=%v", ok, err)
	}
	if !strings.Contains(string(data), "__type__: duration") {
		t.Fatalf("expected YAML envelope, got:\n%s", data)
	}
	if got := mustLoad(t, store); !TreeEqual(got, MapOf("timeout", 5*time.Second)) {
		t.Fatalf("unexpected tree %#v", got)
	}

	if _, err := NewStore(nil, "x.json"); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected configuration error for nil backend, got %v", err)
	}
	if _, err := NewFileStore(" "); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected configuration error for empty path, got %v", err)
	}
}

func TestStoreSelect(t *testing.T) {
	ctx := context.Background()
	store := newFileStore(t, "doc.json")
	if _, err := store.Save(ctx, MapOf("db_host", "h", "db_port", 5432)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	found, missing, err := store.Select(ctx, []string{"host", "port", "user"}, func(key string) string { return "db_" + key })
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if !TreeEqual(found, MapOf("host", "h", "port", int64(5432))) {
		t.Fatalf("unexpected selection %#v", Plain(found))
	}
	if !slices.Equal(missing, []string{"user"}) {
		t.Fatalf("unexpected missing keys %v", missing)
	}
}

func TestStoreLoadFrame(t *testing.T) {
	ctx := context.Background()
	store := newFileStore(t, "people.json")
	if _, err := store.Save(ctx, MapOf(
		"alice", MapOf("age", 30),
		"bob", MapOf("age", 25, "city", "Oslo"),
	)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	f, err := store.LoadFrame(ctx)
	if err != nil {
		t.Fatalf("LoadFrame: %v", err)
	}
	want, _ := frame.New([]string{"age", "city"}, []string{"alice", "bob"}, [][]any{{30, nil}, {25, "Oslo"}})
	if !f.Equal(want) {
		t.Fatalf("unexpected frame %v %v %v", f.Columns(), f.Index(), f.Rows())
	}

	records, err := FrameOf([]any{MapOf("x", 1), MapOf("y", 2)})
	if err != nil {
		t.Fatalf("FrameOf: %v", err)
	}
	if !slices.Equal(records.Index(), []string{"0", "1"}) || !slices.Equal(records.Columns(), []string{"x", "y"}) {
		t.Fatalf("unexpected record frame %v %v", records.Index(), records.Columns())
	}

	scalars, err := FrameOf(MapOf("a", 1, "b", 2))
	if err != nil {
		t.Fatalf("FrameOf: %v", err)
	}
	if !slices.Equal(scalars.Columns(), []string{"value"}) {
		t.Fatalf("unexpected scalar frame columns %v", scalars.Columns())
	}
	if _, err := FrameOf(MapOf("a", 1, "b", MapOf("c", 2))); err == nil {
		t.Fatalf("expected error for mixed mapping")
	}
}

func TestStoreSavesFrameValue(t *testing.T) {
	ctx := context.Background()
	store := newFileStore(t, "frames.cbor")
	f := sampleFrame(t)
	if _, err := store.Save(ctx, MapOf("table", f)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	tree := mustLoad(t, store).(*Map)
	value, _ := tree.Get("table")
	loaded, ok := value.(*frame.Frame)
	if !ok || !loaded.Equal(f) {
		t.Fatalf("expected frame to round trip, got %#v", value)
	}
}
