package fs_test

import (
	"context"
	"errors"
	"testing"

	"roundcore/internal/blob"
	fsblob "roundcore/internal/blob/fs"
)

func newStore(t *testing.T) *fsblob.Store {
	t.Helper()
	store, err := fsblob.New(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}

func TestPutGetHeadDelete(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	payload := []byte(`{"experiment":"exp-1"}`)

	info, err := store.Put(ctx, "experiments/exp-1/export.json", payload, blob.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"actor": "admin"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != int64(len(payload)) || info.Checksum == "" {
		t.Fatalf("unexpected info: %+v", info)
	}

	got, data, err := store.Get(ctx, "experiments/exp-1/export.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(data) != string(payload) {
		t.Fatalf("payload mangled: %q", data)
	}
	if got.Checksum != info.Checksum || got.ContentType != "application/json" {
		t.Fatalf("metadata lost: %+v", got)
	}
	if got.Metadata["actor"] != "admin" {
		t.Fatalf("user metadata lost: %+v", got.Metadata)
	}

	head, err := store.Head(ctx, "experiments/exp-1/export.json")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head.Size != info.Size {
		t.Fatalf("head disagrees with put: %+v", head)
	}

	deleted, err := store.Delete(ctx, "experiments/exp-1/export.json")
	if err != nil || !deleted {
		t.Fatalf("delete: deleted=%v err=%v", deleted, err)
	}
	if _, _, err := store.Get(ctx, "experiments/exp-1/export.json"); !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if deleted, err := store.Delete(ctx, "experiments/exp-1/export.json"); err != nil || deleted {
		t.Fatalf("second delete should report not found: deleted=%v err=%v", deleted, err)
	}
}

func TestPutIsCreateOnly(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if _, err := store.Put(ctx, "a.json", []byte("one"), blob.PutOptions{}); err != nil {
		t.Fatalf("first put: %v", err)
	}
	if _, err := store.Put(ctx, "a.json", []byte("two"), blob.PutOptions{}); err == nil {
		t.Fatalf("overwrite should be rejected")
	}
	_, data, err := store.Get(ctx, "a.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(data) != "one" {
		t.Fatalf("rejected put clobbered the object: %q", data)
	}
}

func TestKeysCannotEscapeRoot(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for _, key := range []string{"", "  ", "/etc/passwd", "../outside", "a/../../outside"} {
		if _, err := store.Put(ctx, key, []byte("x"), blob.PutOptions{}); err == nil {
			t.Fatalf("key %q should be rejected", key)
		}
	}
}

func TestListFiltersByPrefix(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	keys := []string{
		"experiments/exp-1/a.json",
		"experiments/exp-1/b.json",
		"experiments/exp-2/a.json",
		"other/misc.json",
	}
	for _, key := range keys {
		if _, err := store.Put(ctx, key, []byte("x"), blob.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}

	infos, err := store.List(ctx, "experiments/exp-1/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 objects, got %d", len(infos))
	}
	if infos[0].Key != "experiments/exp-1/a.json" || infos[1].Key != "experiments/exp-1/b.json" {
		t.Fatalf("listing out of order: %+v", infos)
	}

	all, err := store.List(ctx, "")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != len(keys) {
		t.Fatalf("expected %d objects, got %d", len(keys), len(all))
	}
}
