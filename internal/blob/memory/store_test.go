package memory_test

import (
	"context"
	"errors"
	"testing"

	"roundcore/internal/blob"
	"roundcore/internal/blob/memory"
)

func TestObjectLifecycle(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	info, err := store.Put(ctx, "experiments/exp-1/export.json", []byte("payload"), blob.PutOptions{
		ContentType: "application/json",
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 7 {
		t.Fatalf("unexpected size %d", info.Size)
	}

	if _, err := store.Put(ctx, "experiments/exp-1/export.json", []byte("other"), blob.PutOptions{}); err == nil {
		t.Fatalf("overwrite should be rejected")
	}

	got, data, err := store.Get(ctx, "experiments/exp-1/export.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(data) != "payload" || got.ContentType != "application/json" {
		t.Fatalf("object mangled: %+v %q", got, data)
	}

	// The returned payload is a copy; mutating it must not touch the store.
	data[0] = 'X'
	_, fresh, err := store.Get(ctx, "experiments/exp-1/export.json")
	if err != nil {
		t.Fatalf("re-get: %v", err)
	}
	if string(fresh) != "payload" {
		t.Fatalf("caller mutation leaked into the store: %q", fresh)
	}

	deleted, err := store.Delete(ctx, "experiments/exp-1/export.json")
	if err != nil || !deleted {
		t.Fatalf("delete: deleted=%v err=%v", deleted, err)
	}
	if _, err := store.Head(ctx, "experiments/exp-1/export.json"); !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListOrdersByKey(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	for _, key := range []string{"b", "a/two", "a/one", "c"} {
		if _, err := store.Put(ctx, key, []byte("x"), blob.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}

	infos, err := store.List(ctx, "a/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 || infos[0].Key != "a/one" || infos[1].Key != "a/two" {
		t.Fatalf("unexpected listing: %+v", infos)
	}
}

func TestSinkWritesJSONObjects(t *testing.T) {
	store := memory.New()
	sink := blob.NewSink(store)
	ctx := context.Background()

	if err := sink.Put(ctx, "experiments/exp-1/export.json", []byte(`{}`)); err != nil {
		t.Fatalf("sink put: %v", err)
	}
	info, err := store.Head(ctx, "experiments/exp-1/export.json")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if info.ContentType != "application/json" {
		t.Fatalf("sink should tag exports as JSON, got %q", info.ContentType)
	}
}
