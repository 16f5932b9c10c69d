package blobstore

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/treestore/treestore/internal/hash"
	"github.com/treestore/treestore/internal/manifest"
	"github.com/treestore/treestore/internal/store"
)

func TestMemoryBasics(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	data, err := m.Get(ctx, "missing")
	if err != nil || data != nil {
		t.Errorf("missing key returned %v, %v", data, err)
	}

	if err := m.Put(ctx, "k", []byte("value")); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	data, err = m.Get(ctx, "k")
	if err != nil || !bytes.Equal(data, []byte("value")) {
		t.Errorf("get returned %q, %v", data, err)
	}
	ok, err := m.IsPresent(ctx, "k")
	if err != nil || !ok {
		t.Errorf("is present returned %v, %v", ok, err)
	}
	if m.Len() != 1 {
		t.Errorf("len = %d", m.Len())
	}

	// Mutating the returned slice must not affect the store.
	data[0] = 'X'
	again, _ := m.Get(ctx, "k")
	if !bytes.Equal(again, []byte("value")) {
		t.Error("stored value was mutated through a returned slice")
	}
}

func TestStoreAdapter(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(t.TempDir(), manifest.FormatHg, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	adapter := NewStoreAdapter(s)

	framed := manifest.FrameHg([]byte("payload"), hash.NullID, hash.NullID)
	id := hash.SumSHA1(framed)

	if err := adapter.Put(ctx, id.Hex(), framed); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	data, err := adapter.Get(ctx, id.Hex())
	if err != nil || !bytes.Equal(data, framed) {
		t.Errorf("get returned %q, %v", data, err)
	}
	ok, err := adapter.IsPresent(ctx, id.Hex())
	if err != nil || !ok {
		t.Errorf("is present returned %v, %v", ok, err)
	}

	if _, err := adapter.Get(ctx, "not-hex"); err == nil {
		t.Error("malformed key should fail")
	}
}
