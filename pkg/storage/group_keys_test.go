package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ZentaChain/zentalk-streams/pkg/crypto"
)

func newTestGroupKeyStore(t *testing.T) *GroupKeyStore {
	t.Helper()
	store, err := NewGroupKeyStore(filepath.Join(t.TempDir(), "keys.db"), nil)
	if err != nil {
		t.Fatalf("NewGroupKeyStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestGroupKeyStoreEmpty(t *testing.T) {
	store := newTestGroupKeyStore(t)
	ctx := context.Background()

	has, err := store.HasAnyGroupKey(ctx, "s1")
	if err != nil {
		t.Fatalf("HasAnyGroupKey() error = %v", err)
	}
	if has {
		t.Error("HasAnyGroupKey() = true for a new stream")
	}

	current, next, err := store.UseGroupKey(ctx, "s1")
	if err != nil {
		t.Fatalf("UseGroupKey() error = %v", err)
	}
	if current != nil || next != nil {
		t.Errorf("UseGroupKey() = %v, %v, want nil keys", current, next)
	}

	if _, err := store.GroupKey(ctx, "s1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GroupKey() error = %v, want ErrNotFound", err)
	}
}

func TestGroupKeyStoreRotation(t *testing.T) {
	store := newTestGroupKeyStore(t)
	ctx := context.Background()

	first, err := store.Rotate(ctx, "s1")
	if err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}

	has, _ := store.HasAnyGroupKey(ctx, "s1")
	if !has {
		t.Error("HasAnyGroupKey() = false after Rotate()")
	}
	if has, _ := store.HasAnyGroupKey(ctx, "s2"); has {
		t.Error("HasAnyGroupKey() leaked across streams")
	}

	current, next, err := store.UseGroupKey(ctx, "s1")
	if err != nil {
		t.Fatalf("UseGroupKey() error = %v", err)
	}
	if !current.Equal(first) || next != nil {
		t.Fatalf("UseGroupKey() = %v, %v, want %v, nil", current, next, first)
	}

	second, err := store.Rotate(ctx, "s1")
	if err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}

	// the first message after a rotation announces the new key
	current, next, err = store.UseGroupKey(ctx, "s1")
	if err != nil {
		t.Fatalf("UseGroupKey() error = %v", err)
	}
	if !current.Equal(first) || !next.Equal(second) {
		t.Fatalf("UseGroupKey() = %v, %v, want %v, %v", current, next, first, second)
	}

	// and later messages use it
	current, next, err = store.UseGroupKey(ctx, "s1")
	if err != nil {
		t.Fatalf("UseGroupKey() error = %v", err)
	}
	if !current.Equal(second) || next != nil {
		t.Errorf("UseGroupKey() = %v, %v, want %v, nil", current, next, second)
	}

	// retired keys stay readable
	old, err := store.GroupKey(ctx, "s1", first.ID)
	if err != nil {
		t.Fatalf("GroupKey() error = %v", err)
	}
	if !old.Equal(first) {
		t.Errorf("GroupKey() = %v, want %v", old, first)
	}
}

func TestGroupKeyStoreQueuedKeyWithoutCurrent(t *testing.T) {
	store := newTestGroupKeyStore(t)
	ctx := context.Background()

	key, _ := crypto.NewGroupKey()
	if err := store.AddGroupKey(ctx, "s1", key, KeyStateNext); err != nil {
		t.Fatalf("AddGroupKey() error = %v", err)
	}

	current, next, err := store.UseGroupKey(ctx, "s1")
	if err != nil {
		t.Fatalf("UseGroupKey() error = %v", err)
	}
	if !current.Equal(key) || next != nil {
		t.Errorf("UseGroupKey() = %v, %v, want %v, nil", current, next, key)
	}
}

func TestGroupKeyStoreAddInvalid(t *testing.T) {
	store := newTestGroupKeyStore(t)
	err := store.AddGroupKey(context.Background(), "s1", &crypto.GroupKey{ID: "k"}, KeyStateCurrent)
	if !errors.Is(err, crypto.ErrInvalidKey) {
		t.Errorf("AddGroupKey() error = %v, want ErrInvalidKey", err)
	}
}

func TestGroupKeyStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.db")
	ctx := context.Background()

	store, err := NewGroupKeyStore(path, nil)
	if err != nil {
		t.Fatalf("NewGroupKeyStore() error = %v", err)
	}
	key, err := store.Rotate(ctx, "s1")
	if err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}
	store.Close()

	reopened, err := NewGroupKeyStore(path, nil)
	if err != nil {
		t.Fatalf("NewGroupKeyStore() reopen error = %v", err)
	}
	defer reopened.Close()

	current, _, err := reopened.UseGroupKey(ctx, "s1")
	if err != nil {
		t.Fatalf("UseGroupKey() error = %v", err)
	}
	if !current.Equal(key) {
		t.Errorf("UseGroupKey() after reopen = %v, want %v", current, key)
	}
}
