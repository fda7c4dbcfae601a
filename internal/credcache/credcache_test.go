package credcache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/croessner/ldapauthd/internal/secret"
)

func TestBoltStoreSetAndCommit(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	txn, err := db.BeginTransaction(context.Background())
	if err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}

	if err := txn.SetCachedPassword(context.Background(), "ou=p,dc=x", "alice", secret.FromString("s3cret")); err != nil {
		t.Fatalf("SetCachedPassword: %v", err)
	}

	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestBoltTxnRollbackIsIdempotent(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	txn, _ := db.BeginTransaction(context.Background())
	if err := txn.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	// A second call after Rollback must not panic or double-close.
	if err := txn.Rollback(); err != nil {
		t.Fatalf("second Rollback: %v", err)
	}
}

func TestFakeStoreCommitPersistsWrites(t *testing.T) {
	store := NewFakeStore()

	txn, err := store.BeginTransaction(context.Background())
	if err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}

	if err := txn.SetCachedPassword(context.Background(), "ou=p,dc=x", "alice", secret.FromString("s3cret")); err != nil {
		t.Fatalf("SetCachedPassword: %v", err)
	}

	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if store.Cached["ou=p,dc=x/alice"] != "s3cret" {
		t.Fatalf("expected cached password, got %+v", store.Cached)
	}
}

func TestFakeStoreRollbackDiscardsWrites(t *testing.T) {
	store := NewFakeStore()

	txn, _ := store.BeginTransaction(context.Background())
	_ = txn.SetCachedPassword(context.Background(), "ou=p,dc=x", "alice", secret.FromString("s3cret"))
	_ = txn.Rollback()

	if _, ok := store.Cached["ou=p,dc=x/alice"]; ok {
		t.Fatalf("rollback should not persist writes")
	}
}
