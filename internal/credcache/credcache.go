// Package credcache models the local credential store external
// collaborator (spec.md §4.5, §6): a transactional hand-off that writes
// the just-accepted password after a successful authentication or change,
// without ever being able to alter the outcome already reported.
package credcache

import (
	"context"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/croessner/ldapauthd/internal/secret"
)

// Store opens transactions against the credential store.
type Store interface {
	BeginTransaction(ctx context.Context) (Txn, error)
}

// Txn is one transactional hand-shake: SetCachedPassword copies password
// into the store, Commit or Rollback closes it. Callers must call exactly
// one of Commit/Rollback.
type Txn interface {
	SetCachedPassword(ctx context.Context, domain, username string, password secret.Bytes) error
	Commit() error
	Rollback() error
}

var bucketName = []byte("cached_passwords")

// BoltStore backs Store with go.etcd.io/bbolt: BeginTransaction opens a
// bbolt read-write transaction, whose own commit/rollback semantics map
// directly onto the spec's begin/set/complete hand-shake.
type BoltStore struct {
	db *bbolt.DB
}

// Open opens (creating if absent) a bbolt database at path for credential
// caching.
func Open(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("credcache: open: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) BeginTransaction(ctx context.Context) (Txn, error) {
	tx, err := s.db.Begin(true)
	if err != nil {
		return nil, fmt.Errorf("credcache: begin transaction: %w", err)
	}

	return &boltTxn{tx: tx}, nil
}

type boltTxn struct {
	tx   *bbolt.Tx
	done bool
}

// SetCachedPassword writes password into a per-domain bucket keyed by
// username. The buffer handed in is already a copy freshly allocated by
// the caller (spec.md §4.5 step 2); bbolt keeps a reference to it until
// the transaction is committed or rolled back, so the caller must not zero
// it before then.
func (t *boltTxn) SetCachedPassword(ctx context.Context, domain, username string, password secret.Bytes) error {
	bucket, err := t.tx.CreateBucketIfNotExists(append([]byte(domain+"/"), bucketName...))
	if err != nil {
		return fmt.Errorf("credcache: create bucket: %w", err)
	}

	return bucket.Put([]byte(username), password.Bytes())
}

func (t *boltTxn) Commit() error {
	if t.done {
		return nil
	}

	t.done = true

	return t.tx.Commit()
}

func (t *boltTxn) Rollback() error {
	if t.done {
		return nil
	}

	t.done = true

	return t.tx.Rollback()
}
