package credcache

import (
	"context"
	"sync"

	"github.com/croessner/ldapauthd/internal/secret"
)

// FakeStore is an in-memory Store for tests, following the same
// fake-collaborator pattern used elsewhere in this repo's test suites.
type FakeStore struct {
	mu       sync.Mutex
	Cached   map[string]string // "domain/username" -> password
	BeginErr error
}

// NewFakeStore constructs an empty FakeStore.
func NewFakeStore() *FakeStore {
	return &FakeStore{Cached: make(map[string]string)}
}

// Get returns a cached password written by a committed transaction, safe
// for concurrent use with the caching hand-off's background goroutine.
func (s *FakeStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.Cached[key]

	return v, ok
}

func (s *FakeStore) BeginTransaction(ctx context.Context) (Txn, error) {
	if s.BeginErr != nil {
		return nil, s.BeginErr
	}

	return &fakeTxn{store: s, writes: make(map[string]string)}, nil
}

type fakeTxn struct {
	store  *FakeStore
	writes map[string]string
	done   bool
}

func (t *fakeTxn) SetCachedPassword(ctx context.Context, domain, username string, password secret.Bytes) error {
	t.writes[domain+"/"+username] = string(password.Bytes())

	return nil
}

func (t *fakeTxn) Commit() error {
	if t.done {
		return nil
	}

	t.done = true

	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	for k, v := range t.writes {
		t.store.Cached[k] = v
	}

	return nil
}

func (t *fakeTxn) Rollback() error {
	t.done = true

	return nil
}
