package provider

import (
	"testing"

	"github.com/croessner/ldapauthd/internal/config"
	"github.com/croessner/ldapauthd/internal/eventloop"
)

type mapStore struct {
	strs map[string]string
}

func (m *mapStore) String(key, def string) string {
	if v, ok := m.strs[key]; ok {
		return v
	}

	return def
}

func (m *mapStore) OptionalString(key string) (string, bool) {
	v, ok := m.strs[key]

	return v, ok
}

func (m *mapStore) Int(key string, def int) int { return def }

func TestInitSuccess(t *testing.T) {
	store := &mapStore{strs: map[string]string{"userSearchBase": "ou=p,dc=x"}}

	ops, ctx, err := Init(store, nil, eventloop.New())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	if ops == nil {
		t.Fatalf("expected non-nil Operations")
	}

	if ctx.UserSearchBase != "ou=p,dc=x" {
		t.Fatalf("unexpected context: %+v", ctx)
	}

	ops.Finalize()
}

func TestInitInvalidConfig(t *testing.T) {
	store := &mapStore{strs: map[string]string{}}

	_, _, err := Init(store, nil, eventloop.New())
	if err != config.InvalidConfig {
		t.Fatalf("expected InvalidConfig, got %v", err)
	}
}
