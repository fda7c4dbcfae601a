package ldapio

import (
	"testing"

	"github.com/croessner/ldapauthd/internal/config"
)

func TestPollResultUnknownOp(t *testing.T) {
	c := NewConn()

	status, res := c.PollResult(OpID(9999))
	if status != Done {
		t.Fatalf("expected Done for unknown op, got %v", status)
	}

	if res.Err == nil {
		t.Fatalf("expected error for unknown op")
	}
}

func TestUnbindIdempotentWithoutOpen(t *testing.T) {
	c := NewConn()

	if err := c.Unbind(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := c.Unbind(); err != nil {
		t.Fatalf("unexpected error on second unbind: %v", err)
	}
}

func TestBindBeforeOpenFails(t *testing.T) {
	c := NewConn()

	if _, err := c.BindSimple("cn=x", "pw"); err == nil {
		t.Fatalf("expected error binding before open")
	}
}

func TestSearchBeforeOpenFails(t *testing.T) {
	c := NewConn()

	if _, err := c.SearchUser("dc=x", "uid", "alice", "posixAccount"); err == nil {
		t.Fatalf("expected error searching before open")
	}
}

func TestTLSConfigForRespectsGlobalOption(t *testing.T) {
	ctx := &config.ProviderContext{TLSRequireCert: config.TLSRequireCertNever, HasTLSRequireCert: true}
	config.ApplyGlobalTLSOption(ctx)

	if !tlsConfigFor().InsecureSkipVerify {
		t.Fatalf("expected InsecureSkipVerify for Never")
	}

	ctx = &config.ProviderContext{TLSRequireCert: config.TLSRequireCertHard, HasTLSRequireCert: true}
	config.ApplyGlobalTLSOption(ctx)

	if tlsConfigFor().InsecureSkipVerify {
		t.Fatalf("expected verification for Hard")
	}
}

func TestReadinessOnUnknownOpIsClosed(t *testing.T) {
	c := NewConn()

	select {
	case <-c.Readiness(OpID(42)):
	default:
		t.Fatalf("expected closed channel for unknown op")
	}
}
