package authfsm

import (
	"testing"
	"time"

	"github.com/croessner/ldapauthd/internal/config"
	"github.com/croessner/ldapauthd/internal/credcache"
	"github.com/croessner/ldapauthd/internal/dispatch"
	"github.com/croessner/ldapauthd/internal/eventloop"
	"github.com/croessner/ldapauthd/internal/ldapio"
	"github.com/croessner/ldapauthd/internal/outcome"
	"github.com/croessner/ldapauthd/internal/secret"
	"github.com/croessner/ldapauthd/internal/session"
)

type fakeRH struct {
	req     *dispatch.AuthRequest
	done    chan struct{}
	status  outcome.Outcome
	message string
}

func newFakeRH(req *dispatch.AuthRequest) *fakeRH {
	return &fakeRH{req: req, done: make(chan struct{})}
}

func (f *fakeRH) Request() *dispatch.AuthRequest { return f.req }

func (f *fakeRH) Complete(status outcome.Outcome, message string) {
	f.status = status
	f.message = message
	close(f.done)
}

func baseCtx() *config.ProviderContext {
	return &config.ProviderContext{
		LDAPURI:            "ldap://stub",
		DefaultBindDN:      "cn=svc",
		HasDefaultBindDN:   true,
		DefaultAuthtok:     secret.FromString("svcpw"),
		UserSearchBase:     "ou=p,dc=x",
		UserNameAttribute:  "uid",
		UserObjectClass:    "posixAccount",
		NetworkTimeoutSecs: 5,
		OpTimeoutSecs:      5,
	}
}

func newAliceDirectory() *ldapio.Directory {
	dir := ldapio.NewDirectory()
	dir.Put("alice", ldapio.DirectoryEntry{DN: "uid=alice,ou=p,dc=x", Password: "s3cret"})

	return dir
}

func run(t *testing.T, ctx *config.ProviderContext, conn *ldapio.StubConn, req *dispatch.AuthRequest, cache credcache.Store) *fakeRH {
	t.Helper()

	sess := session.New(ctx, req)
	sess.Conn = conn

	rh := newFakeRH(req)
	m := New(sess, eventloop.New(), cache, rh)
	m.Start()

	select {
	case <-rh.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("machine did not complete in time")
	}

	return rh
}

func TestHappyPathAuth(t *testing.T) {
	ctx := baseCtx()
	ctx.CachingEnabled = true
	dir := newAliceDirectory()
	conn := ldapio.NewStubConn(dir, "cn=svc", "svcpw", false, 0)
	cache := credcache.NewFakeStore()

	req := &dispatch.AuthRequest{Command: outcome.Authenticate, User: "alice", AuthTok: secret.FromString("s3cret")}
	rh := run(t, ctx, conn, req, cache)

	if rh.status != outcome.Success {
		t.Fatalf("expected Success, got %v (%s)", rh.status, rh.message)
	}

	waitForCache(t, cache, "ou=p,dc=x/alice", "s3cret")
}

func TestWrongPassword(t *testing.T) {
	ctx := baseCtx()
	dir := newAliceDirectory()
	conn := ldapio.NewStubConn(dir, "cn=svc", "svcpw", false, 0)

	req := &dispatch.AuthRequest{Command: outcome.Authenticate, User: "alice", AuthTok: secret.FromString("wrong")}
	rh := run(t, ctx, conn, req, nil)

	if rh.status != outcome.BadCredentials {
		t.Fatalf("expected BadCredentials, got %v", rh.status)
	}
}

func TestUnknownUser(t *testing.T) {
	ctx := baseCtx()
	dir := newAliceDirectory()
	conn := ldapio.NewStubConn(dir, "cn=svc", "svcpw", false, 0)

	req := &dispatch.AuthRequest{Command: outcome.Authenticate, User: "ghost", AuthTok: secret.FromString("x")}
	rh := run(t, ctx, conn, req, nil)

	if rh.status != outcome.UserUnknown {
		t.Fatalf("expected UserUnknown, got %v", rh.status)
	}
}

func TestServerDown(t *testing.T) {
	ctx := baseCtx()
	conn := ldapio.NewStubConn(ldapio.NewDirectory(), "cn=svc", "svcpw", true, 0)

	req := &dispatch.AuthRequest{Command: outcome.Authenticate, User: "alice", AuthTok: secret.FromString("x")}
	rh := run(t, ctx, conn, req, nil)

	if rh.status != outcome.ServiceUnavailable {
		t.Fatalf("expected ServiceUnavailable, got %v", rh.status)
	}
}

func TestPasswordChangeThenAuth(t *testing.T) {
	ctx := baseCtx()
	ctx.CachingEnabled = true
	dir := newAliceDirectory()
	cache := credcache.NewFakeStore()

	conn1 := ldapio.NewStubConn(dir, "cn=svc", "svcpw", false, 0)
	changeReq := &dispatch.AuthRequest{
		Command:    outcome.ChangeAuthTok,
		User:       "alice",
		AuthTok:    secret.FromString("s3cret"),
		NewAuthTok: secret.FromString("n3w"),
	}

	rh1 := run(t, ctx, conn1, changeReq, cache)
	if rh1.status != outcome.Success {
		t.Fatalf("expected Success on change, got %v (%s)", rh1.status, rh1.message)
	}

	waitForCache(t, cache, "ou=p,dc=x/alice", "n3w")

	conn2 := ldapio.NewStubConn(dir, "cn=svc", "svcpw", false, 0)
	authReq := &dispatch.AuthRequest{Command: outcome.Authenticate, User: "alice", AuthTok: secret.FromString("n3w")}

	rh2 := run(t, ctx, conn2, authReq, cache)
	if rh2.status != outcome.Success {
		t.Fatalf("expected Success re-authenticating with new password, got %v", rh2.status)
	}
}

func TestNonAuthCommandSkipsUserBind(t *testing.T) {
	ctx := baseCtx()
	dir := newAliceDirectory()
	conn := ldapio.NewStubConn(dir, "cn=svc", "svcpw", false, 0)

	req := &dispatch.AuthRequest{Command: outcome.AcctMgmt, User: "alice"}
	rh := run(t, ctx, conn, req, nil)

	if rh.status != outcome.Success {
		t.Fatalf("expected Success, got %v", rh.status)
	}

	if conn.ServiceBindCount != 1 {
		t.Fatalf("expected exactly one service bind, got %d", conn.ServiceBindCount)
	}

	if conn.UserBindCount != 0 {
		t.Fatalf("expected no user bind, got %d", conn.UserBindCount)
	}
}

func TestAmbiguousSearchIsSystemError(t *testing.T) {
	ctx := baseCtx()
	dir := newAliceDirectory()
	dir.MakeAmbiguous("alice", ldapio.DirectoryEntry{DN: "uid=alice,ou=other,dc=x", Password: "s3cret"})

	conn := ldapio.NewStubConn(dir, "cn=svc", "svcpw", false, 0)

	req := &dispatch.AuthRequest{Command: outcome.Authenticate, User: "alice", AuthTok: secret.FromString("s3cret")}
	rh := run(t, ctx, conn, req, nil)

	if rh.status != outcome.SystemError {
		t.Fatalf("expected SystemError for ambiguous search, got %v", rh.status)
	}
}

func TestSearchEntryWithEmptyDNIsUserUnknown(t *testing.T) {
	ctx := baseCtx()
	dir := ldapio.NewDirectory()
	dir.Put("alice", ldapio.DirectoryEntry{DN: "", Password: "s3cret"})

	conn := ldapio.NewStubConn(dir, "cn=svc", "svcpw", false, 0)

	req := &dispatch.AuthRequest{Command: outcome.Authenticate, User: "alice", AuthTok: secret.FromString("s3cret")}
	rh := run(t, ctx, conn, req, nil)

	if rh.status != outcome.UserUnknown {
		t.Fatalf("expected UserUnknown for empty DN, got %v", rh.status)
	}
}

func TestSecretsZeroedAfterCompletion(t *testing.T) {
	ctx := baseCtx()
	dir := newAliceDirectory()
	conn := ldapio.NewStubConn(dir, "cn=svc", "svcpw", false, 0)

	req := &dispatch.AuthRequest{Command: outcome.Authenticate, User: "alice", AuthTok: secret.FromString("s3cret")}
	run(t, ctx, conn, req, nil)

	if !req.AuthTok.Empty() {
		t.Fatalf("expected AuthTok to be zeroed after session close")
	}
}

func waitForCache(t *testing.T, cache *credcache.FakeStore, key, want string) {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		got, ok := cache.Get(key)

		if ok {
			if got != want {
				t.Fatalf("cached password for %s: got %q, want %q", key, got, want)
			}

			return
		}

		select {
		case <-deadline:
			t.Fatalf("timed out waiting for credential cache write of %s", key)
		case <-time.After(5 * time.Millisecond):
		}
	}
}
