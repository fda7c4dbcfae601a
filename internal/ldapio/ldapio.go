// Package ldapio wraps the handful of LDAP protocol operations the
// authentication state machine needs (spec.md §4.3): open, TLS install,
// simple bind, subtree search, and the RFC 3062 password-modify extended
// operation. Each primitive submits its operation and returns an OpID
// immediately; results are collected later via PollResult, non-blocking.
//
// github.com/go-ldap/ldap/v3's public API is synchronous end-to-end, with
// no exposed raw submit/poll pair. goConn, the production Conn, launches
// the blocking library call on its own goroutine at submit time and
// signals completion on a channel keyed by OpID; PollResult performs a
// non-blocking receive on that channel. The state machine driving this
// package (internal/authfsm) never blocks.
package ldapio

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/croessner/ldapauthd/internal/config"
)

// OpID identifies a submitted-but-not-yet-polled LDAP operation.
type OpID uint64

// PollStatus is the outcome of a non-blocking PollResult call.
type PollStatus int

const (
	// NotReady means the operation has not yet completed; the caller
	// should re-arm its watch on Readiness(id) and try again later.
	NotReady PollStatus = iota
	// Done means Result is populated and the OpID has been retired.
	Done
)

// ResultKind classifies a completed operation's outcome into the handful of
// categories the state machine distinguishes, independent of which Conn
// implementation (goConn or a test stub) produced it.
type ResultKind int

const (
	KindSuccess ResultKind = iota
	KindInvalidCredentials
	KindServerDown
	KindFailure
)

// SearchEntry is the minimal shape returned by SearchUser: spec.md §4.3
// requests no attributes, so only the DN is meaningful.
type SearchEntry struct {
	DN string
}

// Result is the outcome of a completed operation.
type Result struct {
	Kind ResultKind
	// Err carries the underlying error for logging; nil on KindSuccess.
	Err error
	// Entries is populated only for SearchUser results.
	Entries []SearchEntry
}

// Conn is the set of async LDAP I/O primitives the state machine drives.
// goConn is the only production implementation; tests substitute a fake.
type Conn interface {
	// Open initializes the handle, sets protocol version 3, network and
	// operation timeouts, and submits StartTLS. Returns the OpID of the
	// StartTLS request.
	Open(uri string, networkTimeout, opTimeout time.Duration) (OpID, error)
	// InstallTLS completes TLS negotiation after the StartTLS result has
	// been polled and found successful. Called exactly once.
	InstallTLS() error
	// BindSimple submits a simple bind. dn/password may both be empty for
	// an anonymous bind; this provider always supplies credentials when
	// available.
	BindSimple(dn, password string) (OpID, error)
	// SearchUser submits a subtree search with filter
	// (&(<nameAttr>=<name>)(objectclass=<objectClass>)), requesting no
	// attributes.
	SearchUser(base, nameAttr, name, objectClass string) (OpID, error)
	// ModifyPassword submits the RFC 3062 password-modify extended
	// operation. May complete synchronously; still returns a pollable
	// OpID for interface uniformity.
	ModifyPassword(dn, oldPassword, newPassword string) (OpID, error)
	// PollResult performs a non-blocking check for id's result.
	PollResult(id OpID) (PollStatus, Result)
	// Readiness returns a channel that becomes readable (closes) once id's
	// result is available, for the caller to hand to an event loop's
	// WatchReady.
	Readiness(id OpID) <-chan struct{}
	// Unbind closes the connection. Idempotent.
	Unbind() error
}

// goConn is the production Conn backed by go-ldap/v3.
type goConn struct {
	mu      sync.Mutex
	conn    *ldap.Conn
	nextID  uint64
	pending map[OpID]*opState
	unbound atomic.Bool
}

type opState struct {
	done   chan struct{}
	result Result
}

// NewConn constructs an unopened Conn. Call Open before any other method.
func NewConn() Conn {
	return &goConn{pending: make(map[OpID]*opState)}
}

func (c *goConn) allocate() (OpID, *opState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := OpID(c.nextID)
	st := &opState{done: make(chan struct{})}
	c.pending[id] = st

	return id, st
}

func (c *goConn) complete(st *opState, res Result) {
	st.result = res
	close(st.done)
}

// classify maps a go-ldap error onto a backend-agnostic ResultKind.
func classify(err error) ResultKind {
	if err == nil {
		return KindSuccess
	}

	var ldapErr *ldap.Error
	if errors.As(err, &ldapErr) {
		switch {
		case ldapErr.ResultCode == ldap.LDAPResultInvalidCredentials:
			return KindInvalidCredentials
		case ldapErr.ResultCode == ldap.ErrorNetwork:
			return KindServerDown
		}
	}

	return KindFailure
}

func tlsConfigFor() *tls.Config {
	cfg := &tls.Config{}

	switch config.GlobalTLSRequireCert() {
	case config.TLSRequireCertNever, config.TLSRequireCertAllow, config.TLSRequireCertTry:
		cfg.InsecureSkipVerify = true
	case config.TLSRequireCertDemand, config.TLSRequireCertHard, config.TLSRequireCertUnset:
		// verify normally
	}

	return cfg
}

// Open dials uri, sets LDAPv3, applies the network and operation timeouts,
// and submits StartTLS asynchronously. A dial failure is classified via
// classify and surfaced through the returned OpID's first poll, exactly
// like any other submitted operation — SERVER_DOWN maps to KindServerDown.
func (c *goConn) Open(uri string, networkTimeout, opTimeout time.Duration) (OpID, error) {
	id, st := c.allocate()

	conn, err := ldap.DialURL(uri, ldap.DialWithDialer(&net.Dialer{Timeout: networkTimeout}))
	if err != nil {
		c.complete(st, Result{Kind: classify(err), Err: err})

		return id, nil
	}

	conn.SetTimeout(opTimeout)

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go func() {
		err := conn.StartTLS(tlsConfigFor())
		c.complete(st, Result{Kind: classify(err), Err: err})
	}()

	return id, nil
}

// InstallTLS is a no-op: go-ldap's StartTLS (launched by Open) performs the
// extended-operation round trip and the TLS handshake in one synchronous
// call, so by the time the StartTLS OpID polls Done the connection is
// already wrapped. The method is kept so internal/authfsm's step sequence
// matches spec.md §4.3/§4.4 exactly, and so a future swap to a client
// library with a genuinely separable handshake only changes this method.
func (c *goConn) InstallTLS() error { return nil }

func (c *goConn) BindSimple(dn, password string) (OpID, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return 0, fmt.Errorf("ldapio: bind before open")
	}

	id, st := c.allocate()

	go func() {
		err := conn.Bind(dn, password)
		c.complete(st, Result{Kind: classify(err), Err: err})
	}()

	return id, nil
}

func (c *goConn) SearchUser(base, nameAttr, name, objectClass string) (OpID, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return 0, fmt.Errorf("ldapio: search before open")
	}

	filter := fmt.Sprintf("(&(%s=%s)(objectclass=%s))",
		ldap.EscapeFilter(nameAttr), ldap.EscapeFilter(name), ldap.EscapeFilter(objectClass))

	req := ldap.NewSearchRequest(
		base,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		filter,
		[]string{"1.1"}, // RFC 4511 "no attributes"
		nil,
	)

	id, st := c.allocate()

	go func() {
		res, err := conn.Search(req)
		if err != nil {
			c.complete(st, Result{Kind: classify(err), Err: err})

			return
		}

		entries := make([]SearchEntry, 0, len(res.Entries))
		for _, e := range res.Entries {
			entries = append(entries, SearchEntry{DN: e.DN})
		}

		c.complete(st, Result{Kind: KindSuccess, Entries: entries})
	}()

	return id, nil
}

func (c *goConn) ModifyPassword(dn, oldPassword, newPassword string) (OpID, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return 0, fmt.Errorf("ldapio: modify password before open")
	}

	id, st := c.allocate()

	req := ldap.NewPasswordModifyRequest(dn, oldPassword, newPassword)
	_, err := conn.PasswordModify(req)
	c.complete(st, Result{Kind: classify(err), Err: err})

	return id, nil
}

func (c *goConn) PollResult(id OpID) (PollStatus, Result) {
	c.mu.Lock()
	st, ok := c.pending[id]
	c.mu.Unlock()

	if !ok {
		return Done, Result{Kind: KindFailure, Err: fmt.Errorf("ldapio: unknown op %d", id)}
	}

	select {
	case <-st.done:
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()

		return Done, st.result
	default:
		return NotReady, Result{}
	}
}

func (c *goConn) Readiness(id OpID) <-chan struct{} {
	c.mu.Lock()
	st, ok := c.pending[id]
	c.mu.Unlock()

	if !ok {
		closed := make(chan struct{})
		close(closed)

		return closed
	}

	return st.done
}

func (c *goConn) Unbind() error {
	if !c.unbound.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	return conn.Unbind()
}
