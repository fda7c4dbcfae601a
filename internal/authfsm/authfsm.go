// Package authfsm implements the authentication state machine (spec.md
// §4.4): it sequences the LDAP I/O primitives, yields to the event loop at
// every point where a result may not yet be available, and maps outcomes
// onto the result taxonomy reported to the dispatcher.
package authfsm

import (
	"context"
	"time"

	"github.com/croessner/ldapauthd/internal/credcache"
	"github.com/croessner/ldapauthd/internal/dispatch"
	"github.com/croessner/ldapauthd/internal/eventloop"
	"github.com/croessner/ldapauthd/internal/ldapio"
	"github.com/croessner/ldapauthd/internal/outcome"
	"github.com/croessner/ldapauthd/internal/secret"
	"github.com/croessner/ldapauthd/internal/session"
)

// stepResult is what a handler reports back to the driving loop in
// Machine.Advance.
type stepResult struct {
	next     session.Step
	notReady bool
	terminal bool
	outcome  outcome.Outcome
	message  string
}

func notReady() stepResult {
	return stepResult{notReady: true}
}

func advanceTo(step session.Step) stepResult {
	return stepResult{next: step}
}

func terminal(out outcome.Outcome, message string) stepResult {
	return stepResult{terminal: true, outcome: out, message: message}
}

type handlerFunc func(m *Machine) stepResult

var handlers = map[session.Step]handlerFunc{
	session.OpInit:              handleOpInit,
	session.CheckInitResult:     handleCheckInitResult,
	session.CheckStdBind:        handleCheckStdBind,
	session.CheckSearchDnResult: handleCheckSearchDnResult,
	session.CheckUserBind:       handleCheckUserBind,
}

// Machine drives one Session to completion and reports through rh exactly
// once (spec.md §8).
type Machine struct {
	sess  *session.Session
	loop  eventloop.EventLoop
	cache credcache.Store
	rh    dispatch.RequestHandle
}

// New constructs a Machine for sess. cache may be nil when credential
// caching is disabled or unavailable.
func New(sess *session.Session, loop eventloop.EventLoop, cache credcache.Store, rh dispatch.RequestHandle) *Machine {
	return &Machine{sess: sess, loop: loop, cache: cache, rh: rh}
}

// Start schedules the first step on a zero-delay timer so the dispatcher
// returns to its caller before any I/O happens (spec.md §4.4 tie-breaks).
func (m *Machine) Start() {
	m.loop.ScheduleTimer(0, m.Advance)
}

// Advance runs the current step's handler and either re-arms a readiness
// watch (NotReady), falls through synchronously into the next step's
// handler (a step that submitted a new operation and transitioned), or
// finishes the session (terminal). There is no switch fall-through; each
// handler returns its successor explicitly (spec.md §9, Design Notes).
func (m *Machine) Advance() {
	for {
		h, ok := handlers[m.sess.NextStep]
		if !ok {
			m.finish(outcome.SystemError, "unknown step")

			return
		}

		r := h(m)

		switch {
		case r.notReady:
			m.loop.WatchReady(m.sess.Conn.Readiness(m.sess.PendingOp), m.Advance)

			return
		case r.terminal:
			m.finish(r.outcome, r.message)

			return
		default:
			m.sess.NextStep = r.next
		}
	}
}

func handleOpInit(m *Machine) stepResult {
	netTimeout := time.Duration(m.sess.Ctx.NetworkTimeoutSecs) * time.Second
	opTimeout := time.Duration(m.sess.Ctx.OpTimeoutSecs) * time.Second

	id, err := m.sess.Conn.Open(m.sess.Ctx.LDAPURI, netTimeout, opTimeout)
	if err != nil {
		return terminal(outcome.SystemError, err.Error())
	}

	m.sess.PendingOp = id

	return advanceTo(session.CheckInitResult)
}

func handleCheckInitResult(m *Machine) stepResult {
	status, res := m.sess.Conn.PollResult(m.sess.PendingOp)
	if status == ldapio.NotReady {
		return notReady()
	}

	if res.Kind != ldapio.KindSuccess {
		return terminal(outcome.FromOpenResult(res.Kind), errString(res.Err))
	}

	if err := m.sess.Conn.InstallTLS(); err != nil {
		return terminal(outcome.SystemError, err.Error())
	}

	dn := m.sess.Ctx.DefaultBindDN
	password := m.sess.Ctx.DefaultAuthtok.Reveal()

	id, err := m.sess.Conn.BindSimple(dn, password)
	if err != nil {
		return terminal(outcome.SystemError, err.Error())
	}

	m.sess.PendingOp = id

	return advanceTo(session.CheckStdBind)
}

func handleCheckStdBind(m *Machine) stepResult {
	status, res := m.sess.Conn.PollResult(m.sess.PendingOp)
	if status == ldapio.NotReady {
		return notReady()
	}

	// Unlike the user bind (step 5), the service bind has no
	// InvalidCredentials carve-out: spec.md §4.4 step 3 maps every
	// non-success result to SystemError.
	if res.Kind != ldapio.KindSuccess {
		return terminal(outcome.SystemError, errString(res.Err))
	}

	req := m.sess.Request

	id, err := m.sess.Conn.SearchUser(m.sess.Ctx.UserSearchBase, m.sess.Ctx.UserNameAttribute, req.User, m.sess.Ctx.UserObjectClass)
	if err != nil {
		return terminal(outcome.SystemError, err.Error())
	}

	m.sess.PendingOp = id

	return advanceTo(session.CheckSearchDnResult)
}

func handleCheckSearchDnResult(m *Machine) stepResult {
	status, res := m.sess.Conn.PollResult(m.sess.PendingOp)
	if status == ldapio.NotReady {
		return notReady()
	}

	if res.Kind != ldapio.KindSuccess {
		return terminal(outcome.SystemError, errString(res.Err))
	}

	if len(res.Entries) > 1 {
		return terminal(outcome.SystemError, "ambiguous user: multiple entries matched")
	}

	if len(res.Entries) == 0 || res.Entries[0].DN == "" {
		return terminal(outcome.UserUnknown, "")
	}

	m.sess.UserDN = res.Entries[0].DN

	if m.sess.Request.Command.IsUserLocateOnly() {
		return terminal(outcome.Success, "")
	}

	id, err := m.sess.Conn.BindSimple(m.sess.UserDN, m.sess.Request.AuthTok.Reveal())
	if err != nil {
		return terminal(outcome.SystemError, err.Error())
	}

	m.sess.PendingOp = id

	return advanceTo(session.CheckUserBind)
}

func handleCheckUserBind(m *Machine) stepResult {
	status, res := m.sess.Conn.PollResult(m.sess.PendingOp)
	if status == ldapio.NotReady {
		return notReady()
	}

	out := outcome.FromBindResult(res.Kind, outcome.Success)
	if out != outcome.Success {
		return terminal(out, errString(res.Err))
	}

	if m.sess.Request.Command != outcome.ChangeAuthTok {
		return terminal(outcome.Success, "")
	}

	id, err := m.sess.Conn.ModifyPassword(
		m.sess.UserDN,
		m.sess.Request.AuthTok.Reveal(),
		m.sess.Request.NewAuthTok.Reveal(),
	)
	if err != nil {
		return terminal(outcome.SystemError, err.Error())
	}

	// modify_password awaits its result synchronously (spec.md §4.3); the
	// production Conn already completes it before returning id.
	_, modifyRes := m.sess.Conn.PollResult(id)

	return terminal(outcome.FromModifyResult(modifyRes.Kind), errString(modifyRes.Err))
}

func errString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}

// finish is the single terminal exit path (spec.md §4.4 step 6, §8): for an
// eligible success it hands off to the credential cache as a detached
// continuation before closing the session; otherwise it closes the session
// and reports immediately.
func (m *Machine) finish(out outcome.Outcome, message string) {
	if out == outcome.Success && m.cachingEligible() {
		password := secret.FromString(m.passwordToCache())

		go m.runCaching(out, message, password)

		return
	}

	m.closeAndComplete(out, message)
}

func (m *Machine) cachingEligible() bool {
	if m.cache == nil || !m.sess.Ctx.CachingEnabled {
		return false
	}

	switch m.sess.Request.Command {
	case outcome.Authenticate, outcome.ChangeAuthTok:
		return true
	default:
		return false
	}
}

func (m *Machine) passwordToCache() string {
	if m.sess.Request.Command == outcome.ChangeAuthTok {
		return m.sess.Request.NewAuthTok.Reveal()
	}

	return m.sess.Request.AuthTok.Reveal()
}

// runCaching is the §4.5 hand-off. Caching errors are logged and never
// demote the already-captured outcome (spec.md §7, §9 Design Notes).
func (m *Machine) runCaching(out outcome.Outcome, message string, password secret.Bytes) {
	defer password.Zero()

	ctx := context.Background()
	domain := m.sess.Ctx.UserSearchBase

	txn, err := m.cache.BeginTransaction(ctx)
	if err != nil {
		m.sess.Log.Error().Err(err).Msg("credential cache: begin transaction failed")
		m.closeAndComplete(out, message)

		return
	}

	if err := txn.SetCachedPassword(ctx, domain, m.sess.Request.User, password); err != nil {
		m.sess.Log.Error().Err(err).Msg("credential cache: set cached password failed")
		_ = txn.Rollback()
		m.closeAndComplete(out, message)

		return
	}

	if err := txn.Commit(); err != nil {
		m.sess.Log.Error().Err(err).Msg("credential cache: commit failed")
	}

	m.closeAndComplete(out, message)
}

func (m *Machine) closeAndComplete(out outcome.Outcome, message string) {
	if err := m.sess.Close(); err != nil {
		m.sess.Log.Error().Err(err).Msg("unbind failed")
	}

	m.rh.Complete(out, message)
}
