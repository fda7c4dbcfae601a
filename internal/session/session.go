// Package session holds the per-request mutable state the authentication
// state machine drives: the LDAP connection handle, the current step, the
// discovered user DN, and the borrowed request (spec.md §3, §4.2).
package session

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/croessner/ldapauthd/internal/config"
	"github.com/croessner/ldapauthd/internal/dispatch"
	"github.com/croessner/ldapauthd/internal/ldapio"
)

// Step names each state of the authentication state machine (spec.md §4.4).
type Step int

const (
	OpInit Step = iota
	CheckInitResult
	CheckStdBind
	CheckSearchDnResult
	CheckUserBind
	Done
)

func (s Step) String() string {
	switch s {
	case OpInit:
		return "OpInit"
	case CheckInitResult:
		return "CheckInitResult"
	case CheckStdBind:
		return "CheckStdBind"
	case CheckSearchDnResult:
		return "CheckSearchDnResult"
	case CheckUserBind:
		return "CheckUserBind"
	case Done:
		return "Done"
	default:
		return "Unknown"
	}
}

// Session is constructed once per request and destroyed exactly once, on
// the first terminal exit path (spec.md §3).
type Session struct {
	Ctx     *config.ProviderContext
	Request *dispatch.AuthRequest

	Conn ldapio.Conn

	UserDN    string
	PendingOp ldapio.OpID
	NextStep  Step

	Log zerolog.Logger

	closed bool
}

// New constructs a Session with a fresh connection handle and a child
// logger carrying a per-session correlation id, bound to ctx and req.
func New(ctx *config.ProviderContext, req *dispatch.AuthRequest) *Session {
	return &Session{
		Ctx:      ctx,
		Request:  req,
		Conn:     ldapio.NewConn(),
		NextStep: OpInit,
		Log:      log.With().Str("session_id", uuid.NewString()).Str("user", req.User).Logger(),
	}
}

// Close is idempotent. It unbinds the connection if one is present and
// zeroes the secrets this session holds, on every exit path including
// error (spec.md §3, §8).
func (s *Session) Close() error {
	if s.closed {
		return nil
	}

	s.closed = true

	var err error
	if s.Conn != nil {
		err = s.Conn.Unbind()
	}

	s.Request.AuthTok.Zero()
	s.Request.NewAuthTok.Zero()

	return err
}
