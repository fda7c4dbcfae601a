// Package provider wires the config loader, credential cache, and event
// loop together behind the dispatcher-facing Operations vtable (spec.md
// §6's init entry point).
package provider

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/croessner/ldapauthd/internal/authfsm"
	"github.com/croessner/ldapauthd/internal/config"
	"github.com/croessner/ldapauthd/internal/credcache"
	"github.com/croessner/ldapauthd/internal/dispatch"
	"github.com/croessner/ldapauthd/internal/eventloop"
	"github.com/croessner/ldapauthd/internal/session"
)

// Operations is the Go rendition of spec.md §6's upstream vtable.
type Operations interface {
	HandleAuthRequest(ctx context.Context, rh dispatch.RequestHandle)
	Finalize()
}

type provider struct {
	ctx   *config.ProviderContext
	cache credcache.Store
	loop  eventloop.EventLoop
}

// Init loads configuration from store and returns the Operations vtable
// along with the resulting ProviderContext, mirroring spec.md §6's
// `init(config_store) -> (operations_vtable, provider_context)`. cache may
// be nil to disable credential caching regardless of ctx.CachingEnabled.
func Init(store config.Store, cache credcache.Store, loop eventloop.EventLoop) (Operations, *config.ProviderContext, error) {
	ctx, err := config.Load(store)
	if err != nil {
		return nil, nil, err
	}

	log.Info().
		Str("ldap_uri", ctx.LDAPURI).
		Str("user_search_base", ctx.UserSearchBase).
		Bool("caching_enabled", ctx.CachingEnabled).
		Msg("provider initialized")

	return &provider{ctx: ctx, cache: cache, loop: loop}, ctx, nil
}

// HandleAuthRequest constructs a session for the request and starts its
// state machine. It returns immediately; rh.Complete is invoked exactly
// once, asynchronously, by the state machine's terminal handler.
func (p *provider) HandleAuthRequest(_ context.Context, rh dispatch.RequestHandle) {
	sess := session.New(p.ctx, rh.Request())
	m := authfsm.New(sess, p.loop, p.cache, rh)
	m.Start()
}

// Finalize is a no-op: every session owns and releases its own connection
// and secrets (spec.md §4.2); there is no process-wide resource the
// provider itself must release at shutdown.
func (p *provider) Finalize() {}
