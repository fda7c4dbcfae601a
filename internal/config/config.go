// Package config reads and validates the provider's parameters once at
// init, producing the immutable ProviderContext shared by every session.
package config

import (
	"strings"

	"github.com/croessner/ldapauthd/internal/secret"
)

// InitError distinguishes failure modes of provider initialization
// (spec.md §7's init entry point: "surfaces InvalidConfig / OutOfMemory /
// IoError distinctly"). Modeled as a small enum rather than sentinel errors
// so callers can switch on it the way they switch on outcome.Outcome.
type InitError int

const (
	InvalidConfig InitError = iota
	OutOfMemory
	IoError
)

func (e InitError) Error() string {
	switch e {
	case InvalidConfig:
		return "invalid config"
	case OutOfMemory:
		return "out of memory"
	case IoError:
		return "io error"
	default:
		return "init error"
	}
}

// TLSRequireCert mirrors the LDAP_OPT_X_TLS_REQUIRE_CERT enum. It is applied
// as a library-global option at init time (see ApplyGlobalTLSOption),
// mirroring libldap, where this option cannot be set per connection.
type TLSRequireCert int

const (
	// TLSRequireCertUnset means tls_reqcert was not set; the library's
	// current global default is left untouched.
	TLSRequireCertUnset TLSRequireCert = iota
	TLSRequireCertNever
	TLSRequireCertAllow
	TLSRequireCertTry
	TLSRequireCertDemand
	TLSRequireCertHard
)

func parseTLSRequireCert(s string) (TLSRequireCert, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "never":
		return TLSRequireCertNever, true
	case "allow":
		return TLSRequireCertAllow, true
	case "try":
		return TLSRequireCertTry, true
	case "demand":
		return TLSRequireCertDemand, true
	case "hard":
		return TLSRequireCertHard, true
	default:
		return TLSRequireCertUnset, false
	}
}

// Store is the injected external collaborator supplying named
// string/integer configuration parameters. Production deployments wire this
// to whatever the host daemon's config subsystem looks like; the demo
// binary (cmd/ldapauthd) wires it to command-line flags via FlagStore.
type Store interface {
	// String returns the named parameter, or def if unset.
	String(key, def string) string
	// OptionalString returns the named parameter and true if it was set
	// (even to an empty string), or ("", false) if it was never set.
	OptionalString(key string) (string, bool)
	// Int returns the named integer parameter, or def if unset or unparsable.
	Int(key string, def int) int
}

// ProviderContext is the immutable, process-scoped configuration every
// session is constructed against (spec.md §3). It never changes after Load
// returns.
type ProviderContext struct {
	LDAPURI string

	DefaultBindDN    string
	HasDefaultBindDN bool

	DefaultAuthtok     secret.Bytes
	DefaultAuthtokType string

	UserSearchBase    string
	UserNameAttribute string
	UserObjectClass   string

	NetworkTimeoutSecs int
	OpTimeoutSecs      int

	TLSRequireCert    TLSRequireCert
	HasTLSRequireCert bool

	// CachingEnabled toggles the §4.5 credential-caching hand-off for
	// eligible successful Authenticate/ChangeAuthTok requests. Not part of
	// spec.md's original field list; an expansion required to exercise
	// component E from the config layer.
	CachingEnabled bool
}

// Config namespace, names exactly as listed in spec.md §6.
const (
	keyLDAPURI           = "ldapUri"
	keyDefaultBindDN      = "defaultBindDn"
	keyDefaultAuthtokType = "defaultAuthtokType"
	keyDefaultAuthtok     = "defaultAuthtok"
	keyUserSearchBase     = "userSearchBase"
	keyUserNameAttribute  = "userNameAttribute"
	keyUserObjectClass    = "userObjectClass"
	keyNetworkTimeout     = "network_timeout"
	keyOptTimeout         = "opt_timeout"
	keyTLSReqCert         = "tls_reqcert"
	keyCachingEnabled     = "cache_credentials"
)

// globalTLSRequireCert is the library-global TLS option applied once by
// ApplyGlobalTLSOption. It is deliberately process-scoped (spec.md §4.1,
// §9): internal/ldapio reads it each time it builds a StartTLS config, so
// Load must run before a connection is opened for the option to apply to
// that connection.
var globalTLSRequireCert = TLSRequireCertUnset

// Load reads each named parameter from store, validates it, and returns the
// immutable ProviderContext. It applies tls_reqcert as a library-global
// option before returning (never per-connection — see
// ApplyGlobalTLSOption). Unlike the original C source, network_timeout and
// opt_timeout are kept as two independent fields (Design Notes open
// question 1: the original's overwrite of one by the other was a bug, not
// intended behavior).
func Load(store Store) (*ProviderContext, error) {
	ctx := &ProviderContext{
		LDAPURI:            store.String(keyLDAPURI, "ldap://localhost"),
		UserSearchBase:     store.String(keyUserSearchBase, ""),
		UserNameAttribute:  store.String(keyUserNameAttribute, "uid"),
		UserObjectClass:    store.String(keyUserObjectClass, "posixAccount"),
		NetworkTimeoutSecs: store.Int(keyNetworkTimeout, 5),
		OpTimeoutSecs:      store.Int(keyOptTimeout, 5),
		CachingEnabled:     store.Int(keyCachingEnabled, 0) != 0,
	}

	if ctx.UserSearchBase == "" {
		return nil, InvalidConfig
	}

	if dn, ok := store.OptionalString(keyDefaultBindDN); ok {
		ctx.DefaultBindDN = dn
		ctx.HasDefaultBindDN = true
	}

	ctx.DefaultAuthtokType = store.String(keyDefaultAuthtokType, "")

	if tok, ok := store.OptionalString(keyDefaultAuthtok); ok {
		ctx.DefaultAuthtok = secret.FromString(tok)
	}

	if raw, ok := store.OptionalString(keyTLSReqCert); ok {
		parsed, valid := parseTLSRequireCert(raw)
		if !valid {
			return nil, InvalidConfig
		}

		ctx.TLSRequireCert = parsed
		ctx.HasTLSRequireCert = true
	}

	ApplyGlobalTLSOption(ctx)

	return ctx, nil
}

// ApplyGlobalTLSOption snapshots ctx.TLSRequireCert into the process-global
// equivalent of LDAP_OPT_X_TLS_REQUIRE_CERT. Idempotent; each connection
// uses the value applied by the last call before it was opened. Load calls
// it automatically.
func ApplyGlobalTLSOption(ctx *ProviderContext) {
	if ctx.HasTLSRequireCert {
		globalTLSRequireCert = ctx.TLSRequireCert
	}
}

// GlobalTLSRequireCert returns the value last applied by
// ApplyGlobalTLSOption, for internal/ldapio to honor when building the TLS
// config used by StartTLS.
func GlobalTLSRequireCert() TLSRequireCert {
	return globalTLSRequireCert
}
