package provider

// Check performs a short connectivity/config verification — StartTLS,
// service bind, and a lookup for one example user — outside the async
// state machine, for a --check CLI mode.

import (
	"fmt"
	"time"

	"github.com/croessner/ldapauthd/internal/config"
	"github.com/croessner/ldapauthd/internal/ldapio"
)

// Check dials conn against ctx and verifies the service bind and a search
// for username succeed. It busy-polls with a short sleep between attempts,
// acceptable for a one-shot CLI invocation (unlike the core state machine,
// which never busy-waits).
func Check(ctx *config.ProviderContext, conn ldapio.Conn, username string) error {
	netTimeout := time.Duration(ctx.NetworkTimeoutSecs) * time.Second
	opTimeout := time.Duration(ctx.OpTimeoutSecs) * time.Second

	id, err := conn.Open(ctx.LDAPURI, netTimeout, opTimeout)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}

	if res := pollUntilDone(conn, id); res.Kind != ldapio.KindSuccess {
		return fmt.Errorf("starttls failed: %w", res.Err)
	}

	if err := conn.InstallTLS(); err != nil {
		return fmt.Errorf("install tls: %w", err)
	}

	fmt.Println("OK: StartTLS")

	id, err = conn.BindSimple(ctx.DefaultBindDN, ctx.DefaultAuthtok.Reveal())
	if err != nil {
		return fmt.Errorf("service bind: %w", err)
	}

	if res := pollUntilDone(conn, id); res.Kind != ldapio.KindSuccess {
		return fmt.Errorf("service bind failed: %w", res.Err)
	}

	fmt.Println("OK: service bind")

	id, err = conn.SearchUser(ctx.UserSearchBase, ctx.UserNameAttribute, username, ctx.UserObjectClass)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	res := pollUntilDone(conn, id)
	if res.Kind != ldapio.KindSuccess {
		return fmt.Errorf("search failed: %w", res.Err)
	}

	if len(res.Entries) == 0 || res.Entries[0].DN == "" {
		return fmt.Errorf("search: user %q not found", username)
	}

	fmt.Printf("OK: found %s\n", res.Entries[0].DN)

	return conn.Unbind()
}

func pollUntilDone(conn ldapio.Conn, id ldapio.OpID) ldapio.Result {
	for {
		status, res := conn.PollResult(id)
		if status == ldapio.Done {
			return res
		}

		time.Sleep(10 * time.Millisecond)
	}
}
