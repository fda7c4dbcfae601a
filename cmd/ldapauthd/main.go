// Command ldapauthd is a standalone demo binary wiring the provider core to
// command-line flags instead of a real pluggable-authentication daemon's
// configuration store and dispatcher (spec.md §6's init entry point,
// exercised end to end). It runs one of three modes: --check verifies
// connectivity and config, --batch-csv drives a concurrent load test of
// Authenticate requests loaded from a CSV file, and the default mode runs a
// single request built from --user/--password/--command.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/croessner/ldapauthd/internal/config"
	"github.com/croessner/ldapauthd/internal/credcache"
	"github.com/croessner/ldapauthd/internal/csvdata"
	"github.com/croessner/ldapauthd/internal/dispatch"
	"github.com/croessner/ldapauthd/internal/eventloop"
	"github.com/croessner/ldapauthd/internal/fail"
	"github.com/croessner/ldapauthd/internal/ldapio"
	"github.com/croessner/ldapauthd/internal/metrics"
	"github.com/croessner/ldapauthd/internal/outcome"
	"github.com/croessner/ldapauthd/internal/provider"
	"github.com/croessner/ldapauthd/internal/report"
	"github.com/croessner/ldapauthd/internal/runner"
	"github.com/croessner/ldapauthd/internal/secret"
)

func main() {
	fs := config.NewFlagStore(pflag.CommandLine)

	fs.RegisterString("ldapUri", "LDAP server URI")
	fs.RegisterString("defaultBindDn", "Service account bind DN used for the user search")
	fs.RegisterString("defaultAuthtok", "Service account password")
	fs.RegisterString("userSearchBase", "Subtree DN under which users live (required)")
	fs.RegisterString("userNameAttribute", "Attribute compared against the username")
	fs.RegisterString("userObjectClass", "Required object class of the user entry")
	fs.RegisterInt("network_timeout", 5, "Network timeout in seconds")
	fs.RegisterInt("opt_timeout", 5, "Operation timeout in seconds")
	fs.RegisterString("tls_reqcert", "TLS certificate requirement: never|allow|try|demand|hard")
	fs.RegisterInt("cache_credentials", 0, "1 enables post-success credential caching")

	cacheDB := pflag.String("cache-db", "", "Path to the bbolt credential cache database (empty disables caching)")
	checkOnly := pflag.Bool("check", false, "Verify StartTLS, service bind, and a user lookup, then exit")
	user := pflag.String("user", "", "Username for the demo request")
	password := pflag.String("password", "", "Current password for the demo request")
	newPassword := pflag.String("new-password", "", "New password, required for --command=changeauthtok")
	commandName := pflag.String("command", "authenticate", "authenticate|changeauthtok|acctmgmt|setcred|opensession|closesession")

	batchCSV := pflag.String("batch-csv", "", "Path to a username,password CSV; runs a concurrent load test instead of one request")
	concurrency := pflag.Int("concurrency", 10, "Worker goroutines for --batch-csv")
	duration := pflag.Duration("duration", 10*time.Second, "Run length for --batch-csv")
	rate := pflag.Float64("rate", 0, "Aggregate attempts/sec cap for --batch-csv (0 = unlimited)")
	failLog := pflag.String("fail-log", "", "Optional CSV path logging every non-Success outcome during --batch-csv")
	reportInterval := pflag.Duration("report-interval", 2*time.Second, "Periodic stats interval for --batch-csv")

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "flag error: %v\n", err)
		os.Exit(2)
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	ctx, err := config.Load(fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(2)
	}

	if *checkOnly {
		if *user == "" {
			fmt.Fprintln(os.Stderr, "--check requires --user")
			os.Exit(2)
		}

		if err := provider.Check(ctx, ldapio.NewConn(), *user); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(2)
		}

		fmt.Println("check: OK")

		return
	}

	var cache credcache.Store
	if *cacheDB != "" {
		store, err := credcache.Open(*cacheDB)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cache error: %v\n", err)
			os.Exit(2)
		}

		defer store.Close()

		cache = store
	}

	loop := eventloop.New()

	ops, _, err := provider.Init(fs, cache, loop)
	if err != nil {
		fmt.Fprintf(os.Stderr, "provider init error: %v\n", err)
		os.Exit(2)
	}

	if *batchCSV != "" {
		d := dispatch.New(ops.HandleAuthRequest, *concurrency)
		defer d.Close()

		runBatch(d, *batchCSV, *concurrency, *duration, *rate, *failLog, *reportInterval)
		ops.Finalize()

		return
	}

	cmd, ok := parseCommand(*commandName)
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown --command %q\n", *commandName)
		os.Exit(2)
	}

	d := dispatch.New(ops.HandleAuthRequest, 4)
	defer d.Close()

	req := &dispatch.AuthRequest{
		Command:    cmd,
		User:       *user,
		AuthTok:    secret.FromString(*password),
		NewAuthTok: secret.FromString(*newPassword),
	}

	status, message := d.Submit(context.Background(), req)

	fmt.Printf("outcome: %s\n", status)
	if message != "" {
		fmt.Printf("message: %s\n", message)
	}

	ops.Finalize()

	if status != outcome.Success {
		os.Exit(1)
	}
}

// runBatch loads csvPath and drives a concurrent load test of Authenticate
// requests through d until duration elapses, printing periodic stats and a
// final summary.
func runBatch(d *dispatch.Dispatcher, csvPath string, concurrency int, duration time.Duration, rate float64, failLogPath string, reportInterval time.Duration) {
	loaded, err := csvdata.Load(csvPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "csv error: %v\n", err)
		os.Exit(2)
	}

	if len(loaded.All) == 0 {
		fmt.Fprintf(os.Stderr, "csv error: no users found in %s\n", csvPath)
		os.Exit(2)
	}

	users := make([]runner.User, 0, len(loaded.All))
	for _, u := range loaded.All {
		users = append(users, runner.User{Username: u.Username, Password: u.Password})
	}

	m := metrics.New()
	flog := fail.New(failLogPath, 256)
	defer flog.Close()

	rep := report.New(m, reportInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go rep.Run(ctx)

	r := runner.New(runner.Options{Concurrency: concurrency, Duration: duration, Rate: rate}, d, users, m, flog)
	if err := r.Run(ctx); err != nil && err != context.DeadlineExceeded {
		fmt.Fprintf(os.Stderr, "batch run error: %v\n", err)
	}

	_, _, _, elapsed := m.Snapshot()
	report.PrintSummary(os.Stdout, m, elapsed)
}

func parseCommand(name string) (outcome.PAMCommand, bool) {
	switch name {
	case "authenticate":
		return outcome.Authenticate, true
	case "changeauthtok":
		return outcome.ChangeAuthTok, true
	case "acctmgmt":
		return outcome.AcctMgmt, true
	case "setcred":
		return outcome.SetCred, true
	case "opensession":
		return outcome.OpenSession, true
	case "closesession":
		return outcome.CloseSession, true
	default:
		return 0, false
	}
}
