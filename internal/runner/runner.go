// Package runner drives cmd/ldapauthd's --batch-csv load-test mode: a pool
// of goroutines repeatedly picks a random credential pair from a loaded
// csvdata.Users set and submits it as an Authenticate request through a
// dispatch.Dispatcher, recording the result in metrics and, for non-Success
// outcomes, an optional fail.Logger. Requests are driven through the same
// dispatcher the daemon itself uses, so a load test exercises the exact
// same code path a real PAM-facing caller would.
package runner

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/croessner/ldapauthd/internal/dispatch"
	"github.com/croessner/ldapauthd/internal/fail"
	"github.com/croessner/ldapauthd/internal/metrics"
	"github.com/croessner/ldapauthd/internal/outcome"
	"github.com/croessner/ldapauthd/internal/secret"
)

// Options configures one load-test run.
type Options struct {
	Concurrency int
	Duration    time.Duration
	// Rate, if > 0, caps the aggregate attempt rate across all workers.
	Rate float64
}

// User is one credential pair drawn from csvdata.Users.
type User struct {
	Username string
	Password string
}

// Runner holds the components required to drive a load-test run.
type Runner struct {
	opts  Options
	d     *dispatch.Dispatcher
	users []User
	m     *metrics.Metrics
	flog  *fail.Logger
}

// New constructs a Runner submitting requests through d.
func New(opts Options, d *dispatch.Dispatcher, users []User, m *metrics.Metrics, flog *fail.Logger) *Runner {
	return &Runner{opts: opts, d: d, users: users, m: m, flog: flog}
}

// Run executes until the configured duration elapses or ctx is canceled.
func (r *Runner) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Duration)
	defer cancel()

	wg := &sync.WaitGroup{}
	wg.Add(r.opts.Concurrency)

	var tick <-chan time.Time
	var ticker *time.Ticker

	if r.opts.Rate > 0 {
		period := time.Duration(float64(time.Second) / r.opts.Rate)
		if period <= 0 {
			period = time.Nanosecond
		}

		ticker = time.NewTicker(period)
		tick = ticker.C

		defer ticker.Stop()
	}

	for i := 0; i < r.opts.Concurrency; i++ {
		go func() {
			defer wg.Done()

			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				if tick != nil {
					select {
					case <-ctx.Done():
						return
					case <-tick:
					}
				}

				r.runOnce(ctx)
			}
		}()
	}

	wg.Wait()

	return ctx.Err()
}

// runOnce submits one Authenticate request for a randomly chosen user.
func (r *Runner) runOnce(ctx context.Context) {
	user := r.users[rand.Intn(len(r.users))]

	start := time.Now()
	status, message := r.d.Submit(ctx, &dispatch.AuthRequest{
		Command: outcome.Authenticate,
		User:    user.Username,
		AuthTok: secret.FromString(user.Password),
	})
	elapsed := time.Since(start)

	r.m.Record(status, elapsed)

	if status != outcome.Success && r.flog != nil {
		r.flog.Log(fail.Record{Timestamp: time.Now(), Username: user.Username, Outcome: status.String(), Message: message})
	}
}
