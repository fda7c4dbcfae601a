// Package report prints periodic statistics and a final summary for
// cmd/ldapauthd's --batch-csv load-test mode, broken down by the
// five-outcome taxonomy instead of a bare success/fail split.
package report

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/croessner/ldapauthd/internal/metrics"
)

// Reporter periodically prints stats to stdout.
type Reporter struct {
	m       *metrics.Metrics
	intv    time.Duration
	stopped atomic.Bool
}

// New creates a new Reporter instance.
func New(m *metrics.Metrics, intv time.Duration) *Reporter { return &Reporter{m: m, intv: intv} }

// Run starts the periodic reporting loop until the context is canceled.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.intv)
	defer ticker.Stop()

	var lastAtt int64
	var lastSuc int64
	var lastAt = time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			att := r.m.Attempts.Load()
			suc, _, _, _, _ := r.m.OutcomeCounts()

			deltaAtt := att - lastAtt
			deltaSuc := suc - lastSuc

			dur := t.Sub(lastAt).Seconds()

			var rps, arps float64
			if dur > 0 {
				rps = float64(deltaSuc) / dur
				arps = float64(deltaAtt) / dur
			}

			var successRate float64
			if att > 0 {
				successRate = (float64(suc) / float64(att)) * 100
			}

			fmt.Printf("[stats] elapsed=%v attempts=%d success=%d rps=%.2f arps=%.2f srate=%.2f%%\n",
				time.Since(r.m.Start).Truncate(time.Second), att, suc, rps, arps, successRate)

			lastAtt = att
			lastSuc = suc
			lastAt = t
		}
	}
}

// Stop marks the reporter stopped (placeholder for future use).
func (r *Reporter) Stop() { r.stopped.Store(true) }

// PrintSummary writes the final summary, including the per-outcome
// breakdown, to w.
func PrintSummary(w io.Writer, m *metrics.Metrics, elapsed time.Duration) {
	att := m.Attempts.Load()
	success, badCredentials, userUnknown, serviceUnavailable, systemError := m.OutcomeCounts()

	var rps float64
	if elapsed > 0 {
		rps = float64(success) / elapsed.Seconds()
	}

	fmt.Fprintf(w, "\n==== Summary ====\n")
	fmt.Fprintf(w, "elapsed: %v\n", elapsed.Truncate(time.Millisecond))
	fmt.Fprintf(w, "attempts: %d\n", att)
	fmt.Fprintf(w, "success: %d\n", success)
	fmt.Fprintf(w, "bad_credentials: %d\n", badCredentials)
	fmt.Fprintf(w, "user_unknown: %d\n", userUnknown)
	fmt.Fprintf(w, "service_unavailable: %d\n", serviceUnavailable)
	fmt.Fprintf(w, "system_error: %d\n", systemError)
	fmt.Fprintf(w, "avg rps (success): %.2f\n", rps)
}
