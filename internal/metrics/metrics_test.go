package metrics

import (
	"testing"
	"time"

	"github.com/croessner/ldapauthd/internal/outcome"
)

func TestNewAndSnapshot(t *testing.T) {
	m := New()
	if time.Since(m.Start) > time.Second {
		t.Fatalf("unexpected start time: %v", m.Start)
	}

	m.Record(outcome.Success, time.Millisecond)
	m.Record(outcome.BadCredentials, time.Millisecond)

	att, suc, fal, el := m.Snapshot()
	if att != 2 || suc != 1 || fal != 1 {
		t.Fatalf("snapshot mismatch: got %d/%d/%d", att, suc, fal)
	}

	if el <= 0 {
		t.Fatalf("elapsed should be > 0, got %v", el)
	}
}

func TestOutcomeCounts(t *testing.T) {
	m := New()

	m.Record(outcome.Success, time.Millisecond)
	m.Record(outcome.BadCredentials, time.Millisecond)
	m.Record(outcome.UserUnknown, time.Millisecond)
	m.Record(outcome.ServiceUnavailable, time.Millisecond)
	m.Record(outcome.SystemError, time.Millisecond)

	suc, bad, unk, unavail, sysErr := m.OutcomeCounts()
	if suc != 1 || bad != 1 || unk != 1 || unavail != 1 || sysErr != 1 {
		t.Fatalf("unexpected outcome counts: %d/%d/%d/%d/%d", suc, bad, unk, unavail, sysErr)
	}
}

func TestLatencyRecorderWindow(t *testing.T) {
	l := NewLatencyRecorder(100)

	l.Record(10 * time.Millisecond)
	l.Record(20 * time.Millisecond)
	l.Record(30 * time.Millisecond)

	stats := l.WindowSnapshotAndReset()
	if stats.Count != 3 {
		t.Fatalf("expected count 3, got %d", stats.Count)
	}

	if stats.Avg != 20*time.Millisecond {
		t.Fatalf("expected avg 20ms, got %v", stats.Avg)
	}

	empty := l.WindowSnapshotAndReset()
	if empty.Count != 0 {
		t.Fatalf("expected window reset, got %d", empty.Count)
	}
}
