package fail

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLogger_WriteAndClose(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "fail.csv")

	l := New(p, 2)
	if l == nil {
		t.Fatal("expected non-nil logger")
	}

	l.Log(Record{Timestamp: time.Now(), Username: "u", Outcome: "BadCredentials", Message: "invalid"})
	l.Log(Record{Timestamp: time.Now(), Username: "u2", Outcome: "UserUnknown", Message: "not found"})

	l.Close()

	f, err := os.Open(p)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	var lines []string

	for sc.Scan() {
		lines = append(lines, sc.Text())
	}

	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}

	if len(lines) < 3 { // header + 2 records
		t.Fatalf("expected at least 3 lines, got %d", len(lines))
	}

	if want := "timestamp,username,outcome,message"; !strings.Contains(lines[0], want) {
		t.Fatalf("missing header, got: %q", lines[0])
	}
}

func TestLogger_NilPathIsNoop(t *testing.T) {
	l := New("", 10)
	if l != nil {
		t.Fatal("expected nil logger for empty path")
	}

	l.Log(Record{}) // must not panic on nil receiver
	l.Close()
}
