package ldapio

// Stub directory fixture and Conn implementation for tests exercising
// internal/authfsm end to end, without a real directory server (spec.md
// §8's six end-to-end scenarios). Fixture loading follows the same CSV
// idiom as internal/csvdata: a small CSV with a required header.

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// DirectoryEntry is one stub user record.
type DirectoryEntry struct {
	DN       string
	Password string
}

// Directory is an in-memory stand-in for the directory server's user
// subtree, keyed by uid.
type Directory struct {
	mu      sync.Mutex
	entries map[string]DirectoryEntry
	extra   map[string][]DirectoryEntry
}

// NewDirectory constructs an empty Directory; Put adds entries
// programmatically (used by tests that don't need a fixture file).
func NewDirectory() *Directory {
	return &Directory{
		entries: make(map[string]DirectoryEntry),
		extra:   make(map[string][]DirectoryEntry),
	}
}

// Put adds or replaces a user record.
func (d *Directory) Put(uid string, entry DirectoryEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.entries[uid] = entry
}

// MakeAmbiguous attaches an additional search hit for uid, so SearchUser
// returns more than one entry for it (spec.md §8 boundary: "search returns
// two matching entries → SystemError").
func (d *Directory) MakeAmbiguous(uid string, extra DirectoryEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.extra[uid] = append(d.extra[uid], extra)
}

func (d *Directory) lookup(uid string) (DirectoryEntry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[uid]

	return e, ok
}

func (d *Directory) setPassword(uid, password string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[uid]
	if !ok {
		return false
	}

	e.Password = password
	d.entries[uid] = e

	return true
}

// LoadDirectory reads a CSV fixture with header "uid,password,dn". The dn
// column is optional; when absent, a DN is synthesized as "uid=<uid>,<base>".
func LoadDirectory(path, base string) (*Directory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	idxUID, idxPW, idxDN := -1, -1, -1
	for i, name := range header {
		switch strings.TrimSpace(strings.ToLower(name)) {
		case "uid":
			idxUID = i
		case "password":
			idxPW = i
		case "dn":
			idxDN = i
		}
	}

	if idxUID < 0 || idxPW < 0 {
		return nil, fmt.Errorf("directory fixture must have uid,password headers")
	}

	dir := NewDirectory()

	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}

		if err != nil {
			return nil, err
		}

		uid := strings.TrimSpace(rec[idxUID])
		pw := rec[idxPW]

		dn := fmt.Sprintf("uid=%s,%s", uid, base)
		if idxDN >= 0 && idxDN < len(rec) && rec[idxDN] != "" {
			dn = rec[idxDN]
		}

		dir.Put(uid, DirectoryEntry{DN: dn, Password: pw})
	}

	return dir, nil
}

// StubConn is a fake Conn backed by a Directory fixture, for tests that
// need a stub LDAP server without a real network (spec.md §8). It counts
// service and user binds and searches so tests can assert, e.g., that a
// user-locate-only command performs exactly one bind (scenario 6).
type StubConn struct {
	mu sync.Mutex

	dir             *Directory
	serviceDN       string
	servicePassword string
	refuseOpen      bool
	delay           time.Duration

	nextID  uint64
	pending map[OpID]*opState

	ServiceBindCount int
	UserBindCount    int
	SearchCount      int
}

// NewStubConn constructs a StubConn. refuseOpen simulates scenario 4
// ("server down"): Open's result classifies as KindServerDown. delay, when
// non-zero, defers each op's completion so a caller's first PollResult
// observes NotReady — exercising the re-arm invariant (spec.md §8).
func NewStubConn(dir *Directory, serviceDN, servicePassword string, refuseOpen bool, delay time.Duration) *StubConn {
	return &StubConn{
		dir:             dir,
		serviceDN:       serviceDN,
		servicePassword: servicePassword,
		refuseOpen:      refuseOpen,
		delay:           delay,
		pending:         make(map[OpID]*opState),
	}
}

func (c *StubConn) allocate() (OpID, *opState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := OpID(c.nextID)
	st := &opState{done: make(chan struct{})}
	c.pending[id] = st

	return id, st
}

func (c *StubConn) complete(st *opState, res Result) {
	deliver := func() {
		st.result = res
		close(st.done)
	}

	if c.delay > 0 {
		time.AfterFunc(c.delay, deliver)

		return
	}

	deliver()
}

func (c *StubConn) Open(uri string, networkTimeout, opTimeout time.Duration) (OpID, error) {
	id, st := c.allocate()

	if c.refuseOpen {
		c.complete(st, Result{Kind: KindServerDown, Err: fmt.Errorf("ldapio/stub: server down")})

		return id, nil
	}

	c.complete(st, Result{Kind: KindSuccess})

	return id, nil
}

func (c *StubConn) InstallTLS() error { return nil }

func (c *StubConn) BindSimple(dn, password string) (OpID, error) {
	id, st := c.allocate()

	c.mu.Lock()
	if dn == c.serviceDN {
		c.ServiceBindCount++
	} else {
		c.UserBindCount++
	}
	c.mu.Unlock()

	if dn == c.serviceDN && password == c.servicePassword {
		c.complete(st, Result{Kind: KindSuccess})

		return id, nil
	}

	for _, entry := range c.snapshotEntries() {
		if entry.DN == dn {
			if entry.Password == password {
				c.complete(st, Result{Kind: KindSuccess})
			} else {
				c.complete(st, Result{Kind: KindInvalidCredentials, Err: fmt.Errorf("ldapio/stub: invalid credentials")})
			}

			return id, nil
		}
	}

	c.complete(st, Result{Kind: KindInvalidCredentials, Err: fmt.Errorf("ldapio/stub: unknown dn %s", dn)})

	return id, nil
}

func (c *StubConn) snapshotEntries() map[string]DirectoryEntry {
	c.dir.mu.Lock()
	defer c.dir.mu.Unlock()

	out := make(map[string]DirectoryEntry, len(c.dir.entries))
	for k, v := range c.dir.entries {
		out[k] = v
	}

	return out
}

func (c *StubConn) SearchUser(base, nameAttr, name, objectClass string) (OpID, error) {
	id, st := c.allocate()

	c.mu.Lock()
	c.SearchCount++
	c.mu.Unlock()

	entry, ok := c.dir.lookup(name)
	if !ok {
		c.complete(st, Result{Kind: KindSuccess, Entries: nil})

		return id, nil
	}

	entries := []SearchEntry{{DN: entry.DN}}

	c.dir.mu.Lock()
	for _, extra := range c.dir.extra[name] {
		entries = append(entries, SearchEntry{DN: extra.DN})
	}
	c.dir.mu.Unlock()

	c.complete(st, Result{Kind: KindSuccess, Entries: entries})

	return id, nil
}

func (c *StubConn) ModifyPassword(dn, oldPassword, newPassword string) (OpID, error) {
	id, st := c.allocate()

	for uid, entry := range c.snapshotEntries() {
		if entry.DN == dn {
			if entry.Password != oldPassword {
				c.complete(st, Result{Kind: KindInvalidCredentials, Err: fmt.Errorf("ldapio/stub: old password mismatch")})

				return id, nil
			}

			c.dir.setPassword(uid, newPassword)
			c.complete(st, Result{Kind: KindSuccess})

			return id, nil
		}
	}

	c.complete(st, Result{Kind: KindFailure, Err: fmt.Errorf("ldapio/stub: unknown dn %s", dn)})

	return id, nil
}

func (c *StubConn) PollResult(id OpID) (PollStatus, Result) {
	c.mu.Lock()
	st, ok := c.pending[id]
	c.mu.Unlock()

	if !ok {
		return Done, Result{Kind: KindFailure, Err: fmt.Errorf("ldapio/stub: unknown op %d", id)}
	}

	select {
	case <-st.done:
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()

		return Done, st.result
	default:
		return NotReady, Result{}
	}
}

func (c *StubConn) Readiness(id OpID) <-chan struct{} {
	c.mu.Lock()
	st, ok := c.pending[id]
	c.mu.Unlock()

	if !ok {
		closed := make(chan struct{})
		close(closed)

		return closed
	}

	return st.done
}

func (c *StubConn) Unbind() error { return nil }
