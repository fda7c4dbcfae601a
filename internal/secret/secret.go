// Package secret provides a byte buffer that is scrubbed on release so that
// passwords never outlive the session or transaction that owns them.
package secret

// Bytes wraps a secret byte string (a password or similar credential). The
// zero value is an empty secret. Bytes is not safe for concurrent use.
type Bytes struct {
	b []byte
}

// New copies src into a freshly owned Bytes. The caller retains ownership of
// src; New does not zero it.
func New(src []byte) Bytes {
	if len(src) == 0 {
		return Bytes{}
	}

	b := make([]byte, len(src))
	copy(b, src)

	return Bytes{b: b}
}

// FromString copies s into a freshly owned Bytes.
func FromString(s string) Bytes {
	return New([]byte(s))
}

// Len reports the length of the secret in bytes.
func (s Bytes) Len() int { return len(s.b) }

// Empty reports whether the secret holds no bytes.
func (s Bytes) Empty() bool { return len(s.b) == 0 }

// Bytes exposes the underlying buffer. Callers must not retain the returned
// slice past the lifetime of s.
func (s Bytes) Bytes() []byte { return s.b }

// Reveal exposes the secret as a string for APIs (e.g. go-ldap's Bind) that
// require one. Callers must not log or persist the result.
func (s Bytes) Reveal() string { return string(s.b) }

// String implements fmt.Stringer with a redacted placeholder so secrets
// never leak through %v/%s formatting or accidental log calls.
func (s Bytes) String() string { return "***" }

// Zero overwrites the owned buffer with zeros. Safe to call multiple times
// and on an empty/zero-value Bytes.
func (s *Bytes) Zero() {
	for i := range s.b {
		s.b[i] = 0
	}

	s.b = nil
}

// GoString prevents accidental disclosure via %#v or fmt.Stringer chains.
func (s Bytes) GoString() string { return "secret.Bytes{***}" }
