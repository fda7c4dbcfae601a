package config

// FlagStore adapts command-line flags (via spf13/pflag) into a Store, for
// the standalone demo binary. Production hosts wire their own Store
// directly to the daemon's config subsystem instead of using this type.

import "github.com/spf13/pflag"

// FlagStore is a Store backed by a pflag.FlagSet of string and integer
// flags. Values are registered with RegisterString/RegisterInt before the
// caller calls Parse.
type FlagStore struct {
	fs       *pflag.FlagSet
	strings  map[string]*string
	ints     map[string]*int
	provided map[string]bool
}

// NewFlagStore creates a FlagStore bound to fs (typically pflag.CommandLine).
func NewFlagStore(fs *pflag.FlagSet) *FlagStore {
	return &FlagStore{
		fs:       fs,
		strings:  make(map[string]*string),
		ints:     make(map[string]*int),
		provided: make(map[string]bool),
	}
}

// RegisterString registers a string flag named key with usage text usage.
// No default is bound here; Store.String/OptionalString apply defaults.
func (s *FlagStore) RegisterString(key, usage string) {
	v := s.fs.String(key, "", usage)
	s.strings[key] = v
}

// RegisterInt registers an integer flag named key with usage text usage.
func (s *FlagStore) RegisterInt(key string, def int, usage string) {
	v := s.fs.Int(key, def, usage)
	s.ints[key] = v
}

// Parse parses the underlying flag set. Call after all Register* calls.
func (s *FlagStore) Parse(args []string) error {
	if err := s.fs.Parse(args); err != nil {
		return err
	}

	s.fs.Visit(func(f *pflag.Flag) { s.provided[f.Name] = true })

	return nil
}

func (s *FlagStore) String(key, def string) string {
	if v, ok := s.strings[key]; ok && s.provided[key] {
		return *v
	}

	return def
}

func (s *FlagStore) OptionalString(key string) (string, bool) {
	v, ok := s.strings[key]
	if !ok || !s.provided[key] {
		return "", false
	}

	return *v, true
}

func (s *FlagStore) Int(key string, def int) int {
	if v, ok := s.ints[key]; ok && s.provided[key] {
		return *v
	}

	if v, ok := s.ints[key]; ok {
		return *v // pflag already applied its own default
	}

	return def
}
