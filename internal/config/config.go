// Package config is the typed runtime key/value store behind the .bot
// command surface. Values form a closed sum over bool, i32, u32, f32 and
// string; keys carry validators and change subscribers and persist to a
// line-oriented text file.
package config

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
)

type Type int

const (
	TypeBool Type = iota + 1
	TypeInt32
	TypeUint32
	TypeFloat32
	TypeString
)

func (t Type) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeInt32:
		return "i32"
	case TypeUint32:
		return "u32"
	case TypeFloat32:
		return "f32"
	case TypeString:
		return "string"
	default:
		return "unknown"
	}
}

// Value is one slot of the closed sum. Exactly the field matching Type is
// meaningful.
type Value struct {
	Type Type
	B    bool
	I    int32
	U    uint32
	F    float32
	S    string
}

func Bool(v bool) Value       { return Value{Type: TypeBool, B: v} }
func Int32(v int32) Value     { return Value{Type: TypeInt32, I: v} }
func Uint32(v uint32) Value   { return Value{Type: TypeUint32, U: v} }
func Float32(v float32) Value { return Value{Type: TypeFloat32, F: v} }
func String(v string) Value   { return Value{Type: TypeString, S: v} }

func (v Value) String() string {
	switch v.Type {
	case TypeBool:
		return strconv.FormatBool(v.B)
	case TypeInt32:
		return strconv.FormatInt(int64(v.I), 10)
	case TypeUint32:
		return strconv.FormatUint(uint64(v.U), 10)
	case TypeFloat32:
		return strconv.FormatFloat(float64(v.F), 'g', -1, 32)
	case TypeString:
		return v.S
	default:
		return ""
	}
}

// Validator accepts or rejects a proposed value. A nil error accepts.
type Validator func(v Value) error

// Callback observes accepted changes.
type Callback func(key string, v Value)

type entry struct {
	value       Value
	def         Value
	description string
	persistent  bool
	validate    Validator
	subs        []Callback
}

// Store is the registry. Safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	keys map[string]*entry
}

func NewStore() *Store {
	return &Store{keys: map[string]*entry{}}
}

// RegisterOption declares one key with its default, description and
// optional validator. Persistent keys round-trip through Save/Load.
type RegisterOption struct {
	Key         string
	Default     Value
	Description string
	Persistent  bool
	Validate    Validator
}

func (s *Store) Register(opt RegisterOption) error {
	if opt.Key == "" || opt.Default.Type == 0 {
		return fmt.Errorf("config: invalid registration for %q", opt.Key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.keys[opt.Key]; exists {
		return fmt.Errorf("config: duplicate key %q", opt.Key)
	}
	s.keys[opt.Key] = &entry{
		value:       opt.Default,
		def:         opt.Default,
		description: opt.Description,
		persistent:  opt.Persistent,
		validate:    opt.Validate,
	}
	return nil
}

// typed getters; unknown keys return the caller's fallback.

func (s *Store) GetBool(key string, def bool) bool {
	if v, ok := s.get(key, TypeBool); ok {
		return v.B
	}
	return def
}

func (s *Store) GetInt32(key string, def int32) int32 {
	if v, ok := s.get(key, TypeInt32); ok {
		return v.I
	}
	return def
}

func (s *Store) GetUint32(key string, def uint32) uint32 {
	if v, ok := s.get(key, TypeUint32); ok {
		return v.U
	}
	return def
}

func (s *Store) GetFloat32(key string, def float32) float32 {
	if v, ok := s.get(key, TypeFloat32); ok {
		return v.F
	}
	return def
}

func (s *Store) GetString(key string, def string) string {
	if v, ok := s.get(key, TypeString); ok {
		return v.S
	}
	return def
}

func (s *Store) get(key string, t Type) (Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e := s.keys[key]
	if e == nil || e.value.Type != t {
		return Value{}, false
	}
	return e.value, true
}

// Get returns the raw value for display.
func (s *Store) Get(key string) (Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e := s.keys[key]
	if e == nil {
		return Value{}, false
	}
	return e.value, true
}

// Set validates and applies. On any failure the stored value is unchanged.
func (s *Store) Set(key string, v Value) error {
	s.mu.Lock()
	e := s.keys[key]
	if e == nil {
		s.mu.Unlock()
		return fmt.Errorf("config: unknown key %q", key)
	}
	if v.Type != e.value.Type {
		s.mu.Unlock()
		return fmt.Errorf("config: %q wants %s, got %s", key, e.value.Type, v.Type)
	}
	if e.validate != nil {
		if err := e.validate(v); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("config: %q: %w", key, err)
		}
	}
	e.value = v
	subs := append([]Callback(nil), e.subs...)
	s.mu.Unlock()

	for _, cb := range subs {
		cb(key, v)
	}
	return nil
}

// SetText parses the value in the key's registered type, then applies it.
func (s *Store) SetText(key, text string) error {
	s.mu.RLock()
	e := s.keys[key]
	s.mu.RUnlock()
	if e == nil {
		return fmt.Errorf("config: unknown key %q", key)
	}
	v, err := parseValue(e.value.Type, text)
	if err != nil {
		return fmt.Errorf("config: %q: %w", key, err)
	}
	return s.Set(key, v)
}

// Subscribe registers a change callback for one key. Callbacks run on the
// setter's goroutine after the value is applied.
func (s *Store) Subscribe(key string, cb Callback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.keys[key]
	if e == nil {
		return fmt.Errorf("config: unknown key %q", key)
	}
	e.subs = append(e.subs, cb)
	return nil
}

// Keys lists registered keys sorted.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.keys))
	for k := range s.keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func parseValue(t Type, text string) (Value, error) {
	text = strings.TrimSpace(text)
	switch t {
	case TypeBool:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return Value{}, fmt.Errorf("bad bool %q", text)
		}
		return Bool(b), nil
	case TypeInt32:
		n, err := strconv.ParseInt(text, 10, 32)
		if err != nil {
			return Value{}, fmt.Errorf("bad i32 %q", text)
		}
		return Int32(int32(n)), nil
	case TypeUint32:
		n, err := strconv.ParseUint(text, 10, 32)
		if err != nil {
			return Value{}, fmt.Errorf("bad u32 %q", text)
		}
		return Uint32(uint32(n)), nil
	case TypeFloat32:
		f, err := strconv.ParseFloat(text, 32)
		if err != nil {
			return Value{}, fmt.Errorf("bad f32 %q", text)
		}
		return Float32(float32(f)), nil
	case TypeString:
		if len(text) >= 2 && text[0] == '"' && text[len(text)-1] == '"' {
			unq, err := strconv.Unquote(text)
			if err != nil {
				return Value{}, fmt.Errorf("bad quoted string %s", text)
			}
			return String(unq), nil
		}
		return String(text), nil
	default:
		return Value{}, fmt.Errorf("unknown type")
	}
}

// Save writes persistent keys to path in deterministic order, with
// descriptions as comments.
func (s *Store) Save(path string) error {
	s.mu.RLock()
	keys := make([]string, 0, len(s.keys))
	for k, e := range s.keys {
		if e.persistent {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		e := s.keys[k]
		if e.description != "" {
			fmt.Fprintf(&b, "# %s\n", e.description)
		}
		if e.value.Type == TypeString {
			fmt.Fprintf(&b, "%s = %s\n\n", k, strconv.Quote(e.value.S))
		} else {
			fmt.Fprintf(&b, "%s = %s\n\n", k, e.value)
		}
	}
	s.mu.RUnlock()

	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// LoadResult reports what a tolerant load encountered.
type LoadResult struct {
	Applied int
	Unknown []string // keys present in the file but not registered
	Errors  []string // per-line parse or validation failures
}

// Load applies key = value lines from path. Unknown keys warn, bad values
// error per line; either way the rest of the file still applies.
func (s *Store) Load(path string) (LoadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return LoadResult{}, err
	}
	defer f.Close()

	var res LoadResult
	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, text, ok := strings.Cut(line, "=")
		if !ok {
			res.Errors = append(res.Errors, fmt.Sprintf("line %d: no '='", lineNo))
			continue
		}
		key = strings.TrimSpace(key)
		s.mu.RLock()
		_, known := s.keys[key]
		s.mu.RUnlock()
		if !known {
			res.Unknown = append(res.Unknown, key)
			continue
		}
		if err := s.SetText(key, text); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("line %d: %v", lineNo, err))
			continue
		}
		res.Applied++
	}
	return res, sc.Err()
}
