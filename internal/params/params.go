// Package params holds the named parameters of a model: scalars, nested
// mappings such as the default initial state "x0", and opaque values like
// noise functions.
//
// A [Store] is created from class-level defaults and overlaid with user
// overrides. Overlays merge recursively, so overriding one key of a nested
// mapping keeps its siblings. Callbacks registered with [Store.OnChange]
// recompute dependent parameters after every change, and checks registered
// with [Store.Check] can veto it. An overlay is applied whole or not at all.
//
// A Store is not safe for concurrent mutation.
package params

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
)

// ErrInvalid is returned when an override does not fit the shape of the
// parameter it replaces.
var ErrInvalid = errors.New("params: invalid parameter")

// Values is a tree of named parameter values.
type Values map[string]any

// Callback computes derived parameters from the current store contents.
// The returned values are merged back into the store.
type Callback func(s *Store) Values

// Validator checks the store contents after a change. A failing validator
// rejects the whole overlay.
type Validator func(s *Store) error

type Store struct {
	values    Values
	version   uint64
	callbacks map[string][]Callback
	checks    map[string][]Validator
	variant   map[string]bool
}

// New returns a store holding a deep copy of defaults.
func New(defaults Values) *Store {
	v, _ := normalize(defaults).(Values)
	if v == nil {
		v = Values{}
	}
	return &Store{
		values:    v,
		callbacks: make(map[string][]Callback),
		checks:    make(map[string][]Validator),
		variant:   make(map[string]bool),
	}
}

// OnChange registers cb to run whenever the top-level parameter key changes.
func (s *Store) OnChange(key string, cb Callback) {
	s.callbacks[key] = append(s.callbacks[key], cb)
}

// Check registers fn to validate the store whenever the top-level
// parameter key changes.
func (s *Store) Check(key string, fn Validator) {
	s.checks[key] = append(s.checks[key], fn)
}

// Variant lets the top-level keys change kind, for example from a number
// to a mapping. An override replaces a variant value whole; its shape is
// left to the registered checks.
func (s *Store) Variant(keys ...string) {
	for _, k := range keys {
		s.variant[k] = true
	}
}

// Version counts the overlays committed to the store.
func (s *Store) Version() uint64 { return s.version }

// Overlay merges overrides into the store, runs the callbacks and checks
// of every top-level key it touched, and commits the result. On error the
// store is left unchanged.
func (s *Store) Overlay(overrides Values) error {
	if len(overrides) == 0 {
		return nil
	}
	src, _ := normalize(overrides).(Values)

	staged := &Store{
		values:    s.Snapshot(),
		version:   s.version,
		callbacks: s.callbacks,
		checks:    s.checks,
		variant:   s.variant,
	}
	var changed []string
	if err := staged.merge(staged.values, src, "", &changed); err != nil {
		return err
	}
	changed, err := staged.fire(changed)
	if err != nil {
		return err
	}
	if err := staged.validate(changed); err != nil {
		return err
	}

	s.values = staged.values
	s.version++
	return nil
}

// Set replaces a single top-level parameter.
func (s *Store) Set(key string, value any) error {
	return s.Overlay(Values{key: value})
}

// fire runs the callbacks of the changed keys and returns every key the
// change touched, in firing order.
func (s *Store) fire(changed []string) ([]string, error) {
	fired := make(map[string]bool)
	var order []string
	queue := slices.Clone(changed)
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		if fired[key] {
			continue
		}
		fired[key] = true
		order = append(order, key)

		for _, cb := range s.callbacks[key] {
			out, err := call(cb, s)
			if err != nil {
				return nil, fmt.Errorf("callback for %q: %w", key, err)
			}
			updates, _ := normalize(out).(Values)
			var more []string
			if err := s.merge(s.values, updates, "", &more); err != nil {
				return nil, fmt.Errorf("callback for %q: %w", key, err)
			}
			queue = append(queue, more...)
		}
	}
	return order, nil
}

func (s *Store) validate(keys []string) error {
	for _, key := range keys {
		for _, fn := range s.checks[key] {
			if err := fn(s); err != nil {
				return err
			}
		}
	}
	return nil
}

// call runs cb, turning a panic from a failed accessor into an error.
func call(cb Callback, s *Store) (out Values, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrInvalid, r)
		}
	}()
	return cb(s), nil
}

// Get returns the value at path, descending into nested mappings.
func (s *Store) Get(path ...string) (any, bool) {
	var cur any = s.values
	for _, p := range path {
		m, ok := cur.(Values)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Float returns the numeric parameter at path. It panics when the value is
// missing or not a number; constructors check their keys with Require first.
func (s *Store) Float(path ...string) float64 {
	v, ok := s.Get(path...)
	if !ok {
		panic(fmt.Sprintf("params: missing %q", strings.Join(path, ".")))
	}
	f, ok := v.(float64)
	if !ok {
		panic(fmt.Sprintf("params: %q is %T, not a number", strings.Join(path, "."), v))
	}
	return f
}

// Floats returns a copy of the numeric entries of the nested mapping at path.
func (s *Store) Floats(path ...string) map[string]float64 {
	v, ok := s.Get(path...)
	if !ok {
		return nil
	}
	m, ok := v.(Values)
	if !ok {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, val := range m {
		if f, ok := val.(float64); ok {
			out[k] = f
		}
	}
	return out
}

// String returns the string parameter key, or "" if it is unset.
func (s *Store) String(key string) string {
	v, _ := s.values[key].(string)
	return v
}

// Require checks that every dotted path exists and holds a number.
func (s *Store) Require(paths ...string) error {
	for _, p := range paths {
		v, ok := s.Get(strings.Split(p, ".")...)
		if !ok {
			return fmt.Errorf("%w: missing %q", ErrInvalid, p)
		}
		if _, ok := v.(float64); !ok {
			return fmt.Errorf("%w: %q is %T, not a number", ErrInvalid, p, v)
		}
	}
	return nil
}

// Keys returns the sorted top-level parameter names.
func (s *Store) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns a deep copy of the parameter tree.
func (s *Store) Snapshot() Values {
	v, _ := normalize(s.values).(Values)
	return v
}

func (s *Store) merge(dst, src Values, prefix string, changed *[]string) error {
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		nv := src[k]
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}

		if prefix == "" && s.variant[k] {
			dst[k] = nv
			if changed != nil {
				*changed = append(*changed, k)
			}
			continue
		}

		switch old := dst[k].(type) {
		case Values:
			sub, ok := nv.(Values)
			if !ok {
				return fmt.Errorf("%w: %q is a mapping, got %T", ErrInvalid, path, nv)
			}
			if err := s.merge(old, sub, path, nil); err != nil {
				return err
			}
		case float64:
			if _, ok := nv.(float64); !ok {
				return fmt.Errorf("%w: %q is a number, got %T", ErrInvalid, path, nv)
			}
			dst[k] = nv
		default:
			dst[k] = nv
		}

		if changed != nil {
			*changed = append(*changed, k)
		}
	}
	return nil
}

// normalize deep-copies v, turning every number into float64 and every
// string-keyed mapping into Values.
func normalize(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case Values:
		out := make(Values, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case map[string]any:
		return normalize(Values(t))
	case map[string]float64:
		out := make(Values, len(t))
		for k, val := range t {
			out[k] = val
		}
		return out
	case []float64:
		return slices.Clone(t)
	case []any:
		nums := make([]float64, 0, len(t))
		for _, e := range t {
			f, ok := toFloat(e)
			if !ok {
				out := make([]any, len(t))
				for i, e := range t {
					out[i] = normalize(e)
				}
				return out
			}
			nums = append(nums, f)
		}
		return nums
	}
	if f, ok := toFloat(v); ok {
		return f
	}
	return v
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
