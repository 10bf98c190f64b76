package docstore

import (
	"bytes"
	"encoding/json"
	"reflect"
	"slices"
	"sort"
	"time"

	"github.com/goliatone/go-docstore/frame"
)

// Map is an insertion-ordered mapping with unique string keys. It is the
// mapping node of every document tree produced by Parse and Load.
type Map struct {
	keys   []string
	values map[string]any
}

// NewMap returns an empty mapping.
func NewMap() *Map {
	return &Map{values: map[string]any{}}
}

// MapOf builds a mapping from alternating key/value pairs. Keys must be
// strings; a trailing key without a value maps to nil.
func MapOf(pairs ...any) *Map {
	m := NewMap()
	for i := 0; i < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			panic("docstore: MapOf keys must be strings")
		}
		var value any
		if i+1 < len(pairs) {
			value = pairs[i+1]
		}
		m.Set(key, value)
	}
	return m
}

// Len returns the number of entries.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Get returns the value stored under key.
func (m *Map) Get(key string) (any, bool) {
	if m == nil {
		return nil, false
	}
	value, ok := m.values[key]
	return value, ok
}

// Has reports whether key is present.
func (m *Map) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Set stores value under key. Existing keys keep their position.
func (m *Map) Set(key string, value any) {
	if m.values == nil {
		m.values = map[string]any{}
	}
	if _, exists := m.values[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Delete removes key, reporting whether it was present.
func (m *Map) Delete(key string) bool {
	if m == nil {
		return false
	}
	if _, ok := m.values[key]; !ok {
		return false
	}
	delete(m.values, key)
	if idx := slices.Index(m.keys, key); idx >= 0 {
		m.keys = slices.Delete(m.keys, idx, idx+1)
	}
	return true
}

// Keys returns a copy of the keys in order.
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.keys...)
}

// Range calls fn for each entry in order until fn returns false.
func (m *Map) Range(fn func(key string, value any) bool) {
	if m == nil {
		return
	}
	for _, key := range m.keys {
		if !fn(key, m.values[key]) {
			return
		}
	}
}

// Clone returns a deep copy; nested mappings and sequences are copied while
// leaf values are shared.
func (m *Map) Clone() *Map {
	if m == nil {
		return nil
	}
	out := &Map{
		keys:   append([]string(nil), m.keys...),
		values: make(map[string]any, len(m.values)),
	}
	for key, value := range m.values {
		out.values[key] = cloneTree(value)
	}
	return out
}

// Equal reports structural equality including key order.
func (m *Map) Equal(other *Map) bool {
	if m.Len() != other.Len() {
		return false
	}
	if m.Len() == 0 {
		return true
	}
	if !slices.Equal(m.keys, other.keys) {
		return false
	}
	for _, key := range m.keys {
		if !TreeEqual(m.values[key], other.values[key]) {
			return false
		}
	}
	return true
}

// reorder replaces the key order. keys must be a permutation of m.Keys().
func (m *Map) reorder(keys []string) {
	m.keys = keys
}

// MarshalJSON writes the entries in insertion order.
func (m *Map) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeJSON(&buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalYAML emits an ordered mapping node.
func (m *Map) MarshalYAML() (any, error) {
	return yamlNode(m)
}

// MarshalCBOR emits a definite-length map in insertion order.
func (m *Map) MarshalCBOR() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCBORMap(&buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// TreeEqual compares two document trees structurally. Mappings compare with
// key order, times with time.Time.Equal, frames with Frame.Equal, everything
// else with reflect.DeepEqual.
func TreeEqual(a, b any) bool {
	switch av := a.(type) {
	case *Map:
		bv, ok := b.(*Map)
		return ok && av.Equal(bv)
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !TreeEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	case *frame.Frame:
		bv, ok := b.(*frame.Frame)
		return ok && av.Equal(bv)
	case interface{ Equal(any) bool }:
		return av.Equal(b)
	default:
		return reflect.DeepEqual(a, b)
	}
}

func cloneTree(value any) any {
	switch v := value.(type) {
	case *Map:
		return v.Clone()
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneTree(item)
		}
		return out
	case map[string]any:
		return mapFromGo(v)
	default:
		return value
	}
}

// mapFromGo converts a Go map into a Map with sorted keys so output stays
// deterministic.
func mapFromGo(src map[string]any) *Map {
	keys := make([]string, 0, len(src))
	for key := range src {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := &Map{keys: keys, values: make(map[string]any, len(src))}
	for _, key := range keys {
		out.values[key] = cloneTree(src[key])
	}
	return out
}

// Plain converts a tree into Go's generic shapes (map[string]any and []any),
// dropping key order. Useful when handing a tree to code that does not know
// about Map.
func Plain(value any) any {
	switch v := value.(type) {
	case *Map:
		out := make(map[string]any, v.Len())
		v.Range(func(key string, item any) bool {
			out[key] = Plain(item)
			return true
		})
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Plain(item)
		}
		return out
	case json.Number:
		return numberValue(v)
	default:
		return value
	}
}
