package permissions

import (
	"encoding/json"
	"sort"
)

// Set is an immutable set of permission keys. The zero value is empty.
type Set struct {
	keys map[string]struct{}
}

// NewSet builds a Set from keys, dropping duplicates and blanks.
func NewSet(keys ...string) Set {
	m := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		m[k] = struct{}{}
	}
	return Set{keys: m}
}

// Len returns the number of keys.
func (s Set) Len() int { return len(s.keys) }

// Contains reports exact membership of key.
func (s Set) Contains(key string) bool {
	_, ok := s.keys[key]
	return ok
}

// ContainsAll reports whether every key is present. An empty list is satisfied.
func (s Set) ContainsAll(keys ...string) bool {
	for _, k := range keys {
		if !s.Contains(k) {
			return false
		}
	}
	return true
}

// ContainsAny reports whether at least one key is present. An empty list is satisfied.
func (s Set) ContainsAny(keys ...string) bool {
	if len(keys) == 0 {
		return true
	}
	for _, k := range keys {
		if s.Contains(k) {
			return true
		}
	}
	return false
}

// Union returns s ∪ other.
func (s Set) Union(other Set) Set {
	out := make(map[string]struct{}, len(s.keys)+len(other.keys))
	for k := range s.keys {
		out[k] = struct{}{}
	}
	for k := range other.keys {
		out[k] = struct{}{}
	}
	return Set{keys: out}
}

// Difference returns s − other.
func (s Set) Difference(other Set) Set {
	out := make(map[string]struct{}, len(s.keys))
	for k := range s.keys {
		if !other.Contains(k) {
			out[k] = struct{}{}
		}
	}
	return Set{keys: out}
}

// Intersect returns s ∩ other.
func (s Set) Intersect(other Set) Set {
	out := make(map[string]struct{})
	for k := range s.keys {
		if other.Contains(k) {
			out[k] = struct{}{}
		}
	}
	return Set{keys: out}
}

// Equal reports whether both sets hold the same keys.
func (s Set) Equal(other Set) bool {
	if s.Len() != other.Len() {
		return false
	}
	for k := range s.keys {
		if !other.Contains(k) {
			return false
		}
	}
	return true
}

// Sorted returns the keys in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s.keys))
	for k := range s.keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON encodes the set as a sorted array.
func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON decodes an array of keys.
func (s *Set) UnmarshalJSON(data []byte) error {
	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	*s = NewSet(keys...)
	return nil
}
