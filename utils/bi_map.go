// Package utils holds small generic helpers shared across the client.
package utils

// BiMap is an immutable bidirectional map: it answers lookups by key and by
// value. Both type parameters must be comparable.
type BiMap[K comparable, V comparable] struct {
	a map[K]V
	b map[V]K
}

// NewBiMap builds a BiMap from a copy of input. If input contains duplicate
// values, the reverse mapping keeps the last key seen for that value.
func NewBiMap[K comparable, V comparable](input map[K]V) *BiMap[K, V] {
	a := make(map[K]V, len(input))
	b := make(map[V]K, len(input))

	for k, v := range input {
		a[k] = v
		b[v] = k
	}

	return &BiMap[K, V]{
		a: a,
		b: b,
	}
}

// Lookup finds a value by its key.
func (m *BiMap[K, V]) Lookup(key K) (V, bool) {
	value, ok := m.a[key]
	return value, ok
}

// DirectLookup finds a value by its key, returning V's zero value when the
// key is absent.
func (m *BiMap[K, V]) DirectLookup(key K) V {
	return m.a[key]
}

// RLookup finds a key by its value.
func (m *BiMap[K, V]) RLookup(value V) (K, bool) {
	key, ok := m.b[value]
	return key, ok
}

// DirectRLookup finds a key by its value, returning K's zero value when the
// value is absent.
func (m *BiMap[K, V]) DirectRLookup(value V) K {
	return m.b[value]
}
