package utils

// BiMap is an immutable bidirectional map supporting lookups by key or by
// value. Both type parameters must be comparable. If the input contains
// duplicate values, the reverse mapping keeps the last key seen for that
// value.
type BiMap[K comparable, V comparable] struct {
	forward map[K]V
	reverse map[V]K
}

// NewBiMap builds a BiMap from input, copying it defensively and deriving
// the reverse mapping.
func NewBiMap[K comparable, V comparable](input map[K]V) *BiMap[K, V] {
	forward := make(map[K]V, len(input))
	reverse := make(map[V]K, len(input))
	for k, v := range input {
		forward[k] = v
		reverse[v] = k
	}
	return &BiMap[K, V]{forward: forward, reverse: reverse}
}

// Lookup finds the value for a key.
func (m *BiMap[K, V]) Lookup(key K) (V, bool) {
	value, ok := m.forward[key]
	return value, ok
}

// RLookup finds the key for a value.
func (m *BiMap[K, V]) RLookup(value V) (K, bool) {
	key, ok := m.reverse[value]
	return key, ok
}

// DirectLookup is Lookup without the presence flag; absent keys yield the
// zero value.
func (m *BiMap[K, V]) DirectLookup(key K) V {
	return m.forward[key]
}

// DirectRLookup is RLookup without the presence flag; absent values yield
// the zero key.
func (m *BiMap[K, V]) DirectRLookup(value V) K {
	return m.reverse[value]
}

// Len reports the number of entries.
func (m *BiMap[K, V]) Len() int {
	return len(m.forward)
}
