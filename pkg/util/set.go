package util

// Set tracks membership of comparable values, such as the server's open
// websocket clients and the hub's consumers
type Set[K comparable] map[K]struct{}

// Add inserts key into the set
func (s Set[K]) Add(key K) {
	s[key] = struct{}{}
}

// Remove deletes key from the set
func (s Set[K]) Remove(key K) {
	delete(s, key)
}

// Contains reports whether key is in the set
func (s Set[K]) Contains(key K) bool {
	_, ok := s[key]
	return ok
}
