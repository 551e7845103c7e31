package protocol

import "strings"

// Headers is an ordered header map. Keys are unique ignoring case; the first
// spelling of a key is kept and later Sets replace the value in place.
type Headers struct {
	keys   []string
	values map[string]string
}

// Set adds or replaces a header
func (h *Headers) Set(key, value string) {
	if h.values == nil {
		h.values = make(map[string]string)
	}
	lk := strings.ToLower(key)
	if _, exists := h.values[lk]; !exists {
		h.keys = append(h.keys, key)
	}
	h.values[lk] = value
}

// Get returns a header value and whether it was present
func (h *Headers) Get(key string) (string, bool) {
	if h.values == nil {
		return "", false
	}
	v, ok := h.values[strings.ToLower(key)]
	return v, ok
}

// Value returns a header value or the empty string
func (h *Headers) Value(key string) string {
	v, _ := h.Get(key)
	return v
}

// Del removes a header
func (h *Headers) Del(key string) {
	lk := strings.ToLower(key)
	if _, exists := h.values[lk]; !exists {
		return
	}
	delete(h.values, lk)
	for i, k := range h.keys {
		if strings.ToLower(k) == lk {
			h.keys = append(h.keys[:i], h.keys[i+1:]...)
			break
		}
	}
}

// Len returns the number of headers
func (h *Headers) Len() int {
	return len(h.keys)
}

// Keys returns header keys in insertion order
func (h *Headers) Keys() []string {
	keys := make([]string, len(h.keys))
	copy(keys, h.keys)
	return keys
}

// Equal reports whether both header sets hold the same keys (ignoring case)
// and values. Order is not compared.
func (h *Headers) Equal(other *Headers) bool {
	if h.Len() != other.Len() {
		return false
	}
	for lk, v := range h.values {
		ov, ok := other.values[lk]
		if !ok || ov != v {
			return false
		}
	}
	return true
}

// Clone returns an independent copy
func (h *Headers) Clone() Headers {
	c := Headers{}
	for _, k := range h.keys {
		c.Set(k, h.Value(k))
	}
	return c
}
