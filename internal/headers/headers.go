// Package headers implements a case-insensitive HTTP header map that
// remembers the casing of the most recent write for a given key, the
// same contract as the CaseInsensitiveDict used by the suspendable
// client this engine generalizes.
package headers

// Headers is a case-insensitive string-to-string map. Lookups,
// membership tests and deletes are case-insensitive; iteration yields
// the casing of the key as it was last set.
type Headers struct {
	store map[string]entry
	order []string // lower-cased keys, insertion order of first write
}

type entry struct {
	key   string // casing as last written
	value string
}

// New returns an empty Headers map.
func New() *Headers {
	return &Headers{store: make(map[string]entry)}
}

// FromMap builds a Headers map from a plain map, in unspecified order.
func FromMap(m map[string]string) *Headers {
	h := New()
	for k, v := range m {
		h.Set(k, v)
	}
	return h
}

// Set stores value under key, overwriting any previous value regardless
// of casing, and remembering key's casing for iteration.
func (h *Headers) Set(key, value string) {
	lower := lowerASCII(key)
	if _, ok := h.store[lower]; !ok {
		h.order = append(h.order, lower)
	}
	h.store[lower] = entry{key: key, value: value}
}

// Get returns the value stored for key (case-insensitively) and whether
// it was present.
func (h *Headers) Get(key string) (string, bool) {
	e, ok := h.store[lowerASCII(key)]
	return e.value, ok
}

// GetDefault returns the value for key, or def if not present.
func (h *Headers) GetDefault(key, def string) string {
	if v, ok := h.Get(key); ok {
		return v
	}
	return def
}

// Has reports whether key is present, case-insensitively.
func (h *Headers) Has(key string) bool {
	_, ok := h.store[lowerASCII(key)]
	return ok
}

// Del removes key, case-insensitively.
func (h *Headers) Del(key string) {
	lower := lowerASCII(key)
	if _, ok := h.store[lower]; !ok {
		return
	}
	delete(h.store, lower)
	for i, k := range h.order {
		if k == lower {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of distinct header names.
func (h *Headers) Len() int {
	return len(h.store)
}

// Items calls fn for every header in insertion order, with the key in
// its last-written casing.
func (h *Headers) Items(fn func(key, value string)) {
	for _, lower := range h.order {
		e := h.store[lower]
		fn(e.key, e.value)
	}
}

// Clone returns an independent copy of h.
func (h *Headers) Clone() *Headers {
	c := New()
	h.Items(func(k, v string) { c.Set(k, v) })
	return c
}

func lowerASCII(s string) string {
	b := []byte(s)
	changed := false
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
			changed = true
		}
	}
	if !changed {
		return s
	}
	return string(b)
}
