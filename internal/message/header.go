package message

import "strings"

type field struct {
	name  string
	value string
}

// Header is a collection of header fields with case-insensitive names.
// Fields keep insertion order, which the serializer preserves on the wire.
// The zero value is an empty header ready to use.
type Header struct {
	fields []field
}

// NewHeader builds a header from name/value pairs.
func NewHeader(pairs ...string) Header {
	var h Header
	for i := 0; i+1 < len(pairs); i += 2 {
		h.Set(pairs[i], pairs[i+1])
	}
	return h
}

func (h *Header) index(name string) int {
	for i := range h.fields {
		if strings.EqualFold(h.fields[i].name, name) {
			return i
		}
	}
	return -1
}

// Get returns the value for name, or "".
func (h *Header) Get(name string) string {
	v, _ := h.Lookup(name)
	return v
}

// Lookup returns the value for name and whether it is present.
func (h *Header) Lookup(name string) (string, bool) {
	if i := h.index(name); i >= 0 {
		return h.fields[i].value, true
	}
	return "", false
}

// Has reports whether name is present.
func (h *Header) Has(name string) bool { return h.index(name) >= 0 }

// Set stores value under name, replacing any existing value in place.
func (h *Header) Set(name, value string) {
	if i := h.index(name); i >= 0 {
		h.fields[i].value = value
		return
	}
	h.fields = append(h.fields, field{name: name, value: value})
}

// Add appends value to name, joining with ", " when name already exists.
// This is how repeated raw header lines are folded during parsing.
func (h *Header) Add(name, value string) {
	if i := h.index(name); i >= 0 {
		h.fields[i].value += ", " + value
		return
	}
	h.fields = append(h.fields, field{name: name, value: value})
}

// Del removes name.
func (h *Header) Del(name string) {
	if i := h.index(name); i >= 0 {
		h.fields = append(h.fields[:i], h.fields[i+1:]...)
	}
}

// Len returns the number of distinct fields.
func (h *Header) Len() int { return len(h.fields) }

// Range calls fn for each field in insertion order until fn returns false.
func (h *Header) Range(fn func(name, value string) bool) {
	for _, f := range h.fields {
		if !fn(f.name, f.value) {
			return
		}
	}
}

// Clone returns an independent copy.
func (h *Header) Clone() Header {
	return Header{fields: append([]field(nil), h.fields...)}
}

// Map returns the fields keyed by lower-cased name. Handy for logging and
// for order-insensitive comparisons.
func (h *Header) Map() map[string]string {
	m := make(map[string]string, len(h.fields))
	for _, f := range h.fields {
		m[strings.ToLower(f.name)] = f.value
	}
	return m
}

// HasToken reports whether the comma separated list stored under name
// contains token, compared case-insensitively.
func (h *Header) HasToken(name, token string) bool {
	v, ok := h.Lookup(name)
	if !ok {
		return false
	}
	for _, part := range strings.Split(v, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}
