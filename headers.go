// Copyright 2025 Nonvolatile Inc. d/b/a Confident Security

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     https://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package inproc

import (
	"iter"
	"net/http"
	"slices"
	"strings"
)

// HeaderField is a single header name and value.
type HeaderField struct {
	Name  string
	Value string
}

// Headers is a header multimap. Names are matched case-insensitively, a name
// may have multiple values and fields are kept in insertion order.
//
// The zero value is an empty header set ready to use.
type Headers struct {
	fields []HeaderField
}

// NewHeaders creates headers from alternating name and value pairs. A trailing
// name without a value is ignored.
func NewHeaders(kv ...string) Headers {
	var h Headers
	for i := 0; i+1 < len(kv); i += 2 {
		h.Add(kv[i], kv[i+1])
	}
	return h
}

// HeadersFromHTTP converts a http.Header. Names are sorted so that the
// resulting order is deterministic, values keep their order.
func HeadersFromHTTP(hdr http.Header) Headers {
	names := make([]string, 0, len(hdr))
	for name := range hdr {
		names = append(names, name)
	}
	slices.Sort(names)

	var h Headers
	for _, name := range names {
		for _, v := range hdr[name] {
			h.Add(name, v)
		}
	}
	return h
}

// Add appends a value for name.
func (h *Headers) Add(name, value string) {
	h.fields = append(h.fields, HeaderField{Name: name, Value: value})
}

// Set replaces all values of name with value. The new field takes the
// position of the first removed field, or is appended.
func (h *Headers) Set(name, value string) {
	idx := slices.IndexFunc(h.fields, func(f HeaderField) bool {
		return equalFold(f.Name, name)
	})
	if idx < 0 {
		h.Add(name, value)
		return
	}

	h.fields[idx] = HeaderField{Name: name, Value: value}
	tail := slices.DeleteFunc(h.fields[idx+1:], func(f HeaderField) bool {
		return equalFold(f.Name, name)
	})
	h.fields = h.fields[:idx+1+len(tail)]
}

// Del removes all values of name.
func (h *Headers) Del(name string) {
	h.fields = slices.DeleteFunc(h.fields, func(f HeaderField) bool {
		return equalFold(f.Name, name)
	})
}

// Get returns the first value of name, or an empty string.
func (h Headers) Get(name string) string {
	v, _ := h.Lookup(name)
	return v
}

// Lookup returns the first value of name and whether name is present.
func (h Headers) Lookup(name string) (string, bool) {
	for _, f := range h.fields {
		if equalFold(f.Name, name) {
			return f.Value, true
		}
	}
	return "", false
}

// Has reports whether name has at least one value.
func (h Headers) Has(name string) bool {
	_, ok := h.Lookup(name)
	return ok
}

// Values returns all values of name in insertion order.
func (h Headers) Values(name string) []string {
	var vals []string
	for _, f := range h.fields {
		if equalFold(f.Name, name) {
			vals = append(vals, f.Value)
		}
	}
	return vals
}

// Len returns the number of fields.
func (h Headers) Len() int {
	return len(h.fields)
}

// All iterates over all fields in insertion order, one pair per value.
func (h Headers) All() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for _, f := range h.fields {
			if !yield(f.Name, f.Value) {
				return
			}
		}
	}
}

// Fields returns a copy of the fields.
func (h Headers) Fields() []HeaderField {
	return slices.Clone(h.fields)
}

// Clone returns an independent copy.
func (h Headers) Clone() Headers {
	return Headers{fields: slices.Clone(h.fields)}
}

// HTTPHeader converts the headers to a http.Header. Values for the same
// canonical name keep their relative order.
func (h Headers) HTTPHeader() http.Header {
	hdr := make(http.Header, len(h.fields))
	for _, f := range h.fields {
		hdr.Add(f.Name, f.Value)
	}
	return hdr
}

func equalFold(a, b string) bool {
	return strings.EqualFold(a, b)
}
