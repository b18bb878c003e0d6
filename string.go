// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package probemap

import (
	"fmt"
	"strings"
)

// ValueString returns the string representation of the value stored for the
// specified key, produced by the PrintValue callback. Returns "" if the Map
// is nil or empty or the key is absent.
func (m *Map[K, V]) ValueString(key K) string {
	if m == nil || m.used == 0 {
		return ""
	}
	value, ok := m.Get(key)
	if !ok {
		return ""
	}
	return m.funcs.PrintValue(value)
}

// PrintValue writes ValueString(key) and a trailing newline to standard
// output.
func (m *Map[K, V]) PrintValue(key K) {
	fmt.Println(m.ValueString(key))
}

// String renders the map as "{key: value, key: value}" in bucket order,
// using the PrintKey and PrintValue callbacks. An empty or nil Map renders
// as "{}". String implements fmt.Stringer.
func (m *Map[K, V]) String() string {
	if m == nil || m.used == 0 {
		return "{}"
	}

	var buf strings.Builder
	buf.WriteByte('{')
	first := true
	for i := range m.slots {
		s := &m.slots[i]
		if s.state != slotOccupied {
			continue
		}
		if !first {
			buf.WriteString(", ")
		}
		first = false
		buf.WriteString(m.funcs.PrintKey(s.key))
		buf.WriteString(": ")
		buf.WriteString(m.funcs.PrintValue(s.value))
	}
	buf.WriteByte('}')
	return buf.String()
}

// Print writes String() and a trailing newline to standard output.
func (m *Map[K, V]) Print() {
	fmt.Println(m.String())
}

// debugString renders every slot, including <EMPTY> and <DUMMY> (tombstone)
// markers, for internal diagnostics. Not part of the stable contract.
func (m *Map[K, V]) debugString() string {
	if m == nil || m.used == 0 {
		return "{}"
	}

	var buf strings.Builder
	buf.WriteByte('{')
	for i := range m.slots {
		if i > 0 {
			buf.WriteString(", ")
		}
		s := &m.slots[i]
		switch s.state {
		case slotEmpty:
			buf.WriteString("<EMPTY>")
		case slotTombstone:
			buf.WriteString("<DUMMY>")
		default:
			buf.WriteString(m.funcs.PrintKey(s.key))
			buf.WriteString(": ")
			buf.WriteString(m.funcs.PrintValue(s.value))
		}
	}
	buf.WriteByte('}')
	return buf.String()
}
