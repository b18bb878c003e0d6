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

// Package probemap implements a hash map using open-addressing with linear
// probing. If you're not familiar with open-addressing see
// https://en.wikipedia.org/wiki/Open_addressing.
//
// # Layout
//
// A Map's backing array holds N slots where N is a power of 2. Each slot is a
// three-state machine: Empty (never occupied, or reset by Clear), Tombstone
// (previously occupied, since removed), or Occupied (holding a key, a value,
// and the key's cached 64-bit hash). Probing for hash h starts at
// abs(h) mod N and advances one slot at a time, wrapping at the end of the
// array. An Empty slot terminates the probe (the key is provably absent);
// Tombstones and Occupied slots with a different cached hash are skipped.
// Tombstones must not terminate the probe: converting a removed slot to
// Empty would punch a hole in an occupied run and make entries beyond it
// unreachable.
//
// # Hash identity
//
// Unlike most hash maps, a Map never compares keys for equality. Two keys
// with the same hash value are treated as the same key, which is why K
// carries no comparable constraint and why the cached hash doubles as the
// entry's identity during probing, overwriting, and rehashing. This is a
// documented design property rather than a defect: callers must supply a
// hash function collision-resistant enough for their key domain (see
// XXHashString for a ready-made one).
//
// # Ownership
//
// The Map owns every key and value it holds. Put transfers ownership of the
// key/value pair to the Map, which releases them through the configured
// Funcs callbacks on overwrite, removal, and Clear. Remove hands ownership
// of the value (not the key) back to the caller.
//
// # Growth
//
// Put grows the table before inserting when the load factor exceeds 2/3, or
// when the insert would fill the last open slot (probes terminate only on
// Empty slots, so one must always survive). Small tables quadruple so that
// the expensive O(n) rehash happens rarely; tables of 65536 buckets or more
// only double to keep the memory overshoot bounded. Rehashing drops
// tombstones, which is how they get cleaned up over time.
//
// A Map is NOT goroutine-safe.
package probemap

import (
	"errors"
	"fmt"
	"math/bits"
)

const (
	// defaultBuckets is the bucket count used by New.
	defaultBuckets = 16

	// largeTableThreshold is the bucket count at which the growth factor
	// drops from 4x to 2x.
	largeTableThreshold = 65536

	// maxLoadNum/maxLoadDen is the highest tolerated ratio of live entries
	// to buckets before an insert forces a resize.
	maxLoadNum = 2
	maxLoadDen = 3
)

type slotState uint8

const (
	slotEmpty slotState = iota
	slotTombstone
	slotOccupied
)

// Slot is one cell of a Map's backing array. An occupied slot holds a key, a
// value, and the key's cached hash so that resizing and probe continuation
// never rehash.
type Slot[K any, V any] struct {
	state slotState
	hash  int64
	key   K
	value V
}

// Funcs holds the behavior callbacks a Map needs to manage the lifecycle of
// its keys and values. All four are required; construction fails if any is
// nil.
//
// DestroyValue and DestroyKey release all resources reachable from their
// argument. PrintValue and PrintKey return a fresh string representation.
type Funcs[K any, V any] struct {
	DestroyValue func(value V)
	PrintValue   func(value V) string
	DestroyKey   func(key K)
	PrintKey     func(key K) string
}

func (f Funcs[K, V]) validate() error {
	if f.DestroyValue == nil {
		return errors.New("probemap: Funcs.DestroyValue is required")
	}
	if f.PrintValue == nil {
		return errors.New("probemap: Funcs.PrintValue is required")
	}
	if f.DestroyKey == nil {
		return errors.New("probemap: Funcs.DestroyKey is required")
	}
	if f.PrintKey == nil {
		return errors.New("probemap: Funcs.PrintKey is required")
	}
	return nil
}

// Map is an unordered map from keys to values with Put, Get, Remove,
// DeleteKey, and Contains operations. Keys are identified solely by their
// 64-bit hash; see the package documentation for the consequences. All
// operations are safe to call on a nil *Map and degrade to sentinel results
// rather than panicking.
type Map[K any, V any] struct {
	// The hash function applied to keys of type K. Defaults to StringHash
	// or BytesHash when K permits, otherwise WithHash is mandatory.
	hash func(K) int64
	// The allocator used for the slot array.
	allocator Allocator[K, V]
	funcs     Funcs[K, V]
	// slots always has power-of-two length while the Map is open; nil after
	// Close.
	slots []Slot[K, V]
	// The number of occupied slots.
	used int
}

// New constructs a Map with the default bucket count of 16. The four Funcs
// callbacks are required; the hash function is optional and defaults to
// StringHash for string keys and BytesHash for []byte keys. Construction
// fails for other key types unless WithHash is supplied.
func New[K any, V any](funcs Funcs[K, V], options ...option[K, V]) (*Map[K, V], error) {
	return NewWithBuckets(defaultBuckets, funcs, options...)
}

// NewWithBuckets constructs a Map with at least numBuckets buckets, rounding
// up to the next power of two. Useful when the caller knows the table will
// be large and wants to skip the early resizes.
func NewWithBuckets[K any, V any](
	numBuckets int, funcs Funcs[K, V], options ...option[K, V],
) (*Map[K, V], error) {
	if numBuckets <= 0 {
		return nil, errors.New("probemap: bucket count must be positive")
	}
	if err := funcs.validate(); err != nil {
		return nil, err
	}

	m := &Map[K, V]{
		allocator: defaultAllocator[K, V]{},
		funcs:     funcs,
	}
	for _, op := range options {
		op.apply(m)
	}

	if m.hash == nil {
		switch h := any(m).(type) {
		case *Map[string, V]:
			h.hash = StringHash
		case *Map[[]byte, V]:
			h.hash = BytesHash
		default:
			return nil, errors.New("probemap: no default hash for key type; use WithHash")
		}
	}

	m.slots = m.allocator.AllocSlots(closestPow2(numBuckets))
	if m.slots == nil {
		return nil, errors.New("probemap: slot allocation failed")
	}
	return m, nil
}

// closestPow2 returns the smallest power of two >= x. For example,
// closestPow2(20) = 32.
func closestPow2(x int) int {
	return 1 << bits.Len(uint(x-1))
}

// probeStart returns the initial probe index for hash h in a table of n
// buckets. n must be a power of two, which lets a mask stand in for the
// modulo.
func probeStart(h int64, n int) int {
	if h < 0 {
		h = -h
	}
	return int(uint64(h) & uint64(n-1))
}

// find runs the linear probe for hash h. If an occupied slot with a matching
// hash exists, find returns its index and found=true. Otherwise it returns
// the index where an entry with hash h belongs: the first open (Empty or
// Tombstone) slot encountered along the probe. The scan is bounded to one
// full pass so a table whose open slots are all tombstones cannot spin.
//
// This single primitive underlies Put, Get, Remove, and Contains; they
// differ only in what they do with the terminating slot.
func (m *Map[K, V]) find(h int64) (idx int, found bool) {
	n := len(m.slots)
	i := probeStart(h, n)
	open := -1
	for probed := 0; probed < n; probed++ {
		s := &m.slots[i]
		switch s.state {
		case slotEmpty:
			if open < 0 {
				open = i
			}
			return open, false
		case slotTombstone:
			if open < 0 {
				open = i
			}
		default:
			if s.hash == h {
				return i, true
			}
		}
		i = (i + 1) & (n - 1)
	}
	return open, false
}

// needsResize reports whether an insert must grow the table first. The load
// factor check mirrors the classic 2/3 threshold; the second condition
// catches the insert that would fill the last open slot, without which a
// later lookup of an absent key would have no Empty slot to terminate on.
func (m *Map[K, V]) needsResize() bool {
	if maxLoadDen*m.used > maxLoadNum*len(m.slots) {
		return true
	}
	return m.used == len(m.slots)-1
}

// resize grows the table, re-placing every occupied slot into the new array
// and dropping tombstones. Returns false if the allocator rejects the new
// array, in which case the old table is untouched and still usable.
func (m *Map[K, V]) resize() bool {
	n := len(m.slots)
	growth := 4
	if n >= largeTableThreshold {
		growth = 2
	}
	newSlots := m.allocator.AllocSlots(n * growth)
	if newSlots == nil {
		return false
	}

	// Re-place each live entry. The new array has no tombstones and the old
	// entries carry distinct hashes, so placement is a plain probe to the
	// first Empty slot. Most of a sparse table's tail is Empty, hence the
	// early exit once every live entry has moved.
	mask := len(newSlots) - 1
	moved := 0
	for i := 0; i < n && moved < m.used; i++ {
		s := &m.slots[i]
		if s.state != slotOccupied {
			continue
		}
		j := probeStart(s.hash, len(newSlots))
		for newSlots[j].state == slotOccupied {
			j = (j + 1) & mask
		}
		newSlots[j] = *s
		moved++
	}

	m.allocator.FreeSlots(m.slots)
	m.slots = newSlots
	return true
}

// Put inserts an entry into the map, overwriting the existing value (and
// key) if an entry with the same hash already exists. The Map takes
// ownership of both key and value. Returns false, with no mutation, on a
// nil or closed Map or when a required resize fails.
func (m *Map[K, V]) Put(key K, value V) bool {
	if m == nil || len(m.slots) == 0 {
		return false
	}
	if m.needsResize() {
		if !m.resize() {
			return false
		}
	}

	h := m.hash(key)
	i, found := m.find(h)
	s := &m.slots[i]
	if found {
		// Same hash means same key: release the pair being displaced.
		m.funcs.DestroyValue(s.value)
		m.funcs.DestroyKey(s.key)
		s.key = key
		s.value = value
	} else {
		*s = Slot[K, V]{state: slotOccupied, hash: h, key: key, value: value}
		m.used++
	}
	m.checkInvariants()
	return true
}

// Get retrieves the value for the specified key, returning ok=false if the
// key is not present. A nil or closed Map reports every key absent; callers
// that need to distinguish "no entry" from "no map" check Len.
func (m *Map[K, V]) Get(key K) (value V, ok bool) {
	if m == nil || len(m.slots) == 0 {
		return value, false
	}
	i, found := m.find(m.hash(key))
	if !found {
		return value, false
	}
	return m.slots[i].value, true
}

// Remove detaches and returns the value for the specified key, handing its
// ownership back to the caller. The key is destroyed and its slot becomes a
// tombstone. Returns ok=false, with no mutation, if the key is absent or
// the Map is nil or closed.
func (m *Map[K, V]) Remove(key K) (value V, ok bool) {
	if m == nil || len(m.slots) == 0 {
		return value, false
	}
	i, found := m.find(m.hash(key))
	if !found {
		return value, false
	}
	s := &m.slots[i]
	value = s.value
	m.funcs.DestroyKey(s.key)
	*s = Slot[K, V]{state: slotTombstone}
	m.used--
	m.checkInvariants()
	return value, true
}

// DeleteKey removes the entry for the specified key, destroying both the
// key and the value. Reports whether an entry was actually removed.
func (m *Map[K, V]) DeleteKey(key K) bool {
	if m == nil {
		return false
	}
	value, ok := m.Remove(key)
	if !ok {
		return false
	}
	m.funcs.DestroyValue(value)
	return true
}

// Contains reports whether the specified key is present. False on a nil or
// closed Map.
func (m *Map[K, V]) Contains(key K) bool {
	if m == nil || len(m.slots) == 0 {
		return false
	}
	_, found := m.find(m.hash(key))
	return found
}

// Len returns the number of entries in the map, or -1 if the Map is nil.
func (m *Map[K, V]) Len() int {
	if m == nil {
		return -1
	}
	return m.used
}

// IsEmpty reports whether the map holds no entries. A nil Map reports
// false, an asymmetry with Len's -1 sentinel that is kept for compatibility
// with the original contract.
func (m *Map[K, V]) IsEmpty() bool {
	if m == nil {
		return false
	}
	return m.used == 0
}

// Clear destroys every live entry's key and value and resets the slots to
// Empty, leaving the bucket array in place for reuse at a similar volume.
// The scan stops once the live count reaches zero since a sparse table's
// tail is mostly Empty.
func (m *Map[K, V]) Clear() {
	if m == nil {
		return
	}
	for i := range m.slots {
		if m.used == 0 {
			break
		}
		s := &m.slots[i]
		if s.state == slotOccupied {
			m.funcs.DestroyValue(s.value)
			m.funcs.DestroyKey(s.key)
			m.used--
		}
		*s = Slot[K, V]{}
	}
}

// Close clears the map and releases the bucket array back to the
// configured allocator. Close is idempotent and a no-op on a nil Map;
// operations on a closed Map behave as on an absent table.
func (m *Map[K, V]) Close() {
	if m == nil {
		return
	}
	m.Clear()
	if m.slots != nil {
		m.allocator.FreeSlots(m.slots)
		m.slots = nil
	}
}

// checkInvariants verifies the internal consistency of the table. Enabled
// with the "invariants" build tag; compiled out otherwise.
func (m *Map[K, V]) checkInvariants() {
	if !invariants {
		return
	}

	n := len(m.slots)
	if n&(n-1) != 0 {
		panic(fmt.Sprintf("invariant failed: %d buckets is not a power of two", n))
	}

	var used, open int
	for i := range m.slots {
		s := &m.slots[i]
		switch s.state {
		case slotOccupied:
			used++
			if h := m.hash(s.key); h != s.hash {
				panic(fmt.Sprintf("invariant failed: slot(%d): cached hash %d != current hash %d\n%s",
					i, s.hash, h, m.debugString()))
			}
			if j, found := m.find(s.hash); !found || j != i {
				panic(fmt.Sprintf("invariant failed: slot(%d): hash %d not reachable by probing\n%s",
					i, s.hash, m.debugString()))
			}
		default:
			open++
		}
	}
	if used != m.used {
		panic(fmt.Sprintf("invariant failed: found %d occupied slots, but used count is %d\n%s",
			used, m.used, m.debugString()))
	}
	if open == 0 {
		panic(fmt.Sprintf("invariant failed: no open slot remains\n%s", m.debugString()))
	}
}
