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

// option provide an interface to do work on Map while it is being created.
type option[K any, V any] interface {
	apply(m *Map[K, V])
}

type hashOption[K any, V any] struct {
	hash func(key K) int64
}

func (op hashOption[K, V]) apply(m *Map[K, V]) {
	m.hash = op.hash
}

// WithHash is an option to specify the hash function to use for a Map[K,V].
// The function must be stable for a given key's contents for as long as the
// key remains in the map. Because hash equality is treated as key identity,
// the function should be collision resistant over the caller's key domain.
func WithHash[K any, V any](hash func(key K) int64) option[K, V] {
	return hashOption[K, V]{hash}
}

// Allocator specifies an interface for allocating and releasing the slot
// array used by a Map. The default allocator utilizes Go's builtin make()
// and allows the GC to reclaim memory.
//
// An allocator may reject an allocation by returning nil from AllocSlots.
// The operation that needed the memory then fails (a nil Map from
// construction, false from Put) and the prior table, if any, is left
// untouched.
type Allocator[K any, V any] interface {
	// AllocSlots should return a slice equivalent to make([]Slot[K,V], n),
	// or nil to reject the allocation.
	AllocSlots(n int) []Slot[K, V]

	// FreeSlots can optionally release the memory associated with the
	// supplied slice that is guaranteed to have been allocated by
	// AllocSlots.
	FreeSlots(v []Slot[K, V])
}

type defaultAllocator[K any, V any] struct{}

func (defaultAllocator[K, V]) AllocSlots(n int) []Slot[K, V] {
	return make([]Slot[K, V], n)
}

func (defaultAllocator[K, V]) FreeSlots(v []Slot[K, V]) {
}

type allocatorOption[K any, V any] struct {
	allocator Allocator[K, V]
}

func (op allocatorOption[K, V]) apply(m *Map[K, V]) {
	m.allocator = op.allocator
}

// WithAllocator is an option for specifying the Allocator to use for a
// Map[K,V]. Map.Close must be called for FreeSlots to be invoked on the
// final slot array.
func WithAllocator[K any, V any](allocator Allocator[K, V]) option[K, V] {
	return allocatorOption[K, V]{allocator}
}
