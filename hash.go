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

import "github.com/cespare/xxhash/v2"

// djb2Seed is the initial hash state of the djb2 family of string hashes.
const djb2Seed = 5381

// StringHash is the default hash function for string keys: the XOR variant
// of Daniel J. Bernstein's djb2 string hash, computing
// hash = (hash*33) ^ byte over each byte with an initial state of 5381.
// See http://www.cse.yorku.ca/~oz/hash.html#djb2. Bernstein has gone on
// record preferring the XOR version for standard use.
func StringHash(key string) int64 {
	hash := int64(djb2Seed)
	for i := 0; i < len(key); i++ {
		hash = ((hash << 5) + hash) ^ int64(key[i]) // (hash * 33) XOR byte
	}
	return hash
}

// BytesHash is the default hash function for []byte keys; it is StringHash
// over the raw bytes.
func BytesHash(key []byte) int64 {
	hash := int64(djb2Seed)
	for _, c := range key {
		hash = ((hash << 5) + hash) ^ int64(c)
	}
	return hash
}

// XXHashString hashes a string key with xxHash (64-bit). A Map treats hash
// equality as key identity, so callers whose key domain is too large or too
// adversarial for djb2 should prefer this via WithHash.
func XXHashString(key string) int64 {
	return int64(xxhash.Sum64String(key))
}
