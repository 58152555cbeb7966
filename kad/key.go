// Package kad implements the 160-bit node/content identifiers used
// throughout the lookup engine and the XOR-metric total order they induce
// for a given target.
package kad

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// KeyLen is the width of a Kademlia identifier in bytes (160 bits).
const KeyLen = 20

// Key is a 160-bit node or content identifier. Equality is bitwise.
type Key [KeyLen]byte

// Zero is the all-zero key, frequently used as a target in tests.
var Zero Key

// ParseKey parses a 40-character hex string into a Key. Malformed input is
// rejected here, before any Task is constructed, per spec.
func ParseKey(s string) (Key, error) {
	var k Key
	if len(s) != KeyLen*2 {
		return k, fmt.Errorf("kad: key %q has length %d, want %d", s, len(s), KeyLen*2)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("kad: key %q is not valid hex: %w", s, err)
	}
	copy(k[:], b)
	return k, nil
}

// MustParseKey is ParseKey, panicking on error. Intended for tests and
// literal constants, not for parsing untrusted input.
func MustParseKey(s string) Key {
	k, err := ParseKey(s)
	if err != nil {
		panic(err)
	}
	return k
}

// RandomKey returns a cryptographically random key, useful for tests that
// need distinct, unpredictable identifiers.
func RandomKey() Key {
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		panic(err) // crypto/rand.Read on the standard Reader never fails
	}
	return k
}

// String renders the key as 40 lowercase hex characters.
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// Equal reports whether k and o are bitwise identical.
func (k Key) Equal(o Key) bool {
	return k == o
}

// xor returns a XOR o.
func xor(a, o Key) Key {
	var out Key
	for i := range a {
		out[i] = a[i] ^ o[i]
	}
	return out
}

// unsignedLess reports whether a, interpreted as a big-endian unsigned
// integer, is strictly less than b.
func unsignedLess(a, b Key) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

// Less reports whether a is closer to target than b is, i.e.
// unsigned_cmp(a XOR target, b XOR target) < 0.
func Less(target, a, b Key) bool {
	return unsignedLess(xor(a, target), xor(b, target))
}

// DistanceOrder returns a comparator closed over target, suitable for
// sorting or ordered-container use: it reports whether a is strictly closer
// to target than b.
func DistanceOrder(target Key) func(a, b Key) bool {
	return func(a, b Key) bool {
		return Less(target, a, b)
	}
}
