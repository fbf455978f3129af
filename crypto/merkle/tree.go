package merkle

import (
	"crypto/sha256"
	"math/bits"
)

// TreeHashSize is the size in bytes of a Merkle tree root hash.
const TreeHashSize = sha256.Size

var (
	leafPrefix  = []byte{0}
	innerPrefix = []byte{1}
)

// HashFromByteSlices computes a Merkle tree where the leaves are the byte
// slice, in the provided order. It follows RFC-6962.
func HashFromByteSlices(items [][]byte) []byte {
	switch len(items) {
	case 0:
		return emptyHash()
	case 1:
		return leafHash(items[0])
	default:
		k := getSplitPoint(int64(len(items)))
		left := HashFromByteSlices(items[:k])
		right := HashFromByteSlices(items[k:])
		return innerHash(left, right)
	}
}

// getSplitPoint returns the largest power of 2 less than length.
func getSplitPoint(length int64) int64 {
	if length < 1 {
		panic("Trying to split a tree with size < 1")
	}
	uLength := uint(length)
	bitlen := bits.Len(uLength)
	k := int64(1 << uint(bitlen-1))
	if k == length {
		k >>= 1
	}
	return k
}

// returns tmhash(<empty>)
func emptyHash() []byte {
	h := sha256.Sum256([]byte{})
	return h[:]
}

// returns tmhash(0x00 || leaf)
func leafHash(leaf []byte) []byte {
	h := sha256.Sum256(append(leafPrefix, leaf...))
	return h[:]
}

// returns tmhash(0x01 || left || right)
func innerHash(left []byte, right []byte) []byte {
	data := make([]byte, len(innerPrefix)+len(left)+len(right))
	n := copy(data, innerPrefix)
	n += copy(data[n:], left)
	copy(data[n:], right)
	h := sha256.Sum256(data)
	return h[:]
}
