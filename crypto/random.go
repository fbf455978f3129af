package crypto

import (
	crand "crypto/rand"
	"encoding/hex"
	"io"
)

// CRandBytes returns numBytes of cryptographically secure random bytes. It
// panics if the OS entropy source fails.
func CRandBytes(numBytes int) []byte {
	b := make([]byte, numBytes)
	if _, err := io.ReadFull(crand.Reader, b); err != nil {
		panic(err)
	}
	return b
}

// CRandHex returns a hex encoded string that's floor(numDigits/2) * 2 long.
//
// Note: CRandHex(24) gives 96 bits of randomness that
// are usually strong enough for most purposes.
func CRandHex(numDigits int) string {
	return hex.EncodeToString(CRandBytes(numDigits / 2))
}
