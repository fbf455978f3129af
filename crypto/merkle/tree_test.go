package merkle

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashFromByteSlices(t *testing.T) {
	testcases := map[string]struct {
		slices     [][]byte
		expectHash string // in hex format
	}{
		"nil":          {nil, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
		"empty":        {[][]byte{}, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
		"single":       {[][]byte{{1, 2, 3}}, "054edec1d0211f624fed0cbca9d4f9400b0e491c43742af2c5b0abebf0c990d8"},
		"single blank": {[][]byte{{}}, "6e340b9cffb37a989ca544e6bb780a2c78901d3fb33738768511a30617afa01d"},
		"two":          {[][]byte{{1, 2, 3}, {4, 5, 6}}, "82e6cfce00453804379b53962939eaa7906b39904be0813fcadd31b100773c4b"},
		"many": {
			[][]byte{{1, 2}, {3, 4}, {5, 6}, {7, 8}, {9, 10}},
			"f326493eceab4f2d9ffbc78c59432a0a005d6ea98392045c74df5d14a113be18",
		},
	}
	for name, tc := range testcases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			hash := HashFromByteSlices(tc.slices)
			require.Equal(t, tc.expectHash, hexString(hash))
		})
	}
}

func TestHashAlternatives(t *testing.T) {
	// a tree with a single leaf must not equal the raw hash of that leaf
	item := []byte("light")
	h := sha256.Sum256(item)
	require.NotEqual(t, h[:], HashFromByteSlices([][]byte{item}))
}

func hexString(bz []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, 0, len(bz)*2)
	for _, b := range bz {
		out = append(out, hextable[b>>4], hextable[b&0x0f])
	}
	return string(out)
}
