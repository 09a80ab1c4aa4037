package wii

import (
	"bytes"
	"crypto/sha1"
	"testing"

	"github.com/stretchr/testify/require"
)

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i>>10)
	}
	return b
}

// Expectation: Every H0 entry should be the SHA-1 of its block.
func Test_HashGroup_H0_Success(t *testing.T) {
	t.Parallel()

	data := pattern(2 * SectorDataSize)
	hashes := make([]byte, 2*HashSize)
	HashGroup(hashes, data)

	for s := 0; s < 2; s++ {
		for j := 0; j < BlocksPerSector; j++ {
			block := data[s*SectorDataSize+j*BlockSize : s*SectorDataSize+(j+1)*BlockSize]
			sum := sha1.Sum(block)
			off := s*HashSize + H0Offset + j*HashLen
			require.Equal(t, sum[:], hashes[off:off+HashLen])
		}
	}
}

// Expectation: Sectors in the same subgroup should share the H1 table and
// all sectors should share the H2 table.
func Test_HashGroup_Shared_Success(t *testing.T) {
	t.Parallel()

	n := SubGroupSectors + 3
	data := pattern(n * SectorDataSize)
	hashes := make([]byte, n*HashSize)
	HashGroup(hashes, data)

	h1 := func(s int) []byte { return hashes[s*HashSize+H1Offset : s*HashSize+H1Offset+H1Size] }
	h2 := func(s int) []byte { return hashes[s*HashSize+H2Offset : s*HashSize+H2Offset+H2Size] }

	for s := 1; s < SubGroupSectors; s++ {
		require.Equal(t, h1(0), h1(s))
	}
	require.NotEqual(t, h1(0), h1(SubGroupSectors))

	for s := 1; s < n; s++ {
		require.Equal(t, h2(0), h2(s))
	}

	sum := sha1.Sum(h1(0))
	require.Equal(t, sum[:], h2(0)[:HashLen])
	sum = sha1.Sum(h1(SubGroupSectors))
	require.Equal(t, sum[:], h2(0)[HashLen:2*HashLen])
}

// Expectation: Entries for sectors missing from a short group and all
// padding should be zero.
func Test_HashGroup_Padding_Success(t *testing.T) {
	t.Parallel()

	data := pattern(3 * SectorDataSize)
	hashes := bytes.Repeat([]byte{0xff}, 3*HashSize)
	HashGroup(hashes, data)

	zero := make([]byte, HashSize)
	for s := 0; s < 3; s++ {
		area := hashes[s*HashSize : (s+1)*HashSize]
		require.Equal(t, zero[:H1Offset-H0Size], area[H0Size:H1Offset])
		require.Equal(t, zero[:H2Offset-H1Offset-H1Size], area[H1Offset+H1Size:H2Offset])
		require.Equal(t, zero[:HashSize-H2Offset-H2Size], area[H2Offset+H2Size:])
		require.Equal(t, zero[:H1Size-3*HashLen], area[H1Offset+3*HashLen:H1Offset+H1Size])
		require.Equal(t, zero[:H2Size-HashLen], area[H2Offset+HashLen:H2Offset+H2Size])
	}
}

// Expectation: More than one group of sectors should panic.
func Test_HashGroup_TooMany_Panic(t *testing.T) {
	t.Parallel()

	require.Panics(t, func() {
		HashGroup(make([]byte, (GroupSectors+1)*HashSize), make([]byte, (GroupSectors+1)*SectorDataSize))
	})
}
