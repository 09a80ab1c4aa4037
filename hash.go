package wii

import (
	"crypto/sha1"
)

// HashGroup computes the H0, H1 and H2 tables for up to GroupSectors
// sectors of plaintext partition data. data holds n*SectorDataSize bytes
// and hashes receives n*HashSize bytes, one hash area per sector, laid out
// exactly as they appear at the start of each sector. Padding is zeroed
// and entries for sectors missing from a short group are left zero.
func HashGroup(hashes, data []byte) {
	n := len(data) / SectorDataSize
	if n > GroupSectors {
		panic("wii: too many sectors for one group")
	}
	if len(hashes) < n*HashSize {
		panic("wii: hash buffer too small")
	}

	hashes = hashes[:n*HashSize]
	clear(hashes)

	// H0, one hash per block
	for i := 0; i < n; i++ {
		sector := data[i*SectorDataSize : (i+1)*SectorDataSize]
		h0 := hashes[i*HashSize+H0Offset:]
		for j := 0; j < BlocksPerSector; j++ {
			sum := sha1.Sum(sector[j*BlockSize : (j+1)*BlockSize])
			copy(h0[j*HashLen:], sum[:])
		}
	}

	// H1, one hash of each H0 table, shared by every sector in the subgroup
	var h1 [H1Size]byte
	var h2 [H2Size]byte
	for s := 0; s*SubGroupSectors < n; s++ {
		first := s * SubGroupSectors
		last := min(first+SubGroupSectors, n)

		clear(h1[:])
		for i := first; i < last; i++ {
			sum := sha1.Sum(hashes[i*HashSize+H0Offset : i*HashSize+H0Offset+H0Size])
			copy(h1[(i-first)*HashLen:], sum[:])
		}
		for i := first; i < last; i++ {
			copy(hashes[i*HashSize+H1Offset:], h1[:])
		}

		sum := sha1.Sum(h1[:])
		copy(h2[s*HashLen:], sum[:])
	}

	// H2, one hash of each H1 table, shared by every sector in the group
	for i := 0; i < n; i++ {
		copy(hashes[i*HashSize+H2Offset:], h2[:])
	}
}
