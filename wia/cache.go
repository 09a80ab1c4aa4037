package wia

import (
	"crypto/cipher"

	"github.com/bodgit/wii"
)

// groupCache holds the one chunk currently resident in memory, in its
// logical form: raw bytes or full partition sectors.
type groupCache struct {
	loaded bool
	ref    chunkRef
	data   []byte
}

func (c *groupCache) holds(ref chunkRef) bool {
	return c.loaded && c.ref == ref
}

// buffer returns a buffer for ref without marking it resident.
func (c *groupCache) buffer(ref chunkRef) []byte {
	c.loaded = false
	if int64(cap(c.data)) < ref.size {
		c.data = make([]byte, ref.size)
	}
	c.data = c.data[:ref.size]
	return c.data
}

func (c *groupCache) set(ref chunkRef) {
	c.loaded, c.ref = true, ref
}

// extend grows the resident chunk to ref, the same chunk with a larger
// size. The new bytes are zero.
func (c *groupCache) extend(ref chunkRef) {
	n := len(c.data)
	if int64(cap(c.data)) < ref.size {
		b := make([]byte, ref.size)
		copy(b, c.data)
		c.data = b
	} else {
		c.data = c.data[:ref.size]
		clear(c.data[n:])
	}
	c.ref = ref
}

func (c *groupCache) drop() {
	c.loaded = false
}

// joinSectors rebuilds full sectors in dst from plaintext data by
// recomputing the hash tree of every sector group and patching it with the
// exceptions. Sectors are encrypted unless block is nil.
func joinSectors(block cipher.Block, dst, data []byte, lists []exceptionList) error {
	var hashes [wii.GroupSectors * wii.HashSize]byte

	for s, area := range hashAreas(len(data) / wii.SectorDataSize) {
		first := s * wii.GroupSectors
		n := area / wii.HashSize
		h := hashes[:area]

		wii.HashGroup(h, data[first*wii.SectorDataSize:(first+n)*wii.SectorDataSize])
		if err := lists[s].apply(h); err != nil {
			return err
		}

		for i := 0; i < n; i++ {
			sector := first + i
			out := dst[sector*wii.SectorSize : (sector+1)*wii.SectorSize]
			hi := h[i*wii.HashSize:]
			di := data[sector*wii.SectorDataSize:]
			if block != nil {
				wii.EncryptSector(block, out, hi, di)
			} else {
				wii.JoinSector(out, hi, di)
			}
		}
	}

	return nil
}

// splitSectors extracts the plaintext data of full sectors in src into data
// and returns the exceptions needed to restore their hash areas.
func splitSectors(block cipher.Block, src, data []byte) ([]exceptionList, error) {
	var actual, expected [wii.GroupSectors * wii.HashSize]byte

	areas := hashAreas(len(src) / wii.SectorSize)
	lists := make([]exceptionList, len(areas))

	for s, area := range areas {
		first := s * wii.GroupSectors
		n := area / wii.HashSize

		for i := 0; i < n; i++ {
			sector := first + i
			in := src[sector*wii.SectorSize : (sector+1)*wii.SectorSize]
			hi := actual[i*wii.HashSize:]
			di := data[sector*wii.SectorDataSize:]
			if block != nil {
				if err := wii.DecryptSector(block, in, hi, di); err != nil {
					return nil, err
				}
			} else {
				wii.SplitSector(in, hi, di)
			}
		}

		wii.HashGroup(expected[:area], data[first*wii.SectorDataSize:(first+n)*wii.SectorDataSize])
		lists[s] = diffHashes(expected[:area], actual[:area])
	}

	return lists, nil
}

// emptySector returns a sector of zero data with a matching hash area, as
// found in every sector of an all-zero sector group.
func emptySector(block cipher.Block) []byte {
	data := make([]byte, wii.GroupSectors*wii.SectorDataSize)
	hashes := make([]byte, wii.GroupSectors*wii.HashSize)
	wii.HashGroup(hashes, data)

	sector := make([]byte, wii.SectorSize)
	if block != nil {
		wii.EncryptSector(block, sector, hashes, data)
	} else {
		wii.JoinSector(sector, hashes, data)
	}
	return sector
}
