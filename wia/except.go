package wia

import (
	"bytes"
	"encoding/binary"

	"github.com/bodgit/wii"
)

// An exception overrides one 20 byte hash in the hash areas of a sector
// group after they have been recomputed from the plaintext data.
type exception struct {
	Offset uint16
	Hash   [wii.HashLen]byte
}

const exceptionSize = 2 + wii.HashLen

// One list per sector group (wii.GroupSectors sectors) of a chunk. Offsets
// are relative to the concatenated hash areas of that group.
type exceptionList []exception

// Hash entries within a sector hash area, in the order they are compared.
var hashEntries = func() []int {
	var offsets []int
	for i := 0; i < wii.BlocksPerSector; i++ {
		offsets = append(offsets, wii.H0Offset+i*wii.HashLen)
	}
	for i := 0; i < wii.SubGroupSectors; i++ {
		offsets = append(offsets, wii.H1Offset+i*wii.HashLen)
	}
	for i := 0; i < wii.SubGroupSectors; i++ {
		offsets = append(offsets, wii.H2Offset+i*wii.HashLen)
	}
	return offsets
}()

// Padding between and after the hash tables. Each is covered by one or two
// overlapping 20 byte windows.
var paddingEntries = []struct{ start, end int }{
	{wii.H0Offset + wii.H0Size, wii.H1Offset},
	{wii.H1Offset + wii.H1Size, wii.H2Offset},
	{wii.H2Offset + wii.H2Size, wii.HashSize},
}

// Every hash entry plus two windows for each of the last two padding areas
// and one for the first.
var maxSectorExceptions = len(hashEntries) + 5

// diffHashes compares the hash areas recomputed from plaintext (expected)
// with the ones found on the disc (actual) and returns an exception for
// every hash that differs. Sectors are visited in order, within a sector H0
// then H1 then H2 entries, followed by any non-zero padding.
func diffHashes(expected, actual []byte) exceptionList {
	var list exceptionList
	add := func(offset int) {
		e := exception{Offset: uint16(offset)}
		copy(e.Hash[:], actual[offset:])
		list = append(list, e)
	}

	for base := 0; base+wii.HashSize <= len(actual); base += wii.HashSize {
		for _, o := range hashEntries {
			off := base + o
			if !bytes.Equal(expected[off:off+wii.HashLen], actual[off:off+wii.HashLen]) {
				add(off)
			}
		}
		for _, p := range paddingEntries {
			start, end := base+p.start, base+p.end
			if bytes.Equal(expected[start:end], actual[start:end]) {
				continue
			}
			add(start)
			if end-start > wii.HashLen {
				add(end - wii.HashLen)
			}
		}
	}

	return list
}

// apply overwrites the hash areas with the exceptions.
func (l exceptionList) apply(hashes []byte) error {
	for _, e := range l {
		if int(e.Offset)+wii.HashLen > len(hashes) {
			return corruptf("exception offset %#x outside %#x byte hash area", e.Offset, len(hashes))
		}
		copy(hashes[e.Offset:], e.Hash[:])
	}
	return nil
}

func (l exceptionList) size() int {
	return 2 + len(l)*exceptionSize
}

func exceptionListsSize(lists []exceptionList) int {
	n := 0
	for _, l := range lists {
		n += l.size()
	}
	return n
}

func marshalExceptionLists(lists []exceptionList) []byte {
	b := make([]byte, 0, exceptionListsSize(lists))
	for _, l := range lists {
		b = binary.BigEndian.AppendUint16(b, uint16(len(l)))
		for _, e := range l {
			b = binary.BigEndian.AppendUint16(b, e.Offset)
			b = append(b, e.Hash[:]...)
		}
	}
	return b
}

// calcExceptionListsSize walks n list headers at the start of b and returns
// the number of bytes they occupy, without looking at what follows.
func calcExceptionListsSize(b []byte, n int) (int, error) {
	off := 0
	for i := 0; i < n; i++ {
		if off+2 > len(b) {
			return 0, corruptf("exception list %d runs past end of chunk", i)
		}
		count := int(binary.BigEndian.Uint16(b[off:]))
		off += 2 + count*exceptionSize
		if off > len(b) {
			return 0, corruptf("exception list %d runs past end of chunk", i)
		}
	}
	return off, nil
}

// unmarshalExceptionLists parses n lists from the start of b, returning them
// and the number of bytes consumed. Each list may address at most
// hashAreas[i] bytes.
func unmarshalExceptionLists(b []byte, hashAreas []int) ([]exceptionList, int, error) {
	size, err := calcExceptionListsSize(b, len(hashAreas))
	if err != nil {
		return nil, 0, err
	}

	lists := make([]exceptionList, len(hashAreas))
	off := 0
	for i := range lists {
		count := int(binary.BigEndian.Uint16(b[off:]))
		off += 2
		if count > 0 {
			lists[i] = make(exceptionList, count)
		}
		for j := range lists[i] {
			e := &lists[i][j]
			e.Offset = binary.BigEndian.Uint16(b[off:])
			copy(e.Hash[:], b[off+2:off+exceptionSize])
			off += exceptionSize
			if int(e.Offset)+wii.HashLen > hashAreas[i] {
				return nil, 0, corruptf("exception offset %#x outside %#x byte hash area", e.Offset, hashAreas[i])
			}
		}
	}

	return lists, size, nil
}

// hashAreas returns the size of the hash areas covered by each exception
// list of a chunk holding n sectors.
func hashAreas(n int) []int {
	areas := make([]int, 0, (n+wii.GroupSectors-1)/wii.GroupSectors)
	for n > 0 {
		count := min(n, wii.GroupSectors)
		areas = append(areas, count*wii.HashSize)
		n -= count
	}
	return areas
}
