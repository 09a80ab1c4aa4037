package wia

import (
	"errors"
	"fmt"
	"sort"

	"github.com/bodgit/wii"
)

// layout holds the partition, raw data and group tables of a container and
// the memory map built from them.
type layout struct {
	chunkSize  int64
	isoSize    int64
	partitions []partition
	rawData    []rawData
	groups     []group
	mm         memMap
}

// chunkRef identifies one chunk and where it sits in the logical image.
type chunkRef struct {
	group uint32
	// logical offset and size of the whole chunk, for raw data the start
	// may precede the raw data entry
	start int64
	size  int64

	partition bool
	part      int
	sectors   int
}

func (c chunkRef) end() int64 {
	return c.start + c.size
}

func divRoundUp(a, b int64) int64 {
	return (a + b - 1) / b
}

func (l *layout) sectorsPerChunk() int64 {
	return l.chunkSize / wii.SectorSize
}

func (l *layout) rawGroups(r rawData) int64 {
	if r.Size == 0 {
		return 0
	}
	return divRoundUp(r.end()-r.base(), l.chunkSize)
}

func (l *layout) partitionGroups(pd partitionData) int64 {
	return divRoundUp(int64(pd.NumSectors), l.sectorsPerChunk())
}

// rawChunk returns the chunk of raw data entry i holding off.
func (l *layout) rawChunk(i int, off int64) chunkRef {
	r := l.rawData[i]
	gi := (off - r.base()) / l.chunkSize
	start := r.base() + gi*l.chunkSize
	return chunkRef{
		group: r.GroupIndex + uint32(gi),
		start: start,
		size:  min(l.chunkSize, r.end()-start),
	}
}

// partitionChunk returns the chunk of partition i, data area j holding off.
func (l *layout) partitionChunk(i, j int, off int64) chunkRef {
	pd := l.partitions[i].Data[j]
	spc := l.sectorsPerChunk()
	gi := (off - pd.offset()) / wii.SectorSize / spc
	sectors := min(spc, int64(pd.NumSectors)-gi*spc)
	return chunkRef{
		group:     pd.GroupIndex + uint32(gi),
		start:     pd.offset() + gi*spc*wii.SectorSize,
		size:      sectors * wii.SectorSize,
		partition: true,
		part:      i,
		sectors:   int(sectors),
	}
}

func validChunkSize(chunkSize uint32) bool {
	return chunkSize != 0 && chunkSize%BaseChunkSize == 0
}

type entry struct {
	offset int64
	raw    *rawData
	pd     *partitionData
}

// newWriteLayout divides an image of size bytes holding the given
// partitions into chunks. Anything not covered by partition data becomes
// raw data and a final empty raw data entry is reserved for writes past
// the end of the image.
func newWriteLayout(size int64, partitions []wii.Partition, chunkSize uint32) (*layout, error) {
	if size < 0 || size > wii.MaxSize {
		return nil, fmt.Errorf("wia: image size %d out of range", size)
	}

	l := &layout{
		chunkSize: int64(chunkSize),
		isoSize:   size,
	}

	parts := append([]wii.Partition(nil), partitions...)
	sort.Slice(parts, func(i, j int) bool {
		return parts[i].DataOffset < parts[j].DataOffset
	})

	spc := l.sectorsPerChunk()
	cursor := int64(min(wii.HeaderSize, size))
	for i, p := range parts {
		switch {
		case p.DataOffset%wii.SectorSize != 0 || p.DataSize%wii.SectorSize != 0:
			return nil, fmt.Errorf("wia: partition %d is not sector aligned", i)
		case p.DataOffset < cursor:
			return nil, fmt.Errorf("wia: partition %d overlaps preceding data", i)
		case p.DataOffset+p.DataSize > size:
			return nil, fmt.Errorf("wia: partition %d extends past end of image", i)
		}

		if p.DataOffset > cursor {
			l.rawData = append(l.rawData, rawData{Offset: uint64(cursor), Size: uint64(p.DataOffset - cursor)})
		}

		// The first chunk worth of sectors holds the management data
		n := p.Sectors()
		head := uint32(min(int64(n), spc))
		l.partitions = append(l.partitions, partition{
			Key: p.Key,
			Data: [2]partitionData{
				{FirstSector: p.FirstSector(), NumSectors: head},
				{FirstSector: p.FirstSector() + head, NumSectors: n - head},
			},
		})

		cursor = p.DataOffset + p.DataSize
	}
	if cursor < size {
		l.rawData = append(l.rawData, rawData{Offset: uint64(cursor), Size: uint64(size - cursor)})
	}

	// Groups are numbered in address order
	var entries []entry
	for i := range l.rawData {
		entries = append(entries, entry{offset: int64(l.rawData[i].Offset), raw: &l.rawData[i]})
	}
	for i := range l.partitions {
		for j := range l.partitions[i].Data {
			pd := &l.partitions[i].Data[j]
			entries = append(entries, entry{offset: pd.offset(), pd: pd})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].offset < entries[j].offset
	})

	var groups uint32
	for _, e := range entries {
		var n int64
		if e.raw != nil {
			n = l.rawGroups(*e.raw)
			e.raw.GroupIndex, e.raw.NumGroups = groups, uint32(n)
		} else {
			n = l.partitionGroups(*e.pd)
			e.pd.GroupIndex, e.pd.NumGroups = groups, uint32(n)
		}
		groups += uint32(n)
	}

	l.rawData = append(l.rawData, rawData{Offset: uint64(size), GroupIndex: groups})
	l.groups = make([]group, groups)

	if err := l.buildMemMap(true); err != nil {
		return nil, internalf("%v", err)
	}

	return l, nil
}

// newReadLayout validates tables read from a container and builds the
// memory map from them.
func newReadLayout(d *disc, isoSize int64, partitions []partition, raw []rawData, groups []group) (*layout, error) {
	if !validChunkSize(d.ChunkSize) {
		return nil, corruptf("bad chunk size %#x", d.ChunkSize)
	}
	if isoSize < 0 || isoSize > wii.MaxSize {
		return nil, corruptf("image size %d out of range", isoSize)
	}

	l := &layout{
		chunkSize:  int64(d.ChunkSize),
		isoSize:    isoSize,
		partitions: partitions,
		rawData:    raw,
		groups:     groups,
	}

	check := func(name string, index, count uint32, want int64) error {
		if int64(count) != want {
			return corruptf("%s has %d groups, expected %d", name, count, want)
		}
		if int64(index)+int64(count) > int64(len(groups)) {
			return corruptf("%s groups %d+%d out of range", name, index, count)
		}
		return nil
	}

	for i, r := range raw {
		if r.Offset > uint64(wii.MaxSize) || r.Size > uint64(wii.MaxSize) {
			return nil, corruptf("raw data %d out of range", i)
		}
		if err := check(fmt.Sprintf("raw data %d", i), r.GroupIndex, r.NumGroups, l.rawGroups(r)); err != nil {
			return nil, err
		}
	}
	for i, p := range partitions {
		for j, pd := range p.Data {
			if err := check(fmt.Sprintf("partition %d data %d", i, j), pd.GroupIndex, pd.NumGroups, l.partitionGroups(pd)); err != nil {
				return nil, err
			}
		}
	}

	if err := l.buildMemMap(false); err != nil {
		return nil, corruptf("%v", err)
	}

	return l, nil
}

func (l *layout) buildMemMap(write bool) error {
	l.mm = memMap{}

	if err := l.mm.insert(KindHeader, 0, min(wii.HeaderSize, l.isoSize), 0, "Disc header"); err != nil {
		return err
	}

	for i, r := range l.rawData {
		if r.Size == 0 {
			continue
		}
		if err := l.mm.insert(KindRaw, int64(r.Offset), int64(r.Size), i, fmt.Sprintf("Raw data %d", i)); err != nil {
			return err
		}
	}

	for i, p := range l.partitions {
		for j, kind := range []Kind{KindPartition0, KindPartition1} {
			pd := p.Data[j]
			if pd.NumSectors == 0 {
				continue
			}
			if err := l.mm.insert(kind, pd.offset(), pd.size(), i, fmt.Sprintf("Partition %d data %d", i, j)); err != nil {
				return err
			}
		}
	}

	if err := l.mm.contiguous(l.isoSize); err != nil {
		return err
	}

	if !write {
		return l.mm.insert(KindEOF, l.isoSize, 0, 0, "End of image")
	}

	// The reserved raw data entry is always last
	last := len(l.rawData) - 1
	if err := l.mm.insert(KindRaw, l.isoSize, 0, last, "Growing raw data"); err != nil {
		return err
	}
	if l.isoSize < wii.MaxSize {
		return l.mm.insert(KindGrowing, l.isoSize, wii.MaxSize-l.isoSize, last, "Growing")
	}
	return nil
}

var errGrowing = errors.New("wia: no room to grow image")

// grow extends the image to end bytes by enlarging the reserved raw data
// entry.
func (l *layout) grow(end int64) error {
	growing, ok := l.mm.last(KindGrowing)
	if !ok || end > wii.MaxSize {
		return errGrowing
	}
	if end <= growing.Offset {
		return nil
	}

	// The region right before the growing region maps the reserved entry
	i := len(l.mm.items) - 2
	raw := &l.mm.items[i]
	if raw.Kind != KindRaw || raw.Index != len(l.rawData)-1 {
		return internalf("growing region not preceded by reserved raw data")
	}

	r := &l.rawData[raw.Index]

	// An image smaller than the disc header grows the header first
	if l.isoSize < wii.HeaderSize {
		header := &l.mm.items[0]
		if header.Kind != KindHeader {
			return internalf("memory map does not start with the disc header")
		}
		header.Size = min(end, wii.HeaderSize)
		r.Offset = uint64(header.Size)
		raw.Offset = header.Size
	}

	r.Size = uint64(end) - r.Offset
	for n := l.rawGroups(*r); int64(r.NumGroups) < n; r.NumGroups++ {
		l.groups = append(l.groups, group{})
	}

	raw.Size = int64(r.Size)
	growing.Offset, growing.Size = end, wii.MaxSize-end
	l.isoSize = end

	return nil
}
