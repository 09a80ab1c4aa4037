package wia

import (
	"errors"
	"fmt"
	"sort"
)

// Kind is the type of a region of the logical disc image.
type Kind int

const (
	// KindHeader regions are held in the disc record.
	KindHeader Kind = iota
	// KindRaw regions are stored as raw data groups.
	KindRaw
	// KindPartition0 regions are the first part of a partition's data.
	KindPartition0
	// KindPartition1 regions are the rest of a partition's data.
	KindPartition1
	// KindEOF is a zero sized region marking the end of the image.
	KindEOF
	// KindGrowing is the space after the end of an image being
	// written that writes may extend into.
	KindGrowing
)

func (k Kind) String() string {
	switch k {
	case KindHeader:
		return "header"
	case KindRaw:
		return "raw"
	case KindPartition0:
		return "partition0"
	case KindPartition1:
		return "partition1"
	case KindEOF:
		return "eof"
	case KindGrowing:
		return "growing"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Region is one item of the memory map covering the logical disc image.
// Index refers to the raw data entry or partition the region belongs to.
type Region struct {
	Offset int64
	Size   int64
	Kind   Kind
	Index  int
	Name   string
}

// End returns the offset just past the region.
func (r Region) End() int64 {
	return r.Offset + r.Size
}

var errOverlap = errors.New("overlapping regions")

// memMap is ordered by offset and its regions never overlap.
type memMap struct {
	items []Region
}

func (m *memMap) insert(kind Kind, offset, size int64, index int, name string) error {
	if offset < 0 || size < 0 {
		return fmt.Errorf("%w: %s at %#x+%#x", errOverlap, name, offset, size)
	}

	// After any items starting at the same offset, so zero sized
	// markers stay in front of whatever follows them
	i := sort.Search(len(m.items), func(i int) bool {
		return m.items[i].Offset > offset
	})

	if i > 0 && m.items[i-1].End() > offset {
		return fmt.Errorf("%w: %s at %#x overlaps %s", errOverlap, name, offset, m.items[i-1].Name)
	}
	if i < len(m.items) && size > 0 && m.items[i].Offset < offset+size {
		return fmt.Errorf("%w: %s at %#x overlaps %s", errOverlap, name, offset, m.items[i].Name)
	}

	m.items = append(m.items, Region{})
	copy(m.items[i+1:], m.items[i:])
	m.items[i] = Region{Offset: offset, Size: size, Kind: kind, Index: index, Name: name}

	return nil
}

// resolve returns the region covering off.
func (m *memMap) resolve(off int64) (*Region, bool) {
	i := sort.Search(len(m.items), func(i int) bool {
		return m.items[i].End() > off
	})
	if i == len(m.items) || m.items[i].Offset > off {
		return nil, false
	}
	return &m.items[i], true
}

// contiguous checks that the regions cover [0, size) without gaps.
func (m *memMap) contiguous(size int64) error {
	var off int64
	for _, r := range m.items {
		if r.Offset != off && r.Offset < size {
			return fmt.Errorf("gap at %#x before %s", off, r.Name)
		}
		if r.Kind != KindGrowing && r.End() > size {
			return fmt.Errorf("%s extends past end of image", r.Name)
		}
		off = r.End()
	}
	if off < size {
		return fmt.Errorf("gap at %#x before end of image", off)
	}
	return nil
}

func (m *memMap) last(kind Kind) (*Region, bool) {
	for i := len(m.items) - 1; i >= 0; i-- {
		if m.items[i].Kind == kind {
			return &m.items[i], true
		}
	}
	return nil, false
}

func (m *memMap) regions() []Region {
	return append([]Region(nil), m.items...)
}
