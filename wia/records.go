package wia

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"

	"github.com/bodgit/wii"
)

// All records are stored big-endian. Each record type has a fixed size and
// is only ever converted to and from bytes by the functions below.

type fileHeader struct {
	Magic             [4]byte
	Version           uint32
	VersionCompatible uint32
	DiscSize          uint32
	DiscHash          [sha1.Size]byte
	ISOFileSize       uint64
	WIAFileSize       uint64
	HeaderHash        [sha1.Size]byte
}

var (
	fileHeaderSize = binary.Size(fileHeader{})
	discSize       = binary.Size(disc{})
	partitionSize  = binary.Size(partition{})
	rawDataSize    = binary.Size(rawData{})
	groupSize      = binary.Size(group{})
)

// Everything in the file header except the trailing hash is covered by it.
func (h *fileHeader) hash() [sha1.Size]byte {
	b, _ := h.MarshalBinary()
	return sha1.Sum(b[:fileHeaderSize-sha1.Size])
}

func (h *fileHeader) MarshalBinary() ([]byte, error) {
	b := new(bytes.Buffer)
	if err := binary.Write(b, binary.BigEndian, h); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func (h *fileHeader) UnmarshalBinary(b []byte) error {
	if len(b) < fileHeaderSize {
		return corruptf("short file header")
	}
	return binary.Read(bytes.NewReader(b), binary.BigEndian, h)
}

type disc struct {
	DiscType    uint32
	Compression uint32
	Level       int32
	ChunkSize   uint32

	Header [wii.HeaderSize]byte

	NumPartitions   uint32
	PartitionSize   uint32
	PartitionOffset uint64
	PartitionHash   [sha1.Size]byte

	NumRawData    uint32
	RawDataOffset uint64
	RawDataSize   uint32

	NumGroups   uint32
	GroupOffset uint64
	GroupSize   uint32

	PropertiesLen uint8
	Properties    [7]byte
}

// Older writers produced a shorter disc record without the compressor
// properties.
var minDiscSize = discSize - 8

func (d *disc) MarshalBinary() ([]byte, error) {
	b := new(bytes.Buffer)
	if err := binary.Write(b, binary.BigEndian, d); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func (d *disc) UnmarshalBinary(b []byte) error {
	if len(b) < minDiscSize {
		return corruptf("short disc record")
	}
	full := make([]byte, discSize)
	copy(full, b)
	return binary.Read(bytes.NewReader(full), binary.BigEndian, d)
}

func (d *disc) properties() []byte {
	n := min(int(d.PropertiesLen), len(d.Properties))
	return d.Properties[:n]
}

type partitionData struct {
	FirstSector uint32
	NumSectors  uint32
	GroupIndex  uint32
	NumGroups   uint32
}

func (pd partitionData) offset() int64 {
	return int64(pd.FirstSector) * wii.SectorSize
}

func (pd partitionData) size() int64 {
	return int64(pd.NumSectors) * wii.SectorSize
}

type partition struct {
	Key  [wii.KeySize]byte
	Data [2]partitionData
}

type rawData struct {
	Offset     uint64
	Size       uint64
	GroupIndex uint32
	NumGroups  uint32
}

// base is where the first group of the entry starts, the entry offset
// rounded down to a sector boundary.
func (r rawData) base() int64 {
	return int64(r.Offset) &^ (wii.SectorSize - 1)
}

func (r rawData) end() int64 {
	return int64(r.Offset + r.Size)
}

type group struct {
	Offset uint32 // shifted right by 2
	Size   uint32
}

func (g group) offset() int64 {
	return int64(g.Offset) << 2
}

// Upper bound for the stored size of the raw data and group tables.
const maxTableSize = 1 << 26

func marshalTable(v any) ([]byte, error) {
	b := new(bytes.Buffer)
	if err := binary.Write(b, binary.BigEndian, v); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func unmarshalTable(b []byte, v any) error {
	if len(b) != binary.Size(v) {
		return corruptf("table is %d bytes, expected %d", len(b), binary.Size(v))
	}
	return binary.Read(bytes.NewReader(b), binary.BigEndian, v)
}
