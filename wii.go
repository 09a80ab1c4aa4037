/*
Package wii implements the parts of the Nintendo Wii and GameCube optical disc
formats needed to store disc images efficiently: the sector geometry, the
partition table and tickets, the H0/H1/H2 hash tree embedded in every
partition sector and the AES-CBC sector encryption.
*/
package wii

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"

	"go4.org/readerutil"
)

const (
	// Extension is the conventional file extension used
	Extension = ".iso"

	// SectorSize is the size of a Wii disc sector, also the unit that
	// partition data is encrypted in.
	SectorSize = 0x8000
	// HashSize is the size of the hash area at the start of every
	// partition sector.
	HashSize = 0x400
	// SectorDataSize is the amount of user data in a partition sector.
	SectorDataSize = SectorSize - HashSize
	// BlockSize is the unit of data covered by a single H0 hash.
	BlockSize = 0x400
	// BlocksPerSector is the number of H0 hashes per sector.
	BlocksPerSector = SectorDataSize / BlockSize
	// SubGroupSectors is the number of sectors covered by one H1 table.
	SubGroupSectors = 8
	// GroupSectors is the number of sectors covered by one H2 table.
	GroupSectors = 64
	// GroupSize is the size of a sector group, 2 MiB.
	GroupSize = GroupSectors * SectorSize

	// HeaderSize is the size of the disc header that identifies a disc.
	HeaderSize = 0x80

	// MaxSectors is the number of sectors on a dual-layer Wii disc.
	MaxSectors = 2 * 143432
	// MaxSize is the largest disc image size.
	MaxSize int64 = MaxSectors * SectorSize

	// CommonKeyFile is the conventional name of the file holding the
	// common key used to decrypt title keys.
	CommonKeyFile = "common.key"

	// KeySize is the size of AES keys used on the disc.
	KeySize = 16

	wiiMagic      uint32 = 0x5d1c9ea3
	gamecubeMagic uint32 = 0xc2339f3d

	partitionTableOffset = 0x40000
	maxPartitions        = 4 * 0x40
)

// Offsets of the individual hash tables within a sector hash area.
const (
	H0Offset = 0x000
	H0Size   = BlocksPerSector * HashLen
	H1Offset = 0x280
	H1Size   = SubGroupSectors * HashLen
	H2Offset = 0x340
	H2Size   = SubGroupSectors * HashLen

	// HashLen is the size of a single SHA-1 hash.
	HashLen = 20
)

// Reader is the interface implemented by anything presenting a flat disc
// image.
type Reader interface {
	Size() int64
	io.Reader
	io.ReaderAt
	io.Seeker
}

// ReadCloser is a Reader that must be closed after use.
type ReadCloser interface {
	Reader
	io.Closer
}

// DiscType identifies the console a disc image belongs to.
type DiscType uint32

// Disc types as recorded in the first bytes of the disc header.
const (
	Unknown DiscType = iota
	GameCube
	Wii
)

func (t DiscType) String() string {
	switch t {
	case GameCube:
		return "GameCube"
	case Wii:
		return "Wii"
	default:
		return "unknown"
	}
}

// Type returns the disc type from the magic numbers in the disc header.
func Type(header []byte) DiscType {
	if len(header) < 0x20 {
		return Unknown
	}
	switch {
	case binary.BigEndian.Uint32(header[0x18:]) == wiiMagic:
		return Wii
	case binary.BigEndian.Uint32(header[0x1c:]) == gamecubeMagic:
		return GameCube
	}
	return Unknown
}

// Encrypted reports whether partition sectors are encrypted, which is the
// case unless the disc header explicitly disables it.
func Encrypted(header []byte) bool {
	return len(header) <= 0x61 || header[0x61] == 0
}

// Partition describes the location of one partition and the key used to
// encrypt its data area.
type Partition struct {
	Offset     int64
	Type       uint32
	TitleID    uint64
	Key        [KeySize]byte
	DataOffset int64
	DataSize   int64
}

// FirstSector returns the absolute sector number of the start of the
// partition data.
func (p Partition) FirstSector() uint32 {
	return uint32(p.DataOffset / SectorSize)
}

// Sectors returns the number of sectors of partition data.
func (p Partition) Sectors() uint32 {
	return uint32(p.DataSize / SectorSize)
}

// Block returns an AES block cipher for the partition key.
func (p Partition) Block() (cipher.Block, error) {
	return aes.NewCipher(p.Key[:])
}

// Disc is a parsed disc image.
type Disc struct {
	r          io.ReaderAt
	size       int64
	header     [HeaderSize]byte
	partitions []Partition
}

// NewDisc parses the disc header and, for Wii discs, the partition table
// and tickets, decrypting each title key with commonKey. GameCube discs
// have no partitions and commonKey is not needed.
func NewDisc(r readerutil.SizeReaderAt, commonKey []byte) (*Disc, error) {
	d := new(Disc)
	d.r = r
	d.size = r.Size()

	if d.size < HeaderSize {
		return nil, errors.New("wii: image too small")
	}
	if d.size > MaxSize {
		return nil, errors.New("wii: image too large")
	}

	if _, err := r.ReadAt(d.header[:], 0); err != nil {
		return nil, err
	}

	if d.Type() != Wii {
		return d, nil
	}

	if len(commonKey) != KeySize {
		return nil, errors.New("wii: wrong common key size")
	}
	common, err := aes.NewCipher(commonKey)
	if err != nil {
		return nil, err
	}

	// Four partition groups, each a count and a shifted table offset
	pti := [4]struct {
		Count  uint32
		Offset uint32
	}{}
	sr := io.NewSectionReader(r, partitionTableOffset, int64(binary.Size(&pti)))
	if err = binary.Read(sr, binary.BigEndian, &pti); err != nil {
		return nil, fmt.Errorf("wii: reading partition table: %w", err)
	}

	for _, g := range pti {
		if g.Count == 0 {
			continue
		}
		if len(d.partitions)+int(g.Count) > maxPartitions {
			return nil, errors.New("wii: too many partitions")
		}

		pte := make([]struct {
			Offset uint32
			Type   uint32
		}, g.Count)
		sr = io.NewSectionReader(r, int64(g.Offset)<<2, int64(binary.Size(pte)))
		if err = binary.Read(sr, binary.BigEndian, &pte); err != nil {
			return nil, fmt.Errorf("wii: reading partition table: %w", err)
		}

		for _, e := range pte {
			p, err := d.readPartition(common, int64(e.Offset)<<2)
			if err != nil {
				return nil, err
			}
			p.Type = e.Type
			d.partitions = append(d.partitions, p)
		}
	}

	sort.Slice(d.partitions, func(i, j int) bool {
		return d.partitions[i].DataOffset < d.partitions[j].DataOffset
	})

	return d, nil
}

func (d *Disc) readPartition(common cipher.Block, offset int64) (Partition, error) {
	p := Partition{Offset: offset}

	ticket := struct {
		_            [0x1bf]byte
		EncryptedKey [KeySize]byte
		_            [0xd]byte
		TitleID      uint64
		_            [0xd]byte
		CommonKey    byte
		_            [0xb2]byte
		TMDSize      uint32
		TMDOffset    uint32
		CertSize     uint32
		CertOffset   uint32
		H3Offset     uint32
		DataOffset   uint32
		DataSize     uint32
	}{}

	sr := io.NewSectionReader(d.r, offset, int64(binary.Size(&ticket)))
	if err := binary.Read(sr, binary.BigEndian, &ticket); err != nil {
		return p, fmt.Errorf("wii: reading partition header at %#x: %w", offset, err)
	}
	if ticket.CommonKey != 0 {
		return p, fmt.Errorf("wii: partition at %#x uses unsupported common key %d", offset, ticket.CommonKey)
	}

	p.TitleID = ticket.TitleID
	p.DataOffset = offset + int64(ticket.DataOffset)<<2
	p.DataSize = int64(ticket.DataSize) << 2

	if p.DataOffset%SectorSize != 0 || p.DataSize%SectorSize != 0 {
		return p, fmt.Errorf("wii: partition at %#x is not sector aligned", offset)
	}
	if p.DataOffset+p.DataSize > d.size {
		return p, fmt.Errorf("wii: partition at %#x extends past end of image", offset)
	}

	// The title key is encrypted with the common key using the title ID
	// as the IV
	iv := make([]byte, common.BlockSize())
	binary.BigEndian.PutUint64(iv, p.TitleID)
	cipher.NewCBCDecrypter(common, iv).CryptBlocks(p.Key[:], ticket.EncryptedKey[:])

	return p, nil
}

// Size returns the size of the disc image.
func (d *Disc) Size() int64 {
	return d.size
}

// Header returns a copy of the disc header.
func (d *Disc) Header() []byte {
	return bytes.Clone(d.header[:])
}

// Type returns the disc type.
func (d *Disc) Type() DiscType {
	return Type(d.header[:])
}

// ID returns the six character game ID.
func (d *Disc) ID() string {
	return string(bytes.TrimRight(d.header[:6], "\x00"))
}

// Title returns the game title from the disc header.
func (d *Disc) Title() string {
	return string(bytes.TrimRight(d.header[0x20:HeaderSize], "\x00"))
}

// Partitions returns the partitions ordered by their data offset.
func (d *Disc) Partitions() []Partition {
	return append([]Partition(nil), d.partitions...)
}
