// Package testutil builds small synthetic disc images for tests.
package testutil

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"math/rand"

	"github.com/bodgit/wii"
)

// CommonKey is the common key used to encrypt title keys in synthetic discs.
var CommonKey = []byte("0123456789abcdef")

// DataOffset is where partition data starts relative to the partition.
const DataOffset = 0x20000

// Partition describes one partition of a synthetic Wii disc.
type Partition struct {
	Offset  int64
	Sectors int
	TitleID uint64
	Key     [wii.KeySize]byte

	// Fill writes the plaintext of a sector, nil leaves it zero
	Fill func(sector int, data []byte)
	// Tweak is called with the decrypted hash area of each sector before
	// encryption and may corrupt it
	Tweak func(sector int, hashes []byte)
}

// Random returns n bytes of deterministic pseudo-random data.
func Random(seed int64, n int) []byte {
	b := make([]byte, n)
	_, _ = rand.New(rand.NewSource(seed)).Read(b)
	return b
}

// RandomFill returns a Partition.Fill function producing deterministic
// pseudo-random sector data.
func RandomFill(seed int64) func(int, []byte) {
	return func(sector int, data []byte) {
		_, _ = rand.New(rand.NewSource(seed + int64(sector))).Read(data)
	}
}

func header(image []byte, id string, magicOffset int, magic uint32) {
	copy(image, id)
	binary.BigEndian.PutUint32(image[magicOffset:], magic)
	copy(image[0x20:], "SYNTHETIC TEST DISC")
}

// GameCube returns a GameCube disc image of size bytes with pseudo-random
// content after the disc header.
func GameCube(size int) []byte {
	image := Random(int64(size), size)
	clear(image[:wii.HeaderSize])
	header(image, "GTST01", 0x1c, 0xc2339f3d)
	return image
}

// Wii returns a Wii disc image of size bytes containing the given
// partitions, along with the partitions as the disc parser would report
// them.
func Wii(size int64, partitions []Partition) ([]byte, []wii.Partition) {
	image := make([]byte, size)
	header(image, "RTST01", 0x18, 0x5d1c9ea3)

	common, err := aes.NewCipher(CommonKey)
	if err != nil {
		panic(err)
	}

	binary.BigEndian.PutUint32(image[0x40000:], uint32(len(partitions)))
	binary.BigEndian.PutUint32(image[0x40004:], 0x40020>>2)

	var out []wii.Partition
	for i, p := range partitions {
		binary.BigEndian.PutUint32(image[0x40020+i*8:], uint32(p.Offset>>2))

		// Ticket with the title key encrypted by the common key
		ph := image[p.Offset:]
		iv := make([]byte, aes.BlockSize)
		binary.BigEndian.PutUint64(iv, p.TitleID)
		cipher.NewCBCEncrypter(common, iv).CryptBlocks(ph[0x1bf:0x1cf], p.Key[:])
		binary.BigEndian.PutUint64(ph[0x1dc:], p.TitleID)
		binary.BigEndian.PutUint32(ph[0x2b8:], DataOffset>>2)
		binary.BigEndian.PutUint32(ph[0x2bc:], uint32(p.Sectors*wii.SectorSize)>>2)
		copy(ph[0x2c0:], "partition header")

		block, err := aes.NewCipher(p.Key[:])
		if err != nil {
			panic(err)
		}

		data := image[p.Offset+DataOffset:]
		EncryptSectors(block, data, p.Sectors, p.Fill, p.Tweak)

		out = append(out, wii.Partition{
			Offset:     p.Offset,
			TitleID:    p.TitleID,
			Key:        p.Key,
			DataOffset: p.Offset + DataOffset,
			DataSize:   int64(p.Sectors) * wii.SectorSize,
		})
	}

	return image, out
}

// EncryptSectors fills dst with n encrypted sectors built from the
// plaintext produced by fill, with a valid hash tree unless tweak alters
// it.
func EncryptSectors(block cipher.Block, dst []byte, n int, fill func(int, []byte), tweak func(int, []byte)) {
	for g := 0; g < n; g += wii.GroupSectors {
		count := min(wii.GroupSectors, n-g)
		data := make([]byte, count*wii.SectorDataSize)
		hashes := make([]byte, count*wii.HashSize)
		for i := 0; i < count; i++ {
			if fill != nil {
				fill(g+i, data[i*wii.SectorDataSize:(i+1)*wii.SectorDataSize])
			}
		}
		wii.HashGroup(hashes, data)
		for i := 0; i < count; i++ {
			h := hashes[i*wii.HashSize : (i+1)*wii.HashSize]
			if tweak != nil {
				tweak(g+i, h)
			}
			wii.EncryptSector(block, dst[(g+i)*wii.SectorSize:], h, data[i*wii.SectorDataSize:])
		}
	}
}
