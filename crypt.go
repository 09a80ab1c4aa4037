package wii

import (
	"bytes"
	"crypto/cipher"
	"io"

	"github.com/connesc/cipherio"
)

// The data area of a sector is encrypted using the last bytes of the
// encrypted hash area as the IV.
const ivOffset = 0x3d0

// EncryptSector builds one encrypted sector in dst from a hash area and
// SectorDataSize bytes of plaintext data.
func EncryptSector(block cipher.Block, dst, hashes, data []byte) {
	iv := make([]byte, block.BlockSize())
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(dst[:HashSize], hashes[:HashSize])
	copy(iv, dst[ivOffset:])
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(dst[HashSize:SectorSize], data[:SectorDataSize])
}

// DecryptSector splits one encrypted sector in src into its decrypted hash
// area and plaintext data.
func DecryptSector(block cipher.Block, src, hashes, data []byte) error {
	iv := make([]byte, block.BlockSize())
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(hashes[:HashSize], src[:HashSize])
	copy(iv, src[ivOffset:])

	cbc := cipherio.NewBlockReader(bytes.NewReader(src[HashSize:SectorSize]), cipher.NewCBCDecrypter(block, iv))
	_, err := io.ReadFull(cbc, data[:SectorDataSize])

	return err
}

// JoinSector builds one unencrypted sector in dst from a hash area and
// plaintext data.
func JoinSector(dst, hashes, data []byte) {
	copy(dst[:HashSize], hashes[:HashSize])
	copy(dst[HashSize:SectorSize], data[:SectorDataSize])
}

// SplitSector splits one unencrypted sector in src into its hash area and
// data.
func SplitSector(src, hashes, data []byte) {
	copy(hashes[:HashSize], src[:HashSize])
	copy(data[:SectorDataSize], src[HashSize:SectorSize])
}
