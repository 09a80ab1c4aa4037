package wii

import (
	"crypto/aes"
	"testing"

	"github.com/stretchr/testify/require"
)

// Expectation: A decrypted sector should match the hashes and data it was
// built from.
func Test_EncryptSector_RoundTrip_Success(t *testing.T) {
	t.Parallel()

	block, err := aes.NewCipher([]byte("fedcba9876543210"))
	require.NoError(t, err)

	data := pattern(SectorDataSize)
	hashes := make([]byte, HashSize)
	HashGroup(hashes, data)

	sector := make([]byte, SectorSize)
	EncryptSector(block, sector, hashes, data)
	require.NotEqual(t, data, sector[HashSize:])

	gotHashes := make([]byte, HashSize)
	gotData := make([]byte, SectorDataSize)
	require.NoError(t, DecryptSector(block, sector, gotHashes, gotData))

	require.Equal(t, hashes, gotHashes)
	require.Equal(t, data, gotData)
}

// Expectation: Changing the hash area should change the encrypted data,
// as it supplies the IV.
func Test_EncryptSector_IV_Success(t *testing.T) {
	t.Parallel()

	block, err := aes.NewCipher([]byte("fedcba9876543210"))
	require.NoError(t, err)

	data := pattern(SectorDataSize)
	hashes := make([]byte, HashSize)

	a := make([]byte, SectorSize)
	EncryptSector(block, a, hashes, data)

	hashes[ivOffset] = 1
	b := make([]byte, SectorSize)
	EncryptSector(block, b, hashes, data)

	require.NotEqual(t, a[HashSize:], b[HashSize:])
}

// Expectation: Unencrypted sectors should split and join losslessly.
func Test_JoinSector_RoundTrip_Success(t *testing.T) {
	t.Parallel()

	sector := pattern(SectorSize)
	hashes := make([]byte, HashSize)
	data := make([]byte, SectorDataSize)
	SplitSector(sector, hashes, data)

	require.Equal(t, sector[:HashSize], hashes)
	require.Equal(t, sector[HashSize:], data)

	out := make([]byte, SectorSize)
	JoinSector(out, hashes, data)
	require.Equal(t, sector, out)
}
