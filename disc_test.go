package wii_test

import (
	"bytes"
	"testing"

	"github.com/bodgit/wii"
	"github.com/bodgit/wii/internal/testutil"
	"github.com/stretchr/testify/require"
)

// Expectation: Partitions and their decrypted title keys should be found.
func Test_NewDisc_Wii_Success(t *testing.T) {
	t.Parallel()

	parts := []testutil.Partition{
		{Offset: 0x50000, Sectors: 4, TitleID: 0x0001000152544553, Key: [16]byte{1, 2, 3}},
		{Offset: 0x100000, Sectors: 2, TitleID: 0x0001000152544554, Key: [16]byte{4, 5, 6}},
	}
	image, want := testutil.Wii(0x200000, parts)

	d, err := wii.NewDisc(bytes.NewReader(image), testutil.CommonKey)
	require.NoError(t, err)

	require.Equal(t, wii.Wii, d.Type())
	require.Equal(t, "RTST01", d.ID())
	require.Equal(t, "SYNTHETIC TEST DISC", d.Title())
	require.Equal(t, int64(len(image)), d.Size())
	require.Equal(t, image[:wii.HeaderSize], d.Header())
	require.Equal(t, want, d.Partitions())

	p := d.Partitions()[0]
	require.Equal(t, uint32((0x50000+testutil.DataOffset)/wii.SectorSize), p.FirstSector())
	require.Equal(t, uint32(4), p.Sectors())
}

// Expectation: A GameCube disc should have no partitions and need no key.
func Test_NewDisc_GameCube_Success(t *testing.T) {
	t.Parallel()

	image := testutil.GameCube(0x10000)

	d, err := wii.NewDisc(bytes.NewReader(image), nil)
	require.NoError(t, err)

	require.Equal(t, wii.GameCube, d.Type())
	require.Equal(t, "GTST01", d.ID())
	require.Empty(t, d.Partitions())
}

// Expectation: A Wii disc should need a common key of the right size.
func Test_NewDisc_BadKey_Error(t *testing.T) {
	t.Parallel()

	image, _ := testutil.Wii(0x100000, nil)

	_, err := wii.NewDisc(bytes.NewReader(image), []byte("short"))

	require.Error(t, err)
}

// Expectation: An image smaller than a disc header should be rejected.
func Test_NewDisc_TooSmall_Error(t *testing.T) {
	t.Parallel()

	_, err := wii.NewDisc(bytes.NewReader(make([]byte, 0x10)), nil)

	require.Error(t, err)
}

// Expectation: Partition sectors should decrypt to the plaintext they were
// built from with a valid hash tree.
func Test_NewDisc_Sectors_Success(t *testing.T) {
	t.Parallel()

	fill := testutil.RandomFill(7)
	image, parts := testutil.Wii(0x100000, []testutil.Partition{
		{Offset: 0x50000, Sectors: 3, TitleID: 1, Key: [16]byte{9}, Fill: fill},
	})

	block, err := parts[0].Block()
	require.NoError(t, err)

	data := make([]byte, 3*wii.SectorDataSize)
	hashes := make([]byte, 3*wii.HashSize)
	for i := 0; i < 3; i++ {
		sector := image[parts[0].DataOffset+int64(i)*wii.SectorSize:]
		require.NoError(t, wii.DecryptSector(block, sector, hashes[i*wii.HashSize:], data[i*wii.SectorDataSize:]))

		want := make([]byte, wii.SectorDataSize)
		fill(i, want)
		require.Equal(t, want, data[i*wii.SectorDataSize:(i+1)*wii.SectorDataSize])
	}

	expected := make([]byte, len(hashes))
	wii.HashGroup(expected, data)
	require.Equal(t, expected, hashes)
}

// Expectation: The disc type should follow the header magic.
func Test_Type_Magic_Success(t *testing.T) {
	t.Parallel()

	require.Equal(t, wii.Unknown, wii.Type(make([]byte, wii.HeaderSize)))
	require.Equal(t, wii.Unknown, wii.Type(nil))
	require.Equal(t, "GameCube", wii.GameCube.String())

	header := make([]byte, wii.HeaderSize)
	require.True(t, wii.Encrypted(header))
	header[0x61] = 1
	require.False(t, wii.Encrypted(header))
}
