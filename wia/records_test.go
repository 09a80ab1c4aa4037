package wia

import (
	"crypto/sha1"
	"testing"

	"github.com/stretchr/testify/require"
)

// Expectation: Records should have their on-disk sizes.
func Test_records_Sizes_Success(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0x48, fileHeaderSize)
	require.Equal(t, 0xdc, discSize)
	require.Equal(t, 0x30, partitionSize)
	require.Equal(t, 0x18, rawDataSize)
	require.Equal(t, 0x08, groupSize)
}

// Expectation: The file header hash should cover everything before it.
func Test_fileHeader_Hash_Success(t *testing.T) {
	t.Parallel()

	h := fileHeader{Version: version, ISOFileSize: 1234}
	copy(h.Magic[:], magic)
	h.HeaderHash = h.hash()

	b, err := h.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, fileHeaderSize)
	require.Equal(t, sha1.Sum(b[:fileHeaderSize-sha1.Size]), h.HeaderHash)
	require.Equal(t, []byte("WIA\x01"), b[:4])

	var got fileHeader
	require.NoError(t, got.UnmarshalBinary(b))
	require.Equal(t, h, got)

	require.ErrorIs(t, got.UnmarshalBinary(b[:10]), ErrContainerCorrupt)
}

// Expectation: A disc record without the trailing properties should read
// with them zeroed.
func Test_disc_Short_Success(t *testing.T) {
	t.Parallel()

	d := disc{Compression: uint32(LZMA), ChunkSize: BaseChunkSize, PropertiesLen: 5}
	copy(d.Properties[:], []byte{0x5d, 0, 0, 0x20, 0})

	b, err := d.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, discSize)

	var got disc
	require.NoError(t, got.UnmarshalBinary(b))
	require.Equal(t, d, got)
	require.Equal(t, []byte{0x5d, 0, 0, 0x20, 0}, got.properties())

	var short disc
	require.NoError(t, short.UnmarshalBinary(b[:minDiscSize]))
	require.Equal(t, uint32(BaseChunkSize), short.ChunkSize)
	require.Empty(t, short.properties())

	require.ErrorIs(t, short.UnmarshalBinary(b[:minDiscSize-1]), ErrContainerCorrupt)
}

// Expectation: Tables should only unmarshal from exactly sized input.
func Test_unmarshalTable_Size_Error(t *testing.T) {
	t.Parallel()

	groups := []group{{Offset: 1, Size: 2}, {Offset: 3, Size: 4}}
	b, err := marshalTable(groups)
	require.NoError(t, err)
	require.Len(t, b, 2*groupSize)

	got := make([]group, 2)
	require.NoError(t, unmarshalTable(b, &got))
	require.Equal(t, groups, got)

	got = make([]group, 3)
	require.ErrorIs(t, unmarshalTable(b, &got), ErrContainerCorrupt)
}

// Expectation: Offsets derived from records should be in bytes.
func Test_records_Offsets_Success(t *testing.T) {
	t.Parallel()

	require.Equal(t, int64(0x40), group{Offset: 0x10}.offset())
	require.Equal(t, int64(0x8000), rawData{Offset: 0x8123}.base())
	require.Equal(t, int64(0x8123+0x10), rawData{Offset: 0x8123, Size: 0x10}.end())
	require.Equal(t, int64(2*0x8000), partitionData{FirstSector: 2}.offset())
	require.Equal(t, int64(3*0x8000), partitionData{NumSectors: 3}.size())
}
