package wia

import (
	"testing"

	"github.com/bodgit/wii"
	"github.com/bodgit/wii/internal/testutil"
	"github.com/stretchr/testify/require"
)

func hashed(data []byte) []byte {
	h := make([]byte, len(data)/wii.SectorDataSize*wii.HashSize)
	wii.HashGroup(h, data)
	return h
}

// Expectation: Identical hash areas should produce no exceptions.
func Test_diffHashes_Equal_Success(t *testing.T) {
	t.Parallel()

	h := hashed(testutil.Random(1, 4*wii.SectorDataSize))

	require.Empty(t, diffHashes(h, h))
}

// Expectation: A one bit change in a single sector group should produce
// exactly the H0 entry of the block and its H1 and H2 ancestors.
func Test_diffHashes_OneSector_Success(t *testing.T) {
	t.Parallel()

	clean := testutil.Random(2, wii.SectorDataSize)
	actual := hashed(clean)

	changed := append([]byte(nil), clean...)
	changed[5*wii.BlockSize+17] ^= 0x04
	expected := hashed(changed)

	list := diffHashes(expected, actual)

	require.Len(t, list, 3)
	require.Equal(t, uint16(wii.H0Offset+5*wii.HashLen), list[0].Offset)
	require.Equal(t, uint16(wii.H1Offset), list[1].Offset)
	require.Equal(t, uint16(wii.H2Offset), list[2].Offset)
	require.Equal(t, actual[list[0].Offset:int(list[0].Offset)+wii.HashLen], list[0].Hash[:])
}

// Expectation: In a full group the change should reach one H0 entry, the
// H1 entry in every sector of the subgroup and the H2 entry in every
// sector, ordered by sector then level.
func Test_diffHashes_FullGroup_Success(t *testing.T) {
	t.Parallel()

	const sector = 10

	clean := make([]byte, wii.GroupSectors*wii.SectorDataSize)
	actual := hashed(clean)

	changed := append([]byte(nil), clean...)
	changed[sector*wii.SectorDataSize] = 1
	expected := hashed(changed)

	list := diffHashes(expected, actual)

	require.Len(t, list, 1+wii.SubGroupSectors+wii.GroupSectors)

	var h0, h1, h2 int
	prev := -1
	for _, e := range list {
		off := int(e.Offset)
		require.Greater(t, off, prev)
		prev = off

		s, o := off/wii.HashSize, off%wii.HashSize
		switch {
		case o < wii.H1Offset:
			h0++
			require.Equal(t, sector, s)
			require.Equal(t, wii.H0Offset, o)
		case o < wii.H2Offset:
			h1++
			require.Equal(t, sector/wii.SubGroupSectors, s/wii.SubGroupSectors)
			require.Equal(t, wii.H1Offset+sector%wii.SubGroupSectors*wii.HashLen, o)
		default:
			h2++
			require.Equal(t, wii.H2Offset+sector/wii.SubGroupSectors*wii.HashLen, o)
		}
	}
	require.Equal(t, 1, h0)
	require.Equal(t, wii.SubGroupSectors, h1)
	require.Equal(t, wii.GroupSectors, h2)
}

// Expectation: Non-zero padding should be carried and restored.
func Test_diffHashes_Padding_Success(t *testing.T) {
	t.Parallel()

	expected := hashed(testutil.Random(3, 2*wii.SectorDataSize))
	actual := append([]byte(nil), expected...)
	actual[wii.HashSize+wii.H0Size+3] = 0xaa
	actual[wii.HashSize+wii.H1Offset+wii.H1Size+31] = 0xbb
	actual[wii.H2Offset+wii.H2Size] = 0xcc

	list := diffHashes(expected, actual)
	require.NotEmpty(t, list)

	restored := append([]byte(nil), expected...)
	require.NoError(t, list.apply(restored))
	require.Equal(t, actual, restored)
}

// Expectation: Applying the exceptions to the recomputed tree should give
// back the actual tree.
func Test_exceptionList_Apply_Success(t *testing.T) {
	t.Parallel()

	expected := hashed(testutil.Random(4, 9*wii.SectorDataSize))
	actual := append([]byte(nil), expected...)
	copy(actual[3*wii.HashSize+wii.H0Offset+40:], "twenty byte override")
	copy(actual[8*wii.HashSize+wii.H2Offset:], "another override....")

	list := diffHashes(expected, actual)
	require.Len(t, list, 2)

	require.NoError(t, list.apply(expected))
	require.Equal(t, actual, expected)
}

// Expectation: An exception past the end of the hash area should be
// rejected as corrupt.
func Test_exceptionList_Apply_Error(t *testing.T) {
	t.Parallel()

	list := exceptionList{{Offset: wii.HashSize - 10}}

	require.ErrorIs(t, list.apply(make([]byte, wii.HashSize)), ErrContainerCorrupt)
}

// Expectation: Serialized lists should parse back and report the bytes
// they occupy.
func Test_marshalExceptionLists_RoundTrip_Success(t *testing.T) {
	t.Parallel()

	lists := []exceptionList{
		{{Offset: 0x14, Hash: [20]byte{1}}, {Offset: 0x300, Hash: [20]byte{2}}},
		nil,
		{{Offset: 0x8000, Hash: [20]byte{3}}},
	}
	areas := []int{wii.GroupSectors * wii.HashSize, wii.GroupSectors * wii.HashSize, 0x9000}

	b := marshalExceptionLists(lists)
	require.Len(t, b, exceptionListsSize(lists))
	require.Len(t, b, 3*2+3*exceptionSize)

	payload := append(b, "payload"...)

	size, err := calcExceptionListsSize(payload, len(lists))
	require.NoError(t, err)
	require.Equal(t, len(b), size)

	got, n, err := unmarshalExceptionLists(payload, areas)
	require.NoError(t, err)
	require.Equal(t, len(b), n)
	require.Equal(t, lists[0], got[0])
	require.Empty(t, got[1])
	require.Equal(t, lists[2], got[2])
}

// Expectation: A list count running past the buffer should be corrupt.
func Test_calcExceptionListsSize_Truncated_Error(t *testing.T) {
	t.Parallel()

	b := marshalExceptionLists([]exceptionList{{{Offset: 0}}})

	_, err := calcExceptionListsSize(b[:len(b)-1], 1)
	require.ErrorIs(t, err, ErrContainerCorrupt)

	_, err = calcExceptionListsSize(b, 2)
	require.ErrorIs(t, err, ErrContainerCorrupt)
}

// Expectation: An offset outside its hash area should be corrupt.
func Test_unmarshalExceptionLists_Offset_Error(t *testing.T) {
	t.Parallel()

	b := marshalExceptionLists([]exceptionList{{{Offset: 2 * wii.HashSize}}})

	_, _, err := unmarshalExceptionLists(b, []int{2 * wii.HashSize})

	require.ErrorIs(t, err, ErrContainerCorrupt)
}

// Expectation: Chunks should be split into sector groups.
func Test_hashAreas_Split_Success(t *testing.T) {
	t.Parallel()

	require.Empty(t, hashAreas(0))
	require.Equal(t, []int{wii.HashSize}, hashAreas(1))
	require.Equal(t, []int{wii.GroupSectors * wii.HashSize}, hashAreas(wii.GroupSectors))
	require.Equal(t, []int{
		wii.GroupSectors * wii.HashSize,
		wii.GroupSectors * wii.HashSize,
		3 * wii.HashSize,
	}, hashAreas(2*wii.GroupSectors+3))
}
