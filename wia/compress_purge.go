package wia

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
)

// Zero runs shorter than this are kept inside a segment, a new segment
// costs a header anyway.
const purgeMinGap = 16

const segmentHeaderSize = 8

type purgeCodec struct{}

func init() {
	register(Purge, codecInfo{
		normalize: zeroLevel,
		open: func(int, []byte, uint32) (codec, error) {
			return purgeCodec{}, nil
		},
	})
}

func (purgeCodec) method() Method     { return Purge }
func (purgeCodec) level() int         { return 0 }
func (purgeCodec) properties() []byte { return nil }
func (purgeCodec) exceptions() bool   { return true }
func (purgeCodec) close() error       { return nil }

func (purgeCodec) memUsage() uint64 {
	return 0
}

type segment struct {
	start, end int
}

// purgeSegments returns the word aligned runs of data worth storing.
func purgeSegments(data []byte) []segment {
	var segments []segment
	n := len(data)
	for i := 0; ; {
		for i < n && data[i] == 0 {
			i++
		}
		if i >= n {
			break
		}

		start, end, zeros := i&^3, i, 0
		for j := i; j < n; j++ {
			if data[j] != 0 {
				end, zeros = j+1, 0
				continue
			}
			if zeros++; zeros >= purgeMinGap {
				break
			}
		}
		end = min(align4(end), n)

		segments = append(segments, segment{start, end})
		i = end
	}
	return segments
}

func (purgeCodec) compress(dst *bytes.Buffer, exceptions, data []byte) error {
	start := dst.Len()
	dst.Write(exceptions)

	var hdr [segmentHeaderSize]byte
	for _, s := range purgeSegments(data) {
		binary.BigEndian.PutUint32(hdr[0:], uint32(s.start))
		binary.BigEndian.PutUint32(hdr[4:], uint32(s.end-s.start))
		dst.Write(hdr[:])
		dst.Write(data[s.start:s.end])
	}

	sum := sha1.Sum(dst.Bytes()[start:])
	dst.Write(sum[:])

	return nil
}

func (purgeCodec) decompress(src []byte, areas []int, data []byte) ([]exceptionList, error) {
	if len(src) < sha1.Size {
		return nil, corruptf("purged chunk too short")
	}
	body, sum := src[:len(src)-sha1.Size], src[len(src)-sha1.Size:]
	if check := sha1.Sum(body); !bytes.Equal(check[:], sum) {
		return nil, corruptf("purged chunk hash mismatch")
	}

	lists, n, err := unmarshalExceptionLists(body, areas)
	if err != nil {
		return nil, err
	}

	clear(data)
	for b := body[n:]; len(b) > 0; {
		if len(b) < segmentHeaderSize {
			return nil, corruptf("truncated purge segment header")
		}
		off := int64(binary.BigEndian.Uint32(b[0:]))
		size := int64(binary.BigEndian.Uint32(b[4:]))
		b = b[segmentHeaderSize:]
		if off+size > int64(len(data)) || size > int64(len(b)) {
			return nil, corruptf("purge segment %#x+%#x out of range", off, size)
		}
		copy(data[off:], b[:size])
		b = b[size:]
	}

	return lists, nil
}
