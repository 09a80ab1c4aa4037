package wia

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/bodgit/wii"
)

// Method identifies how chunks are compressed. Values are stored in the
// disc record and must not change.
type Method uint32

const (
	// None stores chunks verbatim.
	None Method = iota
	// Purge stores the non-zero runs of a chunk followed by a SHA-1.
	Purge
	// Bzip2 compresses chunks with bzip2.
	Bzip2
	// LZMA compresses chunks with LZMA.
	LZMA
	// LZMA2 compresses chunks with LZMA2.
	LZMA2
	// Zstd compresses chunks with Zstandard.
	Zstd
)

var methodNames = map[Method]string{
	None:  "none",
	Purge: "purge",
	Bzip2: "bzip2",
	LZMA:  "lzma",
	LZMA2: "lzma2",
	Zstd:  "zstd",
}

func (m Method) String() string {
	if s, ok := methodNames[m]; ok {
		return s
	}
	return fmt.Sprintf("unknown(%d)", uint32(m))
}

// ParseMethod parses a compression method from its name.
func ParseMethod(name string) (Method, error) {
	for m, s := range methodNames {
		if strings.EqualFold(name, s) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown compression method %q", ErrUnsupportedFormat, name)
}

// A codec is one compression method configured for a container. It is
// selected once when the container is opened.
type codec interface {
	method() Method
	level() int
	// properties are persisted in the disc record and handed back when
	// the container is opened for reading
	properties() []byte
	// exceptions reports whether chunks may carry exception lists
	exceptions() bool
	memUsage() uint64

	// compress appends the stored form of the exception lists and data
	// of one chunk to dst
	compress(dst *bytes.Buffer, exceptions, data []byte) error
	// decompress fills data from the stored form of one chunk and
	// returns one exception list per entry in areas
	decompress(src []byte, areas []int, data []byte) ([]exceptionList, error)

	close() error
}

type codecInfo struct {
	// normalize maps a requested level onto the valid range, 0 selects
	// the default
	normalize func(level int) int
	// open returns a codec for level; props is nil when writing
	open func(level int, props []byte, chunkSize uint32) (codec, error)
}

var codecs = make(map[Method]codecInfo)

func register(m Method, info codecInfo) {
	if _, dup := codecs[m]; dup {
		panic("wia: codec registered twice: " + m.String())
	}
	codecs[m] = info
}

// Available reports whether the compression method is supported by this
// build.
func Available(m Method) bool {
	_, ok := codecs[m]
	return ok
}

func lookupCodec(m Method) (codecInfo, error) {
	info, ok := codecs[m]
	if !ok {
		return codecInfo{}, fmt.Errorf("%w: compression method %s not available", ErrUnsupportedFormat, m)
	}
	return info, nil
}

func newCodec(m Method, level int, props []byte, chunkSize uint32) (codec, error) {
	info, err := lookupCodec(m)
	if err != nil {
		return nil, err
	}
	if props == nil {
		level = info.normalize(level)
	}
	return info.open(level, props, chunkSize)
}

// NormalizeLevel returns the level that will actually be used for m when
// level is requested.
func NormalizeLevel(m Method, level int) (int, error) {
	info, err := lookupCodec(m)
	if err != nil {
		return 0, err
	}
	return info.normalize(level), nil
}

// MemoryUsage estimates the memory needed to compress chunks of chunkSize
// bytes with method m at level.
func MemoryUsage(m Method, level int, chunkSize uint32) (uint64, error) {
	c, err := newCodec(m, level, nil, chunkSize)
	if err != nil {
		return 0, err
	}
	defer c.close()

	// The chunk cache and the buffer holding its stored form
	return c.memUsage() + 2*uint64(chunkSize), nil
}

func clamp(level, lo, hi, def int) int {
	switch {
	case level == 0:
		return def
	case level < lo:
		return lo
	case level > hi:
		return hi
	}
	return level
}

func zeroLevel(int) int { return 0 }

// maxExceptionBytes bounds the size of the exception lists for the given
// hash areas.
func maxExceptionBytes(areas []int) int {
	n := 0
	for _, a := range areas {
		n += 2 + (a/wii.HashSize)*maxSectorExceptions*exceptionSize
	}
	return n
}

// compressStream writes the exception lists and data through a streaming
// compressor.
func compressStream(w io.WriteCloser, exceptions, data []byte) error {
	if _, err := w.Write(exceptions); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	return w.Close()
}

// decompressStream reads the exception lists and data back from a
// streaming decompressor, requiring exactly len(data) bytes to follow the
// lists.
func decompressStream(r io.Reader, areas []int, data []byte) ([]exceptionList, error) {
	limit := int64(len(data) + maxExceptionBytes(areas) + 1)
	b, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrContainerCorrupt, err)
	}

	return splitChunk(b, areas, data)
}

// splitChunk parses the exception lists at the start of a decompressed
// chunk and copies the remaining bytes into data.
func splitChunk(b []byte, areas []int, data []byte) ([]exceptionList, error) {
	lists, n, err := unmarshalExceptionLists(b, areas)
	if err != nil {
		return nil, err
	}
	if len(b)-n != len(data) {
		return nil, corruptf("chunk decompressed to %d bytes, expected %d", len(b)-n, len(data))
	}
	copy(data, b[n:])

	return lists, nil
}
