package wia

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ulikunitz/xz/lzma"
)

// Both LZMA flavours store bare streams for each chunk. The coder
// properties, for LZMA the 5 byte properties/dictionary header and for
// LZMA2 the dictionary size byte, are kept once in the disc record.
type lzmaCodec struct {
	lvl     int
	lzma2   bool
	dictCap int
	props   []byte
	// dictionary used when decoding, never larger than a chunk
	readCap int
}

const (
	lzmaDefaultLevel = 5

	// lc=3, lp=0, pb=2
	lzmaLC = 3
	lzmaLP = 0
	lzmaPB = 2

	lzmaHeaderLen = 13
)

func init() {
	normalize := func(level int) int {
		return clamp(level, 1, 9, lzmaDefaultLevel)
	}
	register(LZMA, codecInfo{
		normalize: normalize,
		open: func(level int, props []byte, chunkSize uint32) (codec, error) {
			return newLZMACodec(false, level, props, chunkSize)
		},
	})
	register(LZMA2, codecInfo{
		normalize: normalize,
		open: func(level int, props []byte, chunkSize uint32) (codec, error) {
			return newLZMACodec(true, level, props, chunkSize)
		},
	})
}

// lzmaLevelDict follows the dictionary sizes of the reference encoder
// presets.
func lzmaLevelDict(level int) int {
	switch {
	case level <= 5:
		return 1 << (level*2 + 14)
	case level <= 7:
		return 1 << 25
	}
	return 1 << 26
}

// lzma2DictSize decodes the LZMA2 dictionary size byte.
func lzma2DictSize(code byte) int64 {
	if code >= 40 {
		return 0xffffffff
	}
	return int64(2|code&1) << (code/2 + 11)
}

// lzma2DictCode returns the smallest dictionary size byte describing at
// least n bytes.
func lzma2DictCode(n int) byte {
	var code byte
	for code < 40 && lzma2DictSize(code) < int64(n) {
		code++
	}
	return code
}

func newLZMACodec(lzma2 bool, level int, props []byte, chunkSize uint32) (*lzmaCodec, error) {
	c := &lzmaCodec{lvl: level, lzma2: lzma2}

	// A chunk plus its exception lists never needs a dictionary larger
	// than twice the chunk size
	bound := 2 * int(chunkSize)

	var dict int64
	switch {
	case props == nil:
		d := min(lzmaLevelDict(level), int(chunkSize))
		code := lzma2DictCode(max(d, lzma.MinDictCap))
		dict = lzma2DictSize(code)
		if lzma2 {
			c.props = []byte{code}
		} else {
			c.props = make([]byte, 5)
			c.props[0] = (lzmaPB*5+lzmaLP)*9 + lzmaLC
			binary.LittleEndian.PutUint32(c.props[1:], uint32(dict))
		}
	case lzma2:
		if len(props) != 1 || props[0] > 40 {
			return nil, corruptf("bad lzma2 properties %x", props)
		}
		c.props = append([]byte(nil), props...)
		dict = lzma2DictSize(props[0])
	default:
		if len(props) != 5 || props[0] >= 9*5*5 {
			return nil, corruptf("bad lzma properties %x", props)
		}
		c.props = append([]byte(nil), props...)
		dict = int64(binary.LittleEndian.Uint32(props[1:]))
	}

	c.dictCap = int(max(dict, lzma.MinDictCap))
	c.readCap = max(min(c.dictCap, bound), lzma.MinDictCap)

	return c, nil
}

func (c *lzmaCodec) method() Method {
	if c.lzma2 {
		return LZMA2
	}
	return LZMA
}

func (c *lzmaCodec) level() int         { return c.lvl }
func (c *lzmaCodec) properties() []byte { return c.props }
func (c *lzmaCodec) exceptions() bool   { return true }
func (c *lzmaCodec) close() error       { return nil }

func (c *lzmaCodec) memUsage() uint64 {
	return uint64(c.dictCap)*23/2 + 1<<22
}

func (c *lzmaCodec) lzmaProperties() *lzma.Properties {
	return &lzma.Properties{LC: lzmaLC, LP: lzmaLP, PB: lzmaPB}
}

// headerStripper drops the stream header the LZMA writer always emits.
type headerStripper struct {
	w    io.Writer
	skip int
}

func (h *headerStripper) Write(p []byte) (int, error) {
	n := len(p)
	if h.skip > 0 {
		k := min(h.skip, len(p))
		h.skip -= k
		p = p[k:]
	}
	if _, err := h.w.Write(p); err != nil {
		return 0, err
	}
	return n, nil
}

func (c *lzmaCodec) compress(dst *bytes.Buffer, exceptions, data []byte) error {
	var (
		w   io.WriteCloser
		err error
	)
	if c.lzma2 {
		w, err = lzma.Writer2Config{
			Properties: c.lzmaProperties(),
			DictCap:    c.dictCap,
		}.NewWriter2(dst)
	} else {
		w, err = lzma.WriterConfig{
			Properties: c.lzmaProperties(),
			DictCap:    c.dictCap,
			EOSMarker:  true,
		}.NewWriter(&headerStripper{w: dst, skip: lzmaHeaderLen})
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBackendFailure, c.method(), err)
	}

	if err = compressStream(w, exceptions, data); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBackendFailure, c.method(), err)
	}
	return nil
}

func (c *lzmaCodec) decompress(src []byte, areas []int, data []byte) ([]exceptionList, error) {
	var (
		r   io.Reader
		err error
	)
	if c.lzma2 {
		r, err = lzma.Reader2Config{DictCap: c.readCap}.NewReader2(bytes.NewReader(src))
	} else {
		// Rebuild the header with an unknown size, the stream ends with
		// an end marker
		hdr := make([]byte, lzmaHeaderLen)
		hdr[0] = c.props[0]
		binary.LittleEndian.PutUint32(hdr[1:], uint32(c.readCap))
		binary.LittleEndian.PutUint64(hdr[5:], ^uint64(0))
		r, err = lzma.ReaderConfig{DictCap: c.readCap}.NewReader(io.MultiReader(bytes.NewReader(hdr), bytes.NewReader(src)))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrContainerCorrupt, c.method(), err)
	}

	return decompressStream(r, areas, data)
}
