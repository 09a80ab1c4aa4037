package wia

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

type zstdCodec struct {
	lvl int
	enc *zstd.Encoder
	dec *zstd.Decoder
}

const (
	zstdDefaultLevel = 3
	zstdMaxLevel     = 22
	zstdWindow       = 8 << 20
)

func init() {
	register(Zstd, codecInfo{
		normalize: func(level int) int {
			return clamp(level, 1, zstdMaxLevel, zstdDefaultLevel)
		},
		open: newZstdCodec,
	})
}

func newZstdCodec(level int, _ []byte, chunkSize uint32) (codec, error) {
	c := &zstdCodec{lvl: level}

	var err error
	if c.enc, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
		zstd.WithEncoderConcurrency(1),
		zstd.WithWindowSize(zstdWindow),
		zstd.WithZeroFrames(true),
	); err != nil {
		return nil, fmt.Errorf("%w: zstd: %w", ErrBackendFailure, err)
	}

	if c.dec, err = zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(2*uint64(chunkSize)+zstdWindow),
	); err != nil {
		_ = c.enc.Close()
		return nil, fmt.Errorf("%w: zstd: %w", ErrBackendFailure, err)
	}

	return c, nil
}

func (c *zstdCodec) method() Method     { return Zstd }
func (c *zstdCodec) level() int         { return c.lvl }
func (c *zstdCodec) properties() []byte { return nil }
func (c *zstdCodec) exceptions() bool   { return true }

func (c *zstdCodec) memUsage() uint64 {
	return 2 * zstdWindow
}

func (c *zstdCodec) close() error {
	c.dec.Close()
	return c.enc.Close()
}

func (c *zstdCodec) compress(dst *bytes.Buffer, exceptions, data []byte) error {
	src := make([]byte, 0, len(exceptions)+len(data))
	src = append(append(src, exceptions...), data...)
	dst.Write(c.enc.EncodeAll(src, nil))
	return nil
}

func (c *zstdCodec) decompress(src []byte, areas []int, data []byte) ([]exceptionList, error) {
	b, err := c.dec.DecodeAll(src, make([]byte, 0, len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %w", ErrContainerCorrupt, err)
	}
	return splitChunk(b, areas, data)
}
