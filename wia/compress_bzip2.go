//go:build !nobzip2

package wia

import (
	"bytes"
	"fmt"

	"github.com/dsnet/compress/bzip2"
)

// Chunks compressed with bzip2 never carry exception lists, partition
// data is stored in its raw encrypted form instead.
type bzip2Codec struct {
	lvl int
}

func init() {
	register(Bzip2, codecInfo{
		normalize: func(level int) int {
			return clamp(level, bzip2.BestSpeed, bzip2.BestCompression, bzip2.BestCompression)
		},
		open: func(level int, _ []byte, _ uint32) (codec, error) {
			return &bzip2Codec{lvl: level}, nil
		},
	})
}

func (c *bzip2Codec) method() Method     { return Bzip2 }
func (c *bzip2Codec) level() int         { return c.lvl }
func (c *bzip2Codec) properties() []byte { return nil }
func (c *bzip2Codec) exceptions() bool   { return false }
func (c *bzip2Codec) close() error       { return nil }

func (c *bzip2Codec) memUsage() uint64 {
	return 400_000 + 8*100_000*uint64(max(c.lvl, bzip2.BestSpeed))
}

func (c *bzip2Codec) compress(dst *bytes.Buffer, exceptions, data []byte) error {
	if len(exceptions) > 0 {
		return internalf("bzip2 chunk with exception lists")
	}

	w, err := bzip2.NewWriter(dst, &bzip2.WriterConfig{Level: c.lvl})
	if err != nil {
		return fmt.Errorf("%w: bzip2: %w", ErrBackendFailure, err)
	}
	if err := compressStream(w, nil, data); err != nil {
		return fmt.Errorf("%w: bzip2: %w", ErrBackendFailure, err)
	}
	return nil
}

func (c *bzip2Codec) decompress(src []byte, areas []int, data []byte) ([]exceptionList, error) {
	if len(areas) > 0 {
		return nil, internalf("bzip2 chunk with exception lists")
	}

	r, err := bzip2.NewReader(bytes.NewReader(src), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: bzip2: %w", ErrContainerCorrupt, err)
	}
	defer r.Close()

	return decompressStream(r, areas, data)
}
