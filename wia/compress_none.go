package wia

import (
	"bytes"
)

type noneCodec struct{}

func init() {
	register(None, codecInfo{
		normalize: zeroLevel,
		open: func(int, []byte, uint32) (codec, error) {
			return noneCodec{}, nil
		},
	})
}

func (noneCodec) method() Method     { return None }
func (noneCodec) level() int         { return 0 }
func (noneCodec) properties() []byte { return nil }
func (noneCodec) exceptions() bool   { return true }
func (noneCodec) memUsage() uint64   { return 0 }
func (noneCodec) close() error       { return nil }

// Exception lists are padded so the data that follows is word aligned.
func align4(n int) int {
	return (n + 3) &^ 3
}

func (noneCodec) compress(dst *bytes.Buffer, exceptions, data []byte) error {
	dst.Write(exceptions)
	if len(exceptions) > 0 {
		dst.Write(make([]byte, align4(len(exceptions))-len(exceptions)))
	}
	dst.Write(data)
	return nil
}

func (noneCodec) decompress(src []byte, areas []int, data []byte) ([]exceptionList, error) {
	lists, n, err := unmarshalExceptionLists(src, areas)
	if err != nil {
		return nil, err
	}
	if len(areas) > 0 {
		n = align4(n)
	}
	if len(src)-n != len(data) {
		return nil, corruptf("stored chunk holds %d bytes, expected %d", len(src)-n, len(data))
	}
	copy(data, src[n:])
	return lists, nil
}
