/*
Package wia implements reading and writing of WIA compressed Wii and
GameCube disc images.

The logical disc image is divided into raw data, stored as-is, and
partition data. Both are cut into chunks which are compressed
independently, so any part of the image can be read without decompressing
the rest. Partition chunks are stored decrypted with their hash areas
removed; on read the hash tree is recomputed from the data and only the
hashes that differ from the recomputed ones, the exceptions, are kept in
the container.
*/
package wia

import (
	"io"
	"log/slog"

	"github.com/bodgit/wii"
)

const (
	// Extension is the conventional file extension used
	Extension = ".wia"

	// BaseChunkSize is the unit chunk sizes must be a multiple of.
	BaseChunkSize = wii.GroupSize
	// DefaultChunkSize is used when no chunk size is given.
	DefaultChunkSize = 10 * BaseChunkSize
	// DefaultMethod is used when no options are given.
	DefaultMethod = LZMA

	magic                   = "WIA\x01"
	version          uint32 = 0x01000000
	versionCompat    uint32 = 0x00090000
	versionReadFloor uint32 = 0x00080000

	maxPartitions = 0x100
	maxRawData    = 0x10000
)

// Interrupter is polled by a Writer between chunks. Level 1 asks the writer
// to stop once the current chunk is stored, level 2 or above to stop
// immediately.
type Interrupter interface {
	Level() int
}

// WriterOptions configure a Writer.
type WriterOptions struct {
	// Method selects the compression method
	Method Method
	// Level is the method specific compression level, 0 selects the
	// method default and out of range values are clamped
	Level int
	// ChunkSize must be a multiple of BaseChunkSize, 0 selects
	// DefaultChunkSize
	ChunkSize uint32

	Logger    *slog.Logger
	Interrupt Interrupter
}

// ReaderOptions configure a Reader.
type ReaderOptions struct {
	Logger *slog.Logger
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
