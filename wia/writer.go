package wia

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/bodgit/wii"
)

var errClosed = errors.New("wia: writer closed")

type writerStats struct {
	flushes int // chunks handed to flush
	encoded int // chunks passed to the compression backend
	zero    int // chunks stored as all-zero
	reused  int // chunks pointing at an identical stored chunk
}

// Writer builds a WIA container from a disc image. Chunks are compressed
// and appended as soon as writing moves on to another chunk; the tables
// and headers are written by Close. A Writer is not safe for concurrent
// use.
type Writer struct {
	w         io.WriteSeeker
	log       *slog.Logger
	interrupt Interrupter
	codec     codec
	layout    *layout
	disc      disc
	blocks    []cipher.Block
	templates map[int][]byte
	cache     groupCache
	written   []bool
	reuse     map[[sha1.Size]byte]group
	b         *bytes.Buffer
	plain     []byte
	off       int64 // end of stored data in the container
	pos       int64 // position for Write
	err       error
	stats     writerStats
}

// NewWriter returns a Writer that compresses a disc image of size bytes
// into ws. The partitions describe where encrypted partition data lies in
// the image; with none the whole image is stored as raw data. A nil opts
// uses DefaultMethod and DefaultChunkSize.
func NewWriter(ws io.WriteSeeker, size int64, partitions []wii.Partition, opts *WriterOptions) (*Writer, error) {
	if opts == nil {
		opts = &WriterOptions{Method: DefaultMethod}
	}

	w := &Writer{
		w:         ws,
		log:       opts.Logger,
		interrupt: opts.Interrupt,
		templates: make(map[int][]byte),
		reuse:     make(map[[sha1.Size]byte]group),
		b:         new(bytes.Buffer),
	}
	if w.log == nil {
		w.log = discardLogger()
	}

	chunkSize := opts.ChunkSize
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	if !validChunkSize(chunkSize) {
		return nil, fmt.Errorf("wia: chunk size %#x is not a multiple of %#x", chunkSize, BaseChunkSize)
	}

	var err error
	if w.codec, err = newCodec(opts.Method, opts.Level, nil, chunkSize); err != nil {
		return nil, err
	}

	if !w.codec.exceptions() && len(partitions) > 0 {
		w.log.Info("storing partitions as raw data", "method", w.codec.method())
		partitions = nil
	}

	if w.layout, err = newWriteLayout(size, partitions, chunkSize); err != nil {
		return nil, err
	}
	w.written = make([]bool, len(w.layout.groups))

	for _, p := range w.layout.partitions {
		block, err := aes.NewCipher(p.Key[:])
		if err != nil {
			return nil, err
		}
		w.blocks = append(w.blocks, block)
	}

	w.disc.Compression = uint32(w.codec.method())
	w.disc.Level = int32(w.codec.level())
	w.disc.ChunkSize = chunkSize
	w.disc.PropertiesLen = uint8(copy(w.disc.Properties[:], w.codec.properties()))

	// Reserve room for the headers and partition table, rewritten by Close
	reserved := int64(fileHeaderSize + discSize + len(w.layout.partitions)*partitionSize)
	if _, err = w.w.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	if _, err = w.w.Write(make([]byte, align4(int(reserved)))); err != nil {
		return nil, err
	}
	w.off = int64(align4(int(reserved)))

	w.log.Debug("created container",
		"method", w.codec.method(),
		"level", w.codec.level(),
		"chunk_size", chunkSize,
		"partitions", len(w.layout.partitions),
		"groups", len(w.layout.groups),
	)

	return w, nil
}

func (w *Writer) interrupted() int {
	if w.interrupt == nil {
		return 0
	}
	return w.interrupt.Level()
}

// Size returns the size of the disc image written so far, including any
// growth past the size given to NewWriter.
func (w *Writer) Size() int64 {
	return w.layout.isoSize
}

func (w *Writer) block(part int) cipher.Block {
	if !wii.Encrypted(w.disc.Header[:]) {
		return nil
	}
	return w.blocks[part]
}

// template returns the empty sector for a partition, used to fill the
// parts of a chunk that are never written.
func (w *Writer) template(part int) []byte {
	t, ok := w.templates[part]
	if !ok {
		t = emptySector(w.block(part))
		w.templates[part] = t
	}
	return t
}

// stage returns the cache buffer for ref, storing whatever chunk was
// resident before.
func (w *Writer) stage(ref chunkRef) ([]byte, error) {
	if w.cache.holds(ref) {
		return w.cache.data, nil
	}

	if err := w.flush(); err != nil {
		return nil, err
	}

	if w.interrupted() > 0 {
		return nil, ErrInterrupted
	}

	if w.written[ref.group] {
		return nil, &GroupError{Group: ref.group, Offset: w.layout.groups[ref.group].offset(), Err: ErrGroupWritten}
	}

	b := w.cache.buffer(ref)
	if ref.partition {
		t := w.template(ref.part)
		for i := 0; i < len(b); i += len(t) {
			copy(b[i:], t)
		}
	} else {
		clear(b)
	}
	w.cache.set(ref)

	return b, nil
}

// flush compresses and stores the resident chunk.
func (w *Writer) flush() error {
	if !w.cache.loaded {
		return nil
	}
	ref := w.cache.ref

	if w.interrupted() > 1 {
		w.cache.drop()
		return ErrAborted
	}
	w.stats.flushes++

	var (
		exceptions []byte
		data       = w.cache.data
		empty      = true
	)
	if ref.partition {
		n := ref.sectors * wii.SectorDataSize
		if cap(w.plain) < n {
			w.plain = make([]byte, n)
		}
		data = w.plain[:n]

		lists, err := splitSectors(w.block(ref.part), w.cache.data, data)
		if err != nil {
			return internalf("splitting group %d: %v", ref.group, err)
		}
		for _, l := range lists {
			empty = empty && len(l) == 0
		}
		exceptions = marshalExceptionLists(lists)
	}
	w.cache.drop()

	g, err := w.store(ref.group, exceptions, data, empty && isZero(data))
	if err != nil {
		return err
	}
	w.layout.groups[ref.group] = g
	w.written[ref.group] = true

	return nil
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// store compresses one chunk and appends it to the container, unless it
// is all zero or identical to a chunk already stored.
func (w *Writer) store(index uint32, exceptions, data []byte, zero bool) (group, error) {
	if zero {
		w.stats.zero++
		w.log.Debug("zero group", "group", index)
		return group{}, nil
	}

	w.b.Reset()
	w.stats.encoded++
	if err := w.codec.compress(w.b, exceptions, data); err != nil {
		return group{}, &GroupError{Group: index, Offset: w.off, Err: err}
	}

	sum := sha1.Sum(w.b.Bytes())
	if g, ok := w.reuse[sum]; ok {
		w.stats.reused++
		w.log.Debug("reused group", "group", index, "offset", g.offset(), "size", g.Size)
		return g, nil
	}

	g, err := w.append(w.b.Bytes())
	if err != nil {
		return group{}, &GroupError{Group: index, Offset: w.off, Err: err}
	}
	w.reuse[sum] = g

	w.log.Debug("stored group",
		"group", index,
		"offset", g.offset(),
		"size", g.Size,
		"exceptions", len(exceptions),
	)

	return g, nil
}

// append writes b at the end of the stored data, keeping the end word
// aligned.
func (w *Writer) append(b []byte) (group, error) {
	if _, err := w.w.Seek(w.off, io.SeekStart); err != nil {
		return group{}, err
	}
	if _, err := w.w.Write(b); err != nil {
		return group{}, err
	}
	if pad := align4(len(b)) - len(b); pad > 0 {
		if _, err := w.w.Write(make([]byte, pad)); err != nil {
			return group{}, err
		}
	}

	g := group{Offset: uint32(w.off >> 2), Size: uint32(len(b))}
	w.off += int64(align4(len(b)))

	return g, nil
}

// WriteAt implements io.WriterAt. Writing into a chunk that has already
// been stored returns ErrGroupWritten. Once interrupted, writes that need
// a new chunk return ErrInterrupted and Close still produces a readable
// container holding the chunks stored so far.
func (w *Writer) WriteAt(p []byte, off int64) (n int, err error) {
	if w.err != nil {
		return 0, w.err
	}
	if off < 0 {
		return 0, errors.New("wia: negative offset")
	}

	n, err = w.writeAt(p, off)
	if err != nil && !errors.Is(err, ErrGroupWritten) && !errors.Is(err, ErrInterrupted) {
		w.err = err
	}
	return n, err
}

func (w *Writer) writeAt(p []byte, off int64) (n int, err error) {
	for n < len(p) {
		cur := off + int64(n)
		region, ok := w.layout.mm.resolve(cur)
		if !ok {
			return n, fmt.Errorf("wia: write at %#x beyond maximum image size", cur)
		}

		var (
			b     []byte
			start int64
			end   = region.End()
		)
		switch region.Kind {
		case KindHeader:
			b = w.disc.Header[:]
		case KindGrowing:
			if err = w.grow(min(off+int64(len(p)), wii.MaxSize)); err != nil {
				return n, err
			}
			continue
		case KindRaw:
			ref := w.layout.rawChunk(region.Index, cur)
			start, end = ref.start, min(end, ref.end())
			b, err = w.stage(ref)
		case KindPartition0, KindPartition1:
			ref := w.layout.partitionChunk(region.Index, int(region.Kind-KindPartition0), cur)
			start, end = ref.start, min(end, ref.end())
			b, err = w.stage(ref)
		default:
			return n, internalf("write to %s region", region.Kind)
		}
		if err != nil {
			return n, err
		}

		n += copy(b[cur-start:end-start], p[n:])
	}

	return n, nil
}

// grow extends the image to end bytes. A partly filled last chunk grows
// with it, which is only possible while it is still resident.
func (w *Writer) grow(end int64) error {
	l := w.layout
	last := len(l.rawData) - 1

	var tail *chunkRef
	if r := l.rawData[last]; r.Size > 0 {
		ref := l.rawChunk(last, r.end()-1)
		if ref.size < l.chunkSize && w.written[ref.group] {
			return &GroupError{Group: ref.group, Offset: l.groups[ref.group].offset(), Err: ErrGroupWritten}
		}
		tail = &ref
	}

	if err := l.grow(end); err != nil {
		return err
	}
	w.written = append(w.written, make([]bool, len(l.groups)-len(w.written))...)

	if tail != nil && w.cache.holds(*tail) {
		w.cache.extend(l.rawChunk(last, tail.start))
	}

	return nil
}

// Write implements io.Writer, writing sequentially from the start of the
// image.
func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.WriteAt(p, w.pos)
	w.pos += int64(n)
	return n, err
}

// storeTable writes a table through the compression backend.
func (w *Writer) storeTable(v any) (uint64, uint32, error) {
	b, err := marshalTable(v)
	if err != nil {
		return 0, 0, err
	}

	w.b.Reset()
	if err = w.codec.compress(w.b, nil, b); err != nil {
		return 0, 0, err
	}

	g, err := w.append(w.b.Bytes())
	if err != nil {
		return 0, 0, err
	}

	return uint64(g.offset()), g.Size, nil
}

// Close stores the last chunk, writes the tables and rewrites the headers.
// It does not close the underlying writer.
func (w *Writer) Close() (err error) {
	if w.err != nil {
		return w.err
	}
	defer func() {
		if cerr := w.codec.close(); err == nil {
			err = cerr
		}
		if err == nil {
			w.err = errClosed
		} else {
			w.err = err
		}
	}()

	if err = w.flush(); err != nil {
		return err
	}

	l := w.layout

	// Drop the reserved raw data entry if nothing grew into it
	raw := l.rawData
	if last := raw[len(raw)-1]; last.Size == 0 {
		raw = raw[:len(raw)-1]
	}

	if w.disc.RawDataOffset, w.disc.RawDataSize, err = w.storeTable(raw); err != nil {
		return err
	}
	if w.disc.GroupOffset, w.disc.GroupSize, err = w.storeTable(l.groups); err != nil {
		return err
	}

	partitions, err := marshalTable(l.partitions)
	if err != nil {
		return err
	}

	w.disc.DiscType = uint32(wii.Type(w.disc.Header[:]))
	w.disc.NumPartitions = uint32(len(l.partitions))
	w.disc.PartitionSize = uint32(partitionSize)
	w.disc.PartitionOffset = uint64(fileHeaderSize + discSize)
	w.disc.PartitionHash = sha1.Sum(partitions)
	w.disc.NumRawData = uint32(len(raw))
	w.disc.NumGroups = uint32(len(l.groups))

	d, err := w.disc.MarshalBinary()
	if err != nil {
		return err
	}

	h := fileHeader{
		Version:           version,
		VersionCompatible: versionCompat,
		DiscSize:          uint32(len(d)),
		DiscHash:          sha1.Sum(d),
		ISOFileSize:       uint64(l.isoSize),
		WIAFileSize:       uint64(w.off),
	}
	copy(h.Magic[:], magic)
	h.HeaderHash = h.hash()

	fh, err := h.MarshalBinary()
	if err != nil {
		return err
	}

	if _, err = w.w.Seek(0, io.SeekStart); err != nil {
		return err
	}
	for _, b := range [][]byte{fh, d, partitions} {
		if _, err = w.w.Write(b); err != nil {
			return err
		}
	}

	w.log.Info("finished container",
		"size", w.off,
		"iso_size", l.isoSize,
		"groups", len(l.groups),
		"stored", w.stats.encoded-w.stats.reused,
		"zero", w.stats.zero,
		"reused", w.stats.reused,
	)

	return nil
}
