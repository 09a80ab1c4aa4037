package wia

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/bodgit/wii"
	"go4.org/readerutil"
)

// Reader presents a WIA container as the flat disc image it holds.
// A Reader is not safe for concurrent use.
type Reader struct {
	r      readerutil.SizeReaderAt
	log    *slog.Logger
	header fileHeader
	disc   disc
	layout *layout
	codec  codec
	blocks []cipher.Block
	cache  groupCache
	plain  []byte
	off    int64
}

// ReadCloser is a Reader that closes the underlying file.
type ReadCloser struct {
	*Reader
	c io.Closer
}

// NewReader returns a new Reader that reads and decompresses from sr.
func NewReader(sr readerutil.SizeReaderAt, opts *ReaderOptions) (*Reader, error) {
	r := &Reader{
		r:   sr,
		log: discardLogger(),
	}
	if opts != nil && opts.Logger != nil {
		r.log = opts.Logger
	}

	if err := r.readHeaders(); err != nil {
		return nil, err
	}

	partitions, err := r.readPartitions()
	if err != nil {
		return nil, err
	}

	if r.disc.NumRawData > maxRawData || int64(r.disc.NumGroups)*int64(groupSize) > maxTableSize {
		return nil, corruptf("%d raw data entries and %d groups", r.disc.NumRawData, r.disc.NumGroups)
	}

	raw := make([]rawData, r.disc.NumRawData)
	if err = r.readTable("raw data", int64(r.disc.RawDataOffset), r.disc.RawDataSize, &raw); err != nil {
		return nil, err
	}

	groups := make([]group, r.disc.NumGroups)
	if err = r.readTable("group", int64(r.disc.GroupOffset), r.disc.GroupSize, &groups); err != nil {
		return nil, err
	}

	if r.layout, err = newReadLayout(&r.disc, int64(r.header.ISOFileSize), partitions, raw, groups); err != nil {
		return nil, err
	}

	if len(partitions) > 0 && wii.Encrypted(r.disc.Header[:]) {
		for _, p := range partitions {
			block, err := aes.NewCipher(p.Key[:])
			if err != nil {
				return nil, err
			}
			r.blocks = append(r.blocks, block)
		}
	}

	r.log.Debug("opened container",
		"method", r.codec.method(),
		"level", r.codec.level(),
		"chunk_size", r.disc.ChunkSize,
		"partitions", len(partitions),
		"raw_data", len(raw),
		"groups", len(groups),
	)

	return r, nil
}

// NewReadCloser returns a new ReadCloser that reads and decompresses the
// first size bytes of rac.
func NewReadCloser(rac readerutil.ReaderAtCloser, size int64, opts *ReaderOptions) (*ReadCloser, error) {
	r, err := NewReader(io.NewSectionReader(rac, 0, size), opts)
	if err != nil {
		return nil, err
	}
	return &ReadCloser{Reader: r, c: rac}, nil
}

// Close closes the underlying file.
func (rc *ReadCloser) Close() error {
	err := rc.Reader.close()
	if cerr := rc.c.Close(); err == nil {
		err = cerr
	}
	return err
}

func (r *Reader) close() error {
	r.cache.drop()
	return r.codec.close()
}

func (r *Reader) readAt(p []byte, off int64, what string) error {
	n, err := r.r.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return corruptf("%s truncated at %#x", what, off+int64(n))
	}
	return err
}

func (r *Reader) readHeaders() error {
	b := make([]byte, fileHeaderSize)
	if err := r.readAt(b, 0, "file header"); err != nil {
		return err
	}
	if !bytes.Equal(b[:len(magic)], []byte(magic)) {
		return ErrBadMagic
	}
	if err := r.header.UnmarshalBinary(b); err != nil {
		return err
	}
	if r.header.hash() != r.header.HeaderHash {
		return corruptf("file header hash mismatch")
	}
	if r.header.VersionCompatible > version || r.header.Version < versionReadFloor {
		return fmt.Errorf("%w: version %#08x, compatible %#08x", ErrUnsupportedFormat, r.header.Version, r.header.VersionCompatible)
	}

	if r.header.DiscSize < uint32(minDiscSize) || r.header.DiscSize > 0x1000 {
		return corruptf("disc record size %#x", r.header.DiscSize)
	}
	b = make([]byte, r.header.DiscSize)
	if err := r.readAt(b, int64(fileHeaderSize), "disc record"); err != nil {
		return err
	}
	if sha1.Sum(b) != r.header.DiscHash {
		return corruptf("disc record hash mismatch")
	}
	if err := r.disc.UnmarshalBinary(b); err != nil {
		return err
	}

	if size := r.r.Size(); size < int64(r.header.WIAFileSize) {
		return corruptf("file is %d bytes, expected %d", size, r.header.WIAFileSize)
	}

	if !validChunkSize(r.disc.ChunkSize) {
		return corruptf("bad chunk size %#x", r.disc.ChunkSize)
	}

	var err error
	r.codec, err = newCodec(Method(r.disc.Compression), int(r.disc.Level), r.disc.properties(), r.disc.ChunkSize)

	return err
}

func (r *Reader) readPartitions() ([]partition, error) {
	n, size := r.disc.NumPartitions, r.disc.PartitionSize
	if n == 0 {
		return nil, nil
	}
	if n > maxPartitions || size < uint32(partitionSize) || size > 0x1000 {
		return nil, corruptf("partition table of %d entries of %d bytes", n, size)
	}
	if !r.codec.exceptions() {
		return nil, fmt.Errorf("%w: %s container with partition data", ErrUnsupportedFormat, r.codec.method())
	}

	b := make([]byte, n*size)
	if err := r.readAt(b, int64(r.disc.PartitionOffset), "partition table"); err != nil {
		return nil, err
	}
	if sha1.Sum(b) != r.disc.PartitionHash {
		return nil, corruptf("partition table hash mismatch")
	}

	partitions := make([]partition, n)
	for i := range partitions {
		entry := b[i*int(size) : i*int(size)+partitionSize]
		if err := unmarshalTable(entry, &partitions[i]); err != nil {
			return nil, err
		}
	}

	return partitions, nil
}

// readTable reads a table stored through the compression backend.
func (r *Reader) readTable(name string, off int64, size uint32, v any) error {
	want := binary.Size(v)
	if int64(size) > maxTableSize {
		return corruptf("%s table too large", name)
	}

	src := make([]byte, size)
	if err := r.readAt(src, off, name+" table"); err != nil {
		return err
	}

	b := make([]byte, want)
	if _, err := r.codec.decompress(src, nil, b); err != nil {
		return fmt.Errorf("%s table: %w", name, err)
	}

	return unmarshalTable(b, v)
}

// Size returns the size of the disc image.
func (r *Reader) Size() int64 {
	return r.layout.isoSize
}

// Method returns the compression method.
func (r *Reader) Method() Method {
	return r.codec.method()
}

// Level returns the compression level.
func (r *Reader) Level() int {
	return r.codec.level()
}

// ChunkSize returns the chunk size.
func (r *Reader) ChunkSize() uint32 {
	return r.disc.ChunkSize
}

// DiscType returns the disc type recorded in the container.
func (r *Reader) DiscType() wii.DiscType {
	return wii.DiscType(r.disc.DiscType)
}

// Header returns the disc header.
func (r *Reader) Header() []byte {
	return bytes.Clone(r.disc.Header[:])
}

// Regions returns the memory map of the disc image.
func (r *Reader) Regions() []Region {
	return r.layout.mm.regions()
}

// Groups returns the number of groups and how many of those are stored
// as all-zero.
func (r *Reader) Groups() (total, zero int) {
	for _, g := range r.layout.groups {
		if g.Size == 0 {
			zero++
		}
	}
	return len(r.layout.groups), zero
}

// loadGroup decompresses a stored chunk into data, returning one exception
// list per hash area.
func (r *Reader) loadGroup(ref chunkRef, data []byte, areas []int) ([]exceptionList, error) {
	if int(ref.group) >= len(r.layout.groups) {
		return nil, internalf("group %d out of range", ref.group)
	}
	g := r.layout.groups[ref.group]

	if g.Size == 0 {
		clear(data)
		return make([]exceptionList, len(areas)), nil
	}

	if int64(g.Size) > 2*r.layout.chunkSize+int64(maxExceptionBytes(areas)) {
		return nil, &GroupError{Group: ref.group, Offset: g.offset(), Err: corruptf("stored size %d too large", g.Size)}
	}

	src := make([]byte, g.Size)
	if err := r.readAt(src, g.offset(), "group"); err != nil {
		return nil, &GroupError{Group: ref.group, Offset: g.offset(), Err: err}
	}

	lists, err := r.codec.decompress(src, areas, data)
	if err != nil {
		return nil, &GroupError{Group: ref.group, Offset: g.offset(), Err: err}
	}

	return lists, nil
}

func (r *Reader) loadRaw(ref chunkRef) ([]byte, error) {
	if r.cache.holds(ref) {
		return r.cache.data, nil
	}

	b := r.cache.buffer(ref)
	if _, err := r.loadGroup(ref, b, nil); err != nil {
		return nil, err
	}
	r.cache.set(ref)

	return b, nil
}

func (r *Reader) loadPartition(ref chunkRef) ([]byte, error) {
	if r.cache.holds(ref) {
		return r.cache.data, nil
	}

	n := ref.sectors * wii.SectorDataSize
	if cap(r.plain) < n {
		r.plain = make([]byte, n)
	}
	data := r.plain[:n]

	b := r.cache.buffer(ref)
	lists, err := r.loadGroup(ref, data, hashAreas(ref.sectors))
	if err != nil {
		return nil, err
	}

	var block cipher.Block
	if r.blocks != nil {
		block = r.blocks[ref.part]
	}
	if err = joinSectors(block, b, data, lists); err != nil {
		return nil, &GroupError{Group: ref.group, Offset: r.layout.groups[ref.group].offset(), Err: err}
	}
	r.cache.set(ref)

	return b, nil
}

// ReadAt implements io.ReaderAt.
func (r *Reader) ReadAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, errors.New("wia: negative offset")
	}

	for n < len(p) {
		cur := off + int64(n)
		region, ok := r.layout.mm.resolve(cur)
		if !ok || region.Kind == KindEOF {
			return n, io.EOF
		}

		var (
			b     []byte
			start int64
			end   = region.End()
		)
		switch region.Kind {
		case KindHeader:
			b = r.disc.Header[:]
		case KindRaw:
			ref := r.layout.rawChunk(region.Index, cur)
			start, end = ref.start, min(end, ref.end())
			b, err = r.loadRaw(ref)
		case KindPartition0, KindPartition1:
			ref := r.layout.partitionChunk(region.Index, int(region.Kind-KindPartition0), cur)
			start, end = ref.start, min(end, ref.end())
			b, err = r.loadPartition(ref)
		default:
			return n, internalf("read from %s region", region.Kind)
		}
		if err != nil {
			return n, err
		}

		k := copy(p[n:int64(n)+min(int64(len(p)-n), end-cur)], b[cur-start:])
		n += k
	}

	return n, nil
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (n int, err error) {
	if r.off >= r.Size() {
		return 0, io.EOF
	}
	if max := r.Size() - r.off; int64(len(p)) > max {
		p = p[0:max]
	}
	n, err = r.ReadAt(p, r.off)
	r.off += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return
}

// Seek implements io.Seeker.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	default:
		return 0, errors.New("wia: invalid whence")
	case io.SeekStart:
		break
	case io.SeekCurrent:
		offset += r.off
	case io.SeekEnd:
		offset += r.Size()
	}
	if offset < 0 {
		return 0, errors.New("wia: invalid offset")
	}
	r.off = offset
	return offset, nil
}
