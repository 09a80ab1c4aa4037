package wii

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"go4.org/readerutil"
)

const (
	multipart = ".part"
)

var fs = afero.NewOsFs()

type reader struct {
	r   readerutil.SizeReaderAt
	c   []io.Closer
	off int64
}

func closeAll(err error, files []afero.File) error {
	for _, file := range files {
		err = multierror.Append(err, file.Close())
	}
	return err
}

// OpenReader opens the named disc image. If name matches NAME.part0.iso then
// NAME.part1.iso, NAME.part2.iso and so on are opened and concatenated until
// the next part is not found.
func OpenReader(name string) (ReadCloser, error) {
	return openReader(fs, name)
}

func openReader(fs afero.Fs, name string) (ReadCloser, error) {
	f, err := fs.Open(name)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		return nil, closeAll(err, []afero.File{f})
	}

	var sr readerutil.SizeReaderAt = io.NewSectionReader(f, 0, info.Size())
	files := []afero.File{f}

	ext := filepath.Ext(name)
	if prefix := strings.TrimSuffix(name, ext); strings.HasSuffix(prefix, multipart+"0") {
		prefix = strings.TrimSuffix(prefix, "0")
		mr := []readerutil.SizeReaderAt{sr}
		for i := 1; true; i++ {
			if f, err = fs.Open(fmt.Sprintf("%s%d%s", prefix, i, ext)); err != nil {
				if os.IsNotExist(err) {
					break
				}
				return nil, closeAll(err, files)
			}
			files = append(files, f)

			if info, err = f.Stat(); err != nil {
				return nil, closeAll(err, files)
			}

			mr = append(mr, io.NewSectionReader(f, 0, info.Size()))
		}
		sr = readerutil.NewMultiReaderAt(mr...)
	}

	r := &reader{
		r: sr,
	}
	for _, file := range files {
		r.c = append(r.c, file)
	}

	return r, nil
}

func (r *reader) Size() int64 {
	return r.r.Size()
}

func (r *reader) Close() error {
	var err *multierror.Error
	for _, c := range r.c {
		if cerr := c.Close(); cerr != nil {
			err = multierror.Append(err, cerr)
		}
	}
	return err.ErrorOrNil()
}

func (r *reader) Read(p []byte) (n int, err error) {
	n, err = r.ReadAt(p, r.off)
	r.off += int64(n)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
		if n > 0 {
			err = nil
		}
	}
	return
}

func (r *reader) ReadAt(p []byte, off int64) (int, error) {
	return r.r.ReadAt(p, off)
}

func (r *reader) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	default:
		return 0, errors.New("wii: invalid whence")
	case io.SeekStart:
		break
	case io.SeekCurrent:
		offset += r.off
	case io.SeekEnd:
		offset += r.Size()
	}
	if offset < 0 {
		return 0, errors.New("wii: invalid offset")
	}
	r.off = offset
	return offset, nil
}
