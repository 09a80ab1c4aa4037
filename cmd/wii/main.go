package main

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bodgit/plumbing"
	"github.com/bodgit/wii"
	"github.com/bodgit/wii/internal/interrupt"
	"github.com/bodgit/wii/internal/logging"
	"github.com/bodgit/wii/wia"
	"github.com/hashicorp/go-multierror"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var fs = afero.NewOsFs()

func init() {
	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"V"},
		Usage:   "print the version",
	}
}

func newLogger(c *cli.Context) (*slog.Logger, error) {
	level, err := logging.ParseLevel(c.String("log-level"))
	if err != nil {
		return nil, err
	}

	return logging.NewLogger(logging.Options{
		Level:    level,
		Logout:   os.Stderr,
		WantJSON: c.Bool("json"),
	}), nil
}

// partitions returns the partitions of a Wii disc image so they can be
// stored decrypted. Without the common key the image is stored as raw
// data.
func partitions(logger *slog.Logger, r wii.Reader, keyFile string) ([]wii.Partition, error) {
	header := make([]byte, wii.HeaderSize)
	if _, err := r.ReadAt(header, 0); err != nil {
		return nil, err
	}
	if wii.Type(header) != wii.Wii {
		return nil, nil
	}

	commonKey, err := afero.ReadFile(fs, keyFile)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("common key not found, storing partitions as raw data", "path", keyFile)
			return nil, nil
		}
		return nil, err
	}

	d, err := wii.NewDisc(r, commonKey)
	if err != nil {
		return nil, err
	}

	logger.Info("read disc", "id", d.ID(), "title", d.Title(), "partitions", len(d.Partitions()))

	return d.Partitions(), nil
}

func compress(c *cli.Context, src, dst string) (err error) {
	if dst == "" {
		if ext := filepath.Ext(src); ext == wia.Extension {
			return fmt.Errorf("source file %s already has %s extension", src, wia.Extension)
		}

		dst = strings.TrimSuffix(src, wii.Extension) + wia.Extension
	}

	logger, err := newLogger(c)
	if err != nil {
		return err
	}

	method, err := wia.ParseMethod(c.String("method"))
	if err != nil {
		return err
	}

	level, err := wia.NormalizeLevel(method, c.Int("level"))
	if err != nil {
		return err
	}
	chunkSize := uint32(c.Uint("chunk-size")) * wia.BaseChunkSize

	memory, err := wia.MemoryUsage(method, level, chunkSize)
	if err != nil {
		return err
	}
	logger.Debug("compression settings", "method", method, "level", level, "chunk_size", chunkSize, "memory", memory)

	rc, err := wii.OpenReader(src)
	if err != nil {
		return err
	}
	defer rc.Close()

	keyFile := c.Path("common-key")
	if keyFile == "" {
		keyFile = filepath.Join(filepath.Dir(src), wii.CommonKeyFile)
	}

	parts, err := partitions(logger, rc, keyFile)
	if err != nil {
		return err
	}

	var r io.Reader = rc

	if c.Bool("verbose") {
		pb := progressbar.DefaultBytes(rc.Size())
		r = io.TeeReader(r, pb)
	}

	f, err := fs.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			err = multierror.Append(err, cerr).ErrorOrNil()
		}
		if err != nil && !errors.Is(err, wia.ErrInterrupted) {
			_ = fs.Remove(dst)
		}
	}()

	flag := new(interrupt.Flag)
	stop := interrupt.Watch(flag)
	defer stop()

	w, err := wia.NewWriter(f, rc.Size(), parts, &wia.WriterOptions{
		Method:    method,
		Level:     level,
		ChunkSize: chunkSize,
		Logger:    logger,
		Interrupt: flag,
	})
	if err != nil {
		return err
	}

	if _, err = io.Copy(w, r); err != nil {
		if errors.Is(err, wia.ErrInterrupted) {
			logger.Warn("interrupted, writing partial container", "path", dst)
			return multierror.Append(err, w.Close()).ErrorOrNil()
		}
		return err
	}

	return w.Close()
}

func decompress(c *cli.Context, src, dst string) error {
	if dst == "" {
		if ext := filepath.Ext(src); ext == wii.Extension {
			return fmt.Errorf("source file %s already has %s extension", src, wii.Extension)
		}

		dst = strings.TrimSuffix(src, wia.Extension) + wii.Extension
	}

	logger, err := newLogger(c)
	if err != nil {
		return err
	}

	r, err := openContainer(logger, src)
	if err != nil {
		return err
	}
	defer r.Close()

	var w io.WriteCloser

	w, err = fs.Create(dst)
	if err != nil {
		return err
	}

	if c.Bool("verbose") {
		pb := progressbar.DefaultBytes(r.Size())
		w = plumbing.MultiWriteCloser(w, plumbing.NopWriteCloser(pb))
	}

	defer w.Close()

	_, err = io.Copy(w, r)

	return err
}

// openContainer opens a WIA container, closing the file again on error.
func openContainer(logger *slog.Logger, name string) (*wia.ReadCloser, error) {
	f, err := fs.Open(name)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		return nil, multierror.Append(err, f.Close())
	}

	rc, err := wia.NewReadCloser(f, info.Size(), &wia.ReaderOptions{Logger: logger})
	if err != nil {
		return nil, multierror.Append(err, f.Close())
	}

	return rc, nil
}

// openFile opens either a WIA container or a plain disc image.
func openFile(logger *slog.Logger, name string) (wii.ReadCloser, *wia.Reader, error) {
	rc, err := openContainer(logger, name)
	if err == nil {
		return rc, rc.Reader, nil
	}
	if !errors.Is(err, wia.ErrBadMagic) {
		return nil, nil, err
	}

	r, err := wii.OpenReader(name)
	if err != nil {
		return nil, nil, err
	}

	return r, nil, nil
}

func info(c *cli.Context, name string) error {
	logger, err := newLogger(c)
	if err != nil {
		return err
	}

	rc, r, err := openFile(logger, name)
	if err != nil {
		return err
	}
	defer rc.Close()

	header := make([]byte, wii.HeaderSize)
	if _, err = rc.ReadAt(header, 0); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	out := c.App.Writer
	fmt.Fprintf(out, "Type:\t%s\n", wii.Type(header))
	fmt.Fprintf(out, "ID:\t%s\n", strings.TrimRight(string(header[:6]), "\x00"))
	fmt.Fprintf(out, "Title:\t%s\n", strings.TrimRight(string(header[0x20:]), "\x00"))
	fmt.Fprintf(out, "Size:\t%d\n", rc.Size())

	if r == nil {
		return nil
	}

	total, zero := r.Groups()
	fmt.Fprintf(out, "Method:\t%s\n", r.Method())
	fmt.Fprintf(out, "Level:\t%d\n", r.Level())
	fmt.Fprintf(out, "Chunk:\t%#x\n", r.ChunkSize())
	fmt.Fprintf(out, "Groups:\t%d (%d zero)\n", total, zero)

	for _, region := range r.Regions() {
		if region.Size == 0 {
			continue
		}
		fmt.Fprintf(out, "%#010x-%#010x\t%-10s\t%s\n", region.Offset, region.End(), region.Kind, region.Name)
	}

	return nil
}

func verify(c *cli.Context, name string) error {
	logger, err := newLogger(c)
	if err != nil {
		return err
	}

	rc, _, err := openFile(logger, name)
	if err != nil {
		return err
	}
	defer rc.Close()

	h := sha1.New()
	w := plumbing.NopWriteCloser(h)

	if c.Bool("verbose") {
		pb := progressbar.DefaultBytes(rc.Size())
		w = plumbing.MultiWriteCloser(w, plumbing.NopWriteCloser(pb))
	}

	if _, err = io.Copy(w, rc); err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "%x  %s\n", h.Sum(nil), name)

	return nil
}

func main() {
	app := cli.NewApp()

	app.Name = "wii"
	app.Usage = "Wii and GameCube disc image utility"
	app.Version = fmt.Sprintf("%s, commit %s, built at %s", version, commit, date)

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "log `LEVEL`, one of debug, info, warn or error",
			Value: "info",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "log in JSON",
		},
	}

	verbose := &cli.BoolFlag{
		Name:    "verbose",
		Aliases: []string{"v"},
		Usage:   "increase verbosity",
	}

	app.Commands = []*cli.Command{
		{
			Name:        "compress",
			Usage:       "Compress a " + wii.Extension + " file into a " + wia.Extension + " file",
			Description: "",
			ArgsUsage:   "SOURCE [TARGET]",
			Action: func(c *cli.Context) error {
				if c.NArg() < 1 {
					cli.ShowCommandHelpAndExit(c, c.Command.Name, 1)
				}

				return compress(c, c.Args().Get(0), c.Args().Get(1))
			},
			Flags: []cli.Flag{
				verbose,
				&cli.StringFlag{
					Name:    "method",
					Aliases: []string{"m"},
					Usage:   "compression `METHOD`, one of none, purge, bzip2, lzma, lzma2 or zstd",
					Value:   wia.DefaultMethod.String(),
				},
				&cli.IntFlag{
					Name:    "level",
					Aliases: []string{"l"},
					Usage:   "compression `LEVEL`, 0 for the method default",
				},
				&cli.UintFlag{
					Name:  "chunk-size",
					Usage: "chunk size in multiples of 2 MiB",
					Value: wia.DefaultChunkSize / wia.BaseChunkSize,
				},
				&cli.PathFlag{
					Name:    "common-key",
					Aliases: []string{"k"},
					Usage:   "read the common key from `FILE`",
				},
			},
		},
		{
			Name:        "decompress",
			Usage:       "Decompress a " + wia.Extension + " file back to a " + wii.Extension + " file",
			Description: "",
			ArgsUsage:   "SOURCE [TARGET]",
			Action: func(c *cli.Context) error {
				if c.NArg() < 1 {
					cli.ShowCommandHelpAndExit(c, c.Command.Name, 1)
				}

				return decompress(c, c.Args().Get(0), c.Args().Get(1))
			},
			Flags: []cli.Flag{
				verbose,
			},
		},
		{
			Name:        "info",
			Usage:       "Describe a " + wii.Extension + " or " + wia.Extension + " file",
			Description: "",
			ArgsUsage:   "FILE",
			Action: func(c *cli.Context) error {
				if c.NArg() < 1 {
					cli.ShowCommandHelpAndExit(c, c.Command.Name, 1)
				}

				return info(c, c.Args().Get(0))
			},
		},
		{
			Name:        "verify",
			Usage:       "Read a " + wii.Extension + " or " + wia.Extension + " file in full and print its SHA-1",
			Description: "",
			ArgsUsage:   "FILE",
			Action: func(c *cli.Context) error {
				if c.NArg() < 1 {
					cli.ShowCommandHelpAndExit(c, c.Command.Name, 1)
				}

				return verify(c, c.Args().Get(0))
			},
			Flags: []cli.Flag{
				verbose,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
