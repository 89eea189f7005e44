// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package archive stages job payloads, shipped as gzip-compressed tar
// streams, onto disk. Only regular files and directories are materialized;
// long names are supported through both the GNU 'L' records and pax path
// records.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/fb-tricent/puppetlabs-cd4pe-jobs/pkg/cerrors"
)

// EntryKind tells what an extracted entry became on disk.
type EntryKind int

// List of entry kinds reported to OnEntry callbacks.
const (
	EntryFile EntryKind = iota
	EntryDir
	EntrySkipped
)

func (k EntryKind) String() string {
	switch k {
	case EntryFile:
		return "file"
	case EntryDir:
		return "dir"
	default:
		return "skipped"
	}
}

// Entry describes one archive member after it has been handled.
type Entry struct {
	Name string
	Path string
	Mode os.FileMode
	Size int64
	Kind EntryKind
}

// Option is a modifier of the extraction.
type Option interface {
	apply(e *extractor)
}

// OptionOnEntry registers a callback invoked for every handled entry, in
// archive order.
type OptionOnEntry func(Entry)

func (opt OptionOnEntry) apply(e *extractor) {
	e.onEntry = opt
}

// Unzip decompresses the gzip-compressed tar file at archivePath and replays
// its entries under destDir.
func Unzip(archivePath, destDir string, opts ...Option) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	return Extract(f, destDir, opts...)
}

// Extract is Unzip for an already opened stream.
func Extract(r io.Reader, destDir string, opts ...Option) error {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return &cerrors.ErrArchiveFormat{Reason: fmt.Sprintf("gzip: %v", err)}
	}
	defer zr.Close()

	dest, err := filepath.Abs(destDir)
	if err != nil {
		return fmt.Errorf("failed to resolve destination %s: %w", destDir, err)
	}
	if err := os.MkdirAll(dest, 0755); err != nil {
		return fmt.Errorf("failed to create destination %s: %w", dest, err)
	}

	e := &extractor{r: zr, dest: dest}
	for _, opt := range opts {
		opt.apply(e)
	}
	// run consumes the whole stream, so the gzip checksum is verified too
	return e.run()
}

type dirMode struct {
	path string
	mode os.FileMode
}

type extractor struct {
	r      io.Reader
	dest   string
	offset int64

	// pendingName holds the full name carried by a long-name record until
	// the entry it belongs to has been read.
	pendingName *string

	// directory modes are applied last, so read-only directories can still
	// be populated.
	dirModes []dirMode

	onEntry func(Entry)
}

func (e *extractor) formatError(format string, args ...interface{}) error {
	return &cerrors.ErrArchiveFormat{Offset: e.offset, Reason: fmt.Sprintf(format, args...)}
}

// readFull reads exactly len(buf) bytes, converting short reads to format
// errors.
func (e *extractor) readFull(buf []byte) error {
	n, err := io.ReadFull(e.r, buf)
	e.offset += int64(n)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return e.formatError("truncated stream")
		}
		if errors.Is(err, io.EOF) {
			return err
		}
		return e.formatError("%v", err)
	}
	return nil
}

func (e *extractor) skip(n int64) error {
	copied, err := io.CopyN(ioutil.Discard, e.r, n)
	e.offset += copied
	if err != nil {
		if errors.Is(err, io.EOF) {
			return e.formatError("truncated stream")
		}
		return e.formatError("%v", err)
	}
	return nil
}

func (e *extractor) run() error {
	block := make([]byte, blockSize)
	for {
		start := e.offset
		if err := e.readFull(block); err != nil {
			if errors.Is(err, io.EOF) {
				// Missing end marker, but the stream ended on a block
				// boundary: accept unless a long name is dangling.
				if e.pendingName != nil {
					return e.formatError("long name record without a following entry")
				}
				return e.applyDirModes()
			}
			return err
		}
		if isZeroBlock(block) {
			if e.pendingName != nil {
				return e.formatError("long name record without a following entry")
			}
			if err := e.readEndMarker(block); err != nil {
				return err
			}
			return e.applyDirModes()
		}

		hdr, err := parseHeader(block)
		if err != nil {
			return &cerrors.ErrArchiveFormat{Offset: start, Reason: err.Error()}
		}
		if err := e.handle(hdr); err != nil {
			return err
		}
	}
}

// readEndMarker is called after a zero block. The archive ends with a second
// zero block, after which only zero padding may follow up to the end of the
// stream. A stream ending right after the first zero block is accepted.
func (e *extractor) readEndMarker(block []byte) error {
	start := e.offset
	if err := e.readFull(block); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	if !isZeroBlock(block) {
		return &cerrors.ErrArchiveFormat{Offset: start, Reason: "lone zero block"}
	}
	for {
		n, err := e.r.Read(block)
		if !isZeroBlock(block[:n]) {
			return e.formatError("data after end of archive")
		}
		e.offset += int64(n)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return e.formatError("%v", err)
		}
	}
}

func (e *extractor) handle(hdr *header) error {
	switch hdr.Typeflag {
	case typeGNULongName:
		data, err := e.readMetadata(hdr)
		if err != nil {
			return err
		}
		name := string(bytes.TrimRight(data, "\x00"))
		e.pendingName = &name
		return nil

	case typePAXHeader:
		data, err := e.readMetadata(hdr)
		if err != nil {
			return err
		}
		path, ok, err := parsePAXPath(data)
		if err != nil {
			return e.formatError("%v", err)
		}
		if ok {
			e.pendingName = &path
		}
		return nil

	case typePAXGlobal:
		return e.skip(paddedSize(hdr.Size))
	}

	name := hdr.Name
	if e.pendingName != nil {
		name = *e.pendingName
		e.pendingName = nil
	}

	switch hdr.Typeflag {
	case typeReg, typeRegA:
		if strings.HasSuffix(name, "/") {
			return e.extractDir(name, hdr)
		}
		return e.extractFile(name, hdr)
	case typeDir:
		return e.extractDir(name, hdr)
	default:
		if err := e.skip(paddedSize(hdr.Size)); err != nil {
			return err
		}
		e.report(Entry{Name: name, Mode: hdr.FileMode(), Size: hdr.Size, Kind: EntrySkipped})
		return nil
	}
}

func (e *extractor) readMetadata(hdr *header) ([]byte, error) {
	if hdr.Size > maxMetadataBytes {
		return nil, e.formatError("metadata record of %d bytes is too large", hdr.Size)
	}
	data := make([]byte, hdr.Size)
	if err := e.readFull(data); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, e.formatError("truncated stream")
		}
		return nil, err
	}
	if err := e.skip(paddedSize(hdr.Size) - hdr.Size); err != nil {
		return nil, err
	}
	return data, nil
}

// target maps an archive name to a path below the destination, refusing
// names that would escape it.
func (e *extractor) target(name string) (string, error) {
	if name == "" {
		return "", e.formatError("entry with an empty name")
	}
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", e.formatError("entry %q points outside the destination", name)
	}
	return filepath.Join(e.dest, clean), nil
}

func (e *extractor) extractDir(name string, hdr *header) error {
	path, err := e.target(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	// directories carry no content, but skip whatever the header claims
	if err := e.skip(paddedSize(hdr.Size)); err != nil {
		return err
	}
	if path != e.dest {
		e.dirModes = append(e.dirModes, dirMode{path: path, mode: hdr.FileMode()})
	}
	e.report(Entry{Name: name, Path: path, Mode: hdr.FileMode(), Kind: EntryDir})
	return nil
}

func (e *extractor) extractFile(name string, hdr *header) error {
	path, err := e.target(name)
	if err != nil {
		return err
	}
	if path == e.dest {
		return e.formatError("file entry %q resolves to the destination itself", name)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", path, err)
	}
	written, err := io.CopyN(f, e.r, hdr.Size)
	e.offset += written
	if closeErr := f.Close(); err == nil && closeErr != nil {
		return fmt.Errorf("failed to close file %s: %w", path, closeErr)
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			return e.formatError("truncated content of %q", name)
		}
		return fmt.Errorf("failed to write file %s: %w", path, err)
	}
	if err := e.skip(paddedSize(hdr.Size) - hdr.Size); err != nil {
		return err
	}

	// chmod rather than relying on OpenFile so the umask does not strip
	// the executable bits of payload scripts.
	if err := os.Chmod(path, hdr.FileMode()); err != nil {
		return fmt.Errorf("failed to set mode of %s: %w", path, err)
	}
	e.report(Entry{Name: name, Path: path, Mode: hdr.FileMode(), Size: hdr.Size, Kind: EntryFile})
	return nil
}

func (e *extractor) applyDirModes() error {
	for i := len(e.dirModes) - 1; i >= 0; i-- {
		d := e.dirModes[i]
		if err := os.Chmod(d.path, d.mode); err != nil {
			return fmt.Errorf("failed to set mode of %s: %w", d.path, err)
		}
	}
	return nil
}

func (e *extractor) report(entry Entry) {
	if e.onEntry != nil {
		e.onEntry(entry)
	}
}
