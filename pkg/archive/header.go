// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package archive

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
)

const blockSize = 512

// Entry types understood by the extractor. Anything else is skipped.
const (
	typeReg         = '0'
	typeRegA        = '\x00'
	typeDir         = '5'
	typeGNULongName = 'L'
	typePAXHeader   = 'x'
	typePAXGlobal   = 'g'
)

// maxMetadataBytes bounds long-name and pax header contents, which are
// buffered in memory.
const maxMetadataBytes = 1 << 20

// fixed offsets of the header fields
const (
	nameOff, nameLen         = 0, 100
	modeOff, modeLen         = 100, 8
	sizeOff, sizeLen         = 124, 12
	chksumOff, chksumLen     = 148, 8
	typeflagOff              = 156
	magicOff, magicLen       = 257, 6
	prefixOff, prefixLen     = 345, 155
	magicUSTAR               = "ustar\x00"
	chksumPlaceholderPadding = ' '
)

// header is the decoded form of one 512 byte tar header block.
type header struct {
	Name     string
	Mode     int64
	Size     int64
	Typeflag byte
}

// FileMode converts the header mode to the permission bits and the
// setuid/setgid/sticky flags of an os.FileMode.
func (h *header) FileMode() os.FileMode {
	mode := os.FileMode(h.Mode & 0777)
	if h.Mode&04000 != 0 {
		mode |= os.ModeSetuid
	}
	if h.Mode&02000 != 0 {
		mode |= os.ModeSetgid
	}
	if h.Mode&01000 != 0 {
		mode |= os.ModeSticky
	}
	return mode
}

func isZeroBlock(block []byte) bool {
	for _, b := range block {
		if b != 0 {
			return false
		}
	}
	return true
}

// parseString returns the field content up to the first NUL.
func parseString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

// parseOctal decodes a NUL and/or space terminated octal text field.
func parseOctal(b []byte) (int64, error) {
	s := string(bytes.Trim(b, " \x00"))
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 8, 63)
	if err != nil {
		return 0, fmt.Errorf("bad octal field %q", s)
	}
	return int64(v), nil
}

// parseNumeric decodes a numeric field, which is either octal text or, for
// values that do not fit, the GNU base-256 encoding flagged by the high bit.
func parseNumeric(b []byte) (int64, error) {
	if len(b) == 0 || b[0]&0x80 == 0 {
		return parseOctal(b)
	}
	if b[0] == 0xff {
		return 0, fmt.Errorf("negative base-256 field")
	}
	var v int64
	for i, c := range b {
		if i == 0 {
			c &= 0x7f
		}
		if v > (1<<63-1)>>8 {
			return 0, fmt.Errorf("base-256 field overflows")
		}
		v = v<<8 | int64(c)
	}
	return v, nil
}

// checksums returns the unsigned and signed sums of the block with the
// checksum field itself counted as spaces. Historic tar implementations used
// signed chars, so both are accepted.
func checksums(block []byte) (unsigned, signed int64) {
	for i, c := range block {
		if i >= chksumOff && i < chksumOff+chksumLen {
			c = chksumPlaceholderPadding
		}
		unsigned += int64(c)
		signed += int64(int8(c))
	}
	return unsigned, signed
}

// parseHeader decodes a header block. The returned error text becomes the
// reason of an ErrArchiveFormat.
func parseHeader(block []byte) (*header, error) {
	if len(block) != blockSize {
		return nil, fmt.Errorf("short header block (%d bytes)", len(block))
	}

	want, err := parseOctal(block[chksumOff : chksumOff+chksumLen])
	if err != nil {
		return nil, fmt.Errorf("checksum: %v", err)
	}
	unsigned, signed := checksums(block)
	if want != unsigned && want != signed {
		return nil, fmt.Errorf("checksum mismatch: header says %d, computed %d", want, unsigned)
	}

	h := &header{
		Name:     parseString(block[nameOff : nameOff+nameLen]),
		Typeflag: block[typeflagOff],
	}
	if h.Mode, err = parseNumeric(block[modeOff : modeOff+modeLen]); err != nil {
		return nil, fmt.Errorf("mode: %v", err)
	}
	if h.Size, err = parseNumeric(block[sizeOff : sizeOff+sizeLen]); err != nil {
		return nil, fmt.Errorf("size: %v", err)
	}

	// POSIX ustar splits long names into prefix + name. GNU tar uses the
	// same bytes for other fields and marks itself with "ustar  \x00".
	if string(block[magicOff:magicOff+magicLen]) == magicUSTAR {
		if prefix := parseString(block[prefixOff : prefixOff+prefixLen]); prefix != "" {
			h.Name = prefix + "/" + h.Name
		}
	}
	return h, nil
}

// paddedSize is the number of bytes the content of an entry occupies in the
// stream, including the padding to the next block boundary.
func paddedSize(size int64) int64 {
	if rem := size % blockSize; rem != 0 {
		return size + blockSize - rem
	}
	return size
}

// parsePAXPath extracts the "path" record of a pax extended header, if any.
// Records have the form "<len> <key>=<value>\n".
func parsePAXPath(data []byte) (string, bool, error) {
	var (
		path  string
		found bool
	)
	for len(data) > 0 {
		sp := bytes.IndexByte(data, ' ')
		if sp <= 0 {
			return "", false, fmt.Errorf("bad pax record")
		}
		n, err := strconv.Atoi(string(data[:sp]))
		if err != nil || n <= sp+1 || n > len(data) {
			return "", false, fmt.Errorf("bad pax record length")
		}
		record := data[sp+1 : n]
		data = data[n:]
		if record[len(record)-1] != '\n' {
			return "", false, fmt.Errorf("pax record not newline terminated")
		}
		record = record[:len(record)-1]
		eq := bytes.IndexByte(record, '=')
		if eq < 0 {
			return "", false, fmt.Errorf("pax record without '='")
		}
		if string(record[:eq]) == "path" {
			path, found = string(record[eq+1:]), true
		}
	}
	return path, found, nil
}
