package wal

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

// lengthPrefixSize is the width of each record's big-endian length
// prefix.
const lengthPrefixSize = 4

// ErrRecordTooLarge is returned when a record does not fit in a fresh,
// freshly rotated segment.
var ErrRecordTooLarge = errors.New("wal: record too large for segment")

// segment is one pre-allocated, memory-mapped wal_{index} file. Writes
// land in the free suffix starting at cursor; everything from cursor
// onward is zero-filled, so a zero length-prefix read back is
// indistinguishable from "nothing written here yet" — the sentinel
// end-of-log marker spec.md §4.6 calls for.
type segment struct {
	index  int
	path   string
	file   *os.File
	data   mmap.MMap
	cursor int
	size   int
}

func openSegment(path string, index, size int) (*segment, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() < int64(size) {
		if err := f.Truncate(int64(size)); err != nil {
			f.Close()
			return nil, fmt.Errorf("wal: preallocate %s: %w", path, err)
		}
	}

	data, err := mmap.MapRegion(f, size, mmap.RDWR, 0, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("wal: mmap %s: %w", path, err)
	}

	s := &segment{index: index, path: path, file: f, data: data, size: size}
	s.cursor = s.findEnd()
	return s, nil
}

// findEnd scans from offset 0, decoding length prefixes until it finds
// the zero-prefix sentinel or runs off the end of the segment.
func (s *segment) findEnd() int {
	off := 0
	for off+lengthPrefixSize <= s.size {
		n := int(binary.BigEndian.Uint32(s.data[off : off+lengthPrefixSize]))
		if n == 0 {
			return off
		}
		next := off + lengthPrefixSize + n
		if next > s.size {
			return off
		}
		off = next
	}
	return off
}

// remaining reports free bytes after the cursor.
func (s *segment) remaining() int {
	return s.size - s.cursor
}

// append encodes r and writes it at the cursor, flushing the written
// range. Returns false (not an error) if r does not fit in what
// remains of this segment — the caller rotates and retries.
func (s *segment) append(r record) (bool, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(r); err != nil {
		return false, fmt.Errorf("wal: encode record: %w", err)
	}
	payload := buf.Bytes()

	if lengthPrefixSize+len(payload) > s.remaining() {
		return false, nil
	}

	binary.BigEndian.PutUint32(s.data[s.cursor:s.cursor+lengthPrefixSize], uint32(len(payload)))
	copy(s.data[s.cursor+lengthPrefixSize:], payload)

	s.cursor += lengthPrefixSize + len(payload)

	// mmap-go only exposes whole-mapping Flush; segments are sized so
	// this stays cheap relative to the append rate it's called at.
	if err := s.data.Flush(); err != nil {
		return false, fmt.Errorf("wal: flush: %w", err)
	}
	return true, nil
}

func (s *segment) close() error {
	if err := s.data.Unmap(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

// readAllRecords decodes every record from offset 0 up to the sentinel or
// segment end, returning each envelope plus a decode error, if any,
// that terminated iteration early.
func readAllRecords(data []byte) ([]record, error) {
	var records []record
	off := 0
	size := len(data)

	for off+lengthPrefixSize <= size {
		n := int(binary.BigEndian.Uint32(data[off : off+lengthPrefixSize]))
		if n == 0 {
			return records, nil
		}
		start := off + lengthPrefixSize
		end := start + n
		if end > size {
			return records, nil
		}

		var r record
		if err := gob.NewDecoder(bytes.NewReader(data[start:end])).Decode(&r); err != nil {
			return records, fmt.Errorf("wal: decode record at offset %d: %w", off, err)
		}
		records = append(records, r)
		off = end
	}

	return records, nil
}
