package catalog

// streaming.go wraps uploaded file readers so parsing stays
// O(buffer) regardless of file size:
//
//   - a UTF-8 BOM (common in Windows-exported spreadsheets) is skipped
//   - invalid UTF-8 bytes are replaced with '?' on the fly
//   - bytes read are counted for progress reporting

import (
	"bufio"
	"bytes"
	"io"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// importReader sanitizes and counts an upload stream.
type importReader struct {
	br         *bufio.Reader
	bomChecked bool

	// Trailing bytes of a possibly-incomplete multi-byte rune, carried
	// over to the next Read.
	pending []byte

	BytesRead int64
	Total     int64 // 0 when the upload size is unknown
}

// newImportReader wraps r for catalog import parsing. total is the
// declared upload size, or 0 if unknown.
func newImportReader(r io.Reader, total int64) *importReader {
	return &importReader{
		br:      bufio.NewReader(r),
		pending: make([]byte, 0, utf8.UTFMax),
		Total:   total,
	}
}

// Read implements io.Reader.
func (ir *importReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	if !ir.bomChecked {
		ir.bomChecked = true
		if head, err := ir.br.Peek(3); err == nil && bytes.Equal(head, utf8BOM) {
			if _, err := ir.br.Discard(3); err != nil {
				return 0, err
			}
			ir.BytesRead += 3
		}
	}

	offset := copy(p, ir.pending)
	ir.pending = ir.pending[:0]

	n, err := ir.br.Read(p[offset:])
	ir.BytesRead += int64(n)
	n += offset
	if n == 0 {
		return 0, err
	}

	return ir.sanitize(p[:n], err == io.EOF), err
}

// sanitize replaces invalid UTF-8 bytes with '?' in place and stashes
// an incomplete trailing rune in pending unless atEOF. Returns the
// number of usable bytes.
func (ir *importReader) sanitize(data []byte, atEOF bool) int {
	if isASCII(data) {
		return len(data)
	}

	write := 0
	for read := 0; read < len(data); {
		r, size := utf8.DecodeRune(data[read:])

		if r == utf8.RuneError && size == 1 {
			if !atEOF && utf8.RuneStart(data[read]) && len(data)-read < utf8.UTFMax {
				// Possibly a rune split across reads.
				ir.pending = append(ir.pending, data[read:]...)
				return write
			}
			data[write] = '?'
			write++
			read++
			continue
		}

		copy(data[write:], data[read:read+size])
		write += size
		read += size
	}
	return write
}

// Progress returns read progress as a 0-100 percentage, or 0 when the
// total size is unknown.
func (ir *importReader) Progress() int {
	if ir.Total <= 0 {
		return 0
	}
	return int(ir.BytesRead * 100 / ir.Total)
}

// isASCII is the fast path: most spreadsheet exports are plain ASCII.
func isASCII(data []byte) bool {
	for _, b := range data {
		if b >= 0x80 {
			return false
		}
	}
	return true
}
