package file

import (
	"encoding/binary"
	"errors"
	"unicode/utf8"
)

// IntBytes is the on-page width of an int. Ints are stored as big-endian int32
// so that a page image is identical on every architecture.
const IntBytes = 4

var ErrInvalidUTF8 = errors.New("invalid UTF-8 encoding")

// Page is the in-memory image of one block. A page is the unit of transfer between a
// BlockStore and main memory; its size equals the store's block size.
type Page struct {
	buffer []byte
}

// NewPage creates a zeroed Page of the given block size.
func NewPage(blockSize int) *Page {
	return &Page{buffer: make([]byte, blockSize)}
}

// NewPageFromBytes wraps b without copying it.
func NewPageFromBytes(b []byte) *Page {
	return &Page{buffer: b}
}

func (p *Page) GetInt(offset int) int {
	return int(int32(binary.BigEndian.Uint32(p.buffer[offset:])))
}

func (p *Page) SetInt(offset int, n int) {
	binary.BigEndian.PutUint32(p.buffer[offset:], uint32(int32(n)))
}

// GetBytes returns a copy of the length-prefixed byte slice stored at offset.
func (p *Page) GetBytes(offset int) []byte {
	length := p.GetInt(offset)
	start := offset + IntBytes
	b := make([]byte, length)
	copy(b, p.buffer[start:start+length])
	return b
}

// SetBytes stores b at offset, prefixed by its length.
func (p *Page) SetBytes(offset int, b []byte) {
	p.SetInt(offset, len(b))
	copy(p.buffer[offset+IntBytes:], b)
}

func (p *Page) GetString(offset int) (string, error) {
	b := p.GetBytes(offset)
	if !utf8.Valid(b) {
		return "", ErrInvalidUTF8
	}
	return string(b), nil
}

func (p *Page) SetString(offset int, s string) error {
	if !utf8.ValidString(s) {
		return ErrInvalidUTF8
	}
	p.SetBytes(offset, []byte(s))
	return nil
}


// Zero clears the whole page.
func (p *Page) Zero() {
	clear(p.buffer)
}

// Size returns the page length in bytes.
func (p *Page) Size() int {
	return len(p.buffer)
}

// MaxLength is the number of bytes needed to store a string of strlen characters.
func MaxLength(strlen int) int {
	return IntBytes + strlen*utf8.UTFMax
}

// Contents returns the byte buffer backing the Page.
func (p *Page) Contents() []byte {
	return p.buffer
}
