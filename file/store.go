package file

// BlockStore is the raw block I/O layer sitting underneath the buffer and log managers.
// Blocks are fixed-size; reading a block that was never written yields a zeroed page.
type BlockStore interface {
	// Read fills page with the contents of block.
	Read(block BlockId, page *Page) error
	// Write stores the contents of page into block.
	Write(block BlockId, page *Page) error
	// Append extends filename by one zeroed block and returns its id.
	Append(filename string) (BlockId, error)
	// Length returns the number of blocks in filename.
	Length(filename string) (int, error)
	BlockSize() int
}

var _ BlockStore = (*Manager)(nil)
