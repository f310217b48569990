package file

import "fmt"

// BlockId identifies a disk block by its filename and block number.
// It is a plain value: two BlockIds naming the same block compare equal with ==
// and can be used directly as map keys.
type BlockId struct {
	File        string
	BlockNumber int
}

func NewBlockId(filename string, blockNumber int) BlockId {
	return BlockId{
		File:        filename,
		BlockNumber: blockNumber,
	}
}

func (b BlockId) Filename() string {
	return b.File
}

func (b BlockId) Number() int {
	return b.BlockNumber
}

func (b BlockId) String() string {
	return fmt.Sprintf("[file %s, block %d]", b.File, b.BlockNumber)
}
