package log

import (
	"errors"
	"fmt"

	"pagepool/file"
)

var ErrNoMoreRecords = errors.New("no more log records")

// Iterator walks the log records from the most recent to the oldest.
type Iterator struct {
	store           file.BlockStore
	block           file.BlockId
	page            *file.Page
	currentPosition int
}

// NewIterator returns an iterator positioned at the latest record of block.
func NewIterator(store file.BlockStore, block file.BlockId) (*Iterator, error) {
	it := &Iterator{
		store: store,
		page:  file.NewPage(store.BlockSize()),
	}
	if err := it.moveToBlock(block); err != nil {
		return nil, err
	}
	return it, nil
}

// HasNext reports whether there is an earlier record.
func (it *Iterator) HasNext() bool {
	return it.currentPosition < it.store.BlockSize() || it.block.Number() > 0
}

// Next returns the next earlier record, moving to the previous block when the current one is exhausted.
func (it *Iterator) Next() ([]byte, error) {
	if it.currentPosition == it.store.BlockSize() {
		if it.block.Number() == 0 {
			return nil, ErrNoMoreRecords
		}
		if err := it.moveToBlock(file.NewBlockId(it.block.Filename(), it.block.Number()-1)); err != nil {
			return nil, err
		}
	}
	record := it.page.GetBytes(it.currentPosition)
	it.currentPosition += file.IntBytes + len(record)
	return record, nil
}

func (it *Iterator) moveToBlock(block file.BlockId) error {
	if err := it.store.Read(block, it.page); err != nil {
		return fmt.Errorf("failed to read log block %s: %w", block, err)
	}
	it.block = block
	it.currentPosition = it.page.GetInt(0)
	return nil
}
