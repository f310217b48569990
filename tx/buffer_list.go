package tx

import (
	"context"
	"errors"
	"fmt"

	"pagepool/buffer"
	"pagepool/file"
)

// pinnedBuffer tracks the underlying buffer and how many times this transaction pinned it.
type pinnedBuffer struct {
	buffer   *buffer.Buffer
	refCount int
}

// BufferList manages a transaction's pinned buffers. However often the transaction pins a block,
// the buffer manager sees a single pin for it.
type BufferList struct {
	buffers       map[file.BlockId]*pinnedBuffer
	bufferManager *buffer.Manager
}

func NewBufferList(bufferManager *buffer.Manager) *BufferList {
	return &BufferList{
		buffers:       make(map[file.BlockId]*pinnedBuffer),
		bufferManager: bufferManager,
	}
}

// GetBuffer returns the buffer pinned to block, or nil if the transaction has not pinned it.
func (bl *BufferList) GetBuffer(block file.BlockId) *buffer.Buffer {
	pinnedBuf, ok := bl.buffers[block]
	if !ok {
		return nil
	}
	return pinnedBuf.buffer
}

// Pin pins block, asking the buffer manager only for the first pin.
func (bl *BufferList) Pin(block file.BlockId) error {
	return bl.pin(block, bl.bufferManager.Pin)
}

// PinContext is Pin, waiting for a free slot until ctx is done when the pool is exhausted.
func (bl *BufferList) PinContext(ctx context.Context, block file.BlockId) error {
	return bl.pin(block, func(block file.BlockId) (*buffer.Buffer, error) {
		return bl.bufferManager.PinContext(ctx, block)
	})
}

func (bl *BufferList) pin(block file.BlockId, pinFn func(file.BlockId) (*buffer.Buffer, error)) error {
	if pinnedBuf, ok := bl.buffers[block]; ok {
		pinnedBuf.refCount++
		return nil
	}

	buff, err := pinFn(block)
	if err != nil {
		return err
	}
	bl.buffers[block] = &pinnedBuffer{buffer: buff, refCount: 1}
	return nil
}

// PinNew appends a formatted block to filename and pins it.
func (bl *BufferList) PinNew(filename string, fmtr buffer.PageFormatter) (file.BlockId, error) {
	buff, err := bl.bufferManager.PinNew(filename, fmtr)
	if err != nil {
		return file.BlockId{}, err
	}
	block, _ := buff.Block()
	bl.buffers[block] = &pinnedBuffer{buffer: buff, refCount: 1}
	return block, nil
}

// Unpin drops one reference to block and releases the buffer when the last one is gone.
func (bl *BufferList) Unpin(block file.BlockId) error {
	pinnedBuf, ok := bl.buffers[block]
	if !ok {
		return fmt.Errorf("%w: %s", ErrBlockNotPinned, block)
	}
	pinnedBuf.refCount--
	if pinnedBuf.refCount > 0 {
		return nil
	}
	delete(bl.buffers, block)
	return bl.bufferManager.Unpin(pinnedBuf.buffer)
}

// UnpinAll releases every buffer held by the transaction.
func (bl *BufferList) UnpinAll() error {
	var errs []error
	for block, pinnedBuf := range bl.buffers {
		if err := bl.bufferManager.Unpin(pinnedBuf.buffer); err != nil {
			errs = append(errs, fmt.Errorf("unpin %s: %w", block, err))
		}
	}
	clear(bl.buffers)
	return errors.Join(errs...)
}

// Len returns the number of distinct blocks pinned.
func (bl *BufferList) Len() int {
	return len(bl.buffers)
}
