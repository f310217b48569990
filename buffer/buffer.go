package buffer

import (
	"fmt"
	"sync"

	"pagepool/file"
)

// LogFlusher forces the write-ahead log to disk up to a given LSN.
type LogFlusher interface {
	Flush(lsn int) error
}

/*
Buffer is one slot of the pool. It wraps a page and records which disk block the page holds, how many
times the slot is pinned and, when dirty, the transaction that modified it and the LSN of the log record
describing that modification.

Binding and pin state are owned by the Manager and only change under its lock. The modification mark
has its own mutex so a transaction may call SetModified on a buffer it holds pinned without taking the
pool lock.
*/
type Buffer struct {
	store    file.BlockStore
	logs     LogFlusher
	contents *file.Page
	slot     int
	block    file.BlockId
	bound    bool
	pins     int

	mu    sync.Mutex
	txNum int
	lsn   int
}

func newBuffer(store file.BlockStore, logs LogFlusher, slot int) *Buffer {
	return &Buffer{
		store:    store,
		logs:     logs,
		contents: file.NewPage(store.BlockSize()),
		slot:     slot,
		txNum:    -1,
		lsn:      -1,
	}
}

func (b *Buffer) Contents() *file.Page {
	return b.contents
}

// Block returns the block held by the buffer; ok is false when the slot is empty.
func (b *Buffer) Block() (block file.BlockId, ok bool) {
	return b.block, b.bound
}

// Slot returns the fixed index of the buffer in its pool.
func (b *Buffer) Slot() int {
	return b.slot
}

// SetModified marks the buffer dirty on behalf of txNum. A negative lsn means no log record was
// generated for the update, and the previously recorded LSN is kept.
func (b *Buffer) SetModified(txNum, lsn int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.txNum = txNum
	if lsn >= 0 {
		b.lsn = lsn
	}
}

// IsModifiedBy reports whether txNum holds the dirty mark on this buffer.
func (b *Buffer) IsModifiedBy(txNum int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.txNum >= 0 && b.txNum == txNum
}

// ModifyingTxn returns the transaction that dirtied the buffer, or -1 if it is clean.
func (b *Buffer) ModifyingTxn() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.txNum
}

func (b *Buffer) isPinned() bool {
	return b.pins > 0
}

// assignToBlock flushes the current contents if dirty and loads block into the page.
// If the read fails the slot is left empty, since its page no longer matches any block.
func (b *Buffer) assignToBlock(block file.BlockId) error {
	if b.isPinned() {
		return fmt.Errorf("%w: cannot rebind pinned slot %d", ErrInvalidState, b.slot)
	}
	if _, err := b.flush(); err != nil {
		return err
	}
	if b.bound && b.block == block {
		return nil
	}

	if err := b.store.Read(block, b.contents); err != nil {
		b.unbind()
		return fmt.Errorf("failed to read block %s into slot %d: %w", block, b.slot, err)
	}
	b.block = block
	b.bound = true
	return nil
}

// assignToNew flushes the current contents if dirty, appends a new block to filename, and formats
// the page for it. The formatted image is written through so the new block is durable and the slot
// starts out clean.
func (b *Buffer) assignToNew(filename string, fmtr PageFormatter) error {
	if b.isPinned() {
		return fmt.Errorf("%w: cannot rebind pinned slot %d", ErrInvalidState, b.slot)
	}
	if _, err := b.flush(); err != nil {
		return err
	}

	block, err := b.store.Append(filename)
	if err != nil {
		return fmt.Errorf("failed to append block to %s: %w", filename, err)
	}

	b.block = block
	b.bound = true
	b.contents.Zero()
	if fmtr != nil {
		fmtr.Format(b.contents)
	}
	if err := b.store.Write(block, b.contents); err != nil {
		b.unbind()
		return fmt.Errorf("failed to write formatted block %s: %w", block, err)
	}
	return nil
}

// unbind empties the slot and drops any modification mark; the page contents are discarded.
func (b *Buffer) unbind() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bound = false
	b.block = file.BlockId{}
	b.txNum = -1
	b.lsn = -1
}

// flush writes the page to its block if the buffer is dirty, forcing the log first.
// It reports whether anything was written.
func (b *Buffer) flush() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.txNum < 0 {
		return false, nil
	}
	if b.lsn >= 0 && b.logs != nil {
		if err := b.logs.Flush(b.lsn); err != nil {
			return false, fmt.Errorf("failed to flush log up to lsn %d for txn %d: %w", b.lsn, b.txNum, err)
		}
	}
	if err := b.store.Write(b.block, b.contents); err != nil {
		return false, fmt.Errorf("failed to write block %s from slot %d: %w", b.block, b.slot, err)
	}
	b.txNum = -1
	b.lsn = -1
	return true, nil
}

func (b *Buffer) pin() { b.pins++ }

func (b *Buffer) unpin() error {
	if b.pins == 0 {
		return fmt.Errorf("%w: slot %d is not pinned", ErrInvalidState, b.slot)
	}
	b.pins--
	return nil
}
