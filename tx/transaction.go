package tx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"unicode/utf8"

	"pagepool/buffer"
	"pagepool/file"
	"pagepool/log"
)

var ErrBlockNotPinned = errors.New("block not pinned by transaction")

var lastTxNum atomic.Int64

func nextTxNumber() int {
	return int(lastTxNum.Add(1))
}

// Transaction gives a client access to pages through the buffer pool. It keeps track of the blocks
// it has pinned, marks the buffers it changes as modified under its own number, and on Commit
// writes back exactly those buffers.
//
// A Transaction is used by one goroutine at a time. Isolation between transactions touching the
// same block is not provided.
type Transaction struct {
	bufferManager *buffer.Manager
	logManager    *log.Manager
	logger        *slog.Logger
	txNum         int
	myBuffers     *BufferList
	done          bool
}

// NewTransaction starts a transaction and writes its start record to the log.
func NewTransaction(bufferManager *buffer.Manager, logManager *log.Manager, logger *slog.Logger) (*Transaction, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tx := &Transaction{
		bufferManager: bufferManager,
		logManager:    logManager,
		txNum:         nextTxNumber(),
		myBuffers:     NewBufferList(bufferManager),
	}
	tx.logger = logger.With("txn", tx.txNum)

	if _, err := writeToLog(logManager, Start, tx.txNum); err != nil {
		return nil, err
	}
	return tx, nil
}

func (tx *Transaction) TxNum() int {
	return tx.txNum
}

// Commit writes back every buffer the transaction modified, forces a commit record to the log,
// and unpins everything the transaction still holds.
func (tx *Transaction) Commit() error {
	if tx.done {
		return fmt.Errorf("transaction %d already finished", tx.txNum)
	}
	if err := tx.bufferManager.FlushAll(tx.txNum); err != nil {
		return err
	}
	lsn, err := writeToLog(tx.logManager, Commit, tx.txNum)
	if err != nil {
		return err
	}
	if err := tx.logManager.Flush(lsn); err != nil {
		return fmt.Errorf("failed to flush commit record for txn %d: %w", tx.txNum, err)
	}
	tx.done = true
	tx.logger.Debug("transaction committed")
	return tx.myBuffers.UnpinAll()
}

// Release unpins every buffer without writing anything back. It is what a caller does after
// ErrPoolExhausted before retrying; modified buffers keep their dirty mark.
func (tx *Transaction) Release() error {
	tx.logger.Debug("releasing buffers", "pinned", tx.myBuffers.Len())
	return tx.myBuffers.UnpinAll()
}

// Pin pins block for this transaction.
func (tx *Transaction) Pin(block file.BlockId) error {
	return tx.myBuffers.Pin(block)
}

// PinWait pins block, waiting while the pool is exhausted until ctx is done.
func (tx *Transaction) PinWait(ctx context.Context, block file.BlockId) error {
	return tx.myBuffers.PinContext(ctx, block)
}

// PinNew appends a block to filename, formats it with fmtr and pins it.
func (tx *Transaction) PinNew(filename string, fmtr buffer.PageFormatter) (file.BlockId, error) {
	return tx.myBuffers.PinNew(filename, fmtr)
}

// Unpin releases one pin of block.
func (tx *Transaction) Unpin(block file.BlockId) error {
	return tx.myBuffers.Unpin(block)
}

func (tx *Transaction) buffer(block file.BlockId) (*buffer.Buffer, error) {
	buff := tx.myBuffers.GetBuffer(block)
	if buff == nil {
		return nil, fmt.Errorf("%w: txn %d, block %s", ErrBlockNotPinned, tx.txNum, block)
	}
	return buff, nil
}

// GetInt returns the int stored at offset of a pinned block.
func (tx *Transaction) GetInt(block file.BlockId, offset int) (int, error) {
	buff, err := tx.buffer(block)
	if err != nil {
		return 0, err
	}
	return buff.Contents().GetInt(offset), nil
}

// GetString returns the string stored at offset of a pinned block.
func (tx *Transaction) GetString(block file.BlockId, offset int) (string, error) {
	buff, err := tx.buffer(block)
	if err != nil {
		return "", err
	}
	return buff.Contents().GetString(offset)
}

// SetInt logs an UPDATE record, stores val at offset of a pinned block and marks the buffer modified
// by this transaction with the record's LSN, so the log reaches disk before the page does.
func (tx *Transaction) SetInt(block file.BlockId, offset int, val int) error {
	buff, err := tx.buffer(block)
	if err != nil {
		return err
	}
	lsn, err := logUpdate(tx.logManager, tx.txNum, block, offset)
	if err != nil {
		return err
	}
	buff.Contents().SetInt(offset, val)
	buff.SetModified(tx.txNum, lsn)
	return nil
}

// SetString is SetInt for strings.
func (tx *Transaction) SetString(block file.BlockId, offset int, val string) error {
	buff, err := tx.buffer(block)
	if err != nil {
		return err
	}
	if !utf8.ValidString(val) {
		return file.ErrInvalidUTF8
	}
	lsn, err := logUpdate(tx.logManager, tx.txNum, block, offset)
	if err != nil {
		return err
	}
	if err := buff.Contents().SetString(offset, val); err != nil {
		return err
	}
	buff.SetModified(tx.txNum, lsn)
	return nil
}

// AvailableBuffers returns the number of unpinned slots in the pool.
func (tx *Transaction) AvailableBuffers() int {
	return tx.bufferManager.Available()
}
