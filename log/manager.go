package log

import (
	"errors"
	"fmt"
	"sync"

	"pagepool/file"
)

var ErrRecordTooLarge = errors.New("log record does not fit in a block")

// Manager appends records to the write-ahead log and forces them to disk on demand.
// Records are packed into the current log block from the end towards the start; the first int of
// the block holds the boundary (offset of the most recently written record), which makes reading
// the records back in reverse order cheap. The Manager is thread-safe.
type Manager struct {
	store        file.BlockStore
	logFile      string
	logPage      *file.Page
	currentBlock file.BlockId
	latestLSN    int
	lastSavedLSN int
	mu           sync.Mutex
}

func NewManager(store file.BlockStore, logFile string) (*Manager, error) {
	logPage := file.NewPage(store.BlockSize())

	logSize, err := store.Length(logFile)
	if err != nil {
		return nil, fmt.Errorf("failed to get log file length: %w", err)
	}

	var currentBlock file.BlockId
	if logSize == 0 {
		currentBlock, err = appendNewBlock(store, logFile, logPage)
		if err != nil {
			return nil, err
		}
	} else {
		currentBlock = file.NewBlockId(logFile, logSize-1)
		if err := store.Read(currentBlock, logPage); err != nil {
			return nil, fmt.Errorf("failed to read log page: %w", err)
		}
	}

	return &Manager{
		store:        store,
		logFile:      logFile,
		logPage:      logPage,
		currentBlock: currentBlock,
	}, nil
}

// Flush makes sure the record with the given lsn, and every record before it, is on disk.
func (m *Manager) Flush(lsn int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if lsn >= m.lastSavedLSN {
		return m.flush()
	}
	return nil
}

// Iterator flushes the log and returns an iterator positioned at the most recent record.
func (m *Manager) Iterator() (*Iterator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.flush(); err != nil {
		return nil, err
	}
	return NewIterator(m.store, m.currentBlock)
}

// Append adds a record to the log and returns its LSN. The record is only guaranteed to be on
// disk after a Flush with that LSN.
func (m *Manager) Append(record []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bytesNeeded := len(record) + file.IntBytes
	if bytesNeeded+file.IntBytes > m.store.BlockSize() {
		return 0, fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, len(record))
	}

	boundary := m.logPage.GetInt(0)
	if boundary-bytesNeeded < file.IntBytes {
		if err := m.flush(); err != nil {
			return 0, err
		}
		block, err := appendNewBlock(m.store, m.logFile, m.logPage)
		if err != nil {
			return 0, err
		}
		m.currentBlock = block
		boundary = m.logPage.GetInt(0)
	}

	recordPosition := boundary - bytesNeeded
	m.logPage.SetBytes(recordPosition, record)
	m.logPage.SetInt(0, recordPosition)

	m.latestLSN++
	return m.latestLSN, nil
}

// LatestLSN returns the LSN handed out by the most recent Append.
func (m *Manager) LatestLSN() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.latestLSN
}

func appendNewBlock(store file.BlockStore, logFile string, logPage *file.Page) (file.BlockId, error) {
	block, err := store.Append(logFile)
	if err != nil {
		return file.BlockId{}, fmt.Errorf("failed to append log block: %w", err)
	}
	logPage.Zero()
	logPage.SetInt(0, store.BlockSize())

	if err := store.Write(block, logPage); err != nil {
		return file.BlockId{}, fmt.Errorf("failed to write log block %s: %w", block, err)
	}
	return block, nil
}

// flush writes the log page to disk; callers hold m.mu.
func (m *Manager) flush() error {
	if err := m.store.Write(m.currentBlock, m.logPage); err != nil {
		return fmt.Errorf("failed to write log page: %w", err)
	}
	m.lastSavedLSN = m.latestLSN
	return nil
}
