package buffer

import (
	"errors"
	"sync"

	"pagepool/file"
)

var errDisk = errors.New("disk on fire")

// memStore is an in-memory file.BlockStore that records every write.
type memStore struct {
	mu        sync.Mutex
	blockSize int
	blocks    map[file.BlockId][]byte
	lengths   map[string]int
	writes    []file.BlockId
	reads     []file.BlockId
	failRead  error
	failWrite error
}

func newMemStore(blockSize int) *memStore {
	return &memStore{
		blockSize: blockSize,
		blocks:    make(map[file.BlockId][]byte),
		lengths:   make(map[string]int),
	}
}

func (s *memStore) Read(block file.BlockId, page *file.Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failRead != nil {
		return s.failRead
	}
	s.reads = append(s.reads, block)
	if b, ok := s.blocks[block]; ok {
		copy(page.Contents(), b)
	} else {
		page.Zero()
	}
	return nil
}

func (s *memStore) Write(block file.BlockId, page *file.Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failWrite != nil {
		return s.failWrite
	}
	s.writes = append(s.writes, block)
	s.blocks[block] = append([]byte(nil), page.Contents()...)
	if block.Number() >= s.lengths[block.Filename()] {
		s.lengths[block.Filename()] = block.Number() + 1
	}
	return nil
}

func (s *memStore) Append(filename string) (file.BlockId, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	block := file.NewBlockId(filename, s.lengths[filename])
	s.lengths[filename]++
	s.blocks[block] = make([]byte, s.blockSize)
	return block, nil
}

func (s *memStore) Length(filename string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lengths[filename], nil
}

func (s *memStore) BlockSize() int {
	return s.blockSize
}

func (s *memStore) written() []file.BlockId {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]file.BlockId(nil), s.writes...)
}

func (s *memStore) resetWrites() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writes = nil
}

func (s *memStore) contents(block file.BlockId) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]byte(nil), s.blocks[block]...)
}

func (s *memStore) setFailures(read, write error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failRead, s.failWrite = read, write
}

// logRecorder is a LogFlusher that remembers the LSNs it was asked to force.
type logRecorder struct {
	mu      sync.Mutex
	flushed []int
}

func (l *logRecorder) Flush(lsn int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.flushed = append(l.flushed, lsn)
	return nil
}
