package file

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Manager is the file-backed BlockStore. Each logical file is an os file inside dbDirectory and
// block n lives at offset n*blockSize. The Manager is thread-safe.
type Manager struct {
	dbDirectory   string
	blockSize     int
	isNew         bool
	mu            sync.Mutex
	openFiles     map[string]*os.File
	blocksRead    int
	blocksWritten int
}

func NewManager(dbDirectory string, blockSize int) (*Manager, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("invalid block size %d", blockSize)
	}

	isNew := false
	if _, err := os.Stat(dbDirectory); os.IsNotExist(err) {
		isNew = true
		if err := os.MkdirAll(dbDirectory, 0755); err != nil {
			return nil, fmt.Errorf("cannot create directory %s: %w", dbDirectory, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("cannot access directory %s: %w", dbDirectory, err)
	}

	entries, err := os.ReadDir(dbDirectory)
	if err != nil {
		return nil, fmt.Errorf("cannot read directory %s: %w", dbDirectory, err)
	}

	// temp files never survive a restart
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "temp") {
			continue
		}
		tempFilePath := filepath.Join(dbDirectory, entry.Name())
		if err := os.Remove(tempFilePath); err != nil {
			return nil, fmt.Errorf("cannot remove file %s: %w", tempFilePath, err)
		}
	}

	return &Manager{
		dbDirectory: dbDirectory,
		blockSize:   blockSize,
		isNew:       isNew,
		openFiles:   make(map[string]*os.File),
	}, nil
}

func (m *Manager) Read(block BlockId, page *Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := m.getFile(block.Filename())
	if err != nil {
		return fmt.Errorf("cannot read block %s: %w", block, err)
	}

	buf := page.Contents()
	offset := int64(block.Number()) * int64(m.blockSize)
	n, err := f.ReadAt(buf, offset)

	switch {
	case err == nil && n == len(buf):
		m.blocksRead++
		return nil
	case errors.Is(err, io.EOF) && n == 0:
		// block lies past the end of the file: it reads as zeroes
		clear(buf)
		m.blocksRead++
		return nil
	case errors.Is(err, io.EOF):
		return fmt.Errorf("partial read of block %s: expected %d bytes, got %d", block, len(buf), n)
	case err != nil:
		return fmt.Errorf("cannot read block %s: %w", block, err)
	}
	return fmt.Errorf("short read of block %s: expected %d bytes, got %d", block, len(buf), n)
}

func (m *Manager) Write(block BlockId, page *Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := m.getFile(block.Filename())
	if err != nil {
		return fmt.Errorf("cannot write block %s: %w", block, err)
	}

	buf := page.Contents()
	offset := int64(block.Number()) * int64(m.blockSize)
	n, err := f.WriteAt(buf, offset)
	if err != nil {
		if n != len(buf) {
			return fmt.Errorf("short write of block %s: expected %d bytes, wrote %d: %w", block, len(buf), n, err)
		}
		return fmt.Errorf("cannot write block %s: %w", block, err)
	}

	if err := f.Sync(); err != nil {
		return fmt.Errorf("cannot flush file %s to disk: %w", block.Filename(), err)
	}
	m.blocksWritten++
	return nil
}

// Append appends a new zeroed block to the file and returns its BlockId.
func (m *Manager) Append(filename string) (BlockId, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	newBlockNumber, err := m.length(filename)
	if err != nil {
		return BlockId{}, fmt.Errorf("cannot get length of %s: %w", filename, err)
	}
	block := NewBlockId(filename, newBlockNumber)

	f, err := m.getFile(filename)
	if err != nil {
		return BlockId{}, fmt.Errorf("cannot append block %s: %w", block, err)
	}

	b := make([]byte, m.blockSize)
	offset := int64(block.Number()) * int64(m.blockSize)
	n, err := f.WriteAt(b, offset)
	if err != nil {
		return BlockId{}, fmt.Errorf("cannot append block %s: %w", block, err)
	}
	if n != len(b) {
		return BlockId{}, fmt.Errorf("short write: expected %d bytes, wrote %d", len(b), n)
	}

	if err := f.Sync(); err != nil {
		return BlockId{}, fmt.Errorf("cannot sync file %s: %w", filename, err)
	}
	m.blocksWritten++
	return block, nil
}

// Length returns the number of blocks in the specified file.
func (m *Manager) Length(filename string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.length(filename)
}

// length is Length without locking; callers hold m.mu.
func (m *Manager) length(filename string) (int, error) {
	f, err := m.getFile(filename)
	if err != nil {
		return 0, fmt.Errorf("cannot access %s: %w", filename, err)
	}
	fileInfo, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("cannot stat %s: %w", filename, err)
	}
	return int(fileInfo.Size() / int64(m.blockSize)), nil
}

func (m *Manager) getFile(filename string) (*os.File, error) {
	if f, ok := m.openFiles[filename]; ok {
		return f, nil
	}

	path := filepath.Join(m.dbDirectory, filename)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_SYNC, 0666)
	if err != nil {
		return nil, fmt.Errorf("cannot open file %s: %w", path, err)
	}
	m.openFiles[filename] = f
	return f, nil
}

// Close closes every open file. The Manager must not be used afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for name, f := range m.openFiles {
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("cannot close %s: %w", name, err))
		}
		delete(m.openFiles, name)
	}
	return errors.Join(errs...)
}

// IsNew returns true if the database directory was created by this Manager.
func (m *Manager) IsNew() bool {
	return m.isNew
}

func (m *Manager) BlockSize() int {
	return m.blockSize
}

func (m *Manager) BlocksRead() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.blocksRead
}

func (m *Manager) BlocksWritten() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.blocksWritten
}
