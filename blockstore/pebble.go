package blockstore

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"pagepool/file"
)

// Pebble stores blocks in a pebble LSM tree using the same key layout as Badger.
type Pebble struct {
	db        *pebble.DB
	codec     codec
	blockSize int
	mu        sync.Mutex // guards read-modify-write of length keys
}

var _ Store = (*Pebble)(nil)

func OpenPebble(dir string, blockSize int, compress bool) (*Pebble, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &Pebble{
		db:        db,
		codec:     codec{blockSize: blockSize, compress: compress},
		blockSize: blockSize,
	}, nil
}

func (s *Pebble) get(key []byte) ([]byte, error) {
	value, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), value...), nil
}

func (s *Pebble) Read(block file.BlockId, page *file.Page) error {
	value, err := s.get(blockKey(block))
	if err == nil {
		err = s.codec.decode(value, page)
	}
	if err != nil {
		return fmt.Errorf("cannot read block %s: %w", block, err)
	}
	return nil
}

func (s *Pebble) Write(block file.BlockId, page *file.Page) error {
	value, err := s.codec.encode(page)
	if err != nil {
		return fmt.Errorf("cannot write block %s: %w", block, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	length, err := s.length(block.Filename())
	if err != nil {
		return fmt.Errorf("cannot write block %s: %w", block, err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(blockKey(block), value, nil); err != nil {
		return fmt.Errorf("cannot write block %s: %w", block, err)
	}
	if block.Number() >= length {
		if err := batch.Set(lengthKey(block.Filename()), encodeLength(block.Number()+1), nil); err != nil {
			return fmt.Errorf("cannot write block %s: %w", block, err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("cannot write block %s: %w", block, err)
	}
	return nil
}

func (s *Pebble) Append(filename string) (file.BlockId, error) {
	value, err := s.codec.encode(file.NewPage(s.blockSize))
	if err != nil {
		return file.BlockId{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	length, err := s.length(filename)
	if err != nil {
		return file.BlockId{}, fmt.Errorf("cannot append block to %s: %w", filename, err)
	}
	block := file.NewBlockId(filename, length)

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(blockKey(block), value, nil); err != nil {
		return file.BlockId{}, fmt.Errorf("cannot append block %s: %w", block, err)
	}
	if err := batch.Set(lengthKey(filename), encodeLength(length+1), nil); err != nil {
		return file.BlockId{}, fmt.Errorf("cannot append block %s: %w", block, err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return file.BlockId{}, fmt.Errorf("cannot append block %s: %w", block, err)
	}
	return block, nil
}

func (s *Pebble) Length(filename string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	length, err := s.length(filename)
	if err != nil {
		return 0, fmt.Errorf("cannot get length of %s: %w", filename, err)
	}
	return length, nil
}

// length reads the length key; callers hold s.mu.
func (s *Pebble) length(filename string) (int, error) {
	value, err := s.get(lengthKey(filename))
	if err != nil || value == nil {
		return 0, err
	}
	return decodeLength(value)
}

func (s *Pebble) BlockSize() int {
	return s.blockSize
}

func (s *Pebble) Close() error {
	return s.db.Close()
}
