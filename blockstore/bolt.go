package blockstore

import (
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"pagepool/file"
)

// BoltFileName is the database file a Bolt store creates inside its directory.
const BoltFileName = "blocks.bolt"

// Bolt stores each logical file as a bbolt bucket keyed by block number. The bucket sequence
// holds the file length.
type Bolt struct {
	db        *bolt.DB
	codec     codec
	blockSize int
}

var _ Store = (*Bolt)(nil)

func OpenBolt(dir string, blockSize int, compress bool) (*Bolt, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(filepath.Join(dir, BoltFileName), 0600, nil)
	if err != nil {
		return nil, err
	}
	return &Bolt{
		db:        db,
		codec:     codec{blockSize: blockSize, compress: compress},
		blockSize: blockSize,
	}, nil
}

func (s *Bolt) Read(block file.BlockId, page *file.Page) error {
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(block.Filename()))
		if b == nil {
			return s.codec.decode(nil, page)
		}
		return s.codec.decode(b.Get(numberKey(block.Number())), page)
	})
	if err != nil {
		return fmt.Errorf("cannot read block %s: %w", block, err)
	}
	return nil
}

func (s *Bolt) Write(block file.BlockId, page *file.Page) error {
	value, err := s.codec.encode(page)
	if err != nil {
		return fmt.Errorf("cannot write block %s: %w", block, err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(block.Filename()))
		if err != nil {
			return err
		}
		if err := b.Put(numberKey(block.Number()), value); err != nil {
			return err
		}
		if next := uint64(block.Number() + 1); next > b.Sequence() {
			return b.SetSequence(next)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("cannot write block %s: %w", block, err)
	}
	return nil
}

func (s *Bolt) Append(filename string) (file.BlockId, error) {
	value, err := s.codec.encode(file.NewPage(s.blockSize))
	if err != nil {
		return file.BlockId{}, err
	}

	var block file.BlockId
	err = s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(filename))
		if err != nil {
			return err
		}
		n := b.Sequence()
		block = file.NewBlockId(filename, int(n))
		if err := b.Put(numberKey(block.Number()), value); err != nil {
			return err
		}
		return b.SetSequence(n + 1)
	})
	if err != nil {
		return file.BlockId{}, fmt.Errorf("cannot append block to %s: %w", filename, err)
	}
	return block, nil
}

func (s *Bolt) Length(filename string) (int, error) {
	var length int
	err := s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket([]byte(filename)); b != nil {
			length = int(b.Sequence())
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("cannot get length of %s: %w", filename, err)
	}
	return length, nil
}

func (s *Bolt) BlockSize() int {
	return s.blockSize
}

func (s *Bolt) Close() error {
	return s.db.Close()
}
