package blockstore

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"pagepool/file"
)

// Badger stores blocks in a badger LSM tree, one key per block plus one length key per file.
type Badger struct {
	db        *badger.DB
	codec     codec
	blockSize int
	mu        sync.Mutex // serializes writers so length updates never conflict
}

var _ Store = (*Badger)(nil)

func OpenBadger(dir string, blockSize int, compress bool, logger *slog.Logger) (*Badger, error) {
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{logger})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Badger{
		db:        db,
		codec:     codec{blockSize: blockSize, compress: compress},
		blockSize: blockSize,
	}, nil
}

func (s *Badger) Read(block file.BlockId, page *file.Page) error {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blockKey(block))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return s.codec.decode(nil, page)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return s.codec.decode(val, page)
		})
	})
	if err != nil {
		return fmt.Errorf("cannot read block %s: %w", block, err)
	}
	return nil
}

func (s *Badger) Write(block file.BlockId, page *file.Page) error {
	value, err := s.codec.encode(page)
	if err != nil {
		return fmt.Errorf("cannot write block %s: %w", block, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(blockKey(block), value); err != nil {
			return err
		}
		length, err := badgerLength(txn, block.Filename())
		if err != nil {
			return err
		}
		if block.Number() >= length {
			return txn.Set(lengthKey(block.Filename()), encodeLength(block.Number()+1))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("cannot write block %s: %w", block, err)
	}
	return nil
}

func (s *Badger) Append(filename string) (file.BlockId, error) {
	value, err := s.codec.encode(file.NewPage(s.blockSize))
	if err != nil {
		return file.BlockId{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var block file.BlockId
	err = s.db.Update(func(txn *badger.Txn) error {
		length, err := badgerLength(txn, filename)
		if err != nil {
			return err
		}
		block = file.NewBlockId(filename, length)
		if err := txn.Set(blockKey(block), value); err != nil {
			return err
		}
		return txn.Set(lengthKey(filename), encodeLength(length+1))
	})
	if err != nil {
		return file.BlockId{}, fmt.Errorf("cannot append block to %s: %w", filename, err)
	}
	return block, nil
}

func (s *Badger) Length(filename string) (int, error) {
	var length int
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		length, err = badgerLength(txn, filename)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("cannot get length of %s: %w", filename, err)
	}
	return length, nil
}

func (s *Badger) BlockSize() int {
	return s.blockSize
}

func (s *Badger) Close() error {
	return s.db.Close()
}

func badgerLength(txn *badger.Txn, filename string) (int, error) {
	item, err := txn.Get(lengthKey(filename))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var length int
	err = item.Value(func(val []byte) error {
		length, err = decodeLength(val)
		return err
	})
	return length, err
}

// badgerLogger routes badger's printf-style logging into slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}
