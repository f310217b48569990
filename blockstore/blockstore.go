// Package blockstore provides file.BlockStore implementations on top of embedded key-value engines,
// and a factory that opens any supported backend by name.
package blockstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"pagepool/file"
)

const (
	BackendFile   = "file"
	BackendBadger = "badger"
	BackendPebble = "pebble"
	BackendBolt   = "bolt"
)

var ErrUnknownBackend = errors.New("unknown block store backend")

// Store is a BlockStore that holds resources until closed.
type Store interface {
	file.BlockStore
	io.Closer
}

type Options struct {
	Backend   string
	Dir       string
	BlockSize int
	// Compress stores pages zstd-compressed. Ignored by the file backend, whose blocks live at
	// fixed offsets.
	Compress bool
	Logger   *slog.Logger
}

// Open opens the backend named by opts.Backend rooted at opts.Dir.
func Open(opts Options) (Store, error) {
	if opts.BlockSize <= 0 {
		return nil, fmt.Errorf("invalid block size %d", opts.BlockSize)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	var (
		store Store
		err   error
	)
	switch opts.Backend {
	case BackendFile, "":
		store, err = file.NewManager(opts.Dir, opts.BlockSize)
	case BackendBadger:
		store, err = OpenBadger(opts.Dir, opts.BlockSize, opts.Compress, opts.Logger)
	case BackendPebble:
		store, err = OpenPebble(opts.Dir, opts.BlockSize, opts.Compress)
	case BackendBolt:
		store, err = OpenBolt(opts.Dir, opts.BlockSize, opts.Compress)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s block store in %s: %w", opts.Backend, opts.Dir, err)
	}
	opts.Logger.Info("block store opened", "backend", opts.Backend, "dir", opts.Dir,
		"block_size", opts.BlockSize, "compress", opts.Compress)
	return store, nil
}

// Keys for the flat KV backends. Block keys sort by file and then by block number.
const (
	blockPrefix  = 'b'
	lengthPrefix = 'l'
)

func blockKey(block file.BlockId) []byte {
	key := make([]byte, 0, 1+len(block.Filename())+1+8)
	key = append(key, blockPrefix)
	key = append(key, block.Filename()...)
	key = append(key, 0)
	return binary.BigEndian.AppendUint64(key, uint64(block.Number()))
}

func lengthKey(filename string) []byte {
	return append([]byte{lengthPrefix}, filename...)
}

func numberKey(n int) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(n))
}

func encodeLength(n int) []byte {
	return numberKey(n)
}

func decodeLength(b []byte) (int, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("corrupt length record of %d bytes", len(b))
	}
	return int(binary.BigEndian.Uint64(b)), nil
}
