// Package db wires a block store, the write-ahead log and the buffer pool together from a
// config.Config and hands out transactions.
package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"pagepool/blockstore"
	"pagepool/buffer"
	"pagepool/config"
	"pagepool/file"
	"pagepool/log"
	"pagepool/tx"
)

type DB struct {
	cfg           *config.Config
	store         blockstore.Store
	logManager    *log.Manager
	bufferManager *buffer.Manager
	logger        *slog.Logger
}

// Open builds the storage stack described by cfg. reg may be nil to skip metrics registration.
func Open(cfg *config.Config, reg prometheus.Registerer, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := blockstore.Open(blockstore.Options{
		Backend:   cfg.Storage.Backend,
		Dir:       cfg.Storage.Dir,
		BlockSize: cfg.Storage.BlockSize,
		Compress:  cfg.Storage.Compress,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	logManager, err := log.NewManager(store, cfg.Log.File)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("open log %s: %w", cfg.Log.File, err), store.Close())
	}

	strategy, err := buffer.NewReplacementStrategy(cfg.Buffer.Replacement)
	if err != nil {
		return nil, errors.Join(err, store.Close())
	}

	opts := []buffer.Option{
		buffer.WithReplacementStrategy(strategy),
		buffer.WithLogger(logger.With("component", "buffer")),
	}
	if reg != nil {
		opts = append(opts, buffer.WithMetrics(buffer.NewMetrics(reg)))
	}
	bufferManager, err := buffer.NewManager(store, logManager, cfg.Buffer.NumBuffers, opts...)
	if err != nil {
		return nil, errors.Join(err, store.Close())
	}

	logger.Info("database opened",
		"buffers", cfg.Buffer.NumBuffers, "replacement", cfg.Buffer.Replacement, "log", cfg.Log.File)
	return &DB{
		cfg:           cfg,
		store:         store,
		logManager:    logManager,
		bufferManager: bufferManager,
		logger:        logger,
	}, nil
}

// NewTx starts a transaction.
func (db *DB) NewTx() (*tx.Transaction, error) {
	return tx.NewTransaction(db.bufferManager, db.logManager, db.logger)
}

// WithPinTimeout derives a context bounded by the configured pin timeout, for use with
// Transaction.PinWait. A zero timeout means wait until ctx itself is done.
func (db *DB) WithPinTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if db.cfg.Buffer.PinTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, db.cfg.Buffer.PinTimeout)
}

func (db *DB) BufferManager() *buffer.Manager {
	return db.bufferManager
}

func (db *DB) LogManager() *log.Manager {
	return db.logManager
}

func (db *DB) Store() file.BlockStore {
	return db.store
}

// Close closes the block store. Dirty buffers are not flushed; committing is the caller's job.
func (db *DB) Close() error {
	return db.store.Close()
}
