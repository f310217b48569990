package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/exp/rand"

	"pagepool/buffer"
	"pagepool/db"
	"pagepool/file"
	"pagepool/tx"
)

type workload struct {
	workers      int
	txnsPerWork  int
	blocksPerTxn int
	fileBlocks   int
	seed         uint64
}

type result struct {
	Committed int64 `json:"committed"`
	Retries   int64 `json:"retries"`
	Timeouts  int64 `json:"timeouts"`
}

// run starts w.workers goroutines, each touching its own file. A transaction that cannot get a slot
// within the pin timeout releases what it holds and starts over.
func (w workload) run(ctx context.Context, d *db.DB, logger *slog.Logger) (result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var (
		res      result
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(w.seed + uint64(id)))
			filename := fmt.Sprintf("bench-%d.tbl", id)
			if err := w.worker(ctx, d, r, filename, &res); err != nil {
				logger.Error("worker failed", "worker", id, "err", err)
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	return res, firstErr
}

func (w workload) worker(ctx context.Context, d *db.DB, r *rand.Rand, filename string, res *result) error {
	for n := 0; n < w.txnsPerWork; {
		if err := ctx.Err(); err != nil {
			return err
		}
		txn, err := d.NewTx()
		if err != nil {
			return err
		}
		err = w.transact(ctx, d, txn, r, filename)
		switch {
		case err == nil:
			if err := txn.Commit(); err != nil {
				return err
			}
			atomic.AddInt64(&res.Committed, 1)
			n++
		case errors.Is(err, buffer.ErrPoolExhausted) && ctx.Err() == nil:
			atomic.AddInt64(&res.Retries, 1)
			if errors.Is(err, context.DeadlineExceeded) {
				atomic.AddInt64(&res.Timeouts, 1)
			}
			if err := txn.Release(); err != nil {
				return err
			}
		default:
			return errors.Join(err, txn.Release())
		}
	}
	return nil
}

func (w workload) transact(ctx context.Context, d *db.DB, txn *tx.Transaction, r *rand.Rand, filename string) error {
	for i := 0; i < w.blocksPerTxn; i++ {
		block := file.NewBlockId(filename, r.Intn(w.fileBlocks))
		pinCtx, cancel := d.WithPinTimeout(ctx)
		err := txn.PinWait(pinCtx, block)
		cancel()
		if err != nil {
			return err
		}

		offset := r.Intn(d.Store().BlockSize()/file.IntBytes) * file.IntBytes
		v, err := txn.GetInt(block, offset)
		if err != nil {
			return err
		}
		if err := txn.SetInt(block, offset, v+1); err != nil {
			return err
		}
	}
	return nil
}
