// Command poolbench runs a concurrent pin/modify/commit workload against a buffer pool and
// reports how often the pool ran out of slots.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"pagepool/config"
	"pagepool/db"
)

var (
	configPath   = flag.String("config", "", "path to a YAML config file")
	workers      = flag.Int("workers", 4, "number of concurrent workers")
	txns         = flag.Int("txns", 100, "transactions per worker")
	blocksPerTxn = flag.Int("blocks", 2, "blocks pinned by each transaction")
	fileBlocks   = flag.Int("file-blocks", 32, "blocks per worker file")
	seed         = flag.Uint64("seed", 1, "random seed")
	linger       = flag.Bool("linger", false, "keep serving /metrics and /stats after the workload finishes")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "poolbench:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	d, err := db.Open(cfg, reg, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	prog := &progress{}
	var srv *http.Server
	if cfg.Metrics.Addr != "" {
		srv = &http.Server{Addr: cfg.Metrics.Addr, Handler: newRouter(reg, d.BufferManager(), prog)}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server failed", "err", err)
			}
		}()
		logger.Info("serving metrics", "addr", cfg.Metrics.Addr)
	}

	w := workload{
		workers:      *workers,
		txnsPerWork:  *txns,
		blocksPerTxn: *blocksPerTxn,
		fileBlocks:   *fileBlocks,
		seed:         *seed,
	}
	start := time.Now()
	res, err := w.run(ctx, d, logger)
	prog.set(res)
	logger.Info("workload finished",
		"committed", res.Committed, "retries", res.Retries, "timeouts", res.Timeouts,
		"elapsed", time.Since(start))
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if srv != nil {
		if *linger {
			<-ctx.Done()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
	return nil
}
