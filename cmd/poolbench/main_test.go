package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagepool/config"
	"pagepool/db"
)

func openBench(t *testing.T, numBuffers int, reg prometheus.Registerer) *db.DB {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.Storage.Dir = t.TempDir()
	cfg.Buffer.NumBuffers = numBuffers
	cfg.Buffer.PinTimeout = 20 * time.Millisecond
	d, err := db.Open(cfg, reg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestWorkload(t *testing.T) {
	d := openBench(t, 6, nil)
	w := workload{workers: 4, txnsPerWork: 20, blocksPerTxn: 2, fileBlocks: 8, seed: 7}

	res, err := w.run(context.Background(), d, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(80), res.Committed)
	assert.Equal(t, 6, d.BufferManager().Available(), "every pin is released")
}

func TestWorkloadCanceled(t *testing.T) {
	d := openBench(t, 2, nil)
	w := workload{workers: 2, txnsPerWork: 1000, blocksPerTxn: 1, fileBlocks: 4, seed: 1}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := w.run(ctx, d, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	d := openBench(t, 3, reg)
	prog := &progress{}
	prog.set(result{Committed: 5})

	srv := httptest.NewServer(newRouter(reg, d.BufferManager(), prog))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var stats struct {
		Pool struct {
			Size      int `json:"size"`
			Available int `json:"available"`
		} `json:"pool"`
		Result *result `json:"result"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 3, stats.Pool.Size)
	assert.Equal(t, 3, stats.Pool.Available)
	require.NotNil(t, stats.Result)
	assert.Equal(t, int64(5), stats.Result.Committed)

	metrics, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer metrics.Body.Close()
	body, err := io.ReadAll(metrics.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "pagepool_buffer_available 3")
}
