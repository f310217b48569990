package buffer

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"pagepool/file"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	store *memStore
	logs  *logRecorder
	bm    *Manager
}

func setupTest(t *testing.T, numBuffers int, opts ...Option) *testEnv {
	t.Helper()
	store := newMemStore(128)
	logs := &logRecorder{}
	bm, err := NewManager(store, logs, numBuffers, opts...)
	require.NoError(t, err)
	return &testEnv{store: store, logs: logs, bm: bm}
}

func blk(n int) file.BlockId {
	return file.NewBlockId("testfile", n)
}

// checkInvariants verifies that Available matches the slots with no pins and that no block
// is resident in two slots.
func checkInvariants(t *testing.T, bm *Manager) {
	t.Helper()
	snap := bm.Snapshot()
	unpinned := 0
	seen := make(map[file.BlockId]int)
	for _, slot := range snap.Slots {
		if slot.Pins == 0 {
			unpinned++
		}
		if !slot.Bound {
			continue
		}
		if other, dup := seen[slot.Block]; dup {
			t.Fatalf("block %s resident in slots %d and %d", slot.Block, other, slot.Slot)
		}
		seen[slot.Block] = slot.Slot
	}
	assert.Equal(t, unpinned, snap.Available, "available must equal the number of unpinned slots")
	assert.Equal(t, unpinned, bm.Available())
}

func TestNewManager(t *testing.T) {
	_, err := NewManager(newMemStore(64), nil, 0)
	assert.Error(t, err)

	bm, err := NewManagerWithReplacementStrategy(newMemStore(64), nil, 4, NewNaiveStrategy())
	require.NoError(t, err)
	assert.Equal(t, 4, bm.Size())
	assert.Equal(t, 4, bm.Available())
}

func TestBufferManager(t *testing.T) {
	t.Run("pin and unpin", func(t *testing.T) {
		env := setupTest(t, 3)

		buff, err := env.bm.Pin(blk(1))
		require.NoError(t, err)
		got, ok := buff.Block()
		require.True(t, ok)
		assert.Equal(t, blk(1), got)
		assert.Equal(t, 2, env.bm.Available())

		require.NoError(t, env.bm.Unpin(buff))
		assert.Equal(t, 3, env.bm.Available())
		checkInvariants(t, env.bm)
	})

	t.Run("exhaustion and reuse of the unpinned slot", func(t *testing.T) {
		env := setupTest(t, 3)

		a, err := env.bm.Pin(blk(0))
		require.NoError(t, err)
		_, err = env.bm.Pin(blk(1))
		require.NoError(t, err)
		_, err = env.bm.Pin(blk(2))
		require.NoError(t, err)
		assert.Equal(t, 0, env.bm.Available())

		d, err := env.bm.Pin(blk(3))
		assert.ErrorIs(t, err, ErrPoolExhausted)
		assert.Nil(t, d)
		checkInvariants(t, env.bm)

		a.Contents().SetInt(0, 42)
		a.SetModified(1, -1)
		require.NoError(t, env.bm.Unpin(a))

		d, err = env.bm.Pin(blk(3))
		require.NoError(t, err)
		assert.Same(t, a, d, "D should reuse A's slot")
		got, _ := d.Block()
		assert.Equal(t, blk(3), got)
		assert.Equal(t, 0, d.Contents().GetInt(0), "slot content should now be block D's")
		assert.Equal(t, 42, file.NewPageFromBytes(env.store.contents(blk(0))).GetInt(0), "A was written back")
		checkInvariants(t, env.bm)
	})

	t.Run("shared pin of a resident block", func(t *testing.T) {
		env := setupTest(t, 2)

		first, err := env.bm.Pin(blk(7))
		require.NoError(t, err)
		second, err := env.bm.Pin(blk(7))
		require.NoError(t, err)
		assert.Same(t, first, second)
		assert.Equal(t, 1, env.bm.Available(), "second pin must not consume another slot")

		require.NoError(t, env.bm.Unpin(first))
		assert.True(t, second.isPinned(), "one unpin should leave the slot pinned")
		assert.Equal(t, 1, env.bm.Available())

		require.NoError(t, env.bm.Unpin(second))
		assert.Equal(t, 2, env.bm.Available())
	})

	t.Run("unpinned block stays resident", func(t *testing.T) {
		env := setupTest(t, 2)

		buff, err := env.bm.Pin(blk(1))
		require.NoError(t, err)
		require.NoError(t, env.bm.Unpin(buff))

		again, err := env.bm.Pin(blk(1))
		require.NoError(t, err)
		assert.Same(t, buff, again)
		assert.Len(t, env.store.reads, 1, "a hit must not reread the block")
	})

	t.Run("fresh slots are used in ascending order", func(t *testing.T) {
		env := setupTest(t, 5)

		var slots []int
		for i := 0; i < 5; i++ {
			var (
				buff *Buffer
				err  error
			)
			if i%2 == 0 {
				buff, err = env.bm.Pin(blk(i))
			} else {
				buff, err = env.bm.PinNew("newfile", nil)
			}
			require.NoError(t, err)
			slots = append(slots, buff.Slot())
			require.NoError(t, env.bm.Unpin(buff))
		}
		assert.Equal(t, []int{0, 1, 2, 3, 4}, slots)
	})

	t.Run("fresh set is not replenished by unpin", func(t *testing.T) {
		strategy := NewFreshSlotStrategy()
		env := setupTest(t, 3, WithReplacementStrategy(strategy))

		var pinned []*Buffer
		for i := 0; i < 3; i++ {
			buff, err := env.bm.Pin(blk(i))
			require.NoError(t, err)
			pinned = append(pinned, buff)
		}
		for _, buff := range pinned {
			require.NoError(t, env.bm.Unpin(buff))
		}
		assert.Equal(t, 0, strategy.freshRemaining())

		// with the fresh set empty the fallback scan picks slot 0 first
		buff, err := env.bm.Pin(blk(10))
		require.NoError(t, err)
		assert.Equal(t, 0, buff.Slot())
	})

	t.Run("unpin contract violations", func(t *testing.T) {
		env := setupTest(t, 2)

		buff, err := env.bm.Pin(blk(1))
		require.NoError(t, err)
		require.NoError(t, env.bm.Unpin(buff))
		assert.ErrorIs(t, env.bm.Unpin(buff), ErrInvalidState)
		assert.Equal(t, 2, env.bm.Available(), "failed unpin must not touch the count")

		other := setupTest(t, 2)
		foreign, err := other.bm.Pin(blk(1))
		require.NoError(t, err)
		assert.ErrorIs(t, env.bm.Unpin(foreign), ErrInvalidState)
		assert.ErrorIs(t, env.bm.Unpin(nil), ErrInvalidState)
	})
}

func TestPinNew(t *testing.T) {
	t.Run("round trip through flush", func(t *testing.T) {
		env := setupTest(t, 2)

		fmtr := FormatterFunc(func(p *file.Page) {
			for off := 0; off+file.IntBytes <= p.Size(); off += file.IntBytes {
				p.SetInt(off, off)
			}
		})
		buff, err := env.bm.PinNew("newfile", fmtr)
		require.NoError(t, err)

		block, ok := buff.Block()
		require.True(t, ok)
		assert.Equal(t, file.NewBlockId("newfile", 0), block)

		_, err = buff.flush()
		require.NoError(t, err)

		expected := file.NewPage(128)
		fmtr.Format(expected)
		assert.Equal(t, expected.Contents(), env.store.contents(block))
		assert.Equal(t, 1, env.bm.Available())
	})

	t.Run("exhausted pool does not allocate a block", func(t *testing.T) {
		env := setupTest(t, 1)

		_, err := env.bm.Pin(blk(0))
		require.NoError(t, err)

		buff, err := env.bm.PinNew("newfile", nil)
		assert.ErrorIs(t, err, ErrPoolExhausted)
		assert.Nil(t, buff)

		length, err := env.store.Length("newfile")
		require.NoError(t, err)
		assert.Equal(t, 0, length)
	})

	t.Run("new blocks can be pinned again by id", func(t *testing.T) {
		env := setupTest(t, 2)

		buff, err := env.bm.PinNew("newfile", FormatterFunc(func(p *file.Page) { p.SetInt(0, 5) }))
		require.NoError(t, err)
		block, _ := buff.Block()

		again, err := env.bm.Pin(block)
		require.NoError(t, err)
		assert.Same(t, buff, again)
		assert.Equal(t, 5, again.Contents().GetInt(0))
		checkInvariants(t, env.bm)
	})
}

func TestPinNewOverBlockPinnedPastEnd(t *testing.T) {
	t.Run("unpinned stale copy is dropped", func(t *testing.T) {
		env := setupTest(t, 3)

		// block 0 is read before the file has any blocks, so Append hands it out again
		early, err := env.bm.Pin(blk(0))
		require.NoError(t, err)
		require.NoError(t, env.bm.Unpin(early))

		buff, err := env.bm.PinNew("testfile", nil)
		require.NoError(t, err)
		block, _ := buff.Block()
		require.Equal(t, blk(0), block)
		assert.NotEqual(t, early.Slot(), buff.Slot())
		checkInvariants(t, env.bm)

		buff.Contents().SetInt(0, 99)
		buff.SetModified(1, -1)

		// fill the pool so the slot that first held block 0 is reused
		_, err = env.bm.Pin(blk(5))
		require.NoError(t, err)
		_, err = env.bm.Pin(blk(6))
		require.NoError(t, err)
		checkInvariants(t, env.bm)

		again, err := env.bm.Pin(blk(0))
		require.NoError(t, err)
		assert.Same(t, buff, again, "pinning the appended block shares the PinNew buffer")
		assert.Equal(t, 99, again.Contents().GetInt(0))
		checkInvariants(t, env.bm)
	})

	t.Run("pinned copy is an invalid state", func(t *testing.T) {
		env := setupTest(t, 3)

		held, err := env.bm.Pin(blk(0))
		require.NoError(t, err)

		buff, err := env.bm.PinNew("testfile", nil)
		assert.ErrorIs(t, err, ErrInvalidState)
		assert.Nil(t, buff)
		assert.Equal(t, 2, env.bm.Available())
		checkInvariants(t, env.bm)

		again, err := env.bm.Pin(blk(0))
		require.NoError(t, err)
		assert.Same(t, held, again)
	})
}

func TestFlushAll(t *testing.T) {
	env := setupTest(t, 4)

	var buffers []*Buffer
	for i := 0; i < 4; i++ {
		buff, err := env.bm.Pin(blk(i))
		require.NoError(t, err)
		buffers = append(buffers, buff)
	}
	buffers[0].SetModified(1, 3)
	buffers[1].SetModified(2, 4)
	buffers[2].SetModified(1, -1)
	env.store.resetWrites()

	require.NoError(t, env.bm.FlushAll(1))
	assert.ElementsMatch(t, []file.BlockId{blk(0), blk(2)}, env.store.written())
	assert.False(t, buffers[0].IsModifiedBy(1))
	assert.False(t, buffers[2].IsModifiedBy(1))
	assert.True(t, buffers[1].IsModifiedBy(2), "other transactions' buffers stay dirty")

	env.store.resetWrites()
	require.NoError(t, env.bm.FlushAll(1))
	assert.Empty(t, env.store.written(), "second flush has nothing to write")

	t.Run("write errors propagate", func(t *testing.T) {
		env.store.setFailures(nil, errDisk)
		defer env.store.setFailures(nil, nil)

		err := env.bm.FlushAll(2)
		assert.ErrorIs(t, err, errDisk)
		assert.True(t, buffers[1].IsModifiedBy(2))
	})
}

func TestStorageFailures(t *testing.T) {
	env := setupTest(t, 2)

	env.store.setFailures(errDisk, nil)
	buff, err := env.bm.Pin(blk(1))
	assert.ErrorIs(t, err, errDisk)
	assert.Nil(t, buff)
	checkInvariants(t, env.bm)
	assert.Equal(t, 2, env.bm.Available())

	env.store.setFailures(nil, nil)
	buff, err = env.bm.Pin(blk(1))
	require.NoError(t, err)
	got, _ := buff.Block()
	assert.Equal(t, blk(1), got)
	checkInvariants(t, env.bm)
}

func TestPinnedSlotIsNeverVictim(t *testing.T) {
	for _, name := range []string{StrategyFresh, StrategyNaive, StrategyClock} {
		t.Run(name, func(t *testing.T) {
			strategy, err := NewReplacementStrategy(name)
			require.NoError(t, err)
			const n = 8
			env := setupTest(t, n, WithReplacementStrategy(strategy))

			var wg sync.WaitGroup
			results := make([]*Buffer, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					buff, err := env.bm.Pin(blk(i))
					assert.NoError(t, err)
					results[i] = buff
				}(i)
			}
			wg.Wait()

			slots := make(map[int]bool)
			for i, buff := range results {
				require.NotNil(t, buff)
				got, _ := buff.Block()
				assert.Equal(t, blk(i), got)
				slots[buff.Slot()] = true
			}
			assert.Len(t, slots, n, "each block gets its own slot")

			_, err = env.bm.Pin(blk(n))
			assert.ErrorIs(t, err, ErrPoolExhausted)
			checkInvariants(t, env.bm)
		})
	}
}

func TestAvailableInvariantUnderRandomWorkload(t *testing.T) {
	for _, name := range []string{StrategyFresh, StrategyNaive, StrategyClock} {
		t.Run(name, func(t *testing.T) {
			strategy, err := NewReplacementStrategy(name)
			require.NoError(t, err)
			env := setupTest(t, 4, WithReplacementStrategy(strategy))
			rng := rand.New(rand.NewPCG(1, 2))

			var pinned []*Buffer
			for step := 0; step < 500; step++ {
				if len(pinned) > 0 && rng.IntN(2) == 0 {
					i := rng.IntN(len(pinned))
					require.NoError(t, env.bm.Unpin(pinned[i]))
					pinned = append(pinned[:i], pinned[i+1:]...)
				} else {
					buff, err := env.bm.Pin(blk(rng.IntN(10)))
					if errors.Is(err, ErrPoolExhausted) {
						assert.Equal(t, 0, env.bm.Available())
						continue
					}
					require.NoError(t, err)
					if rng.IntN(3) == 0 {
						buff.SetModified(step, -1)
					}
					pinned = append(pinned, buff)
				}
				checkInvariants(t, env.bm)
			}
		})
	}
}

func TestConcurrentPinUnpin(t *testing.T) {
	env := setupTest(t, 4)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				buff, err := env.bm.Pin(blk((g + i) % 6))
				if errors.Is(err, ErrPoolExhausted) {
					continue
				}
				if !assert.NoError(t, err) {
					return
				}
				assert.NoError(t, env.bm.Unpin(buff))
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, 4, env.bm.Available())
	checkInvariants(t, env.bm)
}

func TestPinContext(t *testing.T) {
	t.Run("times out when nothing is released", func(t *testing.T) {
		env := setupTest(t, 1)
		_, err := env.bm.Pin(blk(1))
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		buff, err := env.bm.PinContext(ctx, blk(2))
		assert.Nil(t, buff)
		assert.ErrorIs(t, err, ErrPoolExhausted)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("wakes up when a slot is released", func(t *testing.T) {
		env := setupTest(t, 1)
		held, err := env.bm.Pin(blk(1))
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		done := make(chan *Buffer, 1)
		go func() {
			buff, err := env.bm.PinContext(ctx, blk(2))
			assert.NoError(t, err)
			done <- buff
		}()

		time.Sleep(20 * time.Millisecond)
		require.NoError(t, env.bm.Unpin(held))

		select {
		case buff := <-done:
			require.NotNil(t, buff)
			got, _ := buff.Block()
			assert.Equal(t, blk(2), got)
		case <-time.After(2 * time.Second):
			t.Fatal("PinContext did not return after unpin")
		}
	})

	t.Run("resident block does not wait", func(t *testing.T) {
		env := setupTest(t, 1)
		held, err := env.bm.Pin(blk(1))
		require.NoError(t, err)

		buff, err := env.bm.PinContext(context.Background(), blk(1))
		require.NoError(t, err)
		assert.Same(t, held, buff)
	})
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	env := setupTest(t, 2, WithMetrics(metrics))

	a, err := env.bm.Pin(blk(0))
	require.NoError(t, err)
	_, err = env.bm.Pin(blk(0))
	require.NoError(t, err)
	_, err = env.bm.Pin(blk(1))
	require.NoError(t, err)
	_, err = env.bm.Pin(blk(2))
	require.ErrorIs(t, err, ErrPoolExhausted)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.hits))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.misses))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.exhausted))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.available))

	a.SetModified(1, -1)
	require.NoError(t, env.bm.Unpin(a))
	require.NoError(t, env.bm.Unpin(a))
	_, err = env.bm.Pin(blk(2))
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.evictions))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.flushes))

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 6, count)
}
