package buffer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"pagepool/file"
)

// Manager is the buffer pool. It pins blocks into a fixed set of slots, chooses victims through a
// ReplacementStrategy when a block is not resident, and writes back the slots a transaction dirtied
// when that transaction commits.
//
// Every method that reads or changes pool state runs under a single mutex, so slot lookup, victim
// selection and the available count are updated atomically as a unit. Block I/O triggered by a pin
// or a flush also happens under that mutex.
type Manager struct {
	bufferPool   []*Buffer
	resident     map[file.BlockId]int // block -> slot, for every bound slot
	numAvailable int
	strategy     ReplacementStrategy
	logger       *slog.Logger
	metrics      *Metrics
	mu           sync.Mutex
	cond         *sync.Cond
}

type Option func(*Manager)

// WithReplacementStrategy overrides the default FreshSlotStrategy.
func WithReplacementStrategy(strategy ReplacementStrategy) Option {
	return func(m *Manager) { m.strategy = strategy }
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// NewManager creates a pool of numBuffers slots over store. logs may be nil when no write-ahead
// log is in use.
func NewManager(store file.BlockStore, logs LogFlusher, numBuffers int, opts ...Option) (*Manager, error) {
	if numBuffers < 1 {
		return nil, fmt.Errorf("buffer pool needs at least one slot, got %d", numBuffers)
	}

	bm := &Manager{
		bufferPool:   make([]*Buffer, numBuffers),
		resident:     make(map[file.BlockId]int, numBuffers),
		numAvailable: numBuffers,
		strategy:     NewFreshSlotStrategy(),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(bm)
	}
	bm.cond = sync.NewCond(&bm.mu)

	for i := range bm.bufferPool {
		bm.bufferPool[i] = newBuffer(store, logs, i)
	}
	bm.strategy.initialize(bm.bufferPool)
	bm.metrics.setAvailable(numBuffers)
	return bm, nil
}

// NewManagerWithReplacementStrategy is NewManager with an explicit strategy.
func NewManagerWithReplacementStrategy(store file.BlockStore, logs LogFlusher, numBuffers int, strategy ReplacementStrategy) (*Manager, error) {
	return NewManager(store, logs, numBuffers, WithReplacementStrategy(strategy))
}

// Size returns the number of slots in the pool.
func (m *Manager) Size() int {
	return len(m.bufferPool)
}

// Available returns the number of unpinned slots. The value is advisory: other goroutines may
// pin or unpin as soon as it has been read.
func (m *Manager) Available() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.numAvailable
}

// FlushAll writes back every slot dirtied by txNum. It stops at the first write error.
func (m *Manager) FlushAll(txNum int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, buff := range m.bufferPool {
		if !buff.IsModifiedBy(txNum) {
			continue
		}
		flushed, err := buff.flush()
		if err != nil {
			m.logger.Error("flush failed", "txn", txNum, "slot", buff.slot, "err", err)
			return fmt.Errorf("failed to flush buffers for txn %d: %w", txNum, err)
		}
		if flushed {
			m.metrics.flushed()
		}
	}
	return nil
}

// Pin pins a slot to block. A resident block is shared: every caller pinning it gets the same
// Buffer. Otherwise a victim slot is chosen and loaded with the block. When every slot is pinned
// Pin returns ErrPoolExhausted without waiting.
func (m *Manager) Pin(block file.BlockId) (*Buffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.tryToPin(block)
}

// PinNew appends a new block to filename, formats it with fmtr and pins a slot to it. When every
// slot is pinned it returns ErrPoolExhausted and no block is appended.
func (m *Manager) PinNew(filename string, fmtr PageFormatter) (*Buffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	buff := m.strategy.chooseUnpinnedBuffer()
	if buff == nil {
		m.metrics.exhaust()
		m.logger.Debug("buffer pool exhausted", "file", filename)
		return nil, fmt.Errorf("%w: cannot pin new block in %s", ErrPoolExhausted, filename)
	}
	if err := m.rebind(buff, func() error { return buff.assignToNew(filename, fmtr) }); err != nil {
		return nil, err
	}

	m.numAvailable--
	buff.pin()
	m.strategy.pinBuffer(buff)
	m.metrics.setAvailable(m.numAvailable)
	return buff, nil
}

// Unpin releases one pin on buffer. When the pin count reaches zero the slot becomes available
// again but keeps its block until a later miss replaces it.
func (m *Manager) Unpin(buffer *Buffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if buffer == nil || buffer.slot >= len(m.bufferPool) || m.bufferPool[buffer.slot] != buffer {
		return fmt.Errorf("%w: buffer does not belong to this pool", ErrInvalidState)
	}
	if err := buffer.unpin(); err != nil {
		return err
	}
	m.strategy.unpinBuffer(buffer)
	if !buffer.isPinned() {
		m.numAvailable++
		m.metrics.setAvailable(m.numAvailable)
		m.cond.Broadcast()
	}
	return nil
}

/*
PinContext is Pin for callers willing to wait: while the pool is exhausted it sleeps until some slot
is unpinned and tries again, giving up when ctx is done. The returned error then wraps both
ErrPoolExhausted and the context error.
This follows the condition-with-wait pattern from https://pkg.go.dev/context#example-AfterFunc-Cond
*/
func (m *Manager) PinContext(ctx context.Context, block file.BlockId) (*Buffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// The broadcast has to happen under cond.L; otherwise it could fire between a waiter's
	// ctx check and its call to Wait, and the waiter would sleep forever.
	stop := context.AfterFunc(ctx, func() {
		m.cond.L.Lock()
		defer m.cond.L.Unlock()
		m.cond.Broadcast()
	})
	defer stop()

	for {
		buff, err := m.tryToPin(block)
		if err == nil {
			return buff, nil
		}
		if !errors.Is(err, ErrPoolExhausted) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: could not pin block %s: %w", ErrPoolExhausted, block, ctx.Err())
		}
		m.cond.Wait()
	}
}

// tryToPin does the work of Pin; callers hold m.mu.
func (m *Manager) tryToPin(block file.BlockId) (*Buffer, error) {
	var buff *Buffer
	if slot, ok := m.resident[block]; ok {
		buff = m.bufferPool[slot]
		m.metrics.hit()
	} else {
		m.metrics.miss()
		buff = m.strategy.chooseUnpinnedBuffer()
		if buff == nil {
			m.metrics.exhaust()
			m.logger.Debug("buffer pool exhausted", "block", block.String())
			return nil, fmt.Errorf("%w: cannot pin block %s", ErrPoolExhausted, block)
		}
		if err := m.rebind(buff, func() error { return buff.assignToBlock(block) }); err != nil {
			return nil, err
		}
	}

	if !buff.isPinned() {
		m.numAvailable--
		m.metrics.setAvailable(m.numAvailable)
	}
	buff.pin()
	m.strategy.pinBuffer(buff)
	return buff, nil
}

// rebind writes back the victim if it is dirty, runs bind, and keeps the resident map in step with
// whatever the slot holds afterwards, whether or not bind succeeded.
func (m *Manager) rebind(buff *Buffer, bind func() error) error {
	old, wasBound := buff.Block()

	flushed, err := buff.flush()
	if err != nil {
		m.logger.Error("write-back of victim failed", "slot", buff.slot, "block", old.String(), "err", err)
		return err
	}
	if flushed {
		m.metrics.flushed()
	}

	if slot, ok := m.resident[old]; wasBound && ok && slot == buff.slot {
		delete(m.resident, old)
	}
	err = bind()
	if current, ok := buff.Block(); ok {
		if err := m.dropStaleCopy(buff, current); err != nil {
			return err
		}
		m.resident[current] = buff.slot
	}
	if err != nil {
		return err
	}

	if wasBound {
		m.metrics.evict()
	}
	current, _ := buff.Block()
	m.logger.Debug("slot rebound", "slot", buff.slot, "from", old.String(), "to", current.String(), "was_bound", wasBound)
	return nil
}

// dropStaleCopy empties any other slot still holding block after buff was bound to it. This happens
// when Append returns a block that was pinned earlier while it lay past the end of its file. If that
// other slot is pinned, buff is emptied instead and ErrInvalidState is returned.
func (m *Manager) dropStaleCopy(buff *Buffer, block file.BlockId) error {
	slot, ok := m.resident[block]
	if !ok || slot == buff.slot {
		return nil
	}
	stale := m.bufferPool[slot]
	if stale.isPinned() {
		buff.unbind()
		return fmt.Errorf("%w: block %s is already pinned in slot %d", ErrInvalidState, block, slot)
	}
	m.logger.Warn("dropping stale copy of appended block", "block", block.String(), "slot", slot, "new_slot", buff.slot)
	stale.unbind()
	delete(m.resident, block)
	return nil
}

// SlotInfo describes one slot of the pool at the moment of a Snapshot.
type SlotInfo struct {
	Slot         int          `json:"slot"`
	Bound        bool         `json:"bound"`
	Block        file.BlockId `json:"block"`
	Pins         int          `json:"pins"`
	ModifyingTxn int          `json:"modifying_txn"`
}

// Snapshot is a consistent view of the whole pool.
type Snapshot struct {
	Size      int        `json:"size"`
	Available int        `json:"available"`
	Slots     []SlotInfo `json:"slots"`
}

// Snapshot returns the state of every slot, taken under the pool lock.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		Size:      len(m.bufferPool),
		Available: m.numAvailable,
		Slots:     make([]SlotInfo, len(m.bufferPool)),
	}
	for i, buff := range m.bufferPool {
		snap.Slots[i] = SlotInfo{
			Slot:         i,
			Bound:        buff.bound,
			Block:        buff.block,
			Pins:         buff.pins,
			ModifyingTxn: buff.ModifyingTxn(),
		}
	}
	return snap
}
