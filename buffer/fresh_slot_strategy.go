package buffer

import "github.com/bits-and-blooms/bitset"

// FreshSlotStrategy prefers slots that have never held a block, lowest index first, and once
// those are used up falls back to the first unpinned slot in index order.
// A slot leaves the fresh set the first time it is chosen and never re-enters it.
type FreshSlotStrategy struct {
	buffers []*Buffer
	fresh   *bitset.BitSet
}

func NewFreshSlotStrategy() *FreshSlotStrategy {
	return &FreshSlotStrategy{}
}

func (fs *FreshSlotStrategy) initialize(buffers []*Buffer) {
	fs.buffers = buffers
	fs.fresh = bitset.New(uint(len(buffers)))
	fs.fresh.FlipRange(0, uint(len(buffers)))
}

func (fs *FreshSlotStrategy) pinBuffer(*Buffer) {}

func (fs *FreshSlotStrategy) unpinBuffer(*Buffer) {}

func (fs *FreshSlotStrategy) chooseUnpinnedBuffer() *Buffer {
	if i, ok := fs.fresh.NextSet(0); ok {
		fs.fresh.Clear(i)
		return fs.buffers[i]
	}
	return firstUnpinned(fs.buffers)
}

// freshRemaining returns how many slots have never been handed out.
func (fs *FreshSlotStrategy) freshRemaining() int {
	return int(fs.fresh.Count())
}
