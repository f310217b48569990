package buffer

// ClockStrategy is second-chance replacement: a hand sweeps the slots, skipping pinned ones and
// clearing the reference bit of recently used ones, and evicts the first unpinned slot whose bit
// is already clear.
type ClockStrategy struct {
	buffers    []*Buffer
	referenced []bool
	hand       int
}

func NewClockStrategy() *ClockStrategy {
	return &ClockStrategy{}
}

func (cs *ClockStrategy) initialize(buffers []*Buffer) {
	cs.buffers = buffers
	cs.referenced = make([]bool, len(buffers))
	cs.hand = 0
}

func (cs *ClockStrategy) pinBuffer(buff *Buffer) {
	cs.referenced[buff.Slot()] = true
}

func (cs *ClockStrategy) unpinBuffer(buff *Buffer) {
	cs.referenced[buff.Slot()] = true
}

func (cs *ClockStrategy) chooseUnpinnedBuffer() *Buffer {
	n := len(cs.buffers)
	// two sweeps: the first may only clear reference bits
	for i := 0; i < 2*n; i++ {
		idx := cs.hand
		cs.hand = (cs.hand + 1) % n
		buff := cs.buffers[idx]
		if buff.isPinned() {
			continue
		}
		if cs.referenced[idx] {
			cs.referenced[idx] = false
			continue
		}
		return buff
	}
	return nil
}
