package buffer

// NaiveStrategy selects the first unpinned buffer in slot order.
type NaiveStrategy struct {
	buffers []*Buffer
}

func NewNaiveStrategy() *NaiveStrategy {
	return &NaiveStrategy{}
}

func (ns *NaiveStrategy) initialize(buffers []*Buffer) {
	ns.buffers = buffers
}

func (ns *NaiveStrategy) pinBuffer(*Buffer) {}

func (ns *NaiveStrategy) unpinBuffer(*Buffer) {}

func (ns *NaiveStrategy) chooseUnpinnedBuffer() *Buffer {
	return firstUnpinned(ns.buffers)
}

func firstUnpinned(buffers []*Buffer) *Buffer {
	for _, buff := range buffers {
		if !buff.isPinned() {
			return buff
		}
	}
	return nil
}
