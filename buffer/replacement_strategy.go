package buffer

import "fmt"

// ReplacementStrategy picks the victim slot when a block that is not resident must be loaded.
// The Manager calls every method while holding its lock. chooseUnpinnedBuffer must never
// return a pinned buffer; it returns nil when every slot is pinned.
type ReplacementStrategy interface {
	// initialize hands the strategy the pool's slots, in slot order.
	initialize(buffers []*Buffer)
	// pinBuffer notifies the strategy that a buffer has been pinned.
	pinBuffer(buff *Buffer)
	// unpinBuffer notifies the strategy that a buffer has been unpinned.
	unpinBuffer(buff *Buffer)
	// chooseUnpinnedBuffer selects an unpinned buffer to replace.
	chooseUnpinnedBuffer() *Buffer
}

const (
	StrategyFresh = "fresh"
	StrategyNaive = "naive"
	StrategyClock = "clock"
)

// NewReplacementStrategy returns the strategy registered under name.
func NewReplacementStrategy(name string) (ReplacementStrategy, error) {
	switch name {
	case StrategyFresh, "":
		return NewFreshSlotStrategy(), nil
	case StrategyNaive:
		return NewNaiveStrategy(), nil
	case StrategyClock:
		return NewClockStrategy(), nil
	default:
		return nil, fmt.Errorf("unknown replacement strategy %q", name)
	}
}
