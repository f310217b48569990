package buffer

import "errors"

var (
	// ErrPoolExhausted is returned by Pin and PinNew when every slot is pinned.
	// It is an ordinary condition under load: the caller may retry, wait, or abort its transaction.
	ErrPoolExhausted = errors.New("buffer pool exhausted")

	// ErrInvalidState reports a caller contract violation such as unpinning an unpinned buffer.
	ErrInvalidState = errors.New("invalid buffer state")
)
