package blockstore

import (
	"fmt"

	"github.com/DataDog/zstd"

	"pagepool/file"
)

// codec turns pages into stored values and back, optionally zstd-compressing them.
type codec struct {
	blockSize int
	compress  bool
}

func (c codec) encode(page *file.Page) ([]byte, error) {
	if page.Size() != c.blockSize {
		return nil, fmt.Errorf("page of %d bytes does not match block size %d", page.Size(), c.blockSize)
	}
	if !c.compress {
		return append([]byte(nil), page.Contents()...), nil
	}
	out, err := zstd.Compress(nil, page.Contents())
	if err != nil {
		return nil, fmt.Errorf("compress page: %w", err)
	}
	return out, nil
}

// decode fills page from a stored value; a nil value is a block that was never written.
func (c codec) decode(value []byte, page *file.Page) error {
	if value == nil {
		page.Zero()
		return nil
	}
	raw := value
	if c.compress {
		var err error
		raw, err = zstd.Decompress(nil, value)
		if err != nil {
			return fmt.Errorf("decompress page: %w", err)
		}
	}
	if len(raw) != page.Size() {
		return fmt.Errorf("stored block has %d bytes, page has %d", len(raw), page.Size())
	}
	copy(page.Contents(), raw)
	return nil
}
