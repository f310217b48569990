package buffer

import "pagepool/file"

// PageFormatter initializes the page image of a freshly appended block.
type PageFormatter interface {
	Format(page *file.Page)
}

// FormatterFunc adapts an ordinary function to a PageFormatter.
type FormatterFunc func(page *file.Page)

func (f FormatterFunc) Format(page *file.Page) { f(page) }
