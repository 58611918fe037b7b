// Package grant maps guest memory, addressed by grant references, into the
// backend. A guest describes a buffer with a chain of directory pages; Buffer
// walks the chain and maps the referenced pages as one contiguous region.
package grant

import (
	"errors"
	"fmt"
)

// PageSize is the hypervisor page size.
const PageSize = 4096

// RefsPerDirectoryPage is the number of data references held by one
// directory page after its next-page link.
const RefsPerDirectoryPage = (PageSize - 4) / 4

// DefaultMaxPages bounds a single buffer mapping.
const DefaultMaxPages = 16384

var (
	// ErrShortDirectory is returned when the directory chain ends before
	// enough references were collected.
	ErrShortDirectory = errors.New("grant directory chain ended early")
	// ErrTooLarge is returned when a buffer would need more than MaxPages pages.
	ErrTooLarge = errors.New("grant buffer exceeds page limit")
	// ErrEmpty is returned when a buffer of zero bytes is requested.
	ErrEmpty = errors.New("grant buffer is empty")
)

// Region is a contiguous mapping of guest pages.
type Region interface {
	Bytes() []byte
	Unmap() error
}

// Mapper maps guest pages of a domain into the backend address space.
type Mapper interface {
	MapPages(domID uint32, refs []uint32) (Region, error)
}

// PagesFor returns the number of pages covering size bytes.
func PagesFor(size uint64) int {
	return int((size + PageSize - 1) / PageSize)
}

func checkPages(pages, maxPages int) error {
	if pages == 0 {
		return ErrEmpty
	}
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	if pages > maxPages {
		return fmt.Errorf("%w: %d pages, limit %d", ErrTooLarge, pages, maxPages)
	}
	return nil
}
