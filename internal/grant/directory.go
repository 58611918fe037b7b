package grant

import (
	"encoding/binary"
	"fmt"
)

// DirectoryIter walks a grant directory chain one page at a time, yielding
// data references until the requested count has been produced.
//
//	it := NewDirectoryIter(m, dom, start, n)
//	for it.Next() {
//	    refs = append(refs, it.Ref())
//	}
//	if err := it.Err(); err != nil { ... }
type DirectoryIter struct {
	mapper    Mapper
	domID     uint32
	next      uint32
	remaining int

	page []uint32
	pos  int
	ref  uint32
	err  error
}

// NewDirectoryIter returns an iterator over count references reachable from
// the directory page start.
func NewDirectoryIter(m Mapper, domID, start uint32, count int) *DirectoryIter {
	return &DirectoryIter{mapper: m, domID: domID, next: start, remaining: count}
}

// Next advances to the next reference. It returns false when count
// references were produced or an error occurred.
func (it *DirectoryIter) Next() bool {
	if it.err != nil || it.remaining == 0 {
		return false
	}
	if it.pos == len(it.page) {
		if err := it.load(); err != nil {
			it.err = err
			return false
		}
	}
	it.ref = it.page[it.pos]
	it.pos++
	it.remaining--
	return true
}

// Ref returns the current reference.
func (it *DirectoryIter) Ref() uint32 { return it.ref }

// Err returns the error that stopped iteration, if any.
func (it *DirectoryIter) Err() error { return it.err }

func (it *DirectoryIter) load() error {
	if it.next == 0 {
		return fmt.Errorf("%w: %d references missing", ErrShortDirectory, it.remaining)
	}

	region, err := it.mapper.MapPages(it.domID, []uint32{it.next})
	if err != nil {
		return fmt.Errorf("map directory page %d: %w", it.next, err)
	}
	defer region.Unmap()

	data := region.Bytes()
	if len(data) < PageSize {
		return fmt.Errorf("directory page %d: mapped %d bytes", it.next, len(data))
	}

	n := min(it.remaining, RefsPerDirectoryPage)
	it.page = it.page[:0]
	for i := range n {
		it.page = append(it.page, binary.LittleEndian.Uint32(data[4+4*i:]))
	}
	it.pos = 0
	it.next = binary.LittleEndian.Uint32(data[0:4])
	return nil
}

// CollectRefs walks the directory chain from start and returns exactly
// count data references.
func CollectRefs(m Mapper, domID, start uint32, count int) ([]uint32, error) {
	refs := make([]uint32, 0, count)
	it := NewDirectoryIter(m, domID, start, count)
	for it.Next() {
		refs = append(refs, it.Ref())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return refs, nil
}
