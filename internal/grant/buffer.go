package grant

import (
	"errors"
	"fmt"
	"unsafe"
)

// ErrClosed is returned when using a Buffer after Close.
var ErrClosed = errors.New("grant buffer closed")

// BufferOptions describe a guest buffer.
type BufferOptions struct {
	DomID     uint32
	Directory uint32 // first directory page reference
	Size      uint32 // payload bytes
	Offset    uint32 // payload starts this many bytes into the mapping
	MaxPages  int    // zero means DefaultMaxPages
}

// Buffer is a guest buffer mapped into the backend.
type Buffer struct {
	region Region
	data   []byte
	offset uint32
	size   uint32
}

// NewBuffer walks the directory chain and maps every data page as one region.
// On failure nothing stays mapped.
func NewBuffer(m Mapper, opts BufferOptions) (*Buffer, error) {
	total := uint64(opts.Size) + uint64(opts.Offset)
	pages := PagesFor(total)
	if err := checkPages(pages, opts.MaxPages); err != nil {
		return nil, err
	}

	refs, err := CollectRefs(m, opts.DomID, opts.Directory, pages)
	if err != nil {
		return nil, err
	}

	region, err := m.MapPages(opts.DomID, refs)
	if err != nil {
		return nil, fmt.Errorf("map %d pages of domain %d: %w", pages, opts.DomID, err)
	}

	data := region.Bytes()
	if uint64(len(data)) < total {
		_ = region.Unmap()
		return nil, fmt.Errorf("mapped %d bytes, need %d", len(data), total)
	}

	return &Buffer{region: region, data: data, offset: opts.Offset, size: opts.Size}, nil
}

// CopyInto writes data at the payload offset. Bytes past the payload size
// are dropped.
func (b *Buffer) CopyInto(data []byte) (int, error) {
	if b.data == nil {
		return 0, ErrClosed
	}
	return copy(b.data[b.offset:b.offset+b.size], data), nil
}

// Addr returns the address of the mapping. It is only meaningful for
// comparing identity with another mapping.
func (b *Buffer) Addr() uintptr {
	if len(b.data) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(b.data)))
}

// Size returns the payload size in bytes.
func (b *Buffer) Size() uint32 { return b.size }

// Offset returns the payload offset within the mapping.
func (b *Buffer) Offset() uint32 { return b.offset }

// Close unmaps the buffer. It is safe to call more than once.
func (b *Buffer) Close() error {
	if b.region == nil {
		return nil
	}
	err := b.region.Unmap()
	b.region = nil
	b.data = nil
	return err
}
