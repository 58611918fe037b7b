//go:build linux

package grant

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// FileMapper serves grants from per-domain shared memory files named
// dom<id>.mem in a directory. Reference N is page N of the file. It lets an
// emulated guest in another process share buffers with the backend.
type FileMapper struct {
	dir string

	mu    sync.Mutex
	files map[uint32]*os.File
}

// NewFileMapper returns a mapper over the files in dir.
func NewFileMapper(dir string) *FileMapper {
	return &FileMapper{dir: dir, files: make(map[uint32]*os.File)}
}

// DomainPath returns the memory file path for domID.
func (m *FileMapper) DomainPath(domID uint32) string {
	return filepath.Join(m.dir, fmt.Sprintf("dom%d.mem", domID))
}

func (m *FileMapper) file(domID uint32) (*os.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.files[domID]; ok {
		return f, nil
	}
	f, err := os.OpenFile(m.DomainPath(domID), os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	m.files[domID] = f
	return f, nil
}

// Close closes every open domain file.
func (m *FileMapper) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for dom, f := range m.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.files, dom)
	}
	return firstErr
}

// MapPages reserves an address range and maps each referenced file page
// into it, giving one contiguous region.
func (m *FileMapper) MapPages(domID uint32, refs []uint32) (Region, error) {
	if len(refs) == 0 {
		return nil, ErrEmpty
	}
	f, err := m.file(domID)
	if err != nil {
		return nil, fmt.Errorf("domain %d memory: %w", domID, err)
	}
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	for _, ref := range refs {
		if ref == 0 || (int64(ref)+1)*PageSize > st.Size() {
			return nil, fmt.Errorf("domain %d ref %d: %w", domID, ref, unix.EINVAL)
		}
	}

	length := uintptr(len(refs) * PageSize)
	base, err := unix.MmapPtr(-1, 0, nil, length, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("reserve %d bytes: %w", length, err)
	}

	fd := int(f.Fd())
	for i, ref := range refs {
		addr := unsafe.Add(base, i*PageSize)
		if _, err := unix.MmapPtr(fd, int64(ref)*PageSize, addr, PageSize,
			unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_FIXED); err != nil {
			_ = unix.MunmapPtr(base, length)
			return nil, fmt.Errorf("map domain %d ref %d: %w", domID, ref, err)
		}
	}

	return &fileRegion{base: base, length: length}, nil
}

type fileRegion struct {
	base   unsafe.Pointer
	length uintptr
}

func (r *fileRegion) Bytes() []byte {
	if r.base == nil {
		return nil
	}
	return unsafe.Slice((*byte)(r.base), r.length)
}

func (r *fileRegion) Unmap() error {
	if r.base == nil {
		return nil
	}
	err := unix.MunmapPtr(r.base, r.length)
	r.base = nil
	return err
}
