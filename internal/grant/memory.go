package grant

import (
	"fmt"
	"sync"
	"syscall"
)

// MemoryMapper serves grants from in-process page arrays, one per domain,
// where reference N names page N. It backs tests and emulated guests.
type MemoryMapper struct {
	mu      sync.Mutex
	domains map[uint32][]byte
	mapped  int
}

// NewMemoryMapper returns an empty mapper.
func NewMemoryMapper() *MemoryMapper {
	return &MemoryMapper{domains: make(map[uint32][]byte)}
}

// AddDomain allocates pages zeroed pages for domID and returns the backing memory.
func (m *MemoryMapper) AddDomain(domID uint32, pages int) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem := make([]byte, pages*PageSize)
	m.domains[domID] = mem
	return mem
}

// Page returns page ref of domID.
func (m *MemoryMapper) Page(domID, ref uint32) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem := m.domains[domID]
	start := int(ref) * PageSize
	if start+PageSize > len(mem) {
		return nil
	}
	return mem[start : start+PageSize]
}

// Mapped reports how many regions are currently mapped.
func (m *MemoryMapper) Mapped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mapped
}

// MapPages maps refs of domID. Consecutive references share the domain
// memory directly; scattered ones are gathered into a private copy that is
// written back on Unmap.
func (m *MemoryMapper) MapPages(domID uint32, refs []uint32) (Region, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mem, ok := m.domains[domID]
	if !ok {
		return nil, fmt.Errorf("domain %d: %w", domID, syscall.ESRCH)
	}
	if len(refs) == 0 {
		return nil, ErrEmpty
	}
	for _, ref := range refs {
		if ref == 0 || (int(ref)+1)*PageSize > len(mem) {
			return nil, fmt.Errorf("domain %d ref %d: %w", domID, ref, syscall.EINVAL)
		}
	}

	r := &memoryRegion{mapper: m, mem: mem, refs: refs}
	if contiguous(refs) {
		start := int(refs[0]) * PageSize
		r.data = mem[start : start+len(refs)*PageSize : start+len(refs)*PageSize]
	} else {
		r.data = make([]byte, len(refs)*PageSize)
		r.scattered = true
		for i, ref := range refs {
			copy(r.data[i*PageSize:], mem[int(ref)*PageSize:(int(ref)+1)*PageSize])
		}
	}
	m.mapped++
	return r, nil
}

func contiguous(refs []uint32) bool {
	for i := 1; i < len(refs); i++ {
		if refs[i] != refs[i-1]+1 {
			return false
		}
	}
	return true
}

type memoryRegion struct {
	mapper    *MemoryMapper
	mem       []byte
	refs      []uint32
	data      []byte
	scattered bool
	unmapped  bool
}

func (r *memoryRegion) Bytes() []byte { return r.data }

func (r *memoryRegion) Unmap() error {
	r.mapper.mu.Lock()
	defer r.mapper.mu.Unlock()
	if r.unmapped {
		return nil
	}
	if r.scattered {
		for i, ref := range r.refs {
			copy(r.mem[int(ref)*PageSize:(int(ref)+1)*PageSize], r.data[i*PageSize:])
		}
	}
	r.unmapped = true
	r.mapper.mapped--
	return nil
}
