//go:build linux

package grant

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DefaultGntdevPath is the Xen grant device node.
const DefaultGntdevPath = "/dev/xen/gntdev"

// gntdev ioctls: _IOC(_IOC_NONE, 'G', nr, size).
const (
	ioctlGntdevMapGrantRef   = 0x00184700 // struct ioctl_gntdev_map_grant_ref, 24 bytes
	ioctlGntdevUnmapGrantRef = 0x00104701 // struct ioctl_gntdev_unmap_grant_ref, 16 bytes
)

// Gntdev maps foreign grants through /dev/xen/gntdev.
type Gntdev struct {
	fd int
}

// OpenGntdev opens the grant device.
func OpenGntdev(path string) (*Gntdev, error) {
	if path == "" {
		path = DefaultGntdevPath
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &Gntdev{fd: fd}, nil
}

// Close closes the grant device. Regions must be unmapped first.
func (g *Gntdev) Close() error {
	return unix.Close(g.fd)
}

// MapPages maps refs of domID as one region.
func (g *Gntdev) MapPages(domID uint32, refs []uint32) (Region, error) {
	if len(refs) == 0 {
		return nil, ErrEmpty
	}

	// struct ioctl_gntdev_map_grant_ref { u32 count; u32 pad; u64 index; struct { u32 domid; u32 ref; } refs[]; }
	arg := make([]byte, 16+8*len(refs))
	binary.LittleEndian.PutUint32(arg[0:4], uint32(len(refs)))
	for i, ref := range refs {
		binary.LittleEndian.PutUint32(arg[16+8*i:], domID)
		binary.LittleEndian.PutUint32(arg[20+8*i:], ref)
	}
	if err := g.ioctl(ioctlGntdevMapGrantRef, unsafe.Pointer(&arg[0])); err != nil {
		return nil, fmt.Errorf("gntdev map %d refs of domain %d: %w", len(refs), domID, err)
	}
	index := binary.LittleEndian.Uint64(arg[8:16])

	data, err := unix.Mmap(g.fd, int64(index), len(refs)*PageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = g.unmapGrant(index, len(refs))
		return nil, fmt.Errorf("gntdev mmap: %w", err)
	}

	return &gntdevRegion{dev: g, data: data, index: index, count: len(refs)}, nil
}

func (g *Gntdev) unmapGrant(index uint64, count int) error {
	// struct ioctl_gntdev_unmap_grant_ref { u64 index; u32 count; u32 pad; }
	var arg [16]byte
	binary.LittleEndian.PutUint64(arg[0:8], index)
	binary.LittleEndian.PutUint32(arg[8:12], uint32(count))
	return g.ioctl(ioctlGntdevUnmapGrantRef, unsafe.Pointer(&arg[0]))
}

func (g *Gntdev) ioctl(req uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(g.fd), req, uintptr(arg))
		switch errno {
		case 0:
			return nil
		case unix.EINTR:
			continue
		default:
			return errno
		}
	}
}

type gntdevRegion struct {
	dev   *Gntdev
	data  []byte
	index uint64
	count int
}

func (r *gntdevRegion) Bytes() []byte { return r.data }

func (r *gntdevRegion) Unmap() error {
	if r.data == nil {
		return nil
	}
	err := unix.Munmap(r.data)
	r.data = nil
	if uerr := r.dev.unmapGrant(r.index, r.count); err == nil {
		err = uerr
	}
	return err
}
