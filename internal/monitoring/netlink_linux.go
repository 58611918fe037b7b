//go:build linux

package monitoring

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

const pollIntervalMs = 500

// netlinkSource reads uevents from the kernel broadcast group.
type netlinkSource struct {
	fd  int
	buf []byte
}

func openSource() (Source, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return nil, fmt.Errorf("netlink socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: 1}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("netlink bind: %w", err)
	}
	return &netlinkSource{fd: fd, buf: make([]byte, 8192)}, nil
}

func (s *netlinkSource) Next(ctx context.Context) (UEvent, error) {
	fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}
	for {
		if err := ctx.Err(); err != nil {
			return UEvent{}, err
		}

		n, err := unix.Poll(fds, pollIntervalMs)
		if errors.Is(err, unix.EINTR) || (err == nil && n == 0) {
			continue
		}
		if err != nil {
			return UEvent{}, err
		}

		n, _, err = unix.Recvfrom(s.fd, s.buf, 0)
		if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
			continue
		}
		if err != nil {
			return UEvent{}, err
		}
		if ev, ok := parseUEvent(s.buf[:n]); ok {
			return ev, nil
		}
	}
}

func (s *netlinkSource) Close() error {
	return unix.Close(s.fd)
}
