//go:build linux

// Package v4l2 provides pure Go bindings to the Video4Linux2 (V4L2) API
// for device enumeration, format negotiation, controls and mmap streaming.
//
// This package does not use cgo, enabling simple cross-compilation for
// different Linux architectures (amd64, arm64, arm).
//
// # Device Enumeration
//
//	devices, err := v4l2.FindDevices()
//	for _, dev := range devices {
//	    fmt.Printf("%s: %s\n", dev.DevicePath, dev.DeviceName)
//	}
//
// # Capture
//
// A Device wraps an open file descriptor. Callers serialize access.
//
//	dev, err := v4l2.Open("/dev/video0")
//	pix, err := dev.SetFormat(v4l2.PixFormat{Width: 640, Height: 480, PixelFormat: v4l2.PixFmtYUYV})
//	n, err := dev.RequestBuffers(4)
//	for i := range n {
//	    mem, _ := dev.MapBuffer(i)
//	    _ = dev.QueueBuffer(i)
//	}
//	_ = dev.StreamOn()
//	buf, err := dev.DequeueBuffer() // after poll(2) reports POLLIN
package v4l2
