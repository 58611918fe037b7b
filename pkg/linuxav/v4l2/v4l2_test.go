//go:build linux

package v4l2

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"syscall"
	"testing"
)

func TestErrnoComparison(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		target   error
		expected bool
	}{
		{name: "EINVAL matches EINVAL", err: syscall.EINVAL, target: syscall.EINVAL, expected: true},
		{name: "EAGAIN matches EAGAIN", err: syscall.EAGAIN, target: syscall.EAGAIN, expected: true},
		{name: "ENOTTY matches ENOTTY", err: syscall.ENOTTY, target: syscall.ENOTTY, expected: true},
		{name: "EINVAL does not match ENOTTY", err: syscall.EINVAL, target: syscall.ENOTTY, expected: false},
		{name: "ENODEV matches ENODEV", err: syscall.ENODEV, target: syscall.ENODEV, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := errors.Is(tt.err, tt.target)
			if result != tt.expected {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, result, tt.expected)
			}
		})
	}
}

func TestFormatFourCC(t *testing.T) {
	tests := []struct {
		name     string
		format   uint32
		expected string
	}{
		{name: "YUYV format", format: PixFmtYUYV, expected: "YUYV"},
		{name: "MJPEG format", format: PixFmtMJPEG, expected: "MJPG"},
		{name: "H264 format", format: PixFmtH264, expected: "H264"},
		{name: "NV12 format", format: PixFmtNV12, expected: "NV12"},
		{name: "RGB24 format", format: PixFmtRGB24, expected: "RGB3"},
		{name: "mixed bytes", format: 0x01020304, expected: "\x04\x03\x02\x01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FormatFourCC(tt.format)
			if result != tt.expected {
				t.Errorf("FormatFourCC(0x%08X) = %q, want %q", tt.format, result, tt.expected)
			}
		})
	}
}

func TestFourCC(t *testing.T) {
	got, err := FourCC("YUYV")
	if err != nil {
		t.Fatalf("FourCC: %v", err)
	}
	if got != PixFmtYUYV {
		t.Errorf("FourCC(YUYV) = 0x%08x, want 0x%08x", got, uint32(PixFmtYUYV))
	}
	if FormatFourCC(got) != "YUYV" {
		t.Errorf("round trip = %q", FormatFourCC(got))
	}

	if _, err := FourCC("YUY"); err == nil {
		t.Error("expected error for short code")
	}
}

func TestFramerateFPS(t *testing.T) {
	tests := []struct {
		name        string
		framerate   Framerate
		expectedFPS float64
	}{
		{name: "60 fps (1/60)", framerate: Framerate{Numerator: 1, Denominator: 60}, expectedFPS: 60.0},
		{name: "29.97 fps (1001/30000)", framerate: Framerate{Numerator: 1001, Denominator: 30000}, expectedFPS: 30000.0 / 1001.0},
		{name: "zero numerator returns 0", framerate: Framerate{Numerator: 0, Denominator: 60}, expectedFPS: 0.0},
		{name: "zero denominator", framerate: Framerate{Numerator: 1, Denominator: 0}, expectedFPS: 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.framerate.FPS()
			if math.Abs(result-tt.expectedFPS) > 0.001 {
				t.Errorf("Framerate{%d, %d}.FPS() = %f, want %f",
					tt.framerate.Numerator, tt.framerate.Denominator, result, tt.expectedFPS)
			}
		})
	}
}

func TestStepwiseResolutions(t *testing.T) {
	s := &v4l2FrmsizeStepwise{minWidth: 320, maxWidth: 1280, stepWidth: 16, minHeight: 240, maxHeight: 720, stepHeight: 16}
	got := stepwiseResolutions(s)

	want := map[Resolution]bool{{320, 240}: true, {640, 480}: true, {1280, 720}: true}
	for _, r := range got {
		if r.Width > 1280 || r.Height > 720 {
			t.Errorf("resolution %dx%d outside range", r.Width, r.Height)
		}
		delete(want, r)
	}
	if len(want) != 0 {
		t.Errorf("missing resolutions: %v", want)
	}
}

func TestDeviceInfoNode(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/dev/video0", "video0"},
		{"video3", "video3"},
		{"/dev/v4l/by-id/usb-cam", "usb-cam"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := (DeviceInfo{DevicePath: tt.path}).Node(); got != tt.want {
				t.Errorf("Node() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCapabilityEffective(t *testing.T) {
	c := Capability{Capabilities: CapVideoCapture | CapDeviceCaps, DeviceCaps: CapStreaming}
	if c.Effective() != CapStreaming {
		t.Errorf("Effective() = 0x%x, want device caps", c.Effective())
	}
	c = Capability{Capabilities: CapVideoCapture}
	if c.Effective() != CapVideoCapture {
		t.Errorf("Effective() = 0x%x, want global caps", c.Effective())
	}
}

func TestSyntheticID(t *testing.T) {
	if got := syntheticID("usb-0000:00:14.0-1", 0); got != "usb-0000:00:14.0-1-video-index0" {
		t.Errorf("usb synthetic id = %q", got)
	}
	if got := syntheticID("platform:rkisp", 2); got != "platform-platform:rkisp-video-index2" {
		t.Errorf("platform synthetic id = %q", got)
	}
}

func TestFindStableID(t *testing.T) {
	dir := t.TempDir()
	orig := byIDRoot
	byIDRoot = dir
	t.Cleanup(func() { byIDRoot = orig })

	if err := os.Symlink("../../video2", filepath.Join(dir, "usb-Acme_Cam-video-index0")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	if got := findStableID("video2", 0); got != "usb-Acme_Cam-video-index0" {
		t.Errorf("findStableID = %q", got)
	}
	if got := findStableID("video3", 0); got != "" {
		t.Errorf("findStableID for unknown node = %q, want empty", got)
	}
}

func TestFindDevicesMissingSysfs(t *testing.T) {
	orig := sysfsRoot
	sysfsRoot = filepath.Join(t.TempDir(), "missing")
	t.Cleanup(func() { sysfsRoot = orig })

	devices, err := FindDevices()
	if err != nil {
		t.Fatalf("FindDevices: %v", err)
	}
	if len(devices) != 0 {
		t.Errorf("got %d devices, want 0", len(devices))
	}
}

func TestOpenRejectsRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "video0")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); !errors.Is(err, syscall.ENODEV) {
		t.Errorf("Open(regular file) err = %v, want ENODEV", err)
	}
}
