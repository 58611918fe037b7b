package monitoring

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/camback/internal/events"
)

func TestParseUEvent(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  *UEvent
	}{
		{name: "empty input", input: nil},
		{name: "no @ separator", input: []byte("invalid")},
		{name: "missing action", input: []byte("@/devices/foo")},
		{name: "udevd relay", input: []byte("libudev\x00\xfe\xed\xca\xfeadd@/devices/x\x00")},
		{
			name:  "video add",
			input: []byte("add@/devices/pci0000:00/video4linux/video0\x00ACTION=add\x00SUBSYSTEM=video4linux\x00DEVNAME=video0\x00MAJOR=81\x00"),
			want: &UEvent{
				Action:    "add",
				KObj:      "/devices/pci0000:00/video4linux/video0",
				Subsystem: "video4linux",
				DevName:   "video0",
				Env:       map[string]string{"ACTION": "add", "SUBSYSTEM": "video4linux", "DEVNAME": "video0", "MAJOR": "81"},
			},
		},
		{
			name:  "empty values and trailing nulls",
			input: []byte("bind@/devices/foo\x00SUBSYSTEM=pci\x00KEY=\x00\x00\x00"),
			want: &UEvent{
				Action:    "bind",
				KObj:      "/devices/foo",
				Subsystem: "pci",
				Env:       map[string]string{"SUBSYSTEM": "pci", "KEY": ""},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseUEvent(tt.input)
			if tt.want == nil {
				if ok {
					t.Errorf("parseUEvent() = %+v, want rejection", got)
				}
				return
			}
			if !ok {
				t.Fatal("parseUEvent() rejected valid event")
			}
			if got.Action != tt.want.Action || got.KObj != tt.want.KObj ||
				got.Subsystem != tt.want.Subsystem || got.DevName != tt.want.DevName {
				t.Errorf("parseUEvent() = %+v, want %+v", got, *tt.want)
			}
			if len(got.Env) != len(tt.want.Env) {
				t.Errorf("Env = %v, want %v", got.Env, tt.want.Env)
			}
			for k, v := range tt.want.Env {
				if got.Env[k] != v {
					t.Errorf("Env[%q] = %q, want %q", k, got.Env[k], v)
				}
			}
		})
	}
}

type fakeSource struct {
	events chan UEvent
	closed chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{events: make(chan UEvent), closed: make(chan struct{})}
}

func (s *fakeSource) Next(ctx context.Context) (UEvent, error) {
	select {
	case ev := <-s.events:
		return ev, nil
	case <-ctx.Done():
		return UEvent{}, ctx.Err()
	}
}

func (s *fakeSource) Close() error {
	close(s.closed)
	return nil
}

type recordingBus struct {
	mu     sync.Mutex
	events []events.DeviceHotplugEvent
}

func (b *recordingBus) Publish(ev events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := ev.(events.DeviceHotplugEvent); ok {
		b.events = append(b.events, e)
	}
}

func (b *recordingBus) list() []events.DeviceHotplugEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]events.DeviceHotplugEvent(nil), b.events...)
}

func TestDeviceMonitorPublishesVideoNodes(t *testing.T) {
	bus := &recordingBus{}
	src := newFakeSource()
	m := NewDeviceMonitor(bus)
	m.open = func() (Source, error) { return src, nil }

	if err := m.Start(); err != nil {
		t.Fatal(err)
	}

	for _, ev := range []UEvent{
		{Action: ActionAdd, Subsystem: "usb", DevName: "bus/usb/001/004"},
		{Action: ActionAdd, Subsystem: subsystemVideo4Linux, DevName: "video2"},
		{Action: "change", Subsystem: subsystemVideo4Linux, DevName: "video2"},
		{Action: ActionRemove, Subsystem: subsystemVideo4Linux, DevName: "video2"},
		{Action: ActionAdd, Subsystem: subsystemVideo4Linux},
	} {
		src.events <- ev
	}

	m.Stop()
	select {
	case <-src.closed:
	case <-time.After(time.Second):
		t.Fatal("source not closed on Stop")
	}

	got := bus.list()
	if len(got) != 2 {
		t.Fatalf("published %d events, want 2: %+v", len(got), got)
	}
	if got[0].DevicePath != "/dev/video2" || got[0].Action != ActionAdd {
		t.Errorf("first event = %+v", got[0])
	}
	if got[1].Action != ActionRemove {
		t.Errorf("second event = %+v", got[1])
	}
}
