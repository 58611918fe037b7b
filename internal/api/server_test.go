package api

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/camback/internal/api/models"
	"github.com/smazurov/camback/internal/camera"
	"github.com/smazurov/camback/internal/events"
	"github.com/smazurov/camback/internal/registry"
	"github.com/smazurov/camback/internal/session"
	"github.com/smazurov/camback/pkg/linuxav/v4l2"
)

type fakeSessions []session.Info

func (f fakeSessions) Sessions() []session.Info { return f }

type fakeLED struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeLED) Set(ledType string, enabled bool, pattern string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pattern == "strobe" {
		return errors.New("unsupported pattern")
	}
	f.calls = append(f.calls, fmt.Sprintf("%s:%v:%s", ledType, enabled, pattern))
	return nil
}

func (f *fakeLED) Available() []string { return []string{"system", "user"} }
func (f *fakeLED) Patterns() []string  { return []string{"solid", "heartbeat"} }

type fakeIndicator struct{}

func (fakeIndicator) Indicator() string { return "user" }
func (fakeIndicator) InUse() bool       { return true }

func newTestRegistry(t *testing.T, ids ...string) *registry.Registry {
	t.Helper()
	reg := registry.New(registry.Options{
		Open: func(uniqueID string) (camera.Device, error) {
			if strings.HasPrefix(uniqueID, camera.PatternPrefix) {
				return camera.NewPatternDevice(uniqueID), nil
			}
			return nil, errors.New("no such device")
		},
	})
	for _, id := range ids {
		h := reg.Acquire(context.Background(), id, "")
		t.Cleanup(func() { _ = h.Release() })
	}
	return reg
}

func newTestServer(t *testing.T, opts *Options) *httptest.Server {
	t.Helper()
	if opts.AuthUsername == "" {
		opts.AuthUsername, opts.AuthPassword = "test", "test"
	}
	if opts.ListDevices == nil {
		opts.ListDevices = func() ([]v4l2.DeviceInfo, error) { return nil, nil }
	}
	ts := httptest.NewServer(NewServer(opts).GetMux())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, auth bool, out any) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	if auth {
		req.SetBasicAuth("test", "test")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestAuth(t *testing.T) {
	ts := newTestServer(t, &Options{})

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"health is public", "/api/health", "", http.StatusOK},
		{"version is public", "/api/version", "", http.StatusOK},
		{"missing credentials", "/api/sessions", "", http.StatusUnauthorized},
		{"wrong scheme", "/api/sessions", "Bearer abc", http.StatusUnauthorized},
		{"bad base64", "/api/sessions", "Basic !!!", http.StatusUnauthorized},
		{"wrong password", "/api/sessions", "Basic " + base64.StdEncoding.EncodeToString([]byte("test:nope")), http.StatusUnauthorized},
		{"valid", "/api/sessions", "Basic " + base64.StdEncoding.EncodeToString([]byte("test:test")), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, ts.URL+tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if tt.want == http.StatusUnauthorized && resp.Header.Get("WWW-Authenticate") != authRealm {
				t.Errorf("WWW-Authenticate = %q", resp.Header.Get("WWW-Authenticate"))
			}
		})
	}
}

func TestListDevicesMergesBrokers(t *testing.T) {
	reg := newTestRegistry(t, "video0", "pattern0")
	ts := newTestServer(t, &Options{
		Devices: reg,
		ListDevices: func() ([]v4l2.DeviceInfo, error) {
			return []v4l2.DeviceInfo{
				{DevicePath: "/dev/video2", DeviceName: "Spare", Driver: "uvcvideo"},
				{DevicePath: "/dev/video0", DeviceName: "USB Camera", Driver: "uvcvideo"},
			}, nil
		},
	})

	var got models.DeviceListData
	if status := getJSON(t, ts.URL+"/api/devices", true, &got); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if got.Count != 3 {
		t.Fatalf("count = %d, want 3: %+v", got.Count, got.Devices)
	}

	want := []struct {
		id       string
		present  bool
		active   bool
		degraded bool
	}{
		{"pattern0", false, true, false},
		{"video0", true, true, true},
		{"video2", true, false, false},
	}
	for i, w := range want {
		d := got.Devices[i]
		if d.UniqueID != w.id || d.Present != w.present || d.Active != w.active || d.Degraded != w.degraded {
			t.Errorf("device %d = %+v, want %+v", i, d, w)
		}
	}
	if got.Devices[1].Sessions != 1 || got.Devices[1].DeviceName != "USB Camera" {
		t.Errorf("video0 = %+v", got.Devices[1])
	}
}

func TestListDevicesError(t *testing.T) {
	ts := newTestServer(t, &Options{
		ListDevices: func() ([]v4l2.DeviceInfo, error) { return nil, errors.New("no /dev") },
	})
	if status := getJSON(t, ts.URL+"/api/devices", true, nil); status != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", status)
	}
}

func TestGetDevice(t *testing.T) {
	reg := newTestRegistry(t, "pattern0", "video9")
	ts := newTestServer(t, &Options{Devices: reg})

	t.Run("pattern", func(t *testing.T) {
		var got models.DeviceDetailData
		if status := getJSON(t, ts.URL+"/api/devices/pattern0", true, &got); status != http.StatusOK {
			t.Fatalf("status = %d", status)
		}
		if got.Config == nil || got.Config.PixelFormat != "YUYV" || got.Config.Width != 640 || got.Config.FrameRate != "30/1" {
			t.Errorf("config = %+v", got.Config)
		}
		if len(got.Controls) != 4 {
			t.Fatalf("controls = %+v", got.Controls)
		}
		b := got.Controls[0]
		if b.Name != "Brightness" || b.Value == nil || *b.Value != 128 {
			t.Errorf("brightness = %+v", b)
		}
		if got.FormatFixed {
			t.Error("format should not be fixed before any config-set")
		}
	})

	t.Run("degraded", func(t *testing.T) {
		var got models.DeviceDetailData
		if status := getJSON(t, ts.URL+"/api/devices/video9", true, &got); status != http.StatusOK {
			t.Fatalf("status = %d", status)
		}
		if !got.Degraded || got.Config != nil || got.Controls != nil {
			t.Errorf("degraded device = %+v", got)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		if status := getJSON(t, ts.URL+"/api/devices/video3", true, nil); status != http.StatusNotFound {
			t.Errorf("status = %d, want 404", status)
		}
	})
}

func TestListSessions(t *testing.T) {
	opened := time.Date(2026, 1, 27, 10, 30, 0, 0, time.UTC)
	ts := newTestServer(t, &Options{Sessions: fakeSessions{
		{ID: "a", DomID: 3, DevID: 0, UniqueID: "video0", Controls: []string{"brightness"}, Buffers: 4, Queued: []uint32{1, 2}, Streaming: true, Sequence: 7, Opened: opened},
		{ID: "b", DomID: 5, DevID: 1, UniqueID: "video0"},
	}})

	var got models.SessionListData
	if status := getJSON(t, ts.URL+"/api/sessions", true, &got); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if got.Count != 2 {
		t.Fatalf("count = %d", got.Count)
	}
	s := got.Sessions[0]
	if s.SessionID != "a" || s.DomID != 3 || !s.Streaming || s.Sequence != 7 || len(s.Queued) != 2 || !s.Opened.Equal(opened) {
		t.Errorf("session = %+v", s)
	}

	empty := newTestServer(t, &Options{})
	var none models.SessionListData
	getJSON(t, empty.URL+"/api/sessions", true, &none)
	if none.Sessions == nil || none.Count != 0 {
		t.Errorf("empty list = %+v", none)
	}
}

func TestLEDRoutes(t *testing.T) {
	ctrl := &fakeLED{}
	ts := newTestServer(t, &Options{LEDController: ctrl, LEDIndicator: fakeIndicator{}})

	var status LEDStatusBody
	if code := getJSON(t, ts.URL+"/api/leds", true, &status); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if status.Indicator != "user" || !status.InUse || len(status.AvailableTypes) != 2 {
		t.Errorf("led status = %+v", status)
	}

	tests := []struct {
		name string
		body string
		want int
	}{
		{"set", `{"type":"system","enabled":true,"pattern":"heartbeat"}`, http.StatusNoContent},
		{"unknown type", `{"type":"power","enabled":true}`, http.StatusBadRequest},
		{"controller error", `{"type":"user","enabled":true,"pattern":"strobe"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/leds", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			req.SetBasicAuth("test", "test")
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if len(ctrl.calls) != 1 || ctrl.calls[0] != "system:true:heartbeat" {
		t.Errorf("calls = %v", ctrl.calls)
	}
}

func TestLEDRoutesAbsentWithoutController(t *testing.T) {
	ts := newTestServer(t, &Options{})
	// The preflight handler owns every path, so the mux answers 405.
	if status := getJSON(t, ts.URL+"/api/leds", true, nil); status == http.StatusOK {
		t.Errorf("status = %d, want the route to be absent", status)
	}
}

func TestPrometheusHandlerMounted(t *testing.T) {
	ts := newTestServer(t, &Options{
		PrometheusHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintln(w, "camback_up 1")
		}),
	})
	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 without credentials", resp.StatusCode)
	}
}

// readEvents collects "data:" lines from an SSE response.
func readEvents(t *testing.T, resp *http.Response) <-chan string {
	t.Helper()
	ch := make(chan string, 16)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if line := scanner.Text(); strings.HasPrefix(line, "data:") {
				ch <- line
			}
		}
	}()
	return ch
}

func openStream(t *testing.T, url string) *http.Response {
	t.Helper()
	credentials := base64.StdEncoding.EncodeToString([]byte("test:test"))
	resp, err := http.Get(url + "?auth=" + credentials)
	if err != nil {
		t.Fatalf("Failed to connect to SSE: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("Expected SSE content type, got %s", resp.Header.Get("Content-Type"))
	}
	return resp
}

func waitForEvent(t *testing.T, ch <-chan string, substr string) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				t.Fatalf("stream closed before %q", substr)
			}
			if strings.Contains(msg, substr) {
				return
			}
		case <-timeout:
			t.Fatalf("Timeout waiting for %q", substr)
		}
	}
}

func TestEventStream(t *testing.T) {
	bus := events.New()
	ts := newTestServer(t, &Options{EventBus: bus})

	msgs := readEvents(t, openStream(t, ts.URL+"/api/events"))
	waitForEvent(t, msgs, "SSE connection established")

	bus.Publish(events.ControlChangedEvent{UniqueID: "video0", Control: "contrast", Value: 42, DomID: 3})
	waitForEvent(t, msgs, `"control":"contrast"`)

	bus.Publish(events.DeviceHotplugEvent{DevicePath: "/dev/video1", Action: "remove"})
	waitForEvent(t, msgs, `"device_path":"/dev/video1"`)
}

func TestMetricsStream(t *testing.T) {
	bus := events.New()
	ts := newTestServer(t, &Options{EventBus: bus})

	msgs := readEvents(t, openStream(t, ts.URL+"/api/metrics"))

	// The subscription is made after the response headers; keep publishing
	// until one lands.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				bus.Publish(events.DeviceMetricsEvent{UniqueID: "pattern0", FPS: 30})
			}
		}
	}()
	waitForEvent(t, msgs, `"unique_id":"pattern0"`)
}
