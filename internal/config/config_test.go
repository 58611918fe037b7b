package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

type testOptions struct {
	Config string

	Name     string        `toml:"daemon.name" env:"NAME"`
	Verbose  bool          `toml:"daemon.verbose" env:"VERBOSE"`
	Port     int           `toml:"nats.port" env:"NATS_PORT"`
	Buffers  uint8         `toml:"buffers.hardware_count" env:"HW_BUFFERS"`
	Interval time.Duration `toml:"daemon.interval" env:"INTERVAL"`
	Controls []string      `toml:"daemon.controls" env:"CONTROLS"`
}

func writeTOML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "camback.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigFromTOML(t *testing.T) {
	path := writeTOML(t, `
[daemon]
name = "dom0"
verbose = true
interval = "250ms"
controls = ["contrast", "hue"]

[nats]
port = 4333

[buffers]
hardware_count = 6
`)

	opts := &testOptions{Config: path}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	want := testOptions{
		Config:   path,
		Name:     "dom0",
		Verbose:  true,
		Port:     4333,
		Buffers:  6,
		Interval: 250 * time.Millisecond,
		Controls: []string{"contrast", "hue"},
	}
	if !reflect.DeepEqual(*opts, want) {
		t.Errorf("got %+v, want %+v", *opts, want)
	}
}

func TestLoadConfigEnvOverridesTOML(t *testing.T) {
	path := writeTOML(t, "[daemon]\nname = \"toml\"\n[nats]\nport = 1\n")
	t.Setenv("CAMBACK_NAME", "env")
	t.Setenv("CAMBACK_CONTROLS", "brightness, saturation")
	t.Setenv("CAMBACK_INTERVAL", "2s")

	opts := &testOptions{Config: path}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if opts.Name != "env" {
		t.Errorf("Name = %q, want env", opts.Name)
	}
	if opts.Port != 1 {
		t.Errorf("Port = %d, want 1 from TOML", opts.Port)
	}
	if !reflect.DeepEqual(opts.Controls, []string{"brightness", "saturation"}) {
		t.Errorf("Controls = %v, want [brightness saturation]", opts.Controls)
	}
	if opts.Interval != 2*time.Second {
		t.Errorf("Interval = %v, want 2s", opts.Interval)
	}
}

func TestLoadConfigCLIWins(t *testing.T) {
	path := writeTOML(t, "[nats]\nport = 1\n")
	t.Setenv("CAMBACK_NATS_PORT", "2")

	opts := &testOptions{Config: path}
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().IntVar(&opts.Port, "port", 0, "")
	if err := cmd.Flags().Set("port", "3"); err != nil {
		t.Fatal(err)
	}

	if err := LoadConfig(opts, cmd); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if opts.Port != 3 {
		t.Errorf("Port = %d, want 3 from CLI", opts.Port)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		toml string
		env  map[string]string
	}{
		{name: "bad toml", toml: "[daemon\n"},
		{name: "overflow", toml: "[buffers]\nhardware_count = 300\n"},
		{name: "bad env int", env: map[string]string{"CAMBACK_NATS_PORT": "many"}},
		{name: "wrong type", toml: "[daemon]\nverbose = 3\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			opts := &testOptions{}
			if tt.toml != "" {
				opts.Config = writeTOML(t, tt.toml)
			}
			if err := LoadConfig(opts, nil); err == nil {
				t.Errorf("LoadConfig succeeded, want error")
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	opts := &testOptions{Config: filepath.Join(t.TempDir(), "absent.toml"), Port: 7}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if opts.Port != 7 {
		t.Errorf("Port = %d, want default 7 kept", opts.Port)
	}
}

func TestLoadLoggingConfig(t *testing.T) {
	path := writeTOML(t, `
[logging]
level = "debug"
format = "json"
mask = "sess*:warn"
nats = "error"

[logging.modules]
broker = "info"
`)

	cfg := LoadLoggingConfig(path)
	if cfg.Level != "debug" || cfg.Format != "json" || cfg.Mask != "sess*:warn" {
		t.Errorf("got %+v, want level debug, format json, mask sess*:warn", cfg)
	}
	if cfg.Modules["broker"] != "info" || cfg.Modules["nats"] != "error" {
		t.Errorf("Modules = %v, want broker=info nats=error", cfg.Modules)
	}
}

func TestFieldNameToFlag(t *testing.T) {
	tests := map[string]string{
		"Port":          "port",
		"NatsPort":      "nats-port",
		"LoggingFormat": "logging-format",
	}
	for in, want := range tests {
		if got := fieldNameToFlag(in); got != want {
			t.Errorf("fieldNameToFlag(%q) = %q, want %q", in, got, want)
		}
	}
}
