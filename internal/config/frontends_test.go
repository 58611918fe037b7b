package config

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadFrontends(t *testing.T) {
	path := writeTOML(t, `
[[frontend]]
dom_id = 3
dev_id = 0
unique_id = "video0"
controls = "contrast,brightness"

[[frontend]]
dom_id = 4
dev_id = 0
unique_id = "video0"
pipeline = "hdmi"
`)
	cfg, err := LoadFrontends(path)
	if err != nil {
		t.Fatalf("LoadFrontends: %v", err)
	}
	if cfg.Version != 1 || len(cfg.Frontends) != 2 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if f := cfg.Frontends[0]; f.Key() != "3/0" || f.Controls != "contrast,brightness" {
		t.Errorf("frontend 0 = %+v", f)
	}
	if cfg.Frontends[1].Pipeline != "hdmi" {
		t.Errorf("frontend 1 pipeline = %q", cfg.Frontends[1].Pipeline)
	}
}

func TestLoadFrontendsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"missing unique id", "[[frontend]]\ndom_id = 1\n", "unique_id cannot be empty"},
		{"duplicate", "[[frontend]]\ndom_id = 1\nunique_id = \"a\"\n[[frontend]]\ndom_id = 1\nunique_id = \"b\"\n", "defined more than once"},
		{"bad toml", "[[frontend\n", "failed to parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrontends(writeTOML(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestFrontendManager(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "frontends.toml")
	fm := NewFrontendManager(path)
	if err := fm.Load(); err != nil {
		t.Fatalf("Load of missing file: %v", err)
	}

	if err := fm.AddFrontend(FrontendConfig{DomID: 5, DevID: 1, UniqueID: "video2"}); err != nil {
		t.Fatal(err)
	}
	if err := fm.AddFrontend(FrontendConfig{DomID: 2, UniqueID: "pattern0"}); err != nil {
		t.Fatal(err)
	}
	if err := fm.AddFrontend(FrontendConfig{DomID: 5, DevID: 1, UniqueID: "video3"}); err != nil {
		t.Fatal(err)
	}
	if err := fm.AddFrontend(FrontendConfig{DomID: 9}); err == nil {
		t.Error("frontend without unique_id accepted")
	}

	reloaded := NewFrontendManager(path)
	if err := reloaded.Load(); err != nil {
		t.Fatal(err)
	}
	got := reloaded.GetFrontends()
	if len(got) != 2 || got[0].DomID != 2 || got[1].UniqueID != "video3" {
		t.Errorf("frontends = %+v", got)
	}

	if err := reloaded.RemoveFrontend(5, 1); err != nil {
		t.Fatal(err)
	}
	if err := reloaded.RemoveFrontend(5, 1); err == nil {
		t.Error("removing a missing frontend succeeded")
	}
}

func TestLoadPipelines(t *testing.T) {
	path := writeTOML(t, `
[pipelines.hdmi]
media_device = "/dev/media0"
links = ["'rcar_csi2 feaa0000.csi2':1 -> 'VIN0 output':0 [1]"]
formats = [
  "'adv748x 4-0070 hdmi':1 [fmt:RGB888_1X24/1024x768 field:none]",
  "'rcar_csi2 feaa0000.csi2':1 [fmt:RGB888_1X24/1024x768 field:none]",
]
`)
	pipelines, err := LoadPipelines(path)
	if err != nil {
		t.Fatalf("LoadPipelines: %v", err)
	}
	p, ok := pipelines["hdmi"]
	if !ok {
		t.Fatalf("pipelines = %+v", pipelines)
	}
	if p.MediaDevice != "/dev/media0" || len(p.Links) != 1 || len(p.Formats) != 2 {
		t.Errorf("hdmi = %+v", p)
	}

	none, err := LoadPipelines(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil || len(none) != 0 {
		t.Errorf("missing file = %v, %v", none, err)
	}

	if _, err := LoadPipelines(writeTOML(t, "[pipelines.x]\nlinks = []\n")); err == nil {
		t.Error("pipeline without media_device accepted")
	}
}
