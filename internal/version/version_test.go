package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestBanner(t *testing.T) {
	info := Info{
		Version:   "1.2.0",
		GitCommit: "0123456789abcdef",
		BuildDate: "2026-01-15",
		GoVersion: "go1.24.11",
		Platform:  "linux/arm64",
	}
	got := info.Banner()
	want := "camback 1.2.0 (0123456, built 2026-01-15, go1.24.11 linux/arm64)"
	if got != want {
		t.Errorf("Banner() = %q, want %q", got, want)
	}

	info.GitCommit = "abc"
	if !strings.Contains(info.Banner(), "(abc,") {
		t.Errorf("short commit should be kept whole: %q", info.Banner())
	}
}

func TestGet(t *testing.T) {
	info := Get()
	if info.Version != Version {
		t.Errorf("Version = %q, want %q", info.Version, Version)
	}
	if info.Platform != runtime.GOOS+"/"+runtime.GOARCH {
		t.Errorf("Platform = %q", info.Platform)
	}
	if UserAgent() != "camback/"+Version {
		t.Errorf("UserAgent() = %q", UserAgent())
	}
}
