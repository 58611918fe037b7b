// Package version carries build metadata injected through ldflags.
package version

import (
	"fmt"
	"runtime"
)

// Name is the program name used in banners and the HTTP Server header.
const Name = "camback"

var (
	// Version is the release version.
	Version = "dev"
	// GitCommit is the source revision.
	GitCommit = "unknown"
	// BuildDate is the build timestamp.
	BuildDate = "unknown"
	// BuildID identifies the CI build.
	BuildID = "unknown"
)

// Info contains version and build metadata.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	BuildID   string `json:"build_id"`
	GoVersion string `json:"go_version"`
	Compiler  string `json:"compiler"`
	Platform  string `json:"platform"`
}

// Get returns version and build information.
func Get() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		BuildID:   BuildID,
		GoVersion: runtime.Version(),
		Compiler:  runtime.Compiler,
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// String returns the release version.
func String() string {
	return Version
}

// Banner is the one-line form printed by --version and logged at startup.
func (i Info) Banner() string {
	commit := i.GitCommit
	if len(commit) > 7 {
		commit = commit[:7]
	}
	return fmt.Sprintf("%s %s (%s, built %s, %s %s)", Name, i.Version, commit, i.BuildDate, i.GoVersion, i.Platform)
}

// UserAgent identifies this build to peers, e.g. "camback/1.2.0".
func UserAgent() string {
	return Name + "/" + Version
}
