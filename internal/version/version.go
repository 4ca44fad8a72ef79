// Package version carries build information injected with -ldflags, e.g.
//
//	-X pg-dedump/internal/version.Version=1.4.0
//	-X pg-dedump/internal/version.GitCommit=$(git rev-parse --short HEAD)
package version

import (
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
)

var (
	Version   = "0.0.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info is structured version information.
type Info struct {
	Version   string `json:"version"`
	Major     int    `json:"major"`
	Minor     int    `json:"minor"`
	Patch     int    `json:"patch"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
}

// Get returns the build information. Without injected values it falls back
// to the VCS revision recorded by the Go toolchain.
func Get() Info {
	commit := GitCommit
	if commit == "unknown" {
		if bi, ok := debug.ReadBuildInfo(); ok {
			for _, s := range bi.Settings {
				if s.Key == "vcs.revision" && s.Value != "" {
					commit = s.Value
					if len(commit) > 12 {
						commit = commit[:12]
					}
				}
			}
		}
	}

	major, minor, patch := parse(Version)
	return Info{
		Version:   Version,
		Major:     major,
		Minor:     minor,
		Patch:     patch,
		GitCommit: commit,
		BuildDate: BuildDate,
	}
}

// String formats the version for --version output.
func (i Info) String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", i.Version, i.GitCommit, i.BuildDate)
}

// parse splits a semver string, ignoring a leading "v" and any pre-release
// or build suffix. Unparsable parts are 0.
func parse(v string) (major, minor, patch int) {
	v = strings.TrimPrefix(v, "v")
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i]
	}

	parts := strings.SplitN(v, ".", 3)
	nums := make([]int, 3)
	for i, p := range parts {
		nums[i], _ = strconv.Atoi(p)
	}
	return nums[0], nums[1], nums[2]
}
