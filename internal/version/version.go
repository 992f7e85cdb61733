// Package version provides build-time version information.
//
// Variables are set at build time via ldflags:
//
//	go build -ldflags "-X github.com/saranga-ayurveda/backend/internal/version.Version=1.0.0 \
//	                   -X github.com/saranga-ayurveda/backend/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/saranga-ayurveda/backend/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
//
// Without ldflags the commit falls back to the VCS revision embedded by the
// Go toolchain.
package version

import (
	"runtime"
	"runtime/debug"

	"github.com/rs/zerolog"
)

// Build-time variables (set via ldflags)
var (
	// Version is the semantic version (e.g., "1.0.0")
	Version = "dev"

	// Commit is the git commit hash (short form)
	Commit = "unknown"

	// BuildTime is the UTC build timestamp (ISO 8601)
	BuildTime = "unknown"
)

const shortCommit = 7

// Info describes the running build.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// Get returns the build info, filling an unset commit from the embedded VCS
// revision.
func Get() Info {
	info := Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
	if info.Commit == "unknown" {
		if rev := vcsRevision(); rev != "" {
			info.Commit = rev
		}
	}
	return info
}

// MarshalZerologObject adds the build fields to a log event.
func (i Info) MarshalZerologObject(e *zerolog.Event) {
	e.Str("version", i.Version).
		Str("commit", i.Commit).
		Str("build_time", i.BuildTime).
		Str("go_version", i.GoVersion)
}

// String returns a formatted version string.
func String() string {
	i := Get()
	return i.Version + " (" + i.Commit + ") built " + i.BuildTime
}

func vcsRevision() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range bi.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			if len(s.Value) > shortCommit {
				return s.Value[:shortCommit]
			}
			return s.Value
		}
	}
	return ""
}
