// Package build reports version information for the running binary.
//
// Release builds set the values with -ldflags:
//
//	go build -ldflags "-X github.com/vitalscan/scan-common/build.version=v1.4.2 \
//	    -X github.com/vitalscan/scan-common/build.buildTime=2026-10-01T12:00:00Z" ./cmd/scanprobe
//
// Anything left unset is filled from the module and VCS data the Go
// toolchain embeds.
package build

import (
	"log/slog"
	"runtime/debug"
	"sync"
)

// Set with -ldflags -X.
var (
	version   string //nolint:gochecknoglobals
	gitCommit string //nolint:gochecknoglobals
	buildTime string //nolint:gochecknoglobals
)

const develVersion = "(devel)"

type Info struct {
	Version   string
	GitCommit string
	BuildTime string
	GoVersion string
	Modified  bool
}

// Current returns the binary's build info.
func Current() Info {
	return current()
}

var current = sync.OnceValue(func() Info { //nolint:gochecknoglobals
	bi, _ := debug.ReadBuildInfo()

	return resolve(bi, version, gitCommit, buildTime)
})

func resolve(bi *debug.BuildInfo, version, commit, built string) Info {
	info := Info{
		Version:   version,
		GitCommit: commit,
		BuildTime: built,
	}

	if bi == nil {
		if info.Version == "" {
			info.Version = develVersion
		}

		return info
	}

	info.GoVersion = bi.GoVersion

	if info.Version == "" {
		info.Version = bi.Main.Version
	}

	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.GitCommit == "" {
				info.GitCommit = s.Value
			}
		case "vcs.time":
			if info.BuildTime == "" {
				info.BuildTime = s.Value
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}

	if info.Version == "" {
		info.Version = develVersion
	}

	return info
}

func (i Info) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("version", i.Version),
		slog.String("commit", i.GitCommit),
		slog.String("built", i.BuildTime),
		slog.String("go", i.GoVersion),
		slog.Bool("modified", i.Modified),
	)
}
