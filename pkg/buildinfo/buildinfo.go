// Package buildinfo reports what binary is running.
package buildinfo

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

const (
	// Version is the release version.
	Version = "0.1.0-dev"

	// BuildNumber is the release build number, 0 for development builds.
	BuildNumber = "0"
)

// Info describes the running binary.
type Info struct {
	Version     string `json:"version"`
	BuildNumber string `json:"build_number"`
	Commit      string `json:"commit"`
	CommitTime  string `json:"commit_time,omitempty"`
	Modified    bool   `json:"modified"`
	GoVersion   string `json:"go_version"`
	Target      string `json:"target"`
	Module      string `json:"module,omitempty"`
}

var (
	once   sync.Once
	cached Info
)

// Get returns the build description. Values the toolchain did not record
// are reported as "unknown".
func Get() Info {
	once.Do(func() {
		cached = fromBuildInfo(debug.ReadBuildInfo())
	})
	return cached
}

func fromBuildInfo(bi *debug.BuildInfo, ok bool) Info {
	info := Info{
		Version:     Version,
		BuildNumber: BuildNumber,
		Commit:      "unknown",
		GoVersion:   runtime.Version(),
		Target:      runtime.GOOS + "/" + runtime.GOARCH,
	}
	if !ok || bi == nil {
		return info
	}

	if bi.GoVersion != "" {
		info.GoVersion = bi.GoVersion
	}
	info.Module = bi.Main.Path
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			info.Commit = s.Value
			if len(info.Commit) > 12 {
				info.Commit = info.Commit[:12]
			}
		case "vcs.time":
			info.CommitTime = s.Value
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
	return info
}

// String renders the one-line form printed by "llamabridge version".
func (i Info) String() string {
	s := fmt.Sprintf("llamabridge %s (build %s, commit %s", i.Version, i.BuildNumber, i.Commit)
	if i.Modified {
		s += "-dirty"
	}
	return s + fmt.Sprintf(", %s, %s)", i.GoVersion, i.Target)
}
