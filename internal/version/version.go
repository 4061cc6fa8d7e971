// Package version reports the build identity of httpcore.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set at build time:
//
//	go build -ldflags="-X github.com/muurk/httpcore/internal/version.Version=v0.3.0 \
//	                   -X github.com/muurk/httpcore/internal/version.Commit=abc1234"
var (
	Version = ""
	Commit  = ""
)

// Info is the resolved build identity.
type Info struct {
	Version   string
	Commit    string
	Dirty     bool
	GoVersion string
}

// Get resolves the build identity, falling back to VCS data embedded by the
// go tool and finally to "dev".
func Get() Info {
	info := Info{Version: Version, Commit: Commit, GoVersion: runtime.Version()}
	if bi, ok := debug.ReadBuildInfo(); ok {
		if info.Version == "" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.Commit == "" {
					info.Commit = shortHash(s.Value)
				}
			case "vcs.modified":
				info.Dirty = s.Value == "true"
			}
		}
	}
	if info.Version == "" {
		info.Version = "dev"
	}
	if info.Commit == "" {
		info.Commit = "unknown"
	}
	return info
}

func shortHash(rev string) string {
	if len(rev) > 7 {
		return rev[:7]
	}
	return rev
}

// Full returns the version with commit and toolchain.
func Full() string {
	i := Get()
	commit := i.Commit
	if i.Dirty {
		commit += "-dirty"
	}
	return fmt.Sprintf("%s (commit: %s, %s)", i.Version, commit, i.GoVersion)
}

// UserAgent is sent by the client when a request has none.
func UserAgent() string {
	return "httpcore/" + Get().Version
}
