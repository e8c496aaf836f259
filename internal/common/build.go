package common

import "runtime/debug"

// Version control details of the running binary.
var (
	BuildCommit    = "HEAD"
	BuildTime      = "N/A"
	BuildGoVersion string
)

func init() {
	if bi, ok := debug.ReadBuildInfo(); ok {
		setBuildInfo(bi)
	}
}

func setBuildInfo(bi *debug.BuildInfo) {
	BuildGoVersion = bi.GoVersion
	for _, s := range bi.Settings {
		switch {
		case s.Key == "vcs.revision" && len(s.Value) > 6:
			BuildCommit = s.Value[:6]
		case s.Key == "vcs.time":
			BuildTime = s.Value
		}
	}
}
