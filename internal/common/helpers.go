package common

import (
	"fmt"
	"regexp"
	"runtime"

	"github.com/dustin/go-humanize"
)

var RuntimeGOARCH = runtime.GOARCH

// CurrentArch returns the architecture name used by the distribution,
// e.g. x86_64 for amd64. Unknown architectures keep their Go name.
func CurrentArch() string {
	switch RuntimeGOARCH {
	case "amd64":
		return "x86_64"
	case "arm64":
		return "aarch64"
	default:
		return RuntimeGOARCH
	}
}

var dataSizeRegex = regexp.MustCompile(`^\s*([0-9]+(?:\.[0-9]+)?)\s*(kB|KiB|MB|MiB|GB|GiB|TB|TiB|K|M|G|T)?\s*$`)

// DataSizeToUint64 converts a size such as "512MiB", "1.5 GB" or "10G" to
// bytes. Single letter units are binary.
func DataSizeToUint64(size string) (uint64, error) {
	m := dataSizeRegex.FindStringSubmatch(size)
	if m == nil {
		return 0, fmt.Errorf("failed to parse size specification %q", size)
	}
	number, unit := m[1], m[2]
	switch unit {
	case "K":
		unit = "KiB"
	case "M", "G", "T":
		unit += "iB"
	}
	return humanize.ParseBytes(number + unit)
}
