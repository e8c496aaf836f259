package answers

import (
	"strconv"
	"strings"

	"github.com/osbuild/osbuild-storage/internal/disk"
	"github.com/osbuild/osbuild-storage/internal/storage"
)

func unresolved(addr []string) error {
	return &storage.ResolutionError{Op: "resolve", Reason: "could not resolve " + strings.Join(addr, ", ")}
}

// Resolve finds the entity named by an address. Addresses start with
// "disk index N", "raid name X" or "volgroup name X" and may be followed by
// "part index N".
func Resolve(m *disk.Model, addr []string) (disk.ID, error) {
	if len(addr) == 0 || len(addr) > 2 {
		return "", unresolved(addr)
	}
	tokens := strings.Fields(addr[0])
	if len(tokens) != 3 {
		return "", unresolved(addr)
	}

	var dev disk.ID
	switch tokens[0] + " " + tokens[1] {
	case "disk index":
		idx, err := strconv.Atoi(tokens[2])
		disks := m.AllDisks()
		if err != nil || idx < 0 || idx >= len(disks) {
			return "", unresolved(addr)
		}
		dev = disks[idx].ID()
	case "raid name":
		for _, r := range m.AllRaids() {
			if r.Name == tokens[2] {
				dev = r.ID()
				break
			}
		}
	case "volgroup name":
		for _, vg := range m.AllVolumeGroups() {
			if vg.Name == tokens[2] {
				dev = vg.ID()
				break
			}
		}
	}
	if dev == "" {
		return "", unresolved(addr)
	}
	if len(addr) == 1 {
		return dev, nil
	}

	tokens = strings.Fields(addr[1])
	if len(tokens) != 3 || tokens[0] != "part" || tokens[1] != "index" {
		return "", unresolved(addr)
	}
	idx, err := strconv.Atoi(tokens[2])
	parts := m.Container(dev).Partitions()
	if err != nil || idx < 0 || idx >= len(parts) {
		return "", unresolved(addr)
	}
	return parts[idx], nil
}
