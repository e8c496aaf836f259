package disk

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// RaidLevel is the numeric md RAID level.
type RaidLevel int

type raidLevelInfo struct {
	minDevices int
	// number of members worth of data for n members
	dataDevices func(n int) int
}

var raidLevels = map[RaidLevel]raidLevelInfo{
	0:  {2, func(n int) int { return n }},
	1:  {2, func(n int) int { return 1 }},
	5:  {3, func(n int) int { return n - 1 }},
	6:  {4, func(n int) int { return n - 2 }},
	10: {4, func(n int) int { return n / 2 }},
}

func (l RaidLevel) String() string {
	return fmt.Sprintf("raid%d", int(l))
}

func (l RaidLevel) Valid() bool {
	_, ok := raidLevels[l]
	return ok
}

// MinDevices returns the number of active members the level requires.
func (l RaidLevel) MinDevices() int {
	return raidLevels[l].minDevices
}

// ParseRaidLevel accepts "1", "raid1" and "RAID 1".
func ParseRaidLevel(s string) (RaidLevel, error) {
	v := strings.ToLower(strings.ReplaceAll(s, " ", ""))
	v = strings.TrimPrefix(v, "raid")
	n, err := strconv.Atoi(v)
	if err != nil || !RaidLevel(n).Valid() {
		return 0, fmt.Errorf("unsupported raid level %q", s)
	}
	return RaidLevel(n), nil
}

func raidSize(level RaidLevel, sizes []uint64) uint64 {
	info, ok := raidLevels[level]
	if !ok || len(sizes) == 0 {
		return 0
	}
	member := AlignDown(subtract(lo.Min(sizes), RaidOverhead))
	return uint64(info.dataDevices(len(sizes))) * member
}

type Raid struct {
	volumeBase
	containerBase

	id ID

	Name         string
	Level        RaidLevel
	Devices      []ID
	SpareDevices []ID
	PTable       string
	Path         string
	Wipe         Wipe

	// Preserve marks an array found on the system.
	Preserve bool
}

func (r *Raid) ID() ID     { return r.id }
func (r *Raid) Kind() Kind { return KindRaid }

// members returns the active and spare members of a RAID or the members
// of a volume group.
func members(e Entity) []ID {
	switch c := e.(type) {
	case *Raid:
		return append(append([]ID(nil), c.Devices...), c.SpareDevices...)
	case *VolumeGroup:
		return append([]ID(nil), c.Devices...)
	}
	return nil
}

// checkMember verifies that id can become a member of owner. Volumes that
// are already members of owner are accepted.
func (m *Model) checkMember(owner ID, id ID, eligible func(ID) bool, role string) error {
	v := m.Volume(id)
	if v == nil || (owner != "" && id == owner) {
		return integrityErrorf(id, "not a volume")
	}
	if !eligible(id) {
		return integrityErrorf(id, "not eligible as %s member", role)
	}
	if v.FS() != "" {
		return integrityErrorf(id, "volume is formatted")
	}
	if c := v.ConstructedDevice(); c != "" && (owner == "" || c != owner) {
		return integrityErrorf(id, "volume is already used by %s", c)
	}
	if owner != "" && m.BuiltOn(id, owner) {
		return integrityErrorf(id, "volume is built on %s", owner)
	}
	return nil
}

// BuiltOn reports whether id sits on top of target, following partitions to
// their device, logical volumes to their group, encrypted volumes to their
// backing volume and arrays or groups to their members.
func (m *Model) BuiltOn(id, target ID) bool {
	seen := map[ID]bool{}
	queue := []ID{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == target {
			return true
		}
		if seen[cur] {
			continue
		}
		seen[cur] = true
		switch e := m.Get(cur).(type) {
		case *Partition:
			queue = append(queue, e.Device)
		case *DMCrypt:
			queue = append(queue, e.Volume)
		case *LogicalVolume:
			queue = append(queue, e.VolumeGroup)
		case *Raid, *VolumeGroup:
			queue = append(queue, members(e)...)
		}
	}
	return false
}

func (m *Model) checkRaid(self ID, name string, level RaidLevel, devices, spares []ID) error {
	if name == "" {
		return integrityErrorf(self, "raid name must not be empty")
	}
	for _, r := range m.AllRaids() {
		if r.Name == name && r.id != self {
			return integrityErrorf(r.id, "raid name %q already in use", name)
		}
	}
	if !level.Valid() {
		return integrityErrorf(self, "unsupported raid level %d", int(level))
	}
	if len(devices) < level.MinDevices() {
		return integrityErrorf(self, "%s needs at least %d devices, got %d", level, level.MinDevices(), len(devices))
	}
	all := append(append([]ID(nil), devices...), spares...)
	if dups := lo.FindDuplicates(all); len(dups) > 0 {
		return integrityErrorf(dups[0], "device listed twice")
	}
	for _, id := range all {
		if err := m.checkMember(self, id, m.OkForRaid, "raid"); err != nil {
			return err
		}
	}
	return nil
}

func (m *Model) attach(owner ID, ids []ID) {
	for _, id := range ids {
		m.Volume(id).base().constructed = owner
	}
}

func (m *Model) release(ids []ID) {
	for _, id := range ids {
		if v := m.Volume(id); v != nil {
			v.base().constructed = ""
		}
	}
}

// AddRaid creates a software RAID array from the given members.
func (m *Model) AddRaid(name string, level RaidLevel, devices, spares []ID) (*Raid, error) {
	if err := m.checkRaid("", name, level, devices, spares); err != nil {
		return nil, err
	}
	r := &Raid{
		id:           m.newID(KindRaid),
		Name:         name,
		Level:        level,
		Devices:      append([]ID(nil), devices...),
		SpareDevices: append([]ID(nil), spares...),
	}
	m.insert(r)
	m.attach(r.id, members(r))
	m.log.WithFields(logrus.Fields{
		"raid":    r.id,
		"name":    name,
		"level":   level.String(),
		"devices": devices,
	}).Debug("added raid")
	return r, nil
}

// SetRaidMembers updates name, level and members of an existing array.
// Members no longer listed are released. The model is unchanged if the new
// layout is invalid or too small for the partitions on the array.
func (m *Model) SetRaidMembers(id ID, name string, level RaidLevel, devices, spares []ID) error {
	r := m.Raid(id)
	if r == nil {
		return integrityErrorf(id, "no such raid")
	}
	if err := m.checkRaid(id, name, level, devices, spares); err != nil {
		return err
	}
	capacity := raidSize(level, m.memberSizes(devices))
	if used := m.usedBy(r); used > capacity {
		return &SizingError{Container: id, Requested: used, Available: capacity}
	}
	m.release(members(r))
	r.Name = name
	r.Level = level
	r.Devices = append([]ID(nil), devices...)
	r.SpareDevices = append([]ID(nil), spares...)
	m.attach(id, members(r))
	return nil
}

// RemoveRaid removes an array that carries nothing and releases its members.
func (m *Model) RemoveRaid(id ID) error {
	r := m.Raid(id)
	if r == nil {
		return integrityErrorf(id, "no such raid")
	}
	if r.inUse() || len(r.partitions) > 0 {
		return integrityErrorf(id, "cannot remove a raid that is partitioned, formatted or in use")
	}
	m.release(members(r))
	m.drop(id)
	m.log.WithField("raid", id).Debug("removed raid")
	return nil
}

// DetachMembers releases all members of a RAID or volume group, leaving the
// container without members until SetRaidMembers or
// SetVolumeGroupMembers is called. It returns the released members.
func (m *Model) DetachMembers(id ID) ([]ID, error) {
	switch c := m.Get(id).(type) {
	case *Raid:
		released := members(c)
		m.release(released)
		c.Devices, c.SpareDevices = nil, nil
		return released, nil
	case *VolumeGroup:
		released := members(c)
		m.release(released)
		c.Devices = nil
		return released, nil
	}
	return nil, integrityErrorf(id, "not a raid or volume group")
}
