package disk

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

type VolumeGroup struct {
	containerBase

	id ID

	Name    string
	Devices []ID

	Preserve bool
}

func (vg *VolumeGroup) ID() ID     { return vg.id }
func (vg *VolumeGroup) Kind() Kind { return KindVolumeGroup }

type LogicalVolume struct {
	volumeBase

	id ID

	VolumeGroup ID
	Name        string
	Size        uint64

	Preserve bool
}

func (lv *LogicalVolume) ID() ID     { return lv.id }
func (lv *LogicalVolume) Kind() Kind { return KindLogicalVolume }

var lvmNameRegex = regexp.MustCompile(`^[a-zA-Z0-9+_.][a-zA-Z0-9+_.-]*$`)

func checkLVMName(id ID, name string) error {
	if name == "" {
		return integrityErrorf(id, "name must not be empty")
	}
	if name == "." || name == ".." || !lvmNameRegex.MatchString(name) {
		return integrityErrorf(id, "invalid name %q", name)
	}
	if len(name) > 127 {
		return integrityErrorf(id, "name %q is too long", name)
	}
	return nil
}

// LVName returns a logical volume name derived from a mountpoint.
func LVName(path string) string {
	if path == "/" {
		return "rootlv"
	}

	path = strings.TrimLeft(path, "/")
	return strings.ReplaceAll(path, "/", "_") + "lv"
}

// UniqueLVName returns base, or base with a numeric suffix, so that it does
// not collide with a logical volume of vg. We try 100 times and then give up.
func (m *Model) UniqueLVName(vg ID, base string) (string, error) {
	names := make(map[string]bool)
	for _, lv := range m.LogicalVolumesOf(vg) {
		names[lv.Name] = true
	}
	name := base
	for i := 0; i < 100; i++ {
		if !names[name] {
			return name, nil
		}
		name = fmt.Sprintf("%s%02d", base, i)
	}
	return "", integrityErrorf(vg, "could not find a free logical volume name for %q", base)
}

func (m *Model) checkVolumeGroup(self ID, name string, devices []ID) error {
	if err := checkLVMName(self, name); err != nil {
		return err
	}
	for _, vg := range m.AllVolumeGroups() {
		if vg.Name == name && vg.id != self {
			return integrityErrorf(vg.id, "volume group name %q already in use", name)
		}
	}
	if len(devices) == 0 {
		return integrityErrorf(self, "volume group needs at least one device")
	}
	seen := make(map[ID]bool)
	for _, id := range devices {
		if seen[id] {
			return integrityErrorf(id, "device listed twice")
		}
		seen[id] = true
		if err := m.checkMember(self, id, m.OkForVolumeGroup, "volume group"); err != nil {
			return err
		}
	}
	return nil
}

// AddVolumeGroup creates an LVM volume group from the given physical
// volumes.
func (m *Model) AddVolumeGroup(name string, devices []ID) (*VolumeGroup, error) {
	if err := m.checkVolumeGroup("", name, devices); err != nil {
		return nil, err
	}
	vg := &VolumeGroup{
		id:      m.newID(KindVolumeGroup),
		Name:    name,
		Devices: append([]ID(nil), devices...),
	}
	m.insert(vg)
	m.attach(vg.id, vg.Devices)
	m.log.WithFields(logrus.Fields{
		"volume_group": vg.id,
		"name":         name,
		"devices":      devices,
	}).Debug("added volume group")
	return vg, nil
}

// SetVolumeGroupMembers renames a volume group and replaces its physical
// volumes. The model is unchanged if the new members cannot hold the
// existing logical volumes.
func (m *Model) SetVolumeGroupMembers(id ID, name string, devices []ID) error {
	vg := m.VolumeGroup(id)
	if vg == nil {
		return integrityErrorf(id, "no such volume group")
	}
	if err := m.checkVolumeGroup(id, name, devices); err != nil {
		return err
	}
	capacity := m.volumeGroupSize(devices)
	if used := m.usedBy(vg); used > capacity {
		return &SizingError{Container: id, Requested: used, Available: capacity}
	}
	m.release(vg.Devices)
	vg.Name = name
	vg.Devices = append([]ID(nil), devices...)
	m.attach(id, vg.Devices)
	return nil
}

// RemoveVolumeGroup removes a volume group without logical volumes and
// releases its physical volumes.
func (m *Model) RemoveVolumeGroup(id ID) error {
	vg := m.VolumeGroup(id)
	if vg == nil {
		return integrityErrorf(id, "no such volume group")
	}
	if len(vg.partitions) > 0 {
		return integrityErrorf(id, "volume group still has logical volumes")
	}
	m.release(vg.Devices)
	m.drop(id)
	m.log.WithField("volume_group", id).Debug("removed volume group")
	return nil
}

// AddLogicalVolume creates a logical volume of size bytes in vg.
func (m *Model) AddLogicalVolume(vgID ID, name string, size uint64) (*LogicalVolume, error) {
	vg := m.VolumeGroup(vgID)
	if vg == nil {
		return nil, integrityErrorf(vgID, "no such volume group")
	}
	if err := checkLVMName(vgID, name); err != nil {
		return nil, err
	}
	for _, lv := range m.LogicalVolumesOf(vgID) {
		if lv.Name == name {
			return nil, integrityErrorf(lv.id, "logical volume name %q already in use", name)
		}
	}
	free := m.FreeForPartitions(vgID)
	if size == 0 || size > free {
		return nil, &SizingError{Container: vgID, Requested: size, Available: free}
	}
	lv := &LogicalVolume{
		id:          m.newID(KindLogicalVolume),
		VolumeGroup: vgID,
		Name:        name,
		Size:        size,
	}
	m.insert(lv)
	vg.partitions = append(vg.partitions, lv.id)
	m.log.WithFields(logrus.Fields{
		"volume_group":   vgID,
		"logical_volume": lv.id,
		"name":           name,
		"size":           size,
	}).Debug("added logical volume")
	return lv, nil
}

func (m *Model) RenameLogicalVolume(id ID, name string) error {
	lv := m.LogicalVolume(id)
	if lv == nil {
		return integrityErrorf(id, "no such logical volume")
	}
	if err := checkLVMName(id, name); err != nil {
		return err
	}
	for _, other := range m.LogicalVolumesOf(lv.VolumeGroup) {
		if other.Name == name && other.id != id {
			return integrityErrorf(other.id, "logical volume name %q already in use", name)
		}
	}
	lv.Name = name
	return nil
}

// ResizeLogicalVolume changes the size of a logical volume. Logical volumes
// can be resized even when formatted.
func (m *Model) ResizeLogicalVolume(id ID, size uint64) error {
	lv := m.LogicalVolume(id)
	if lv == nil {
		return integrityErrorf(id, "no such logical volume")
	}
	available := m.FreeForPartitions(lv.VolumeGroup) + lv.Size
	if size == 0 || size > available {
		return &SizingError{Container: lv.VolumeGroup, Requested: size, Available: available}
	}
	lv.Size = size
	return nil
}

func (m *Model) RemoveLogicalVolume(id ID) error {
	lv := m.LogicalVolume(id)
	if lv == nil {
		return integrityErrorf(id, "no such logical volume")
	}
	if lv.inUse() {
		return integrityErrorf(id, "logical volume is formatted or in use")
	}
	if vg := m.VolumeGroup(lv.VolumeGroup); vg != nil {
		vg.removeChild(id)
	}
	m.drop(id)
	m.log.WithField("logical_volume", id).Debug("removed logical volume")
	return nil
}
