package disk

import (
	"fmt"
)

// Clear deletes the filesystem of a volume and the device constructed on
// it, with everything stacked above them. Afterwards the volume carries
// nothing and can be reused.
func (m *Model) Clear(id ID) error {
	v := m.Volume(id)
	if v == nil {
		return nil
	}
	if err := m.Delete(v.FS()); err != nil {
		return err
	}
	// the volume may be gone if deleting the filesystem removed it
	if v = m.Volume(id); v == nil {
		return nil
	}
	return m.Delete(v.ConstructedDevice())
}

// Delete removes an entity and everything built on top of it. Deleting an
// entity that is not part of the model is a no-op.
func (m *Model) Delete(id ID) error {
	switch e := m.Get(id).(type) {
	case nil:
		return nil
	case *Mount:
		return m.RemoveMount(id)
	case *Filesystem:
		return m.DeleteFilesystem(id)
	case *Partition:
		return m.DeletePartition(id)
	case *Raid:
		return m.DeleteRaid(id)
	case *VolumeGroup:
		return m.DeleteVolumeGroup(id)
	case *LogicalVolume:
		return m.DeleteLogicalVolume(id)
	case *DMCrypt:
		return m.DeleteDMCrypt(id)
	default:
		return integrityErrorf(id, "cannot delete a %s", e.Kind())
	}
}

// DeleteFilesystem unmounts and removes a filesystem.
func (m *Model) DeleteFilesystem(id ID) error {
	fs := m.Filesystem(id)
	if fs == nil {
		return nil
	}
	if err := m.Delete(fs.mount); err != nil {
		return err
	}
	return m.RemoveFilesystem(id)
}

func (m *Model) DeletePartition(id ID) error {
	if err := m.Clear(id); err != nil {
		return err
	}
	if m.Partition(id) == nil {
		return nil
	}
	return m.RemovePartition(id)
}

func (m *Model) DeleteLogicalVolume(id ID) error {
	if err := m.Clear(id); err != nil {
		return err
	}
	if m.LogicalVolume(id) == nil {
		return nil
	}
	return m.RemoveLogicalVolume(id)
}

// DeleteRaid removes an array with its partitions. Former members are
// marked for a superblock wipe.
func (m *Model) DeleteRaid(id ID) error {
	if err := m.Clear(id); err != nil {
		return err
	}
	r := m.Raid(id)
	if r == nil {
		return nil
	}
	for _, p := range r.Partitions() {
		if err := m.DeletePartition(p); err != nil {
			return err
		}
	}
	for _, d := range members(r) {
		m.setWipe(d, WipeSuperblock)
	}
	return m.RemoveRaid(id)
}

// DeleteVolumeGroup removes the logical volumes of a volume group, then its
// encrypted members and finally the group itself.
func (m *Model) DeleteVolumeGroup(id ID) error {
	vg := m.VolumeGroup(id)
	if vg == nil {
		return nil
	}
	for _, lv := range vg.Partitions() {
		if err := m.DeleteLogicalVolume(lv); err != nil {
			return err
		}
	}
	for _, d := range members(vg) {
		m.setWipe(d, WipeSuperblock)
		if dm := m.DMCrypt(d); dm != nil {
			m.setWipe(dm.Volume, WipeSuperblock)
			if err := m.RemoveDMCrypt(d); err != nil {
				return err
			}
		}
	}
	return m.RemoveVolumeGroup(id)
}

func (m *Model) DeleteDMCrypt(id ID) error {
	if err := m.Clear(id); err != nil {
		return err
	}
	if m.DMCrypt(id) == nil {
		return nil
	}
	return m.RemoveDMCrypt(id)
}

// Reformat marks a disk for a full wipe and deletes everything on it.
func (m *Model) Reformat(id ID) error {
	d := m.Disk(id)
	if d == nil {
		return integrityErrorf(id, "not a disk")
	}
	d.Preserve = false
	d.Wipe = WipeSuperblockRecursive
	if err := m.Clear(id); err != nil {
		return err
	}
	for _, p := range d.Partitions() {
		if err := m.DeletePartition(p); err != nil {
			return fmt.Errorf("cannot reformat %s: %w", d.Path, err)
		}
	}
	return nil
}

func (m *Model) setWipe(id ID, wipe Wipe) {
	switch v := m.Get(id).(type) {
	case *Disk:
		v.Wipe = wipe
	case *Partition:
		v.Wipe = wipe
	case *Raid:
		v.Wipe = wipe
	}
}
