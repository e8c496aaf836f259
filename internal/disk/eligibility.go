package disk

// OkForRaid reports whether the volume can structurally be a RAID member.
// Formatted volumes and volumes used by other devices are eligible once
// cleared.
func (m *Model) OkForRaid(id ID) bool {
	switch v := m.Get(id).(type) {
	case *Disk:
		return len(v.partitions) == 0
	case *Partition:
		return !isBootSupportFlag(v.Flag)
	case *Raid:
		return len(v.partitions) == 0
	}
	return false
}

// OkForVolumeGroup reports whether the volume can structurally be an LVM
// physical volume.
func (m *Model) OkForVolumeGroup(id ID) bool {
	switch v := m.Get(id).(type) {
	case *Disk:
		return len(v.partitions) == 0
	case *Partition:
		return !isBootSupportFlag(v.Flag)
	case *Raid:
		return len(v.partitions) == 0
	case *DMCrypt:
		return true
	}
	return false
}

// IsFree reports whether the volume carries no filesystem and is not used by
// a constructed device.
func (m *Model) IsFree(id ID) bool {
	v := m.Volume(id)
	return v != nil && !v.base().inUse()
}

func isBootSupportFlag(flag string) bool {
	switch flag {
	case FlagBoot, FlagBIOSGrub, FlagPReP:
		return true
	}
	return false
}
