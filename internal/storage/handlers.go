package storage

import (
	"github.com/dustin/go-humanize"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/osbuild/osbuild-storage/internal/disk"
)

// PartitionDiskHandler creates a partition on device, or edits partition if
// it is set. Editing resizes the partition if spec has a size and replaces
// its filesystem.
//
// When the model still needs a boot partition and device is an empty disk
// that can boot the system, the boot partition is created first and the
// requested size is reduced to what is left.
func (c *Controller) PartitionDiskHandler(device, partition disk.ID, spec Spec) (*disk.Partition, error) {
	p, err := c.partitionDisk(device, partition, spec)
	return p, c.observe("partition disk", err)
}

func (c *Controller) partitionDisk(device, partition disk.ID, spec Spec) (*disk.Partition, error) {
	const op = "partition disk"
	m := c.model
	container := m.Container(device)
	if container == nil || m.VolumeGroup(device) != nil {
		return nil, resolutionErrorf(op, "%s is not a partitionable device", device)
	}
	c.log.WithFields(logrus.Fields{
		"device":    device,
		"partition": partition,
		"free":      humanize.IBytes(m.FreeForPartitions(device)),
	}).Debug("partition disk handler")

	if partition != "" {
		p := m.Partition(partition)
		if p == nil || p.Device != device {
			return nil, resolutionErrorf(op, "%s is not a partition of %s", partition, device)
		}
		if err := c.checkEdit(op, partition, spec); err != nil {
			return nil, err
		}
		if spec.Size != 0 {
			if err := m.ResizePartition(partition, disk.AlignUp(spec.Size)); err != nil {
				return nil, err
			}
		}
		if err := m.DeleteFilesystem(p.FS()); err != nil {
			return nil, err
		}
		if _, err := c.createFilesystem(partition, spec); err != nil {
			return nil, err
		}
		return p, nil
	}

	if spec.Size == 0 {
		return nil, resolutionErrorf(op, "size is required for a new partition")
	}
	if err := c.checkSpec(op, "", spec); err != nil {
		return nil, err
	}
	size := disk.AlignUp(spec.Size)

	d := m.Disk(device)
	empty := container.GetItemCount() == 0
	needsBoot := m.NeedsBootloaderPartition()
	c.log.Debugf("model needs a bootloader partition? %t", needsBoot)
	createBoot := d != nil && needsBoot && empty && m.CanBeBootDisk(device)

	if !createBoot {
		if free := m.FreeForPartitions(device); size > free {
			return nil, &disk.SizingError{Container: device, Requested: size, Available: free}
		}
	}
	if d != nil && empty {
		d.Preserve = false
		d.Wipe = disk.WipeSuperblockRecursive
	}
	if createBoot {
		boot, err := c.createBootPartition(device)
		if err != nil {
			return nil, err
		}
		if free := m.FreeForPartitions(device); size > free {
			c.log.Debugf("adjusting request down: %s - %s = %s",
				humanize.IBytes(size), humanize.IBytes(boot.Size), humanize.IBytes(free))
			size = free
		}
	}

	p, err := c.createPartition(device, size, spec, disk.FlagNone, disk.WipeNone)
	if err != nil {
		return nil, err
	}
	c.log.Info("successfully added partition")
	return p, nil
}

func (c *Controller) createPartition(device disk.ID, size uint64, spec Spec, flag string, wipe disk.Wipe) (*disk.Partition, error) {
	p, err := c.model.AddPartition(device, size, flag, wipe)
	if err != nil {
		return nil, err
	}
	if _, err := c.createFilesystem(p.ID(), spec); err != nil {
		return nil, err
	}
	return p, nil
}

// LogicalVolumeHandler creates a logical volume in vg, or edits lv if it is
// set. A new logical volume without a name is named after its mount point.
func (c *Controller) LogicalVolumeHandler(vg, lv disk.ID, spec Spec) (*disk.LogicalVolume, error) {
	res, err := c.logicalVolume(vg, lv, spec)
	return res, c.observe("logical volume", err)
}

func (c *Controller) logicalVolume(vgID, lvID disk.ID, spec Spec) (*disk.LogicalVolume, error) {
	const op = "logical volume"
	m := c.model
	if m.VolumeGroup(vgID) == nil {
		return nil, resolutionErrorf(op, "%s is not a volume group", vgID)
	}
	c.log.WithFields(logrus.Fields{
		"volume_group":   vgID,
		"logical_volume": lvID,
		"free":           humanize.IBytes(m.FreeForPartitions(vgID)),
	}).Debug("logical volume handler")

	if lvID != "" {
		lv := m.LogicalVolume(lvID)
		if lv == nil || lv.VolumeGroup != vgID {
			return nil, resolutionErrorf(op, "%s is not a logical volume of %s", lvID, vgID)
		}
		if err := c.checkEdit(op, lvID, spec); err != nil {
			return nil, err
		}
		oldSize := lv.Size
		if spec.Size != 0 {
			if err := m.ResizeLogicalVolume(lvID, disk.AlignUp(spec.Size)); err != nil {
				return nil, err
			}
		}
		if spec.Name != "" {
			if err := m.RenameLogicalVolume(lvID, spec.Name); err != nil {
				lv.Size = oldSize
				return nil, err
			}
		}
		if err := m.DeleteFilesystem(lv.FS()); err != nil {
			return nil, err
		}
		if _, err := c.createFilesystem(lvID, spec); err != nil {
			return nil, err
		}
		return lv, nil
	}

	if spec.Size == 0 {
		return nil, resolutionErrorf(op, "size is required for a new logical volume")
	}
	if err := c.checkSpec(op, "", spec); err != nil {
		return nil, err
	}
	name := spec.Name
	if name == "" {
		if spec.Mount == "" {
			return nil, resolutionErrorf(op, "name is required for a logical volume without mount point")
		}
		var err error
		if name, err = m.UniqueLVName(vgID, disk.LVName(spec.Mount)); err != nil {
			return nil, err
		}
	}
	lv, err := m.AddLogicalVolume(vgID, name, disk.AlignUp(spec.Size))
	if err != nil {
		return nil, err
	}
	if _, err := c.createFilesystem(lv.ID(), spec); err != nil {
		return nil, err
	}
	return lv, nil
}

// AddFormatHandler clears volume and formats it according to spec.
func (c *Controller) AddFormatHandler(volume disk.ID, spec Spec) (*disk.Filesystem, error) {
	fs, err := c.addFormat(volume, spec)
	return fs, c.observe("add format", err)
}

func (c *Controller) addFormat(volume disk.ID, spec Spec) (*disk.Filesystem, error) {
	if c.model.Volume(volume) == nil {
		return nil, resolutionErrorf("add format", "%s is not a volume", volume)
	}
	if err := c.checkSpec("add format", volume, spec); err != nil {
		return nil, err
	}
	c.log.WithField("volume", volume).Debug("add format handler")
	if err := c.model.Clear(volume); err != nil {
		return nil, err
	}
	return c.createFilesystem(volume, spec)
}

// RaidHandler creates a RAID array, or edits existing if it is set. New
// members are cleared before they join the array.
func (c *Controller) RaidHandler(existing disk.ID, spec RaidSpec) (*disk.Raid, error) {
	r, err := c.raid(existing, spec)
	return r, c.observe("raid", err)
}

func (c *Controller) raid(existing disk.ID, spec RaidSpec) (*disk.Raid, error) {
	const op = "raid"
	m := c.model
	if spec.Name == "" {
		return nil, resolutionErrorf(op, "name is required")
	}
	if len(spec.Devices) == 0 {
		return nil, resolutionErrorf(op, "devices are required")
	}
	all := append(append([]disk.ID(nil), spec.Devices...), spec.SpareDevices...)
	for _, d := range all {
		if !m.OkForRaid(d) {
			return nil, resolutionErrorf(op, "%s cannot be a raid member", d)
		}
	}
	c.log.WithField("raid", existing).Debug("raid handler")

	var current []disk.ID
	if existing != "" {
		r := m.Raid(existing)
		if r == nil {
			return nil, resolutionErrorf(op, "%s is not a raid", existing)
		}
		current = append(append(current, r.Devices...), r.SpareDevices...)
		for _, d := range all {
			if m.BuiltOn(d, existing) {
				return nil, resolutionErrorf(op, "%s is built on %s", d, existing)
			}
		}
	}
	for _, d := range all {
		if lo.Contains(current, d) {
			continue
		}
		if err := m.Clear(d); err != nil {
			return nil, err
		}
	}

	if existing == "" {
		return m.AddRaid(spec.Name, spec.Level, spec.Devices, spec.SpareDevices)
	}
	if err := m.SetRaidMembers(existing, spec.Name, spec.Level, spec.Devices, spec.SpareDevices); err != nil {
		return nil, err
	}
	return m.Raid(existing), nil
}

// VolGroupHandler creates a volume group, or edits existing if it is set.
// Members are cleared and, if a password is given, encrypted before they
// join the group. Editing removes the encryption of the previous members.
func (c *Controller) VolGroupHandler(existing disk.ID, spec VolGroupSpec) (*disk.VolumeGroup, error) {
	vg, err := c.volGroup(existing, spec)
	return vg, c.observe("volume group", err)
}

func (c *Controller) volGroup(existing disk.ID, spec VolGroupSpec) (*disk.VolumeGroup, error) {
	const op = "volume group"
	m := c.model
	if spec.Name == "" {
		return nil, resolutionErrorf(op, "name is required")
	}
	if len(spec.Devices) == 0 {
		return nil, resolutionErrorf(op, "devices are required")
	}
	for _, d := range spec.Devices {
		if m.DMCrypt(d) != nil || !m.OkForVolumeGroup(d) {
			return nil, resolutionErrorf(op, "%s cannot be a volume group member", d)
		}
	}
	c.log.WithField("volume_group", existing).Debug("volume group handler")

	if existing != "" {
		vg := m.VolumeGroup(existing)
		if vg == nil {
			return nil, resolutionErrorf(op, "%s is not a volume group", existing)
		}
		if capacity, used := c.volumeGroupCapacity(spec), m.SizeOf(existing)-m.FreeForPartitions(existing); used > capacity {
			return nil, &disk.SizingError{Container: existing, Requested: used, Available: capacity}
		}
		released, err := m.DetachMembers(existing)
		if err != nil {
			return nil, err
		}
		for _, id := range released {
			if m.DMCrypt(id) != nil {
				if err := m.RemoveDMCrypt(id); err != nil {
					return nil, err
				}
			}
		}
	}

	members, err := c.prepareMembers(spec)
	if err != nil {
		return nil, err
	}
	if existing == "" {
		return m.AddVolumeGroup(spec.Name, members)
	}
	if err := m.SetVolumeGroupMembers(existing, spec.Name, members); err != nil {
		return nil, err
	}
	return m.VolumeGroup(existing), nil
}

func (c *Controller) prepareMembers(spec VolGroupSpec) ([]disk.ID, error) {
	m := c.model
	members := make([]disk.ID, 0, len(spec.Devices))
	for _, d := range spec.Devices {
		if err := m.Clear(d); err != nil {
			return nil, err
		}
		if spec.Password != "" {
			dm, err := m.AddDMCrypt(d, spec.Password)
			if err != nil {
				return nil, err
			}
			d = dm.ID()
		}
		members = append(members, d)
	}
	return members, nil
}

// volumeGroupCapacity returns the size a volume group built from the
// members of spec would have.
func (c *Controller) volumeGroupCapacity(spec VolGroupSpec) uint64 {
	var capacity uint64
	for _, d := range spec.Devices {
		size := c.model.SizeOf(d)
		if spec.Password != "" {
			size = saturatingSub(size, disk.LUKSOverhead)
		}
		capacity += disk.AlignDown(saturatingSub(size, disk.LVMOverhead))
	}
	return capacity
}

func saturatingSub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}
