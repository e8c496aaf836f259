package disk

import (
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Partition flags
const (
	FlagNone     = ""
	FlagBoot     = "boot" // EFI system partition
	FlagBIOSGrub = "bios_grub"
	FlagPReP     = "prep"
	FlagSwap     = "swap"
)

type Partition struct {
	volumeBase

	id ID

	Device ID     // Disk or RAID the partition lives on
	Size   uint64 // Size of the partition in bytes
	Flag   string
	Wipe   Wipe
	UUID   string
	Path   string // Device node of a probed partition

	// Preserve marks a partition found on disk whose data must be kept.
	Preserve bool
}

func (p *Partition) ID() ID     { return p.id }
func (p *Partition) Kind() Kind { return KindPartition }

// PartitionNumber returns the 1-based position of the partition on its device.
func (m *Model) PartitionNumber(id ID) int {
	p := m.Partition(id)
	if p == nil {
		return 0
	}
	c := m.Container(p.Device)
	for idx, pid := range c.Partitions() {
		if pid == id {
			return idx + 1
		}
	}
	return 0
}

// AddPartition appends a partition of the given size to a disk or RAID.
func (m *Model) AddPartition(device ID, size uint64, flag string, wipe Wipe) (*Partition, error) {
	c := m.Container(device)
	if c == nil {
		return nil, integrityErrorf(device, "not a partitionable device")
	}
	return m.InsertPartition(device, int(c.GetItemCount()), size, flag, wipe)
}

// InsertPartition adds a partition to a disk or RAID at the given index in
// the on-disk order.
func (m *Model) InsertPartition(device ID, index int, size uint64, flag string, wipe Wipe) (*Partition, error) {
	var c *containerBase
	var v *volumeBase
	switch dev := m.Get(device).(type) {
	case *Disk:
		c, v = &dev.containerBase, &dev.volumeBase
		if dev.PTable == "" {
			dev.PTable = "gpt"
		}
	case *Raid:
		c, v = &dev.containerBase, &dev.volumeBase
		if dev.PTable == "" {
			dev.PTable = "gpt"
		}
	default:
		return nil, integrityErrorf(device, "not a partitionable device")
	}
	if v.inUse() {
		return nil, integrityErrorf(device, "cannot partition a device that is formatted or in use")
	}
	free := m.FreeForPartitions(device)
	if size == 0 || size > free {
		return nil, &SizingError{Container: device, Requested: size, Available: free}
	}
	if index < 0 || index > len(c.partitions) {
		index = len(c.partitions)
	}

	p := &Partition{
		id:     m.newID(KindPartition),
		Device: device,
		Size:   size,
		Flag:   flag,
		Wipe:   wipe,
		UUID:   uuid.New().String(),
	}
	m.insert(p)
	c.partitions = append(c.partitions[:index], append([]ID{p.id}, c.partitions[index:]...)...)

	m.log.WithFields(logrus.Fields{
		"partition": p.id,
		"device":    device,
		"size":      humanize.IBytes(size),
		"flag":      flag,
	}).Debug("added partition")
	return p, nil
}

// ResizePartition changes the size of a partition. The model is unchanged
// if the new size does not fit.
func (m *Model) ResizePartition(id ID, size uint64) error {
	p := m.Partition(id)
	if p == nil {
		return integrityErrorf(id, "no such partition")
	}
	if size < p.Size && p.constructed != "" {
		return integrityErrorf(id, "cannot shrink a partition used by %s", p.constructed)
	}
	available := m.FreeForPartitions(p.Device) + p.Size
	if size == 0 || size > available {
		return &SizingError{Container: p.Device, Requested: size, Available: available}
	}
	m.log.WithFields(logrus.Fields{
		"partition": id,
		"from":      humanize.IBytes(p.Size),
		"to":        humanize.IBytes(size),
	}).Debug("resized partition")
	p.Size = size
	return nil
}

// RemovePartition removes a partition that carries nothing.
func (m *Model) RemovePartition(id ID) error {
	p := m.Partition(id)
	if p == nil {
		return integrityErrorf(id, "no such partition")
	}
	if p.inUse() {
		return integrityErrorf(id, "cannot remove a partition that is formatted or in use")
	}
	switch dev := m.Get(p.Device).(type) {
	case *Disk:
		dev.removeChild(id)
	case *Raid:
		dev.removeChild(id)
	}
	if m.GrubInstallDevice == id || (p.Flag == FlagBIOSGrub && m.GrubInstallDevice == p.Device) {
		m.GrubInstallDevice = ""
	}
	m.drop(id)
	m.log.WithField("partition", id).Debug("removed partition")
	return nil
}
