package storage

import (
	"github.com/dustin/go-humanize"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/osbuild/osbuild-storage/internal/disk"
)

// MakeBootDisk moves the boot partition to the given disk.
//
// A boot partition on a preserved disk is left in place and only
// unmounted (UEFI) or no longer wiped (PReP). Otherwise it is deleted and,
// if its disk was full, the largest remaining partition there grows into
// the freed space. On the new disk an existing boot partition is reused if
// there is one; a fresh one is created as first partition otherwise,
// shrinking the largest partition of the disk if there is not enough room.
func (c *Controller) MakeBootDisk(id disk.ID) error {
	return c.observe("make boot disk", c.makeBootDisk(id))
}

func (c *Controller) makeBootDisk(id disk.ID) error {
	const op = "make boot disk"
	m := c.model
	newDisk := m.Disk(id)
	if newDisk == nil {
		return resolutionErrorf(op, "%s is not a disk", id)
	}
	if !m.CanBeBootDisk(id) {
		return resolutionErrorf(op, "%s cannot be a boot disk", newDisk.Path)
	}
	reuse := m.HasPreexistingPartition(id)
	if !reuse {
		if err := c.checkBootRoom(id); err != nil {
			return err
		}
	}
	c.log.WithFields(logrus.Fields{
		"disk":       id,
		"bootloader": m.Bootloader.String(),
	}).Debug("making boot disk")

	if old := c.currentBootPartition(); old != nil {
		if err := c.releaseBootPartition(old); err != nil {
			return err
		}
	}

	if reuse {
		return c.reuseBootPartition(id)
	}
	newDisk.Preserve = false
	if err := c.makeBootRoom(id); err != nil {
		return err
	}
	_, err := c.createBootPartition(id)
	return err
}

func (c *Controller) currentBootPartition() *disk.Partition {
	m := c.model
	switch m.Bootloader {
	case disk.BootloaderBIOS:
		if m.GrubInstallDevice != "" {
			return m.PotentialBootPartition(m.GrubInstallDevice)
		}
	case disk.BootloaderUEFI:
		if mnt := m.MountForPath(disk.ESPMountpoint); mnt != nil {
			if fs := m.Filesystem(mnt.Device); fs != nil {
				return m.Partition(fs.Volume)
			}
		}
	case disk.BootloaderPReP:
		return m.Partition(m.GrubInstallDevice)
	}
	return nil
}

func (c *Controller) releaseBootPartition(p *disk.Partition) error {
	m := c.model
	if p.Preserve {
		switch m.Bootloader {
		case disk.BootloaderPReP:
			p.Wipe = disk.WipeNone
		case disk.BootloaderUEFI:
			if fs := m.Filesystem(p.FS()); fs != nil {
				return m.Delete(fs.Mount())
			}
		}
		return nil
	}

	bootDisk := p.Device
	full := m.FreeForPartitions(bootDisk) == 0
	freed := p.Size
	if err := m.DeletePartition(p.ID()); err != nil {
		return err
	}
	if !full {
		return nil
	}
	if largest := largestPartition(m.PartitionsOf(bootDisk)); largest != nil {
		c.log.Debugf("growing %s by %s", largest.ID(), humanize.IBytes(freed))
		return m.ResizePartition(largest.ID(), largest.Size+freed)
	}
	return nil
}

func (c *Controller) reuseBootPartition(id disk.ID) error {
	m := c.model
	switch m.Bootloader {
	case disk.BootloaderBIOS:
		m.GrubInstallDevice = id
	case disk.BootloaderUEFI:
		p := m.PotentialBootPartition(id)
		fs := m.Filesystem(p.FS())
		if fs == nil {
			var err error
			if fs, err = m.AddFilesystem(p.ID(), disk.ESPFSType, false); err != nil {
				return err
			}
		}
		if fs.Mount() == "" {
			if _, err := m.AddMount(fs.ID(), disk.ESPMountpoint); err != nil {
				return err
			}
		}
	case disk.BootloaderPReP:
		p := m.PotentialBootPartition(id)
		p.Wipe = disk.WipeZero
		m.GrubInstallDevice = p.ID()
	}
	return nil
}

// checkBootRoom fails if a boot partition cannot be made to fit on the
// disk, before anything is changed.
func (c *Controller) checkBootRoom(id disk.ID) error {
	m := c.model
	need := m.BootPartitionSize(id)
	free := m.FreeForPartitions(id)
	if free >= need {
		return nil
	}
	largest := largestPartition(m.PartitionsOf(id))
	if largest == nil || largest.Size <= need-free || largest.ConstructedDevice() != "" {
		return &disk.SizingError{Container: id, Requested: need, Available: free}
	}
	return nil
}

// makeBootRoom shrinks the largest partition of the disk by exactly the
// space the boot partition is missing.
func (c *Controller) makeBootRoom(id disk.ID) error {
	m := c.model
	need := m.BootPartitionSize(id)
	free := m.FreeForPartitions(id)
	if free >= need {
		return nil
	}
	largest := largestPartition(m.PartitionsOf(id))
	if largest == nil {
		return &disk.SizingError{Container: id, Requested: need, Available: free}
	}
	shortfall := need - free
	c.log.Debugf("shrinking %s by %s", largest.ID(), humanize.IBytes(shortfall))
	return m.ResizePartition(largest.ID(), largest.Size-shortfall)
}

// createBootPartition adds the boot partition of the configured bootloader
// as first partition of the disk.
func (c *Controller) createBootPartition(id disk.ID) (*disk.Partition, error) {
	m := c.model
	size := m.BootPartitionSize(id)
	flag := m.Bootloader.BootFlag()
	switch m.Bootloader {
	case disk.BootloaderUEFI:
		c.log.Debug("adding EFI system partition")
		p, err := m.InsertPartition(id, 0, size, flag, disk.WipeNone)
		if err != nil {
			return nil, err
		}
		fs, err := m.AddFilesystem(p.ID(), disk.ESPFSType, false)
		if err != nil {
			return nil, err
		}
		if _, err := m.AddMount(fs.ID(), disk.ESPMountpoint); err != nil {
			return nil, err
		}
		return p, nil
	case disk.BootloaderPReP:
		c.log.Debug("adding PReP partition")
		// grub-install fails on a PReP partition that is not zeroed
		p, err := m.InsertPartition(id, 0, size, flag, disk.WipeZero)
		if err != nil {
			return nil, err
		}
		m.GrubInstallDevice = p.ID()
		return p, nil
	case disk.BootloaderBIOS:
		c.log.Debug("adding bios_grub partition")
		p, err := m.InsertPartition(id, 0, size, flag, disk.WipeNone)
		if err != nil {
			return nil, err
		}
		m.GrubInstallDevice = id
		return p, nil
	}
	return nil, resolutionErrorf("create boot partition", "bootloader %s needs no boot partition", m.Bootloader)
}

// largestPartition returns the biggest partition, the first one on ties.
func largestPartition(parts []*disk.Partition) *disk.Partition {
	if len(parts) == 0 {
		return nil
	}
	return lo.MaxBy(parts, func(a, b *disk.Partition) bool {
		return a.Size > b.Size
	})
}
