package disk

import (
	"os"

	"github.com/osbuild/osbuild-storage/internal/common"
)

const (
	// BIOSBootPartitionSize is the size of the bios_grub partition.
	BIOSBootPartitionSize = 1 * MiB
	// PRePPartitionSize is the size of the PowerPC PReP boot partition.
	PRePPartitionSize = 8 * MiB
	// ESPSize is the nominal size of the EFI system partition.
	ESPSize = 512 * MiB

	ESPMountpoint = "/boot/efi"
	ESPFSType     = "fat32"
)

// BootPartitionSize returns the size of the boot-support partition the
// configured bootloader needs on the given disk. The ESP is shrunk to half
// the disk on disks smaller than twice its nominal size.
func (m *Model) BootPartitionSize(disk ID) uint64 {
	switch m.Bootloader {
	case BootloaderBIOS:
		return BIOSBootPartitionSize
	case BootloaderPReP:
		return PRePPartitionSize
	case BootloaderUEFI:
		d := m.Disk(disk)
		if d != nil && d.Size < 2*ESPSize {
			return AlignDown(d.Size / 2)
		}
		return ESPSize
	}
	return 0
}

// BootFlag returns the partition flag of the boot-support partition.
func (b Bootloader) BootFlag() string {
	switch b {
	case BootloaderBIOS:
		return FlagBIOSGrub
	case BootloaderUEFI:
		return FlagBoot
	case BootloaderPReP:
		return FlagPReP
	}
	return ""
}

// IsESP reports whether the partition is an EFI system partition.
func (p *Partition) IsESP() bool {
	return p.Flag == FlagBoot
}

// NeedsBootloaderPartition reports whether the model still lacks the
// boot-support partition of its bootloader.
func (m *Model) NeedsBootloaderPartition() bool {
	switch m.Bootloader {
	case BootloaderBIOS:
		return m.GrubInstallDevice == ""
	case BootloaderUEFI:
		mnt := m.MountForPath(ESPMountpoint)
		if mnt == nil {
			return true
		}
		fs := m.Filesystem(mnt.Device)
		if fs == nil {
			return true
		}
		p := m.Partition(fs.Volume)
		return p == nil || !p.IsESP()
	case BootloaderPReP:
		for _, d := range m.AllDisks() {
			for _, p := range m.PartitionsOf(d.id) {
				if p.Flag == FlagPReP && p.Wipe != WipeNone {
					return false
				}
			}
		}
		return true
	}
	return false
}

// HasPreexistingPartition reports whether the disk carries a partition
// found on the system.
func (m *Model) HasPreexistingPartition(disk ID) bool {
	for _, p := range m.PartitionsOf(disk) {
		if p.Preserve {
			return true
		}
	}
	return false
}

// PotentialBootPartition returns the existing partition of the disk that can
// serve as its boot-support partition, or nil.
func (m *Model) PotentialBootPartition(disk ID) *Partition {
	parts := m.PartitionsOf(disk)
	switch m.Bootloader {
	case BootloaderBIOS:
		if len(parts) > 0 && parts[0].Flag == FlagBIOSGrub {
			return parts[0]
		}
	case BootloaderUEFI:
		for _, p := range parts {
			if p.IsESP() {
				return p
			}
		}
	case BootloaderPReP:
		for _, p := range parts {
			if p.Flag == FlagPReP {
				return p
			}
		}
	}
	return nil
}

// CanBeBootDisk reports whether the disk can be made the boot disk. Disks
// with partitions found on the system must already carry a usable
// boot-support partition (or an msdos table for BIOS).
func (m *Model) CanBeBootDisk(disk ID) bool {
	d := m.Disk(disk)
	if d == nil || m.Bootloader == BootloaderNone || d.inUse() {
		return false
	}
	if m.HasPreexistingPartition(disk) {
		if m.Bootloader == BootloaderBIOS && d.PTable == "msdos" {
			return true
		}
		return m.PotentialBootPartition(disk) != nil
	}
	return d.Size > m.BootPartitionSize(disk)
}

// DetectBootloader returns the bootloader of the running machine.
func DetectBootloader() Bootloader {
	_, err := os.Stat("/sys/firmware/efi")
	return detectBootloader(common.CurrentArch(), err == nil)
}

func detectBootloader(arch string, efi bool) Bootloader {
	switch arch {
	case "s390x":
		return BootloaderNone
	case "ppc64le":
		return BootloaderPReP
	}
	if efi {
		return BootloaderUEFI
	}
	return BootloaderBIOS
}
