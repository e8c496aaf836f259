package disk

const (
	KiB = uint64(1024)
	MiB = 1024 * KiB
	GiB = 1024 * MiB

	// Default sector size in bytes
	DefaultSectorSize = uint64(512)

	// Default grain size in bytes. The grain controls how sizes of
	// partitions and logical volumes are aligned.
	DefaultGrainBytes = MiB

	// Space taken from every physical volume for LVM metadata.
	LVMOverhead = MiB

	// Space taken from every RAID member for the md superblock.
	RaidOverhead = MiB

	// 16 MiB is the default size for the LUKS2 header
	LUKSOverhead = 16 * MiB
)

// AlignUp will align the given bytes to next aligned grain if not already
// aligned
func AlignUp(size uint64) uint64 {
	grain := DefaultGrainBytes
	if size%grain == 0 {
		// already aligned: return unchanged
		return size
	}
	return ((size + grain) / grain) * grain
}

// AlignDown will align the given bytes to the previous aligned grain.
func AlignDown(size uint64) uint64 {
	return (size / DefaultGrainBytes) * DefaultGrainBytes
}

// Convert the given number of sectors to bytes.
func SectorsToBytes(sectors uint64) uint64 {
	return sectors * DefaultSectorSize
}

// subtract returns a - b, or 0 if b is larger.
func subtract(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}
