package disk

type Wipe string

const (
	WipeNone                Wipe = ""
	WipeSuperblock          Wipe = "superblock"
	WipeSuperblockRecursive Wipe = "superblock-recursive"
	WipeZero                Wipe = "zero"
)

type Disk struct {
	volumeBase
	containerBase

	id ID

	Path   string // Device node, e.g. /dev/sda
	Serial string
	IDPath string // udev ID_PATH
	Size   uint64 // Size of the disk in bytes
	PTable string // Partition table type, e.g. gpt, msdos; empty if none

	// Preserve keeps the existing partition table and data.
	Preserve bool
	Wipe     Wipe
}

func (d *Disk) ID() ID     { return d.id }
func (d *Disk) Kind() Kind { return KindDisk }

// AddDisk registers a physical disk with the model. Disks are normally
// created by LoadProbeData.
func (m *Model) AddDisk(path string, size uint64) *Disk {
	d := &Disk{
		id:   m.newID(KindDisk),
		Path: path,
		Size: size,
	}
	m.insert(d)
	return d
}
