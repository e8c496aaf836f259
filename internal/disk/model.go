// Package disk contains the storage model of the installation target.
//
// The Model is an arena of entities (disks, partitions, RAID arrays, LVM
// volume groups and logical volumes, dm-crypt devices, filesystems and
// mounts) addressed by stable IDs. Relationships between entities are
// stored as IDs, never as pointers, so the layered device graph does not
// form ownership cycles. All mutations go through Model methods which keep
// the graph consistent:
//
//   - a volume carries at most one filesystem and is consumed by at most
//     one constructed device (RAID, volume group or dm-crypt),
//   - the partitions of a container never exceed its capacity,
//   - containers are only removed once nothing is built on top of them.
//
// The Model is not safe for concurrent use; it is owned by the event loop.
package disk

import (
	"fmt"
	"sort"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// ID identifies an entity of the Model. IDs are stable for the lifetime of
// the entity and are never reused within one Model.
type ID string

type Kind int

const (
	KindDisk Kind = iota
	KindPartition
	KindRaid
	KindVolumeGroup
	KindLogicalVolume
	KindDMCrypt
	KindFilesystem
	KindMount
)

func getKindMapping() []string {
	return []string{"disk", "partition", "raid", "lvm_volgroup", "lvm_partition", "dm_crypt", "format", "mount"}
}

func (k Kind) String() string {
	mapping := getKindMapping()
	if int(k) < 0 || int(k) >= len(mapping) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return mapping[k]
}

type Entity interface {
	ID() ID
	Kind() Kind
}

// Volume is an entity that can carry a filesystem or be consumed by a
// constructed device.
type Volume interface {
	Entity
	// FS returns the ID of the filesystem on the volume, if any.
	FS() ID
	// ConstructedDevice returns the ID of the RAID, volume group or
	// dm-crypt device consuming the volume, if any.
	ConstructedDevice() ID
	// OriginalFS returns the filesystem found on the volume when it was
	// probed, or nil.
	OriginalFS() *Filesystem

	base() *volumeBase
}

// Container is an entity that holds an ordered list of partitions (or
// logical volumes in the case of a volume group).
type Container interface {
	Entity
	Partitions() []ID
	GetItemCount() uint
}

type volumeBase struct {
	fs          ID
	constructed ID
	originalFS  *Filesystem
}

func (v *volumeBase) FS() ID                  { return v.fs }
func (v *volumeBase) ConstructedDevice() ID   { return v.constructed }
func (v *volumeBase) OriginalFS() *Filesystem { return v.originalFS }
func (v *volumeBase) base() *volumeBase       { return v }

func (v *volumeBase) inUse() bool {
	return v.fs != "" || v.constructed != ""
}

type containerBase struct {
	partitions []ID
}

func (c *containerBase) Partitions() []ID {
	return append([]ID(nil), c.partitions...)
}

func (c *containerBase) GetItemCount() uint {
	return uint(len(c.partitions))
}

func (c *containerBase) removeChild(id ID) {
	c.partitions = lo.Without(c.partitions, id)
}

type Bootloader int

const (
	BootloaderNone Bootloader = iota
	BootloaderBIOS
	BootloaderUEFI
	BootloaderPReP
)

func (b Bootloader) String() string {
	switch b {
	case BootloaderBIOS:
		return "bios"
	case BootloaderUEFI:
		return "uefi"
	case BootloaderPReP:
		return "prep"
	default:
		return "none"
	}
}

// ParseBootloader converts the configuration name of a bootloader target.
func ParseBootloader(name string) (Bootloader, error) {
	switch name {
	case "bios", "BIOS":
		return BootloaderBIOS, nil
	case "uefi", "UEFI":
		return BootloaderUEFI, nil
	case "prep", "PREP", "PReP":
		return BootloaderPReP, nil
	case "none", "NONE":
		return BootloaderNone, nil
	}
	return BootloaderNone, fmt.Errorf("unknown bootloader %q", name)
}

type Model struct {
	// Bootloader is the boot-support mechanism of the installation. It is
	// a setting of the model and survives probe data reloads.
	Bootloader Bootloader

	// GrubInstallDevice is the disk (BIOS) or partition (PReP) the
	// bootloader installer must target.
	GrubInstallDevice ID

	entities map[ID]Entity
	order    []ID
	counters map[Kind]int

	probeData map[string]interface{}
	filter    DeviceFilter

	log logrus.FieldLogger
}

func NewModel(bootloader Bootloader) *Model {
	return &Model{
		Bootloader: bootloader,
		entities:   make(map[ID]Entity),
		counters:   make(map[Kind]int),
		log:        logrus.StandardLogger(),
	}
}

// SetLogger replaces the logger used to record mutations.
func (m *Model) SetLogger(log logrus.FieldLogger) {
	m.log = log
}

// SetDeviceFilter sets the filter applied to block devices when loading
// probe data.
func (m *Model) SetDeviceFilter(filter DeviceFilter) {
	m.filter = filter
}

func (m *Model) newID(kind Kind) ID {
	n := m.counters[kind]
	m.counters[kind] = n + 1
	return ID(fmt.Sprintf("%s-%d", kind, n))
}

func (m *Model) insert(e Entity) {
	m.entities[e.ID()] = e
	m.order = append(m.order, e.ID())
}

func (m *Model) drop(id ID) {
	delete(m.entities, id)
	m.order = lo.Without(m.order, id)
}

// Get returns the entity with the given ID or nil.
func (m *Model) Get(id ID) Entity {
	if id == "" {
		return nil
	}
	return m.entities[id]
}

func (m *Model) Volume(id ID) Volume {
	v, _ := m.Get(id).(Volume)
	return v
}

func (m *Model) Container(id ID) Container {
	c, _ := m.Get(id).(Container)
	return c
}

func (m *Model) Disk(id ID) *Disk {
	d, _ := m.Get(id).(*Disk)
	return d
}

func (m *Model) Partition(id ID) *Partition {
	p, _ := m.Get(id).(*Partition)
	return p
}

func (m *Model) Raid(id ID) *Raid {
	r, _ := m.Get(id).(*Raid)
	return r
}

func (m *Model) VolumeGroup(id ID) *VolumeGroup {
	vg, _ := m.Get(id).(*VolumeGroup)
	return vg
}

func (m *Model) LogicalVolume(id ID) *LogicalVolume {
	lv, _ := m.Get(id).(*LogicalVolume)
	return lv
}

func (m *Model) DMCrypt(id ID) *DMCrypt {
	dm, _ := m.Get(id).(*DMCrypt)
	return dm
}

func (m *Model) Filesystem(id ID) *Filesystem {
	fs, _ := m.Get(id).(*Filesystem)
	return fs
}

func (m *Model) Mount(id ID) *Mount {
	mnt, _ := m.Get(id).(*Mount)
	return mnt
}

func allOfType[T Entity](m *Model) []T {
	var res []T
	for _, id := range m.order {
		if e, ok := m.entities[id].(T); ok {
			res = append(res, e)
		}
	}
	return res
}

// AllDisks returns the disks in probe order.
func (m *Model) AllDisks() []*Disk {
	return allOfType[*Disk](m)
}

func (m *Model) AllRaids() []*Raid {
	return allOfType[*Raid](m)
}

func (m *Model) AllVolumeGroups() []*VolumeGroup {
	return allOfType[*VolumeGroup](m)
}

func (m *Model) AllMounts() []*Mount {
	return allOfType[*Mount](m)
}

// PartitionsOf returns the partitions of a disk or RAID in on-disk order.
func (m *Model) PartitionsOf(id ID) []*Partition {
	c := m.Container(id)
	if c == nil {
		return nil
	}
	var res []*Partition
	for _, pid := range c.Partitions() {
		if p := m.Partition(pid); p != nil {
			res = append(res, p)
		}
	}
	return res
}

// LogicalVolumesOf returns the logical volumes of a volume group in
// creation order.
func (m *Model) LogicalVolumesOf(id ID) []*LogicalVolume {
	vg := m.VolumeGroup(id)
	if vg == nil {
		return nil
	}
	var res []*LogicalVolume
	for _, lvid := range vg.partitions {
		if lv := m.LogicalVolume(lvid); lv != nil {
			res = append(res, lv)
		}
	}
	return res
}

// FilesystemOf returns the filesystem on the given volume or nil.
func (m *Model) FilesystemOf(volume ID) *Filesystem {
	v := m.Volume(volume)
	if v == nil {
		return nil
	}
	return m.Filesystem(v.FS())
}

// MountOf returns the mount of the given filesystem or nil.
func (m *Model) MountOf(fs ID) *Mount {
	f := m.Filesystem(fs)
	if f == nil {
		return nil
	}
	return m.Mount(f.mount)
}

// MountForPath returns the mount at path or nil.
func (m *Model) MountForPath(path string) *Mount {
	for _, mnt := range m.AllMounts() {
		if mnt.Path == path {
			return mnt
		}
	}
	return nil
}

// SizeOf returns the usable size of a volume in bytes.
func (m *Model) SizeOf(id ID) uint64 {
	switch e := m.Get(id).(type) {
	case *Disk:
		return e.Size
	case *Partition:
		return e.Size
	case *LogicalVolume:
		return e.Size
	case *DMCrypt:
		return subtract(m.SizeOf(e.Volume), LUKSOverhead)
	case *Raid:
		return raidSize(e.Level, m.memberSizes(e.Devices))
	case *VolumeGroup:
		return m.volumeGroupSize(e.Devices)
	}
	return 0
}

func (m *Model) memberSizes(ids []ID) []uint64 {
	return lo.Map(ids, func(id ID, _ int) uint64 {
		return m.SizeOf(id)
	})
}

func (m *Model) volumeGroupSize(devices []ID) uint64 {
	var size uint64
	for _, s := range m.memberSizes(devices) {
		size += AlignDown(subtract(s, LVMOverhead))
	}
	return size
}

func (m *Model) usedBy(c Container) uint64 {
	var used uint64
	for _, id := range c.Partitions() {
		used += m.SizeOf(id)
	}
	return used
}

// FreeForPartitions returns the space left for new partitions (or logical
// volumes) in the given container.
func (m *Model) FreeForPartitions(id ID) uint64 {
	c := m.Container(id)
	if c == nil {
		return 0
	}
	return subtract(m.SizeOf(id), m.usedBy(c))
}

// IsComplete reports whether the model describes an installable system: a
// root filesystem is mounted and no boot-support partition is missing.
func (m *Model) IsComplete() bool {
	return m.MountForPath("/") != nil && !m.NeedsBootloaderPartition()
}

// sortedKeys is used to iterate maps from probe data deterministically.
func sortedKeys[V any](mp map[string]V) []string {
	keys := make([]string, 0, len(mp))
	for k := range mp {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
