package disk

import (
	"github.com/samber/lo"
)

// Action is one entry of the storage configuration handed to the
// installation executor.
type Action struct {
	Type string `yaml:"type" json:"type"`
	ID   ID     `yaml:"id" json:"id"`

	Path       string `yaml:"path,omitempty" json:"path,omitempty"`
	Serial     string `yaml:"serial,omitempty" json:"serial,omitempty"`
	PTable     string `yaml:"ptable,omitempty" json:"ptable,omitempty"`
	Preserve   bool   `yaml:"preserve" json:"preserve"`
	Wipe       Wipe   `yaml:"wipe,omitempty" json:"wipe,omitempty"`
	GrubDevice bool   `yaml:"grub_device,omitempty" json:"grub_device,omitempty"`

	Device        ID     `yaml:"device,omitempty" json:"device,omitempty"`
	Number        int    `yaml:"number,omitempty" json:"number,omitempty"`
	Size          uint64 `yaml:"size,omitempty" json:"size,omitempty"`
	Flag          string `yaml:"flag,omitempty" json:"flag,omitempty"`
	PartitionType string `yaml:"partition_type,omitempty" json:"partition_type,omitempty"`

	Name         string `yaml:"name,omitempty" json:"name,omitempty"`
	RaidLevel    string `yaml:"raidlevel,omitempty" json:"raidlevel,omitempty"`
	Devices      []ID   `yaml:"devices,omitempty" json:"devices,omitempty"`
	SpareDevices []ID   `yaml:"spare_devices,omitempty" json:"spare_devices,omitempty"`
	VolGroup     ID     `yaml:"volgroup,omitempty" json:"volgroup,omitempty"`

	Volume ID     `yaml:"volume,omitempty" json:"volume,omitempty"`
	Key    string `yaml:"key,omitempty" json:"key,omitempty"`

	FSType string `yaml:"fstype,omitempty" json:"fstype,omitempty"`
	UUID   string `yaml:"uuid,omitempty" json:"uuid,omitempty"`
	Label  string `yaml:"label,omitempty" json:"label,omitempty"`
}

func (m *Model) dependencies(e Entity) []ID {
	switch e := e.(type) {
	case *Partition:
		return []ID{e.Device}
	case *Raid:
		return members(e)
	case *VolumeGroup:
		return members(e)
	case *LogicalVolume:
		return []ID{e.VolumeGroup}
	case *DMCrypt:
		return []ID{e.Volume}
	case *Filesystem:
		return []ID{e.Volume}
	case *Mount:
		return []ID{e.Device}
	}
	return nil
}

func (m *Model) diskTouched(d *Disk) bool {
	return len(d.partitions) > 0 || d.inUse() || d.Wipe != WipeNone || m.GrubInstallDevice == d.id
}

func (m *Model) isGrubDevice(e Entity) bool {
	switch e := e.(type) {
	case *Disk:
		return m.Bootloader == BootloaderBIOS && m.GrubInstallDevice == e.id
	case *Partition:
		switch m.Bootloader {
		case BootloaderPReP:
			return m.GrubInstallDevice == e.id
		case BootloaderUEFI:
			if !e.IsESP() {
				return false
			}
			mnt := m.MountOf(e.fs)
			return mnt != nil && mnt.Path == ESPMountpoint
		}
	}
	return false
}

// Render returns the actions describing the model, every action after the
// actions it refers to. Disks nothing is done with are left out.
func (m *Model) Render() []Action {
	var actions []Action
	done := make(map[ID]bool)

	var visit func(id ID)
	visit = func(id ID) {
		if done[id] {
			return
		}
		done[id] = true
		e := m.Get(id)
		if e == nil {
			return
		}
		for _, dep := range m.dependencies(e) {
			visit(dep)
		}
		actions = append(actions, m.action(e))
	}

	for _, id := range m.order {
		if d := m.Disk(id); d != nil && !m.diskTouched(d) {
			continue
		}
		visit(id)
	}
	return actions
}

func (m *Model) action(e Entity) Action {
	a := Action{
		Type:       e.Kind().String(),
		ID:         e.ID(),
		GrubDevice: m.isGrubDevice(e),
	}
	switch e := e.(type) {
	case *Disk:
		a.Path = e.Path
		a.Serial = e.Serial
		a.PTable = e.PTable
		a.Preserve = e.Preserve
		a.Wipe = e.Wipe
	case *Partition:
		a.Device = e.Device
		a.Number = m.PartitionNumber(e.id)
		a.Size = e.Size
		a.Flag = e.Flag
		a.Wipe = e.Wipe
		a.Preserve = e.Preserve
		a.UUID = e.UUID
		if c, ok := m.Get(e.Device).(*Disk); ok {
			a.PartitionType = partitionTypeForFlag(c.PTable, e.Flag)
		}
	case *Raid:
		a.Name = e.Name
		a.RaidLevel = e.Level.String()
		a.Devices = append([]ID(nil), e.Devices...)
		a.SpareDevices = append([]ID(nil), e.SpareDevices...)
		a.PTable = e.PTable
		a.Wipe = e.Wipe
		a.Preserve = e.Preserve
	case *VolumeGroup:
		a.Name = e.Name
		a.Devices = append([]ID(nil), e.Devices...)
		a.Preserve = e.Preserve
	case *LogicalVolume:
		a.Name = e.Name
		a.VolGroup = e.VolumeGroup
		a.Size = e.Size
		a.Preserve = e.Preserve
	case *DMCrypt:
		a.Volume = e.Volume
		a.Key = e.Key
		a.Preserve = e.Preserve
	case *Filesystem:
		a.Volume = e.Volume
		a.FSType = e.FSType
		a.UUID = e.UUID
		a.Label = e.Label
		a.Preserve = e.Preserve
	case *Mount:
		a.Device = e.Device
		a.Path = e.Path
	}
	return a
}

// RenderedIDs returns the IDs of the rendered actions in order.
func RenderedIDs(actions []Action) []ID {
	return lo.Map(actions, func(a Action, _ int) ID { return a.ID })
}
