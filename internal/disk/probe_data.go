package disk

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
)

// probeDocument is the part of the probe document the model consumes. The
// document is produced by the hardware prober; unknown keys are ignored.
type probeDocument struct {
	Blockdev   map[string]probeBlockdev   `mapstructure:"blockdev"`
	Filesystem map[string]probeFilesystem `mapstructure:"filesystem"`
	Raid       map[string]probeRaid       `mapstructure:"raid"`
}

type probeBlockdev struct {
	DevType        string               `mapstructure:"DEVTYPE"`
	Serial         string               `mapstructure:"ID_SERIAL"`
	IDPath         string               `mapstructure:"ID_PATH"`
	FSType         string               `mapstructure:"ID_FS_TYPE"`
	FSUUID         string               `mapstructure:"ID_FS_UUID"`
	FSLabel        string               `mapstructure:"ID_FS_LABEL"`
	Attrs          probeAttrs           `mapstructure:"attrs"`
	PartitionTable *probePartitionTable `mapstructure:"partitiontable"`
}

type probeAttrs struct {
	Size     uint64 `mapstructure:"size"`
	ReadOnly bool   `mapstructure:"ro"`
}

type probePartitionTable struct {
	Label      string           `mapstructure:"label"`
	Partitions []probePartition `mapstructure:"partitions"`
}

type probePartition struct {
	Node     string `mapstructure:"node"`
	Start    uint64 `mapstructure:"start"`
	Size     uint64 `mapstructure:"size"`
	Type     string `mapstructure:"type"`
	Bootable bool   `mapstructure:"bootable"`
}

type probeFilesystem struct {
	Type  string `mapstructure:"TYPE"`
	UUID  string `mapstructure:"UUID"`
	Label string `mapstructure:"LABEL"`
}

type probeRaid struct {
	Level        string   `mapstructure:"raidlevel"`
	Devices      []string `mapstructure:"devices"`
	SpareDevices []string `mapstructure:"spare_devices"`
}

// Filesystem types that mark a volume as a member of a constructed device
// rather than a filesystem.
var memberFSTypes = map[string]bool{
	"linux_raid_member": true,
	"LVM2_member":       true,
	"crypto_LUKS":       true,
}

func decodeProbeDocument(data map[string]interface{}) (*probeDocument, error) {
	var doc probeDocument
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &doc,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(data); err != nil {
		return nil, err
	}
	if doc.Blockdev == nil {
		return nil, fmt.Errorf("probe document has no blockdev section")
	}
	return &doc, nil
}

// DeviceFilter excludes block devices from the model by path glob.
type DeviceFilter struct {
	patterns []string
	globs    []glob.Glob
}

func NewDeviceFilter(patterns []string) (DeviceFilter, error) {
	f := DeviceFilter{patterns: patterns}
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return DeviceFilter{}, fmt.Errorf("invalid device pattern %q: %w", p, err)
		}
		f.globs = append(f.globs, g)
	}
	return f, nil
}

// Excluded reports whether the device at path is filtered out.
func (f DeviceFilter) Excluded(path string) bool {
	for _, g := range f.globs {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// LoadProbeData replaces all probe-derived state of the model with the
// content of a probe document and drops all edits. The bootloader setting
// is kept. On error the model is left as it was.
func (m *Model) LoadProbeData(data map[string]interface{}) error {
	doc, err := decodeProbeDocument(data)
	if err != nil {
		return &LoadError{Reason: "cannot decode probe document", Err: err}
	}

	saved := *m
	if err := m.build(doc); err != nil {
		*m = saved
		return err
	}
	m.probeData = data
	if len(m.AllDisks()) == 0 {
		m.log.Warn("probing found no usable disks")
	}
	return nil
}

// Reset drops all edits and returns the model to the state of the last
// loaded probe document.
func (m *Model) Reset() error {
	if m.probeData == nil {
		m.clearEntities()
		return nil
	}
	doc, err := decodeProbeDocument(m.probeData)
	if err != nil {
		return &LoadError{Reason: "cannot decode probe document", Err: err}
	}
	return m.build(doc)
}

// HasProbeData reports whether a probe document has been loaded.
func (m *Model) HasProbeData() bool {
	return m.probeData != nil
}

func (m *Model) clearEntities() {
	m.entities = make(map[ID]Entity)
	m.order = nil
	m.counters = make(map[Kind]int)
	m.GrubInstallDevice = ""
}

func (m *Model) build(doc *probeDocument) error {
	m.clearEntities()
	byPath := make(map[string]ID)

	for _, path := range sortedKeys(doc.Blockdev) {
		dev := doc.Blockdev[path]
		if dev.DevType != "disk" || isMDPath(path) {
			continue
		}
		if m.filter.Excluded(path) {
			m.log.WithField("device", path).Debug("device excluded")
			continue
		}
		if dev.Attrs.ReadOnly || dev.Attrs.Size == 0 {
			m.log.WithField("device", path).Debug("skipping read-only or empty device")
			continue
		}
		d := m.AddDisk(path, dev.Attrs.Size)
		d.Serial = dev.Serial
		d.IDPath = dev.IDPath
		byPath[path] = d.id
		if err := m.loadPartitions(d.id, &d.containerBase, &d.PTable, dev, byPath); err != nil {
			return err
		}
		d.Preserve = len(d.partitions) > 0
	}

	for _, path := range sortedKeys(doc.Raid) {
		if err := m.loadRaid(path, doc, byPath); err != nil {
			return err
		}
	}

	for _, path := range sortedKeys(byPath) {
		m.loadFilesystem(byPath[path], path, doc)
	}
	return nil
}

func isMDPath(path string) bool {
	return strings.HasPrefix(path, "/dev/md")
}

func (m *Model) loadPartitions(owner ID, c *containerBase, ptable *string, dev probeBlockdev, byPath map[string]ID) error {
	pt := dev.PartitionTable
	if pt == nil {
		return nil
	}
	*ptable = pt.Label
	if *ptable == "dos" {
		*ptable = "msdos"
	}
	var used uint64
	for _, pp := range pt.Partitions {
		size := SectorsToBytes(pp.Size)
		used += size
		p := &Partition{
			id:       m.newID(KindPartition),
			Device:   owner,
			Size:     size,
			Flag:     flagForPartitionType(*ptable, pp.Type),
			Path:     pp.Node,
			Preserve: true,
		}
		m.insert(p)
		c.partitions = append(c.partitions, p.id)
		byPath[pp.Node] = p.id
	}
	// md arrays report partitions relative to the array, whose metadata
	// overhead we only approximate
	if d := m.Disk(owner); d != nil && used > d.Size {
		return &LoadError{Reason: fmt.Sprintf("partitions of %s exceed its size (%d > %d)", d.Path, used, d.Size)}
	}
	return nil
}

func (m *Model) loadRaid(path string, doc *probeDocument, byPath map[string]ID) error {
	pr := doc.Raid[path]
	level, err := ParseRaidLevel(pr.Level)
	if err != nil {
		return &LoadError{Reason: fmt.Sprintf("raid %s", path), Err: err}
	}
	resolve := func(paths []string) ([]ID, error) {
		var ids []ID
		for _, p := range paths {
			id, ok := byPath[p]
			if !ok {
				return nil, &LoadError{Reason: fmt.Sprintf("raid %s references unknown device %s", path, p)}
			}
			ids = append(ids, id)
		}
		return ids, nil
	}
	devices, err := resolve(pr.Devices)
	if err != nil {
		return err
	}
	spares, err := resolve(pr.SpareDevices)
	if err != nil {
		return err
	}
	r := &Raid{
		id:           m.newID(KindRaid),
		Name:         strings.TrimPrefix(path, "/dev/"),
		Level:        level,
		Devices:      devices,
		SpareDevices: spares,
		Path:         path,
		Preserve:     true,
	}
	m.insert(r)
	m.attach(r.id, members(r))
	byPath[path] = r.id
	if dev, ok := doc.Blockdev[path]; ok {
		return m.loadPartitions(r.id, &r.containerBase, &r.PTable, dev, byPath)
	}
	return nil
}

func (m *Model) loadFilesystem(id ID, path string, doc *probeDocument) {
	v := m.Volume(id)
	if v == nil || v.base().inUse() {
		return
	}
	if c, ok := v.(Container); ok && c.GetItemCount() > 0 {
		return
	}
	fsType, fsUUID, fsLabel := "", "", ""
	if f, ok := doc.Filesystem[path]; ok {
		fsType, fsUUID, fsLabel = f.Type, f.UUID, f.Label
	} else if dev, ok := doc.Blockdev[path]; ok {
		fsType, fsUUID, fsLabel = dev.FSType, dev.FSUUID, dev.FSLabel
	}
	if fsType == "" || memberFSTypes[fsType] {
		return
	}
	fs := &Filesystem{
		id:       m.newID(KindFilesystem),
		Volume:   id,
		FSType:   fsType,
		UUID:     fsUUID,
		Label:    fsLabel,
		Preserve: true,
	}
	m.insert(fs)
	v.base().fs = fs.id
	v.base().originalFS = fs
	m.log.WithFields(logrus.Fields{
		"volume": id,
		"fstype": fsType,
	}).Debug("found existing filesystem")
}
