package disk

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Filesystem is a format operation on a volume.
type Filesystem struct {
	id ID

	Volume ID
	FSType string
	// ID of the filesystem, vfat doesn't use traditional UUIDs, therefore this
	// is just a string.
	UUID  string
	Label string

	// Preserve marks a filesystem found on the system that is kept as is.
	Preserve bool

	mount ID
}

func (fs *Filesystem) ID() ID     { return fs.id }
func (fs *Filesystem) Kind() Kind { return KindFilesystem }

// Mount returns the ID of the mount of the filesystem, if any.
func (fs *Filesystem) Mount() ID { return fs.mount }

// Mount attaches a filesystem to a path in the target system. An empty path
// is used for swap.
type Mount struct {
	id ID

	Device ID
	Path   string
}

func (mnt *Mount) ID() ID     { return mnt.id }
func (mnt *Mount) Kind() Kind { return KindMount }

func (m *Model) checkFormattable(volume ID) (Volume, error) {
	v := m.Volume(volume)
	if v == nil {
		return nil, integrityErrorf(volume, "not a volume")
	}
	if v.base().inUse() {
		return nil, integrityErrorf(volume, "volume is already formatted or in use")
	}
	if c, ok := v.(Container); ok && c.GetItemCount() > 0 {
		return nil, integrityErrorf(volume, "volume is partitioned")
	}
	return v, nil
}

// AddFilesystem formats volume with fstype.
func (m *Model) AddFilesystem(volume ID, fstype string, preserve bool) (*Filesystem, error) {
	v, err := m.checkFormattable(volume)
	if err != nil {
		return nil, err
	}
	if fstype == "" {
		return nil, integrityErrorf(volume, "filesystem type must not be empty")
	}
	fs := &Filesystem{
		id:       m.newID(KindFilesystem),
		Volume:   volume,
		FSType:   fstype,
		Preserve: preserve,
	}
	if !preserve {
		fs.UUID = uuid.New().String()
	}
	m.insert(fs)
	v.base().fs = fs.id
	m.log.WithFields(logrus.Fields{
		"filesystem": fs.id,
		"volume":     volume,
		"fstype":     fstype,
	}).Debug("added filesystem")
	return fs, nil
}

// ReAddFilesystem puts a filesystem object previously removed from this
// model back on its volume, keeping its identity. It is used to restore
// the original filesystem of a volume.
func (m *Model) ReAddFilesystem(fs *Filesystem) error {
	if fs == nil {
		return integrityErrorf("", "no filesystem")
	}
	if m.Get(fs.id) != nil {
		return integrityErrorf(fs.id, "filesystem is already part of the model")
	}
	v, err := m.checkFormattable(fs.Volume)
	if err != nil {
		return err
	}
	fs.mount = ""
	m.insert(fs)
	v.base().fs = fs.id
	return nil
}

// RemoveFilesystem removes an unmounted filesystem from its volume.
func (m *Model) RemoveFilesystem(id ID) error {
	fs := m.Filesystem(id)
	if fs == nil {
		return integrityErrorf(id, "no such filesystem")
	}
	if fs.mount != "" {
		return integrityErrorf(id, "filesystem is mounted")
	}
	if v := m.Volume(fs.Volume); v != nil && v.FS() == id {
		v.base().fs = ""
	}
	m.drop(id)
	m.log.WithField("filesystem", id).Debug("removed filesystem")
	return nil
}

// AddMount mounts a filesystem at path. Mount points are unique and must
// pass the mountpoint policy; the empty path is used for swap.
func (m *Model) AddMount(fsID ID, path string) (*Mount, error) {
	fs := m.Filesystem(fsID)
	if fs == nil {
		return nil, integrityErrorf(fsID, "no such filesystem")
	}
	if fs.mount != "" {
		return nil, integrityErrorf(fsID, "filesystem is already mounted")
	}
	if err := m.CheckMountPath(path, fsID); err != nil {
		return nil, err
	}
	mnt := &Mount{
		id:     m.newID(KindMount),
		Device: fsID,
		Path:   path,
	}
	m.insert(mnt)
	fs.mount = mnt.id
	m.log.WithFields(logrus.Fields{
		"mount":      mnt.id,
		"filesystem": fsID,
		"path":       path,
	}).Debug("added mount")
	return mnt, nil
}

// CheckMountPath verifies that path may be used as a new mount point for
// id. If id is a volume, a mount of its current filesystem is ignored as it
// goes away when the volume is reformatted. The empty path is always valid.
func (m *Model) CheckMountPath(path string, id ID) error {
	if path == "" {
		return nil
	}
	if err := DefaultMountPolicies.Check(path); err != nil {
		return integrityErrorf(id, "%v", err)
	}
	other := m.MountForPath(path)
	if other == nil {
		return nil
	}
	if fs := m.Filesystem(other.Device); fs != nil && id != "" && fs.Volume == id {
		return nil
	}
	return integrityErrorf(other.id, "%s is already mounted", path)
}

func (m *Model) RemoveMount(id ID) error {
	mnt := m.Mount(id)
	if mnt == nil {
		return integrityErrorf(id, "no such mount")
	}
	if fs := m.Filesystem(mnt.Device); fs != nil && fs.mount == id {
		fs.mount = ""
	}
	m.drop(id)
	m.log.WithField("mount", id).Debug("removed mount")
	return nil
}
