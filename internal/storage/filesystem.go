package storage

import (
	"github.com/osbuild/osbuild-storage/internal/disk"
)

// CreateFilesystem formats volume according to spec and mounts it. With an
// empty FSType the filesystem found on the volume when it was probed is put
// back; if there was none, nothing is created and nil is returned.
func (c *Controller) CreateFilesystem(volume disk.ID, spec Spec) (*disk.Filesystem, error) {
	fs, err := c.createFilesystem(volume, spec)
	return fs, c.observe("create filesystem", err)
}

func (c *Controller) createFilesystem(volume disk.ID, spec Spec) (*disk.Filesystem, error) {
	m := c.model
	v := m.Volume(volume)
	if v == nil {
		return nil, resolutionErrorf("create filesystem", "%s is not a volume", volume)
	}

	var fs *disk.Filesystem
	if spec.FSType == "" {
		fs = v.OriginalFS()
		if fs == nil {
			return nil, nil
		}
		if err := m.ReAddFilesystem(fs); err != nil {
			return nil, err
		}
	} else {
		var err error
		fs, err = m.AddFilesystem(volume, spec.FSType, false)
		if err != nil {
			return nil, err
		}
	}

	if p := m.Partition(volume); p != nil {
		if spec.FSType == "swap" {
			p.Flag = disk.FlagSwap
		} else if p.Flag == disk.FlagSwap {
			p.Flag = disk.FlagNone
		}
	}
	if spec.FSType == "swap" || (spec.FSType == "" && spec.UseSwap) {
		if _, err := m.AddMount(fs.ID(), ""); err != nil {
			return nil, err
		}
	}
	if _, err := c.createMount(fs.ID(), spec.Mount); err != nil {
		return nil, err
	}
	return fs, nil
}

// checkSpec rejects a spec that createFilesystem would fail on after the
// handler has already changed the model. volume is the volume that will be
// reformatted, if any.
func (c *Controller) checkSpec(op string, volume disk.ID, spec Spec) error {
	if spec.FSType == "swap" && spec.Mount != "" {
		return resolutionErrorf(op, "swap cannot be mounted at %s", spec.Mount)
	}
	return c.model.CheckMountPath(spec.Mount, volume)
}

// checkEdit is checkSpec for a volume that is reformatted in place, without
// being cleared first.
func (c *Controller) checkEdit(op string, volume disk.ID, spec Spec) error {
	v := c.model.Volume(volume)
	if owner := v.ConstructedDevice(); owner != "" && (spec.FSType != "" || v.OriginalFS() != nil) {
		return resolutionErrorf(op, "%s is in use by %s", volume, owner)
	}
	return c.checkSpec(op, volume, spec)
}

// CreateMount mounts a filesystem at path. If the model still needs a boot
// partition afterwards and the filesystem lives on a disk that can boot the
// system, an attempt is made to turn that disk into the boot disk. Failing
// to do so does not fail the mount.
func (c *Controller) CreateMount(fs disk.ID, path string) (*disk.Mount, error) {
	mnt, err := c.createMount(fs, path)
	return mnt, c.observe("create mount", err)
}

func (c *Controller) createMount(fsID disk.ID, path string) (*disk.Mount, error) {
	if path == "" {
		return nil, nil
	}
	m := c.model
	mnt, err := m.AddMount(fsID, path)
	if err != nil {
		return nil, err
	}
	if !m.NeedsBootloaderPartition() {
		return mnt, nil
	}
	fs := m.Filesystem(fsID)
	if p := m.Partition(fs.Volume); p != nil && m.Disk(p.Device) != nil && m.CanBeBootDisk(p.Device) {
		// Finish reports the configuration as incomplete if no other disk
		// gets the boot partition.
		if err := c.makeBootDisk(p.Device); err != nil {
			c.log.WithError(err).WithField("disk", p.Device).Warn("cannot make boot disk")
		}
	}
	return mnt, nil
}
