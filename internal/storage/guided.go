package storage

import (
	"github.com/osbuild/osbuild-storage/internal/disk"
)

const (
	GuidedDirect = "direct"
	GuidedLVM    = "lvm"

	guidedBootSize = 1 * disk.GiB
	guidedVGName   = "ubuntu-vg"
	guidedLVName   = "ubuntu-lv"
)

// Guided erases a disk and installs a default layout on it: a single root
// partition (direct) or a /boot partition and a volume group with a root
// logical volume (lvm).
func (c *Controller) Guided(id disk.ID, method string) error {
	return c.observe("guided", c.guided(id, method))
}

func (c *Controller) guided(id disk.ID, method string) error {
	const op = "guided"
	m := c.model
	if m.Disk(id) == nil {
		return resolutionErrorf(op, "%s is not a disk", id)
	}
	if method != GuidedDirect && method != GuidedLVM {
		return resolutionErrorf(op, "unknown guided method %q", method)
	}
	c.log.WithField("disk", id).Infof("guided %s layout", method)

	if err := m.Reformat(id); err != nil {
		return err
	}

	if method == GuidedDirect {
		_, err := c.partitionDisk(id, "", Spec{
			Size:   disk.AlignDown(m.FreeForPartitions(id)),
			FSType: "ext4",
			Mount:  "/",
		})
		return err
	}

	if m.NeedsBootloaderPartition() && m.CanBeBootDisk(id) {
		if _, err := c.createBootPartition(id); err != nil {
			return err
		}
	}
	if _, err := c.partitionDisk(id, "", Spec{Size: guidedBootSize, FSType: "ext4", Mount: "/boot"}); err != nil {
		return err
	}
	pv, err := c.partitionDisk(id, "", Spec{Size: disk.AlignDown(m.FreeForPartitions(id))})
	if err != nil {
		return err
	}
	vg, err := c.volGroup("", VolGroupSpec{Name: guidedVGName, Devices: []disk.ID{pv.ID()}})
	if err != nil {
		return err
	}
	_, err = c.logicalVolume(vg.ID(), "", Spec{
		Name:   guidedLVName,
		Size:   disk.AlignDown(m.FreeForPartitions(vg.ID())),
		FSType: "ext4",
		Mount:  "/",
	})
	return err
}
