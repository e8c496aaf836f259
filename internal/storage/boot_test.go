package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osbuild/osbuild-storage/internal/disk"
)

func TestUEFIBootPartitionSize(t *testing.T) {
	tests := []struct {
		diskSize uint64
		espSize  uint64
	}{
		{20 * disk.GiB, 512 * disk.MiB},
		{1 * disk.GiB, 512 * disk.MiB},
		{600 * disk.MiB, 300 * disk.MiB},
	}

	for _, tt := range tests {
		c, m := newTestController(t, disk.BootloaderUEFI)
		d := m.AddDisk("/dev/vda", tt.diskSize)

		_, err := c.PartitionDiskHandler(d.ID(), "", Spec{Size: tt.diskSize, FSType: "ext4", Mount: "/"})
		require.NoError(t, err)

		parts := m.PartitionsOf(d.ID())
		require.Len(t, parts, 2)
		assert.Equal(t, disk.FlagBoot, parts[0].Flag)
		assert.Equal(t, tt.espSize, parts[0].Size)
		assert.Equal(t, disk.ESPFSType, m.FilesystemOf(parts[0].ID()).FSType)
		assert.Equal(t, disk.ESPMountpoint, mountPathOf(m, parts[0].ID()))
		assert.Equal(t, tt.diskSize-tt.espSize, parts[1].Size)
		assert.Equal(t, "/", mountPathOf(m, parts[1].ID()))
		assert.True(t, m.IsComplete())
	}
}

func TestBIOSFirstPartition(t *testing.T) {
	c, m := newTestController(t, disk.BootloaderBIOS)
	d := m.AddDisk("/dev/vda", 20*disk.GiB)

	p, err := c.PartitionDiskHandler(d.ID(), "", Spec{Size: 20 * disk.GiB, FSType: "ext4", Mount: "/"})
	require.NoError(t, err)

	parts := m.PartitionsOf(d.ID())
	require.Len(t, parts, 2)
	assert.Equal(t, disk.FlagBIOSGrub, parts[0].Flag)
	assert.Equal(t, uint64(disk.MiB), parts[0].Size)
	assert.Equal(t, parts[1], p)
	assert.Equal(t, 20*disk.GiB-disk.MiB, p.Size)
	assert.Equal(t, uint64(0), m.FreeForPartitions(d.ID()))

	assert.Equal(t, d.ID(), m.GrubInstallDevice)
	assert.Equal(t, disk.WipeSuperblockRecursive, d.Wipe)
	assert.False(t, d.Preserve)
	assert.True(t, m.IsComplete())
}

func TestPRePBootPartition(t *testing.T) {
	c, m := newTestController(t, disk.BootloaderPReP)
	d := m.AddDisk("/dev/vda", 10*disk.GiB)

	_, err := c.PartitionDiskHandler(d.ID(), "", Spec{Size: 4 * disk.GiB, FSType: "xfs", Mount: "/"})
	require.NoError(t, err)

	parts := m.PartitionsOf(d.ID())
	require.Len(t, parts, 2)
	assert.Equal(t, disk.FlagPReP, parts[0].Flag)
	assert.Equal(t, uint64(8*disk.MiB), parts[0].Size)
	assert.Equal(t, disk.WipeZero, parts[0].Wipe)
	assert.Equal(t, parts[0].ID(), m.GrubInstallDevice)
	// enough room, the request is kept
	assert.Equal(t, 4*disk.GiB, parts[1].Size)
}

func TestMakeBootDiskMovesESP(t *testing.T) {
	c, m := newTestController(t, disk.BootloaderUEFI)
	vda := m.AddDisk("/dev/vda", 20*disk.GiB)
	vdb := m.AddDisk("/dev/vdb", 20*disk.GiB)

	root, err := c.PartitionDiskHandler(vda.ID(), "", Spec{Size: 20 * disk.GiB, FSType: "ext4", Mount: "/"})
	require.NoError(t, err)
	home, err := c.PartitionDiskHandler(vdb.ID(), "", Spec{Size: 20 * disk.GiB, FSType: "ext4", Mount: "/home"})
	require.NoError(t, err)
	require.Len(t, m.PartitionsOf(vdb.ID()), 1)

	require.NoError(t, c.MakeBootDisk(vdb.ID()))

	// vda was full, root grows into the space of the old ESP
	assert.Equal(t, []*disk.Partition{root}, m.PartitionsOf(vda.ID()))
	assert.Equal(t, 20*disk.GiB, root.Size)

	// home shrinks by exactly the size of the new ESP
	parts := m.PartitionsOf(vdb.ID())
	require.Len(t, parts, 2)
	assert.True(t, parts[0].IsESP())
	assert.Equal(t, disk.ESPMountpoint, mountPathOf(m, parts[0].ID()))
	assert.Equal(t, home, parts[1])
	assert.Equal(t, 20*disk.GiB-disk.ESPSize, home.Size)
	assert.False(t, m.NeedsBootloaderPartition())
}

func TestMakeBootDiskShrinksFirstLargest(t *testing.T) {
	c, m := newTestController(t, disk.BootloaderBIOS)
	d := m.AddDisk("/dev/vda", 10*disk.GiB)
	first, err := m.AddPartition(d.ID(), 5*disk.GiB, disk.FlagNone, disk.WipeNone)
	require.NoError(t, err)
	second, err := m.AddPartition(d.ID(), 5*disk.GiB, disk.FlagNone, disk.WipeNone)
	require.NoError(t, err)

	require.NoError(t, c.MakeBootDisk(d.ID()))

	parts := m.PartitionsOf(d.ID())
	require.Len(t, parts, 3)
	assert.Equal(t, disk.FlagBIOSGrub, parts[0].Flag)
	assert.Equal(t, first, parts[1])
	assert.Equal(t, 5*disk.GiB-disk.MiB, first.Size)
	assert.Equal(t, 5*disk.GiB, second.Size)
	assert.Equal(t, d.ID(), m.GrubInstallDevice)
}

func TestMakeBootDiskNoRoom(t *testing.T) {
	c, m := newTestController(t, disk.BootloaderUEFI)
	d := m.AddDisk("/dev/vda", 20*disk.GiB)
	for i := 0; i < 40; i++ {
		_, err := m.AddPartition(d.ID(), 512*disk.MiB, disk.FlagNone, disk.WipeNone)
		require.NoError(t, err)
	}

	err := c.MakeBootDisk(d.ID())
	var sizing *disk.SizingError
	require.ErrorAs(t, err, &sizing)
	assert.Len(t, m.PartitionsOf(d.ID()), 40)
}

func TestMakeBootDiskPreservedESP(t *testing.T) {
	c, m := newProbedController(t, disk.BootloaderUEFI)
	sda1 := partitionByPath(t, m, "/dev/sda1")
	sdb := diskByPath(t, m, "/dev/sdb")

	_, err := c.CreateMount(sda1.FS(), disk.ESPMountpoint)
	require.NoError(t, err)
	require.False(t, m.NeedsBootloaderPartition())

	require.NoError(t, c.MakeBootDisk(sdb.ID()))

	// the preserved ESP stays, only its mount moves
	assert.NotNil(t, m.Partition(sda1.ID()))
	assert.Equal(t, "<unmounted>", mountPathOf(m, sda1.ID()))
	parts := m.PartitionsOf(sdb.ID())
	require.Len(t, parts, 1)
	assert.True(t, parts[0].IsESP())
	assert.Equal(t, disk.ESPMountpoint, mountPathOf(m, parts[0].ID()))
	assert.Equal(t, disk.ESPSize, parts[0].Size)
}

func TestMakeBootDiskReusesExistingESP(t *testing.T) {
	c, m := newProbedController(t, disk.BootloaderUEFI)
	sda := diskByPath(t, m, "/dev/sda")
	sda1 := partitionByPath(t, m, "/dev/sda1")
	original := m.FilesystemOf(sda1.ID())

	require.NoError(t, c.MakeBootDisk(sda.ID()))

	assert.Len(t, m.PartitionsOf(sda.ID()), 3)
	assert.Same(t, original, m.FilesystemOf(sda1.ID()))
	assert.True(t, original.Preserve)
	assert.Equal(t, disk.ESPMountpoint, mountPathOf(m, sda1.ID()))
	assert.False(t, m.NeedsBootloaderPartition())
}

func TestMountTriggersBootDisk(t *testing.T) {
	c, m := newProbedController(t, disk.BootloaderUEFI)
	sda1 := partitionByPath(t, m, "/dev/sda1")
	sda2 := partitionByPath(t, m, "/dev/sda2")

	_, err := c.AddFormatHandler(sda2.ID(), Spec{FSType: "ext4", Mount: "/"})
	require.NoError(t, err)

	assert.Equal(t, disk.ESPMountpoint, mountPathOf(m, sda1.ID()))
	assert.True(t, m.IsComplete())
}

func TestMountKeptWhenBootDiskFails(t *testing.T) {
	c, m := newTestController(t, disk.BootloaderUEFI)
	vda := m.AddDisk("/dev/vda", 10*disk.GiB)
	vdb := m.AddDisk("/dev/vdb", 10*disk.GiB)
	member, err := m.AddPartition(vda.ID(), 5*disk.GiB, disk.FlagNone, disk.WipeNone)
	require.NoError(t, err)
	data, err := m.AddPartition(vda.ID(), 5*disk.GiB, disk.FlagNone, disk.WipeNone)
	require.NoError(t, err)
	_, err = m.AddRaid("md0", 1, []disk.ID{member.ID(), vdb.ID()}, nil)
	require.NoError(t, err)

	// the largest partition is a raid member and cannot shrink
	fs, err := c.AddFormatHandler(data.ID(), Spec{FSType: "ext4", Mount: "/srv"})
	require.NoError(t, err)
	require.NotNil(t, fs)
	assert.Equal(t, "/srv", mountPathOf(m, data.ID()))
	assert.Len(t, m.PartitionsOf(vda.ID()), 2)
	assert.True(t, m.NeedsBootloaderPartition())
	assert.False(t, m.IsComplete())
}

func TestMakeBootDiskPReP(t *testing.T) {
	c, m := newTestController(t, disk.BootloaderPReP)
	vda := m.AddDisk("/dev/vda", 10*disk.GiB)
	vdb := m.AddDisk("/dev/vdb", 10*disk.GiB)

	_, err := c.PartitionDiskHandler(vda.ID(), "", Spec{Size: 2 * disk.GiB, FSType: "ext4", Mount: "/"})
	require.NoError(t, err)
	require.Len(t, m.PartitionsOf(vda.ID()), 2)

	require.NoError(t, c.MakeBootDisk(vdb.ID()))

	// vda was not full, nothing grows
	parts := m.PartitionsOf(vda.ID())
	require.Len(t, parts, 1)
	assert.Equal(t, 2*disk.GiB, parts[0].Size)

	boot := m.PartitionsOf(vdb.ID())
	require.Len(t, boot, 1)
	assert.Equal(t, disk.FlagPReP, boot[0].Flag)
	assert.Equal(t, boot[0].ID(), m.GrubInstallDevice)
}

func TestMakeBootDiskRejected(t *testing.T) {
	c, m := newTestController(t, disk.BootloaderNone)
	d := m.AddDisk("/dev/vda", 10*disk.GiB)

	var resolution *ResolutionError
	assert.ErrorAs(t, c.MakeBootDisk(d.ID()), &resolution)
	assert.ErrorAs(t, c.MakeBootDisk("disk-42"), &resolution)
}

func TestLargestPartition(t *testing.T) {
	a := &disk.Partition{Size: 3}
	b := &disk.Partition{Size: 7}
	c := &disk.Partition{Size: 7}
	assert.Same(t, b, largestPartition([]*disk.Partition{a, b, c}))
	assert.Nil(t, largestPartition(nil))
}
