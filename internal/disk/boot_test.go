package disk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBootPartitionSize(t *testing.T) {
	type testCase struct {
		bootloader Bootloader
		diskSize   uint64
		expected   uint64
	}
	for name, tc := range map[string]testCase{
		"uefi-large":  {BootloaderUEFI, 20 * GiB, 512 * MiB},
		"uefi-1GiB":   {BootloaderUEFI, 1 * GiB, 512 * MiB},
		"uefi-600MiB": {BootloaderUEFI, 600 * MiB, 300 * MiB},
		"uefi-odd":    {BootloaderUEFI, 601 * MiB, 300 * MiB},
		"bios":        {BootloaderBIOS, 20 * GiB, 1 * MiB},
		"prep":        {BootloaderPReP, 20 * GiB, 8 * MiB},
		"none":        {BootloaderNone, 20 * GiB, 0},
	} {
		t.Run(name, func(t *testing.T) {
			m, _ := newTestModel(t, tc.bootloader)
			d := m.AddDisk("/dev/vda", tc.diskSize)
			assert.Equal(t, tc.expected, m.BootPartitionSize(d.ID()))
		})
	}
}

func TestNeedsBootloaderPartition(t *testing.T) {
	t.Run("none", func(t *testing.T) {
		m, _ := newTestModel(t, BootloaderNone)
		assert.False(t, m.NeedsBootloaderPartition())
	})

	t.Run("bios", func(t *testing.T) {
		m, _ := newTestModel(t, BootloaderBIOS)
		d := m.AddDisk("/dev/vda", 20*GiB)
		assert.True(t, m.NeedsBootloaderPartition())
		p, err := m.AddPartition(d.ID(), MiB, FlagBIOSGrub, WipeNone)
		require.NoError(t, err)
		m.GrubInstallDevice = d.ID()
		assert.False(t, m.NeedsBootloaderPartition())

		require.NoError(t, m.DeletePartition(p.ID()))
		assert.True(t, m.NeedsBootloaderPartition())
	})

	t.Run("uefi", func(t *testing.T) {
		m, _ := newTestModel(t, BootloaderUEFI)
		d := m.AddDisk("/dev/vda", 20*GiB)
		p, err := m.AddPartition(d.ID(), 512*MiB, FlagNone, WipeNone)
		require.NoError(t, err)
		fs, err := m.AddFilesystem(p.ID(), ESPFSType, false)
		require.NoError(t, err)
		_, err = m.AddMount(fs.ID(), ESPMountpoint)
		require.NoError(t, err)
		assert.True(t, m.NeedsBootloaderPartition(), "not flagged as ESP")
		p.Flag = FlagBoot
		assert.False(t, m.NeedsBootloaderPartition())
	})

	t.Run("prep", func(t *testing.T) {
		m, _ := newTestModel(t, BootloaderPReP)
		d := m.AddDisk("/dev/vda", 20*GiB)
		p, err := m.AddPartition(d.ID(), 8*MiB, FlagPReP, WipeNone)
		require.NoError(t, err)
		assert.True(t, m.NeedsBootloaderPartition())
		p.Wipe = WipeZero
		assert.False(t, m.NeedsBootloaderPartition())
	})
}

func TestCanBeBootDisk(t *testing.T) {
	m, _ := newTestModel(t, BootloaderUEFI)
	require.NoError(t, m.LoadProbeData(testProbeDocument()))
	sda := diskByPath(t, m, "/dev/sda")
	sdb := diskByPath(t, m, "/dev/sdb")

	assert.True(t, m.HasPreexistingPartition(sda.ID()))
	assert.False(t, m.HasPreexistingPartition(sdb.ID()))
	assert.True(t, m.CanBeBootDisk(sda.ID()), "has an ESP")
	assert.Equal(t, partitionByPath(t, m, "/dev/sda1"), m.PotentialBootPartition(sda.ID()))
	assert.True(t, m.CanBeBootDisk(sdb.ID()))

	m.Bootloader = BootloaderPReP
	assert.False(t, m.CanBeBootDisk(sda.ID()), "no PReP partition")
	assert.Nil(t, m.PotentialBootPartition(sda.ID()))

	m.Bootloader = BootloaderBIOS
	assert.False(t, m.CanBeBootDisk(sda.ID()), "gpt without bios_grub")
	sda.PTable = "msdos"
	assert.True(t, m.CanBeBootDisk(sda.ID()))

	m.Bootloader = BootloaderNone
	assert.False(t, m.CanBeBootDisk(sdb.ID()))
}

func TestDetectBootloader(t *testing.T) {
	assert.Equal(t, BootloaderUEFI, detectBootloader("x86_64", true))
	assert.Equal(t, BootloaderBIOS, detectBootloader("x86_64", false))
	assert.Equal(t, BootloaderUEFI, detectBootloader("aarch64", true))
	assert.Equal(t, BootloaderPReP, detectBootloader("ppc64le", false))
	assert.Equal(t, BootloaderNone, detectBootloader("s390x", false))
}

func TestBootloaderNames(t *testing.T) {
	for _, b := range []Bootloader{BootloaderNone, BootloaderBIOS, BootloaderUEFI, BootloaderPReP} {
		parsed, err := ParseBootloader(b.String())
		require.NoError(t, err)
		assert.Equal(t, b, parsed)
	}
	_, err := ParseBootloader("coreboot")
	assert.Error(t, err)
}
