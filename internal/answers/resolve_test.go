package answers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osbuild/osbuild-storage/internal/disk"
)

func TestResolve(t *testing.T) {
	m := disk.NewModel(disk.BootloaderNone)
	vda := m.AddDisk("/dev/vda", 10*disk.GiB)
	vdb := m.AddDisk("/dev/vdb", 10*disk.GiB)
	p1, err := m.AddPartition(vda.ID(), disk.GiB, disk.FlagNone, disk.WipeSuperblock)
	require.NoError(t, err)
	p2, err := m.AddPartition(vda.ID(), disk.GiB, disk.FlagNone, disk.WipeSuperblock)
	require.NoError(t, err)
	vg, err := m.AddVolumeGroup("vg0", []disk.ID{vdb.ID()})
	require.NoError(t, err)
	lv, err := m.AddLogicalVolume(vg.ID(), "root", disk.GiB)
	require.NoError(t, err)

	tests := []struct {
		addr []string
		want disk.ID
	}{
		{[]string{"disk index 0"}, vda.ID()},
		{[]string{"disk index 1"}, vdb.ID()},
		{[]string{"disk index 0", "part index 0"}, p1.ID()},
		{[]string{"disk index 0", "part index 1"}, p2.ID()},
		{[]string{"volgroup name vg0"}, vg.ID()},
		{[]string{"volgroup name vg0", "part index 0"}, lv.ID()},
	}
	for _, tc := range tests {
		id, err := Resolve(m, tc.addr)
		require.NoError(t, err, tc.addr)
		assert.Equal(t, tc.want, id, tc.addr)
	}

	for _, addr := range [][]string{
		nil,
		{"disk index 2"},
		{"disk index x"},
		{"disk serial abc"},
		{"raid name md0"},
		{"disk index 0", "part index 2"},
		{"disk index 0", "lv name root"},
		{"disk index 0", "part index 0", "part index 0"},
	} {
		_, err := Resolve(m, addr)
		assert.Error(t, err, addr)
	}
}
