package storage

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/osbuild/osbuild-storage/internal/disk"
)

func newTestController(t *testing.T, bootloader disk.Bootloader) (*Controller, *disk.Model) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	m := disk.NewModel(bootloader)
	m.SetLogger(logger)
	return NewController(Config{Model: m, Logger: logger}), m
}

// newProbedController loads a machine with two 20 GiB disks. sda carries
// a GPT with a 512 MiB ESP, a 16 GiB ext4 root and 2 GiB swap; sdb is
// empty.
func newProbedController(t *testing.T, bootloader disk.Bootloader) (*Controller, *disk.Model) {
	t.Helper()
	c, m := newTestController(t, bootloader)
	require.NoError(t, m.LoadProbeData(map[string]interface{}{
		"blockdev": map[string]interface{}{
			"/dev/sda": map[string]interface{}{
				"DEVTYPE":   "disk",
				"ID_SERIAL": "QEMU_HARDDISK_QM00001",
				"attrs":     map[string]interface{}{"size": "21474836480", "ro": "0"},
				"partitiontable": map[string]interface{}{
					"label": "gpt",
					"partitions": []interface{}{
						map[string]interface{}{
							"node":  "/dev/sda1",
							"start": 2048,
							"size":  1048576,
							"type":  "C12A7328-F81F-11D2-BA4B-00A0C93EC93B",
						},
						map[string]interface{}{
							"node":  "/dev/sda2",
							"start": 1050624,
							"size":  33554432,
							"type":  "0FC63DAF-8483-4772-8E79-3D69D8477DE4",
						},
						map[string]interface{}{
							"node":  "/dev/sda3",
							"start": 34605056,
							"size":  4194304,
							"type":  "0657FD6D-A4AB-43C4-84E5-0933C84B4F4F",
						},
					},
				},
			},
			"/dev/sda1": map[string]interface{}{"DEVTYPE": "partition", "ID_FS_TYPE": "vfat"},
			"/dev/sda2": map[string]interface{}{
				"DEVTYPE":    "partition",
				"ID_FS_TYPE": "ext4",
				"ID_FS_UUID": "6e1d2f3c-9a0b-4c5d-8e7f-001122334455",
			},
			"/dev/sda3": map[string]interface{}{"DEVTYPE": "partition", "ID_FS_TYPE": "swap"},
			"/dev/sdb": map[string]interface{}{
				"DEVTYPE": "disk",
				"attrs":   map[string]interface{}{"size": "21474836480", "ro": "0"},
			},
		},
	}))
	return c, m
}

func diskByPath(t *testing.T, m *disk.Model, path string) *disk.Disk {
	t.Helper()
	for _, d := range m.AllDisks() {
		if d.Path == path {
			return d
		}
	}
	require.FailNowf(t, "disk not found", "%s", path)
	return nil
}

func partitionByPath(t *testing.T, m *disk.Model, path string) *disk.Partition {
	t.Helper()
	for _, d := range m.AllDisks() {
		for _, p := range m.PartitionsOf(d.ID()) {
			if p.Path == path {
				return p
			}
		}
	}
	require.FailNowf(t, "partition not found", "%s", path)
	return nil
}

func mountPathOf(m *disk.Model, volume disk.ID) string {
	fs := m.FilesystemOf(volume)
	if fs == nil {
		return "<unformatted>"
	}
	mnt := m.Mount(fs.Mount())
	if mnt == nil {
		return "<unmounted>"
	}
	return mnt.Path
}
