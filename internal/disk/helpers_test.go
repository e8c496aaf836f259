package disk

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func newTestModel(t *testing.T, bootloader Bootloader) (*Model, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	m := NewModel(bootloader)
	m.SetLogger(logger)
	return m, hook
}

// testProbeDocument describes two 20 GiB disks. sda carries a GPT with an
// ESP, an ext4 root and swap; sdb is empty.
func testProbeDocument() map[string]interface{} {
	return map[string]interface{}{
		"blockdev": map[string]interface{}{
			"/dev/sda": map[string]interface{}{
				"DEVTYPE":   "disk",
				"ID_SERIAL": "QEMU_HARDDISK_QM00001",
				"ID_PATH":   "pci-0000:00:01.1-ata-1",
				"attrs": map[string]interface{}{
					"size": "21474836480",
					"ro":   "0",
				},
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
			"/dev/sda1": map[string]interface{}{
				"DEVTYPE":    "partition",
				"ID_FS_TYPE": "vfat",
				"attrs":      map[string]interface{}{"size": "536870912"},
			},
			"/dev/sda2": map[string]interface{}{
				"DEVTYPE":    "partition",
				"ID_FS_TYPE": "ext4",
				"ID_FS_UUID": "6e1d2f3c-9a0b-4c5d-8e7f-001122334455",
				"attrs":      map[string]interface{}{"size": "17179869184"},
			},
			"/dev/sda3": map[string]interface{}{
				"DEVTYPE":    "partition",
				"ID_FS_TYPE": "swap",
				"attrs":      map[string]interface{}{"size": "2147483648"},
			},
			"/dev/sdb": map[string]interface{}{
				"DEVTYPE":   "disk",
				"ID_SERIAL": "QEMU_HARDDISK_QM00002",
				"attrs": map[string]interface{}{
					"size": "21474836480",
					"ro":   "0",
				},
			},
			"/dev/sr0": map[string]interface{}{
				"DEVTYPE": "disk",
				"attrs": map[string]interface{}{
					"size": "1073741824",
					"ro":   "1",
				},
			},
		},
	}
}

func diskByPath(t *testing.T, m *Model, path string) *Disk {
	t.Helper()
	for _, d := range m.AllDisks() {
		if d.Path == path {
			return d
		}
	}
	require.FailNowf(t, "disk not found", "%s", path)
	return nil
}

func partitionByPath(t *testing.T, m *Model, path string) *Partition {
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

func logMessages(hook *test.Hook) []string {
	var msgs []string
	for _, e := range hook.AllEntries() {
		msgs = append(msgs, e.Message)
	}
	return msgs
}
