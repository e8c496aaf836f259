package disk

import (
	"strings"
)

// GPT partition type GUIDs.
const (
	BIOSBootPartitionGUID  = "21686148-6449-6E6F-744E-656564454649"
	EFISystemPartitionGUID = "C12A7328-F81F-11D2-BA4B-00A0C93EC93B"
	PRePPartitionGUID      = "9E1A2D38-C612-4316-AA26-8B49521E5A8B"
	SwapPartitionGUID      = "0657FD6D-A4AB-43C4-84E5-0933C84B4F4F"
	FilesystemDataGUID     = "0FC63DAF-8483-4772-8E79-3D69D8477DE4"
)

// MBR partition type IDs.
const (
	EFISystemPartitionDOSID = "ef"
	PRePPartitionDOSID      = "41"
	SwapPartitionDOSID      = "82"
	FilesystemDataDOSID     = "83"
)

var gptFlags = map[string]string{
	BIOSBootPartitionGUID:  FlagBIOSGrub,
	EFISystemPartitionGUID: FlagBoot,
	PRePPartitionGUID:      FlagPReP,
	SwapPartitionGUID:      FlagSwap,
}

var dosFlags = map[string]string{
	EFISystemPartitionDOSID: FlagBoot,
	PRePPartitionDOSID:      FlagPReP,
	SwapPartitionDOSID:      FlagSwap,
}

// flagForPartitionType maps the partition type reported for an existing
// partition to a partition flag.
func flagForPartitionType(ptable, ptype string) string {
	if ptable == "gpt" {
		return gptFlags[strings.ToUpper(ptype)]
	}
	return dosFlags[strings.TrimPrefix(strings.ToLower(ptype), "0x")]
}

// partitionTypeForFlag is the inverse of flagForPartitionType, defaulting
// to the Linux filesystem data type.
func partitionTypeForFlag(ptable, flag string) string {
	if ptable == "gpt" {
		for guid, f := range gptFlags {
			if f == flag {
				return guid
			}
		}
		return FilesystemDataGUID
	}
	for id, f := range dosFlags {
		if f == flag {
			return id
		}
	}
	return FilesystemDataDOSID
}
