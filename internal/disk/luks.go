package disk

import (
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// DMCrypt is a LUKS container layered on a volume.
type DMCrypt struct {
	volumeBase

	id ID

	Volume ID
	// Key is the passphrase of the container. It is never logged.
	Key string

	Preserve bool
}

func (dm *DMCrypt) ID() ID     { return dm.id }
func (dm *DMCrypt) Kind() Kind { return KindDMCrypt }

// AddDMCrypt wraps volume in an encrypted container. The volume must not
// be formatted or in use.
func (m *Model) AddDMCrypt(volume ID, key string) (*DMCrypt, error) {
	v := m.Volume(volume)
	if v == nil {
		return nil, integrityErrorf(volume, "not a volume")
	}
	if _, ok := v.(*DMCrypt); ok {
		return nil, integrityErrorf(volume, "cannot encrypt an encrypted device")
	}
	if v.base().inUse() {
		return nil, integrityErrorf(volume, "volume is formatted or in use")
	}
	if key == "" {
		return nil, integrityErrorf(volume, "encryption key must not be empty")
	}
	dm := &DMCrypt{
		id:     m.newID(KindDMCrypt),
		Volume: volume,
		Key:    key,
	}
	m.insert(dm)
	v.base().constructed = dm.id
	m.log.WithFields(logrus.Fields{
		"dm_crypt": dm.id,
		"volume":   volume,
	}).Debug("added dm_crypt")
	return dm, nil
}

// RemoveDMCrypt removes an encrypted container and releases its volume. A
// container that is a member of a volume group can only be removed once the
// group has no logical volumes; it is then dropped from the group.
func (m *Model) RemoveDMCrypt(id ID) error {
	dm := m.DMCrypt(id)
	if dm == nil {
		return integrityErrorf(id, "no such dm_crypt")
	}
	if dm.fs != "" {
		return integrityErrorf(id, "dm_crypt is formatted")
	}
	switch owner := m.Get(dm.constructed).(type) {
	case nil:
	case *VolumeGroup:
		if len(owner.partitions) > 0 {
			return integrityErrorf(id, "dm_crypt is a member of a volume group with logical volumes")
		}
		owner.Devices = lo.Without(owner.Devices, id)
	default:
		return integrityErrorf(id, "dm_crypt is used by %s", owner.ID())
	}
	if v := m.Volume(dm.Volume); v != nil && v.ConstructedDevice() == id {
		v.base().constructed = ""
	}
	m.drop(id)
	m.log.WithField("dm_crypt", id).Debug("removed dm_crypt")
	return nil
}
