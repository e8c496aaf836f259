// Package storage implements the operations used to configure the storage
// of the target system. It composes the mutations of the disk model with
// the placement of the boot partition.
//
// A Controller is not safe for concurrent use. All calls must happen on the
// event loop that owns the model.
package storage

import (
	"github.com/sirupsen/logrus"

	"github.com/osbuild/osbuild-storage/internal/disk"
)

// Spec holds the attributes of a partition, logical volume or format
// request.
type Spec struct {
	// Size in bytes. Zero keeps the size when editing.
	Size uint64
	// Name of a logical volume. Zero keeps the name when editing.
	Name string
	// FSType is the filesystem to create. The empty string restores the
	// filesystem the volume had when it was probed, if any.
	FSType string
	// Mount is the mount point; empty for none.
	Mount string
	// UseSwap activates a restored filesystem as swap.
	UseSwap bool
}

// RaidSpec holds the attributes of a RAID array.
type RaidSpec struct {
	Name         string
	Level        disk.RaidLevel
	Devices      []disk.ID
	SpareDevices []disk.ID
}

// VolGroupSpec holds the attributes of a volume group. Members are
// encrypted if Password is set.
type VolGroupSpec struct {
	Name     string
	Devices  []disk.ID
	Password string
}

type Config struct {
	Model *disk.Model
	// OnFinish receives the rendered configuration. Optional.
	OnFinish func([]disk.Action)
	// OnCancel is called when the user leaves storage configuration.
	// Optional.
	OnCancel func()
	Logger   logrus.FieldLogger
}

type Controller struct {
	model    *disk.Model
	onFinish func([]disk.Action)
	onCancel func()
	log      logrus.FieldLogger
}

func NewController(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Controller{
		model:    cfg.Model,
		onFinish: cfg.OnFinish,
		onCancel: cfg.OnCancel,
		log:      cfg.Logger,
	}
}

func (c *Controller) Model() *disk.Model {
	return c.model
}

// Delete removes an entity with everything built on top of it.
func (c *Controller) Delete(id disk.ID) error {
	return c.observe("delete", c.model.Delete(id))
}

// Clear makes a volume reusable by deleting its filesystem and the device
// constructed on it.
func (c *Controller) Clear(id disk.ID) error {
	return c.observe("clear", c.model.Clear(id))
}

// Reformat erases a whole disk.
func (c *Controller) Reformat(id disk.ID) error {
	return c.observe("reformat", c.model.Reformat(id))
}

// Reset drops all edits and goes back to the probed state.
func (c *Controller) Reset() error {
	c.log.Info("resetting storage model")
	return c.observe("reset", c.model.Reset())
}

func (c *Controller) Cancel() {
	c.log.Debug("storage configuration cancelled")
	if c.onCancel != nil {
		c.onCancel()
	}
}

// Finish hands the configuration to the installer. It fails with
// ErrIncomplete if there is no root filesystem or a boot partition is
// still missing.
func (c *Controller) Finish() ([]disk.Action, error) {
	if !c.model.IsComplete() {
		return nil, c.observe("finish", ErrIncomplete)
	}
	actions := c.model.Render()
	c.log.WithField("actions", len(actions)).Info("storage configuration done")
	if c.onFinish != nil {
		c.onFinish(actions)
	}
	return actions, nil
}
