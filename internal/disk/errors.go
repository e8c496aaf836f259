package disk

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// SizingError is returned when a partition or logical volume does not fit
// into the free space of its container. The model is left unchanged.
type SizingError struct {
	Container ID
	Requested uint64
	Available uint64
}

func (err *SizingError) Error() string {
	return fmt.Sprintf("%s: requested size %s exceeds available space %s",
		err.Container, humanize.IBytes(err.Requested), humanize.IBytes(err.Available))
}

// IntegrityError is returned when a mutation would break the structure of
// the model, e.g. reusing a volume that still carries a filesystem or is
// consumed by another device. Callers that clear volumes before reusing
// them never see it.
type IntegrityError struct {
	Entity ID
	Reason string
}

func (err *IntegrityError) Error() string {
	if err.Entity == "" {
		return err.Reason
	}
	return fmt.Sprintf("%s: %s", err.Entity, err.Reason)
}

func integrityErrorf(id ID, format string, args ...interface{}) error {
	return &IntegrityError{Entity: id, Reason: fmt.Sprintf(format, args...)}
}

// LoadError is returned by LoadProbeData when the probe document is
// structurally unusable.
type LoadError struct {
	Reason string
	Err    error
}

func (err *LoadError) Error() string {
	if err.Err != nil {
		return fmt.Sprintf("cannot load probe data: %s: %v", err.Reason, err.Err)
	}
	return fmt.Sprintf("cannot load probe data: %s", err.Reason)
}

func (err *LoadError) Unwrap() error {
	return err.Err
}
