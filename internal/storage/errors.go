package storage

import (
	"errors"
	"fmt"

	"github.com/osbuild/osbuild-storage/internal/disk"
	"github.com/osbuild/osbuild-storage/internal/prometheus"
)

// ResolutionError is returned when an operation names an entity that does
// not exist or is called with missing or inconsistent attributes.
type ResolutionError struct {
	Op     string
	Reason string
}

func (err *ResolutionError) Error() string {
	return fmt.Sprintf("%s: %s", err.Op, err.Reason)
}

func resolutionErrorf(op, format string, args ...interface{}) error {
	return &ResolutionError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// ErrIncomplete is returned by Finish when the configuration has no root
// filesystem or still lacks a boot partition.
var ErrIncomplete = errors.New("storage configuration is incomplete")

func errorKind(err error) string {
	var sizing *disk.SizingError
	var integrity *disk.IntegrityError
	var resolution *ResolutionError
	var load *disk.LoadError
	switch {
	case errors.As(err, &sizing):
		return "sizing"
	case errors.As(err, &integrity):
		return "integrity"
	case errors.As(err, &resolution):
		return "resolution"
	case errors.As(err, &load):
		return "load"
	case errors.Is(err, ErrIncomplete):
		return "incomplete"
	}
	return "other"
}

// observe counts a failed operation and returns err unchanged.
func (c *Controller) observe(op string, err error) error {
	if err == nil {
		return nil
	}
	kind := errorKind(err)
	prometheus.ModelError(kind)
	c.log.WithError(err).WithField("kind", kind).Warnf("%s failed", op)
	return err
}
