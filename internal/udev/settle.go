package udev

import (
	"context"
	"os/exec"

	"github.com/pkg/errors"
)

// Settler reports whether the udev event queue is empty.
type Settler interface {
	Settle(ctx context.Context) (bool, error)
}

var DefaultSettleCommand = []string{"udevadm", "settle", "-t", "0"}

// ExecSettler asks udevadm whether the event queue has settled without
// waiting for it.
type ExecSettler struct {
	command []string
}

func NewExecSettler(command []string) *ExecSettler {
	if len(command) == 0 {
		command = DefaultSettleCommand
	}
	return &ExecSettler{command: command}
}

func (s *ExecSettler) Settle(ctx context.Context) (bool, error) {
	err := exec.CommandContext(ctx, s.command[0], s.command[1:]...).Run()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, errors.Wrapf(err, "running %s failed", s.command[0])
}
