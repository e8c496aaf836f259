package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Prober enumerates the block devices of the machine and returns the probe
// document. Restricted probes only collect block device metadata.
type Prober interface {
	Probe(ctx context.Context, restricted bool) (map[string]interface{}, error)
}

// DefaultProberCommand runs probert, which prints the storage probe
// document as JSON.
var DefaultProberCommand = []string{"probert", "--storage"}

// ExecProber runs an external enumeration command and parses its JSON
// output.
type ExecProber struct {
	command []string
}

func NewExecProber(command []string) *ExecProber {
	if len(command) == 0 {
		command = DefaultProberCommand
	}
	return &ExecProber{command: command}
}

func (p *ExecProber) args(restricted bool) []string {
	args := append([]string(nil), p.command[1:]...)
	if restricted {
		args = append(args, "--probe-types", "blockdev")
	}
	return args
}

func (p *ExecProber) Probe(ctx context.Context, restricted bool) (map[string]interface{}, error) {
	cmd := exec.CommandContext(ctx, p.command[0], p.args(restricted)...)
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		return nil, errors.Wrapf(err, "running %s failed: %s", p.command[0], strings.TrimSpace(stderr.String()))
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(stdout.Bytes(), &doc); err != nil {
		return nil, errors.Wrapf(err, "cannot parse output of %s", p.command[0])
	}
	return doc, nil
}

// FileProber serves a stored probe document instead of probing the
// machine. Documents ending in .yaml or .yml are read as YAML, anything else
// as JSON.
type FileProber struct {
	path string
}

func NewFileProber(path string) *FileProber {
	return &FileProber{path: path}
}

func (p *FileProber) Probe(ctx context.Context, restricted bool) (map[string]interface{}, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read machine config")
	}

	var doc map[string]interface{}
	switch filepath.Ext(p.path) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &doc)
	default:
		err = json.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "cannot parse machine config %s", p.path)
	}
	return doc, nil
}

const (
	DebugFailFull       = "bpfail-full"
	DebugFailRestricted = "bpfail-restricted"

	debugFailDelay = 2 * time.Second
)

type failingProber struct {
	Prober
	clock      clock.Clock
	full       bool
	restricted bool
}

// WithDebugFlags wraps p so the probe modes named by the bpfail-full and
// bpfail-restricted debug flags fail after a short delay.
func WithDebugFlags(p Prober, clk clock.Clock, flags []string) Prober {
	f := &failingProber{Prober: p, clock: clk}
	for _, flag := range flags {
		switch flag {
		case DebugFailFull:
			f.full = true
		case DebugFailRestricted:
			f.restricted = true
		}
	}
	if !f.full && !f.restricted {
		return p
	}
	return f
}

func (f *failingProber) Probe(ctx context.Context, restricted bool) (map[string]interface{}, error) {
	if (restricted && f.restricted) || (!restricted && f.full) {
		select {
		case <-f.clock.After(debugFailDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return nil, errors.Errorf("probe failure requested by debug flags (restricted=%t)", restricted)
	}
	return f.Prober.Probe(ctx, restricted)
}
