package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"
	"github.com/juju/clock"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/osbuild/osbuild-storage/internal/disk"
	"github.com/osbuild/osbuild-storage/internal/eventloop"
	"github.com/osbuild/osbuild-storage/internal/jsondb"
	"github.com/osbuild/osbuild-storage/internal/probe"
	"github.com/osbuild/osbuild-storage/internal/udev"
)

const sentryFlushTimeout = 2 * time.Second

// machine wires the probe orchestrator to a storage model owned by an
// event loop.
type machine struct {
	log      logrus.FieldLogger
	loop     *eventloop.Loop
	model    *disk.Model
	orch     *probe.Orchestrator
	sentry   *probe.SentryReporter
	statuses chan probe.Status
}

func newProber(cfg *storageConfig) probe.Prober {
	var p probe.Prober
	if cfg.MachineConfig != "" {
		p = probe.NewFileProber(cfg.MachineConfig)
	} else {
		p = probe.NewExecProber(cfg.ProberCommand)
	}
	return probe.WithDebugFlags(p, clock.WallClock, cfg.DebugFlags)
}

// newMachine sets up probing. Block device hotplug events are only
// listened to when hotplug is set and the machine is not a dry run.
func newMachine(cfg *storageConfig, log logrus.FieldLogger, hotplug bool) (*machine, error) {
	filter, err := disk.NewDeviceFilter(cfg.ExcludeDevices)
	if err != nil {
		return nil, err
	}
	m := &machine{
		log:      log,
		model:    disk.NewModel(cfg.bootloader()),
		statuses: make(chan probe.Status, 1),
	}
	m.model.SetLogger(log)
	m.model.SetDeviceFilter(filter)
	log.WithField("bootloader", m.model.Bootloader).Info("storage model created")

	pcfg := probe.Config{
		Prober:   newProber(cfg),
		Clock:    clock.WallClock,
		Timeout:  cfg.ProbeTimeout.Duration,
		Model:    m.model,
		OnStatus: m.statusChanged,
		Logger:   log,
	}

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0700); err != nil {
			return nil, errors.Wrap(err, "cannot create log directory")
		}
		pcfg.Store = jsondb.New(cfg.LogDir, 0600)
		if names, err := pcfg.Store.List(); err == nil && len(names) > 0 {
			log.WithField("documents", names).Debug("replacing probe dumps of an earlier run")
		}
	}

	if cfg.Sentry != nil && cfg.Sentry.DSN != "" {
		m.sentry, err = probe.NewSentryReporter(cfg.Sentry.DSN, cfg.Sentry.Environment)
		if err != nil {
			return nil, err
		}
		pcfg.Reporter = m.sentry
	}

	if hotplug && cfg.Udev.Enabled && cfg.MachineConfig == "" {
		pcfg.Hotplug = udev.NewDebouncer(udev.Config{
			Source:  udev.NewNetlinkMonitor(log),
			Settler: udev.NewExecSettler(cfg.Udev.SettleCommand),
			Backoff: backoff.NewConstantBackOff(cfg.Udev.Backoff.Duration),
			Logger:  log,
		})
	}

	m.loop = eventloop.New(log)
	m.orch = probe.NewOrchestrator(m.loop, pcfg)
	return m, nil
}

// statusChanged runs on the loop. Only the latest round matters to the
// command, so a status nobody picked up yet is replaced.
func (m *machine) statusChanged(st probe.Status) {
	for {
		select {
		case m.statuses <- st:
			return
		default:
		}
		select {
		case <-m.statuses:
		default:
		}
	}
}

func (m *machine) start(ctx context.Context) error {
	return m.orch.Start(ctx)
}

// nextStatus waits for the end of the next probing round.
func (m *machine) nextStatus(ctx context.Context) (probe.Status, error) {
	select {
	case st := <-m.statuses:
		return st, nil
	case <-ctx.Done():
		return probe.Status{}, ctx.Err()
	}
}

// call runs fn on the loop that owns the model.
func (m *machine) call(fn func(*disk.Model) error) error {
	return m.loop.Call(func() error {
		return fn(m.model)
	})
}

func (m *machine) close() {
	if err := m.orch.Stop(); err != nil && err != eventloop.ErrStopped {
		m.log.WithError(err).Warn("stopping probe orchestrator failed")
	}
	if err := m.loop.Stop(); err != nil {
		m.log.WithError(err).Error("event loop failed")
	}
	if m.sentry != nil && !m.sentry.Flush(sentryFlushTimeout) {
		m.log.Warn("not all crash reports were sent")
	}
}

func writeSummary(w io.Writer, model *disk.Model) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "DEVICE\tSIZE\tPTABLE\tPARTITIONS\tFREE")
	for _, d := range model.AllDisks() {
		ptable := d.PTable
		if ptable == "" {
			ptable = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			d.Path,
			humanize.IBytes(d.Size),
			ptable,
			d.GetItemCount(),
			humanize.IBytes(model.FreeForPartitions(d.ID())))
	}
	for _, r := range model.AllRaids() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			r.Name,
			humanize.IBytes(model.SizeOf(r.ID())),
			r.Level,
			r.GetItemCount(),
			humanize.IBytes(model.FreeForPartitions(r.ID())))
	}
	return tw.Flush()
}
