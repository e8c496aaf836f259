// Package udev turns bursts of block device hotplug events into single
// re-probe requests.
package udev

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/juju/clock"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/tomb.v2"

	"github.com/osbuild/osbuild-storage/internal/prometheus"
)

const DefaultBackoff = 100 * time.Millisecond

type Config struct {
	Source  EventSource
	Settler Settler
	Clock   clock.Clock
	// Backoff is the wait between settle attempts. Defaults to a constant
	// DefaultBackoff.
	Backoff backoff.BackOff
	Logger  logrus.FieldLogger
}

// Debouncer waits for the udev queue to settle after an event, discards
// the events queued up meanwhile and then requests a single re-probe.
type Debouncer struct {
	cfg     Config
	tomb    *tomb.Tomb
	trigger func()
	log     logrus.FieldLogger
}

func NewDebouncer(cfg Config) *Debouncer {
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Backoff == nil {
		cfg.Backoff = backoff.NewConstantBackOff(DefaultBackoff)
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Debouncer{
		cfg: cfg,
		log: cfg.Logger.WithField("subsystem", "udev"),
	}
}

// Start begins listening; trigger is called from the debouncer goroutine.
func (d *Debouncer) Start(trigger func()) error {
	if d.tomb != nil {
		return errors.New("debouncer already started")
	}
	events, err := d.cfg.Source.Listen()
	if err != nil {
		return err
	}
	d.trigger = trigger
	d.tomb = new(tomb.Tomb)
	d.tomb.Go(func() error {
		return d.run(events)
	})
	return nil
}

// Stop stops listening and waits for the debouncer goroutine to exit.
func (d *Debouncer) Stop() {
	if d.tomb == nil {
		return
	}
	d.tomb.Kill(nil)
	if err := d.tomb.Wait(); err != nil {
		d.log.WithError(err).Warn("udev listener failed")
	}
	if err := d.cfg.Source.Close(); err != nil {
		d.log.WithError(err).Warn("cannot close udev event source")
	}
	d.tomb = nil
}

func (d *Debouncer) run(events <-chan Event) error {
	for {
		select {
		case <-d.tomb.Dying():
			return nil
		case ev, ok := <-events:
			if !ok {
				return errors.New("udev event source closed")
			}
			prometheus.UdevEvents.Inc()
			d.log.WithFields(logrus.Fields{
				"action":  ev.Action,
				"devpath": ev.DevPath,
			}).Debug("block device event")

			if !d.settle() {
				return nil
			}
			drained := d.drain(events)
			d.log.Debugf("discarded %d queued events", drained)
			d.trigger()
		}
	}
}

// settle polls the udev queue until it is empty. Events keep queueing up
// in the source while it waits. It returns false if the debouncer is
// stopped meanwhile.
func (d *Debouncer) settle() bool {
	d.cfg.Backoff.Reset()
	ctx := d.tomb.Context(context.Background())
	for {
		settled, err := d.cfg.Settler.Settle(ctx)
		if ctx.Err() != nil {
			return false
		}
		if err != nil {
			d.log.WithError(err).Warn("cannot check whether udev settled")
			return true
		}
		if settled {
			return true
		}

		wait := d.cfg.Backoff.NextBackOff()
		if wait == backoff.Stop {
			d.log.Warn("udev did not settle, probing anyway")
			return true
		}
		select {
		case <-d.tomb.Dying():
			return false
		case <-d.cfg.Clock.After(wait):
		}
	}
}

func (d *Debouncer) drain(events <-chan Event) int {
	n := 0
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return n
			}
			prometheus.UdevEvents.Inc()
			n++
		default:
			return n
		}
	}
}
