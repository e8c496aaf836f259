package probe

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/sirupsen/logrus"

	"github.com/osbuild/osbuild-storage/internal/common"
	"github.com/osbuild/osbuild-storage/internal/eventloop"
	"github.com/osbuild/osbuild-storage/internal/jsondb"
	"github.com/osbuild/osbuild-storage/internal/prometheus"
)

const (
	DefaultTimeout = 5 * time.Second

	// Names of the probe dumps in the log directory.
	FullDumpName       = "probe-data"
	RestrictedDumpName = "probe-data-restricted"
)

// ModelLoader is the storage model fed with probe documents.
type ModelLoader interface {
	LoadProbeData(data map[string]interface{}) error
}

// HotplugSource calls trigger whenever the block devices of the machine
// may have changed.
type HotplugSource interface {
	Start(trigger func()) error
	Stop()
}

type ProbeState int

const (
	StatusProbing ProbeState = iota
	StatusFailed
	StatusReady
)

func (s ProbeState) String() string {
	switch s {
	case StatusProbing:
		return "probing"
	case StatusFailed:
		return "failed"
	case StatusReady:
		return "ready"
	}
	return fmt.Sprintf("ProbeState(%d)", int(s))
}

// Status describes the outcome of the current probing round.
type Status struct {
	State ProbeState
	// Restricted is set when the storage data comes from (or the final
	// failure happened in) a restricted probe.
	Restricted bool
	Err        error
}

type Config struct {
	Prober  Prober
	Clock   clock.Clock
	Timeout time.Duration
	// Store receives a dump of every successful probe. Optional.
	Store   *jsondb.JSONDatabase
	Model   ModelLoader
	Hotplug HotplugSource
	// Reporter files reports for failed probes. Optional.
	Reporter Reporter
	// OnStatus is called on the event loop once per probing round, when
	// the round has reached a terminal state.
	OnStatus func(Status)
	Logger   logrus.FieldLogger
}

// Orchestrator sequences probe sessions and loads their results into the
// storage model. Only the most recently started session is current; the
// outcome of any other session is discarded.
type Orchestrator struct {
	cfg  Config
	loop *eventloop.Loop
	log  logrus.FieldLogger

	ctx        context.Context
	generation uint64
	session    *Session
	cancel     context.CancelFunc
	listening  bool

	mu     sync.Mutex
	status Status
}

func NewOrchestrator(loop *eventloop.Loop, cfg Config) *Orchestrator {
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Reporter == nil {
		cfg.Reporter = nopReporter{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Orchestrator{
		cfg:    cfg,
		loop:   loop,
		log:    common.BlockDiscoverLogger(cfg.Logger),
		status: Status{State: StatusProbing},
	}
}

// Start begins an unrestricted probe and starts listening for hotplug
// events. Sessions inherit ctx; cancelling it kills running enumerations.
func (o *Orchestrator) Start(ctx context.Context) error {
	return o.loop.Call(func() error {
		o.ctx = ctx
		if o.cfg.Hotplug != nil {
			if err := o.cfg.Hotplug.Start(o.hotplugTriggered); err != nil {
				o.log.WithError(err).Warn("cannot listen for block device events")
			} else {
				o.listening = true
			}
		}
		o.startSession(false)
		return nil
	})
}

// Reprobe starts a new unrestricted probing round, superseding any session
// in flight.
func (o *Orchestrator) Reprobe() bool {
	return o.loop.Post(func() {
		o.startSession(false)
	})
}

// Status returns the state of the current probing round. It is safe to call
// from any goroutine.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Stop stops listening for hotplug events and kills the running session.
func (o *Orchestrator) Stop() error {
	return o.loop.Call(func() error {
		o.stopHotplug()
		if o.cancel != nil {
			o.cancel()
		}
		o.session = nil
		return nil
	})
}

func (o *Orchestrator) hotplugTriggered() {
	o.loop.Post(func() {
		if !o.listening {
			return
		}
		prometheus.Reprobes.Inc()
		o.log.Info("block devices changed, probing again")
		o.startSession(false)
	})
}

func (o *Orchestrator) stopHotplug() {
	if o.listening {
		o.cfg.Hotplug.Stop()
		o.listening = false
	}
}

func (o *Orchestrator) setStatus(st Status) {
	o.mu.Lock()
	o.status = st
	o.mu.Unlock()
}

func (o *Orchestrator) startSession(restricted bool) {
	if o.cancel != nil {
		o.cancel()
	}
	parent := o.ctx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	o.generation++
	o.cancel = cancel
	o.session = &Session{
		Generation: o.generation,
		Restricted: restricted,
		loop:       o.loop,
		clock:      o.cfg.Clock,
		timeout:    o.cfg.Timeout,
		prober:     o.cfg.Prober,
		done:       o.probeDone,
		log:        o.log.WithField("generation", o.generation),
	}
	if !restricted {
		o.setStatus(Status{State: StatusProbing})
	}
	o.session.Start(ctx)
}

func (o *Orchestrator) probeDone(s *Session) {
	if o.session == nil || s.Generation != o.generation {
		o.log.WithField("generation", s.Generation).Debug("ignoring outcome of superseded probe")
		return
	}
	o.cancel()

	if s.State() == StateDone {
		o.dump(s)
		if err := o.cfg.Model.LoadProbeData(s.Result()); err != nil {
			o.log.WithError(err).WithField("restricted", s.Restricted).Error("loading probe data failed")
			prometheus.ProbeFinished(s.Restricted, "load-failed")
			s.fail(err)
		}
	}

	if s.State() == StateFailed {
		o.cfg.Reporter.Report(s.Err(), map[string]string{
			"restricted": strconv.FormatBool(s.Restricted),
			"generation": strconv.FormatUint(s.Generation, 10),
		})
		if !s.Restricted {
			o.log.Warn("falling back to restricted probe")
			o.startSession(true)
			return
		}
		o.finish(Status{State: StatusFailed, Restricted: true, Err: s.Err()})
		return
	}

	o.stopHotplug()
	o.finish(Status{State: StatusReady, Restricted: s.Restricted})
}

func (o *Orchestrator) finish(st Status) {
	o.session = nil
	o.setStatus(st)
	if o.cfg.OnStatus != nil {
		o.cfg.OnStatus(st)
	}
}

func (o *Orchestrator) dump(s *Session) {
	if o.cfg.Store == nil {
		return
	}
	name := FullDumpName
	if s.Restricted {
		name = RestrictedDumpName
	}
	if err := o.cfg.Store.Write(name, s.Result()); err != nil {
		o.log.WithError(err).Warnf("cannot write %s", name)
	}
}
