package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/osbuild/osbuild-storage/internal/eventloop"
	"github.com/osbuild/osbuild-storage/internal/prometheus"
)

type State int

const (
	StateNotStarted State = iota
	StateProbing
	StateFailed
	StateDone
)

func getStateMapping() []string {
	return []string{"NOT_STARTED", "PROBING", "FAILED", "DONE"}
}

func (s State) String() string {
	mapping := getStateMapping()
	if int(s) < 0 || int(s) >= len(mapping) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return mapping[s]
}

// ErrProbeTimeout is the error of a session that did not finish in time.
var ErrProbeTimeout = errors.New("probe timed out")

// ProbeError wraps the failure of a probe session.
type ProbeError struct {
	Restricted bool
	Err        error
}

func (err *ProbeError) Error() string {
	return fmt.Sprintf("probing failed (restricted=%t): %v", err.Restricted, err.Err)
}

func (err *ProbeError) Unwrap() error {
	return err.Err
}

// Session is one timed attempt to probe the machine. The probe runs on a
// worker goroutine; whichever of the probe result and the timeout arrives
// first decides the outcome, and the done callback fires exactly once. A
// probe that times out is abandoned, not interrupted: its result is
// discarded when it eventually arrives.
//
// All methods must be called on the event loop.
type Session struct {
	// Generation identifies the session within its orchestrator.
	Generation uint64
	Restricted bool

	state  State
	result map[string]interface{}
	err    error

	loop    *eventloop.Loop
	clock   clock.Clock
	timeout time.Duration
	prober  Prober
	done    func(*Session)
	timer   clock.Timer
	observe prometheus.ObserveFunc
	log     logrus.FieldLogger
}

func (s *Session) State() State {
	return s.state
}

// Result returns the probe document of a session in state DONE.
func (s *Session) Result() map[string]interface{} {
	return s.result
}

// Err returns the reason a session failed.
func (s *Session) Err() error {
	return s.err
}

// Start dispatches the probe to a worker and arms the timeout.
func (s *Session) Start(ctx context.Context) {
	if s.state != StateNotStarted {
		panic("probe session started twice")
	}
	s.log.WithField("restricted", s.Restricted).Debug("starting probe")
	s.state = StateProbing
	s.observe = prometheus.ProbeObserver(s.Restricted)

	eventloop.Go(s.loop, func() (map[string]interface{}, error) {
		return s.prober.Probe(ctx, s.Restricted)
	}, s.probed)
	s.timer = s.loop.AfterFunc(s.clock, s.timeout, s.timedOut)
}

func (s *Session) probed(result map[string]interface{}, err error) {
	if s.state != StateProbing {
		s.log.WithField("restricted", s.Restricted).Debug("ignoring result for timed out probe")
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.observe()

	if err != nil {
		s.log.WithError(err).WithField("restricted", s.Restricted).Error("probing failed")
		s.state = StateFailed
		s.err = &ProbeError{Restricted: s.Restricted, Err: err}
		prometheus.ProbeFinished(s.Restricted, "failed")
	} else {
		s.log.WithField("restricted", s.Restricted).Info("probing successful")
		s.state = StateDone
		s.result = result
		prometheus.ProbeFinished(s.Restricted, "done")
	}
	s.done(s)
}

func (s *Session) timedOut() {
	if s.state != StateProbing {
		return
	}
	s.log.WithField("restricted", s.Restricted).Errorf("probing timed out after %s", s.timeout)
	s.state = StateFailed
	s.err = &ProbeError{Restricted: s.Restricted, Err: ErrProbeTimeout}
	prometheus.ProbeFinished(s.Restricted, "timeout")
	s.done(s)
}

// fail marks a finished session as failed, e.g. because its document could
// not be loaded.
func (s *Session) fail(err error) {
	s.state = StateFailed
	s.err = &ProbeError{Restricted: s.Restricted, Err: err}
}
