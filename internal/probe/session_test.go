package probe

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sessionRecorder struct {
	mu       sync.Mutex
	sessions []*Session
}

func (r *sessionRecorder) done(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, s)
}

func (r *sessionRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func startTestSession(t *testing.T, prober Prober, restricted bool) (*Session, *sessionRecorder, *test.Hook, *testclock.Clock) {
	loop := newTestLoop(t)
	clk := newTestClock()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	rec := &sessionRecorder{}
	s := &Session{
		Generation: 1,
		Restricted: restricted,
		loop:       loop,
		clock:      clk,
		timeout:    DefaultTimeout,
		prober:     prober,
		done:       rec.done,
		log:        logger,
	}
	require.NoError(t, loop.Call(func() error {
		s.Start(context.Background())
		return nil
	}))
	return s, rec, hook, clk
}

func TestSessionDone(t *testing.T) {
	prober := newFakeProber()
	s, rec, _, _ := startTestSession(t, prober, true)

	call := prober.next(t)
	assert.True(t, call.restricted)
	call.succeed(testDocument("sda"))

	require.Eventually(t, func() bool { return rec.count() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, StateDone, rec.sessions[0].State())
	assert.Equal(t, testDocument("sda"), s.Result())
	assert.NoError(t, s.Err())
}

func TestSessionFailed(t *testing.T) {
	prober := newFakeProber()
	s, rec, _, _ := startTestSession(t, prober, false)

	expected := errors.New("probert crashed")
	prober.next(t).fail(expected)

	require.Eventually(t, func() bool { return rec.count() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, StateFailed, s.State())
	assert.ErrorIs(t, s.Err(), expected)

	var perr *ProbeError
	require.ErrorAs(t, s.Err(), &perr)
	assert.False(t, perr.Restricted)
}

type panickingProber struct{}

func (panickingProber) Probe(context.Context, bool) (map[string]interface{}, error) {
	panic("enumeration bug")
}

func TestSessionWorkerPanic(t *testing.T) {
	s, rec, _, _ := startTestSession(t, panickingProber{}, false)

	require.Eventually(t, func() bool { return rec.count() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, StateFailed, s.State())
	assert.Contains(t, s.Err().Error(), "enumeration bug")
}

func TestSessionTimeoutThenLateResult(t *testing.T) {
	prober := newFakeProber()
	prober.ignoreContext = true
	s, rec, hook, clk := startTestSession(t, prober, false)

	call := prober.next(t)
	require.NoError(t, clk.WaitAdvance(DefaultTimeout, time.Second, 1))

	require.Eventually(t, func() bool { return rec.count() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, StateFailed, s.State())
	assert.ErrorIs(t, s.Err(), ErrProbeTimeout)

	call.succeed(testDocument("sda"))
	require.Eventually(t, func() bool {
		for _, e := range hook.AllEntries() {
			if e.Message == "ignoring result for timed out probe" {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, rec.count())
	assert.Equal(t, StateFailed, s.State())
	assert.Nil(t, s.Result())
}

func TestSessionResultBeforeTimeout(t *testing.T) {
	prober := newFakeProber()
	s, rec, _, clk := startTestSession(t, prober, false)

	prober.next(t).succeed(testDocument("sda"))
	require.Eventually(t, func() bool { return rec.count() == 1 }, 5*time.Second, 10*time.Millisecond)

	clk.Advance(2 * DefaultTimeout)
	require.NoError(t, s.loop.Call(func() error { return nil }))
	assert.Equal(t, StateDone, s.State())
	assert.Equal(t, 1, rec.count())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "NOT_STARTED", StateNotStarted.String())
	assert.Equal(t, "PROBING", StateProbing.String())
	assert.Equal(t, "FAILED", StateFailed.String())
	assert.Equal(t, "DONE", StateDone.String())
	assert.Equal(t, "State(9)", State(9).String())
}
