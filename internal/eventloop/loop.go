// Package eventloop runs callbacks one at a time on a single goroutine.
//
// Everything that mutates the storage model runs on the loop. Blocking work
// is started with Go on a separate goroutine and its result is delivered
// back to the loop, so state owned by the loop needs no locking.
package eventloop

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/sirupsen/logrus"
	"gopkg.in/tomb.v2"
)

// ErrStopped is returned when a callback cannot run because the loop is
// shutting down.
var ErrStopped = errors.New("event loop stopped")

type Loop struct {
	tomb tomb.Tomb

	mu    sync.Mutex
	queue []func()
	wake  chan struct{}

	log logrus.FieldLogger
}

// New starts a loop. It runs until Stop is called or a callback panics.
func New(log logrus.FieldLogger) *Loop {
	if log == nil {
		log = logrus.StandardLogger()
	}
	l := &Loop{
		wake: make(chan struct{}, 1),
		log:  log,
	}
	l.tomb.Go(l.run)
	return l
}

func (l *Loop) run() error {
	for {
		select {
		case <-l.tomb.Dying():
			return nil
		case <-l.wake:
		}
		for {
			fn := l.pop()
			if fn == nil {
				break
			}
			if err := l.invoke(fn); err != nil {
				return err
			}
			select {
			case <-l.tomb.Dying():
				return nil
			default:
			}
		}
	}
}

func (l *Loop) pop() func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn
}

func (l *Loop) invoke(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event loop callback panicked: %v", r)
			l.log.Error(err)
		}
	}()
	fn()
	return nil
}

// Post queues fn to run on the loop and returns immediately. Callbacks run
// in the order they were posted. It returns false if the loop is stopping.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.tomb.Dying():
		return false
	default:
	}

	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call runs fn on the loop and waits for it to return. It must not be
// called from the loop itself.
func (l *Loop) Call(fn func() error) error {
	done := make(chan error, 1)
	if !l.Post(func() { done <- fn() }) {
		return ErrStopped
	}
	select {
	case err := <-done:
		return err
	case <-l.tomb.Dead():
		return ErrStopped
	}
}

// AfterFunc runs fn on the loop once d has passed on clk. The returned
// timer can be stopped to cancel the call as long as it has not fired.
func (l *Loop) AfterFunc(clk clock.Clock, d time.Duration, fn func()) clock.Timer {
	return clk.AfterFunc(d, func() {
		l.Post(fn)
	})
}

// Dying is closed once the loop has been asked to stop.
func (l *Loop) Dying() <-chan struct{} {
	return l.tomb.Dying()
}

// Stop stops the loop after the running callback and waits for it to
// finish. Queued callbacks are dropped.
func (l *Loop) Stop() error {
	l.tomb.Kill(nil)
	return l.tomb.Wait()
}

// Wait blocks until the loop has stopped and returns the reason.
func (l *Loop) Wait() error {
	return l.tomb.Wait()
}

// Go runs work on a new goroutine and delivers its result to done on the
// loop. A panic in work is returned to done as an error. If the loop has
// stopped by the time work returns, the result is dropped.
func Go[T any](l *Loop, work func() (T, error), done func(T, error)) {
	go func() {
		res, err := recovered(work)
		l.Post(func() { done(res, err) })
	}()
}

func recovered[T any](work func() (T, error)) (res T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panicked: %v", r)
		}
	}()
	return work()
}
