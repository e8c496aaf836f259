package udev

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"gopkg.in/tomb.v2"
)

// udevGroup is the netlink multicast group on which udev rebroadcasts
// uevents once its rules have run, so device nodes and ID_* properties are
// in place when the event arrives.
const udevGroup = 2

const (
	pollInterval = 200 // ms
	maxEventSize = 8192
)

// EventSource delivers block device events until it is closed.
type EventSource interface {
	Listen() (<-chan Event, error)
	Close() error
}

// NetlinkMonitor receives block subsystem uevents processed by udev.
type NetlinkMonitor struct {
	fd     int
	tomb   tomb.Tomb
	events chan Event
	log    logrus.FieldLogger
}

func NewNetlinkMonitor(log logrus.FieldLogger) *NetlinkMonitor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &NetlinkMonitor{fd: -1, log: log}
}

func (m *NetlinkMonitor) Listen() (<-chan Event, error) {
	if m.fd >= 0 {
		return nil, errors.New("monitor already listening")
	}
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return nil, errors.Wrap(err, "cannot open uevent socket")
	}
	err = unix.Bind(fd, &unix.SockaddrNetlink{
		Family: unix.AF_NETLINK,
		Groups: udevGroup,
		Pid:    0,
	})
	if err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "cannot bind uevent socket")
	}

	m.fd = fd
	m.events = make(chan Event, 64)
	m.tomb.Go(m.run)
	return m.events, nil
}

func (m *NetlinkMonitor) run() error {
	defer close(m.events)
	buf := make([]byte, maxEventSize)
	fds := []unix.PollFd{{Fd: int32(m.fd), Events: unix.POLLIN}}

	for {
		select {
		case <-m.tomb.Dying():
			return nil
		default:
		}

		n, err := unix.Poll(fds, pollInterval)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return errors.Wrap(err, "polling uevent socket failed")
		}
		if n == 0 {
			continue
		}

		size, _, err := unix.Recvfrom(m.fd, buf, 0)
		if err != nil {
			if err == unix.EINTR || err == unix.EAGAIN {
				continue
			}
			return errors.Wrap(err, "reading uevent failed")
		}
		ev, err := parseUevent(buf[:size])
		if err != nil {
			m.log.WithError(err).Debug("dropping uevent")
			continue
		}
		if ev.Subsystem != "block" {
			continue
		}

		select {
		case m.events <- ev:
		case <-m.tomb.Dying():
			return nil
		}
	}
}

// Close stops the monitor and closes its event channel.
func (m *NetlinkMonitor) Close() error {
	if m.fd < 0 {
		return nil
	}
	m.tomb.Kill(nil)
	err := m.tomb.Wait()
	unix.Close(m.fd)
	m.fd = -1
	return err
}
