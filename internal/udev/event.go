package udev

import (
	"bytes"
	"encoding/binary"
	"strings"

	"github.com/pkg/errors"
)

// Event is a kernel uevent.
type Event struct {
	Action    string
	DevPath   string
	Subsystem string
	Env       map[string]string
}

// Messages on the udev netlink group start with a fixed header that locates
// the property block.
const (
	udevPrefix     = "libudev\x00"
	udevMagic      = 0xfeedcafe
	udevHeaderSize = 40
)

// parseUevent decodes a NETLINK_KOBJECT_UEVENT message. Both the kernel
// form "action@devpath\0KEY=VALUE\0..." and the form udev rebroadcasts
// after processing its rules are understood.
func parseUevent(msg []byte) (Event, error) {
	if bytes.HasPrefix(msg, []byte(udevPrefix)) {
		return parseUdevEvent(msg)
	}
	fields := bytes.Split(bytes.TrimRight(msg, "\x00"), []byte{0})
	if len(fields) == 0 {
		return Event{}, errors.New("empty uevent")
	}

	header := string(fields[0])
	action, devpath, ok := strings.Cut(header, "@")
	if !ok || action == "" || devpath == "" {
		return Event{}, errors.Errorf("malformed uevent header %q", header)
	}

	ev := Event{
		Action:  action,
		DevPath: devpath,
		Env:     parseProperties(fields[1:]),
	}
	ev.Subsystem = ev.Env["SUBSYSTEM"]
	return ev, nil
}

func parseUdevEvent(msg []byte) (Event, error) {
	if len(msg) < udevHeaderSize {
		return Event{}, errors.Errorf("short udev message of %d bytes", len(msg))
	}
	if magic := binary.BigEndian.Uint32(msg[8:12]); magic != udevMagic {
		return Event{}, errors.Errorf("bad udev message magic %#x", magic)
	}
	off := uint64(binary.NativeEndian.Uint32(msg[16:20]))
	size := uint64(binary.NativeEndian.Uint32(msg[20:24]))
	if off < udevHeaderSize || off+size > uint64(len(msg)) {
		return Event{}, errors.Errorf("udev properties at %d+%d outside message", off, size)
	}

	props := bytes.TrimRight(msg[off:off+size], "\x00")
	env := parseProperties(bytes.Split(props, []byte{0}))
	ev := Event{
		Action:    env["ACTION"],
		DevPath:   env["DEVPATH"],
		Subsystem: env["SUBSYSTEM"],
		Env:       env,
	}
	if ev.Action == "" || ev.DevPath == "" {
		return Event{}, errors.New("udev message without ACTION or DEVPATH")
	}
	return ev, nil
}

func parseProperties(fields [][]byte) map[string]string {
	env := make(map[string]string, len(fields))
	for _, f := range fields {
		key, value, ok := strings.Cut(string(f), "=")
		if !ok {
			continue
		}
		env[key] = value
	}
	return env
}
