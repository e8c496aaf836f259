package common

import (
	"fmt"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"
	"github.com/sirupsen/logrus"
)

var allLevels = []logrus.Level{
	logrus.PanicLevel,
	logrus.FatalLevel,
	logrus.ErrorLevel,
	logrus.WarnLevel,
	logrus.InfoLevel,
	logrus.DebugLevel,
}

// BuildHook tags log entries with the commit the binary was built from.
type BuildHook struct{}

func (h *BuildHook) Levels() []logrus.Level {
	return allLevels
}

func (h *BuildHook) Fire(e *logrus.Entry) error {
	e.Data["build_commit"] = BuildCommit
	return nil
}

// JournalHook forwards log entries to the systemd journal, fields become
// journal fields. Inspired by github.com/wercker/journalhook (MIT license)
type JournalHook struct{}

var severityMap = map[logrus.Level]journal.Priority{
	logrus.DebugLevel: journal.PriDebug,
	logrus.InfoLevel:  journal.PriInfo,
	logrus.WarnLevel:  journal.PriWarning,
	logrus.ErrorLevel: journal.PriErr,
	logrus.FatalLevel: journal.PriCrit,
	logrus.PanicLevel: journal.PriEmerg,
}

// journalKey converts a logrus field name into a valid journal field name:
// upper case letters, digits and underscores, not starting with an
// underscore.
func journalKey(key string) string {
	key = strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		case r >= 'a' && r <= 'z':
			return r - 32
		default:
			return '_'
		}
	}, key)
	return strings.TrimLeft(key, "_")
}

func journalFields(data logrus.Fields) map[string]string {
	fields := make(map[string]string, len(data))
	for k, v := range data {
		fields[journalKey(k)] = fmt.Sprint(v)
	}
	return fields
}

func (hook *JournalHook) Fire(entry *logrus.Entry) error {
	return journal.Send(entry.Message, severityMap[entry.Level], journalFields(entry.Data))
}

func (hook *JournalHook) Levels() []logrus.Level {
	return allLevels
}

// BlockDiscoverLogger returns the logger for messages about probing block
// devices.
func BlockDiscoverLogger(log logrus.FieldLogger) logrus.FieldLogger {
	return log.WithField("subsystem", "block-discover")
}
