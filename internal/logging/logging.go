// Package logging configures logrus for vectis: plain text on a
// terminal, the systemd journal when running as a unit.
package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"
	"github.com/sirupsen/logrus"
)

// Setup configures the standard logger. Under systemd the journal gets
// structured entries and stderr is silenced to avoid duplicates.
func Setup(debug bool) {
	if debug {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}

	if journal.Enabled() {
		logrus.AddHook(&journalHook{})
		logrus.SetOutput(io.Discard)
	}
}

type journalHook struct{}

var severityMap = map[logrus.Level]journal.Priority{
	logrus.TraceLevel: journal.PriDebug,
	logrus.DebugLevel: journal.PriDebug,
	logrus.InfoLevel:  journal.PriInfo,
	logrus.WarnLevel:  journal.PriWarning,
	logrus.ErrorLevel: journal.PriErr,
	logrus.FatalLevel: journal.PriCrit,
	logrus.PanicLevel: journal.PriEmerg,
}

// journal field names must be upper case ASCII with no leading underscore
func fieldKey(key string) string {
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
	return strings.TrimPrefix(key, "_")
}

func fieldEntries(data logrus.Fields) map[string]string {
	entries := make(map[string]string, len(data))
	for k, v := range data {
		entries[fieldKey(k)] = fmt.Sprint(v)
	}
	return entries
}

func (h *journalHook) Fire(entry *logrus.Entry) error {
	return journal.Send(entry.Message, severityMap[entry.Level],
		fieldEntries(entry.Data))
}

func (h *journalHook) Levels() []logrus.Level {
	return logrus.AllLevels
}
