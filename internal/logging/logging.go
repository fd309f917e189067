// Package logging wires go-kit/log the same way the teacher's
// profilecli command does: a logfmt logger, filtered by level, with
// per-call key/value pairs rather than formatted strings.
package logging

import (
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// New returns a logfmt logger writing to os.Stderr, filtered to
// minLevel ("debug", "info", "warn", "error"; anything else allows
// everything).
func New(minLevel string) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
	return level.NewFilter(logger, filterOption(minLevel))
}

func filterOption(minLevel string) level.Option {
	switch minLevel {
	case "debug":
		return level.AllowDebug()
	case "warn":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	default:
		return level.AllowInfo()
	}
}

// Nop returns a logger that discards everything, for tests and
// embedders that don't want recorder/engine diagnostics on stderr.
func Nop() log.Logger {
	return log.NewNopLogger()
}
