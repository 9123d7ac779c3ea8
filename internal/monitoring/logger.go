// Package monitoring holds the process-wide diagnostic logger used by the
// landmarking pipeline.
package monitoring

import (
	"fmt"
	"log"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf and
// may be replaced by SetLogger; tests usually mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Warnf logs through Logf with a "warning:" prefix. Device fallbacks and
// degenerate landmarks are reported this way so they are easy to grep.
func Warnf(format string, v ...interface{}) {
	Logf("warning: %s", fmt.Sprintf(format, v...))
}

// Stage returns a logger that prefixes every message with a pipeline stage
// tag such as "[render]" or "[fuse]".
func Stage(name string) func(format string, v ...interface{}) {
	prefix := "[" + name + "] "
	return func(format string, v ...interface{}) {
		Logf(prefix+format, v...)
	}
}
