// Package logging provides sy's process-wide logger: a prefix-chaining
// wrapper around the standard log package that stays safe to call on a nil
// receiver, so a component can accept a *Logger without a separate
// "logging enabled" check at every call site. This is a direct adaptation
// of mutagen's pkg/logging.Logger, colorizing warnings and errors the same
// way.
package logging

import (
	"fmt"
	"log"

	"github.com/fatih/color"
)

// DebugEnabled gates Debug-level output; set from the CLI's --verbose flag.
var DebugEnabled bool

// Logger chains prefixes ("sync.push.client") and is safe to call with a
// nil receiver, in which case every method is a no-op.
type Logger struct {
	prefix string
}

// Root is the top-level logger from which every other logger derives.
var Root = &Logger{}

// Sublogger returns a child logger that prefixes its output with name,
// appended to any existing prefix chain.
func (l *Logger) Sublogger(name string) *Logger {
	if l == nil {
		return nil
	}
	prefix := name
	if l.prefix != "" {
		prefix = l.prefix + "." + name
	}
	return &Logger{prefix: prefix}
}

func (l *Logger) output(calldepth int, line string) {
	if l.prefix != "" {
		line = fmt.Sprintf("[%s] %s", l.prefix, line)
	}
	log.Output(calldepth, line)
}

// Printf logs at the default level.
func (l *Logger) Printf(format string, v ...interface{}) {
	if l != nil {
		l.output(3, fmt.Sprintf(format, v...))
	}
}

// Debugf logs only when DebugEnabled is set.
func (l *Logger) Debugf(format string, v ...interface{}) {
	if l != nil && DebugEnabled {
		l.output(3, fmt.Sprintf(format, v...))
	}
}

// Warn logs err with a yellow warning prefix.
func (l *Logger) Warn(err error) {
	if l != nil {
		l.output(3, color.YellowString("warning: %v", err))
	}
}

// Error logs err with a red error prefix.
func (l *Logger) Error(err error) {
	if l != nil {
		l.output(3, color.RedString("error: %v", err))
	}
}
