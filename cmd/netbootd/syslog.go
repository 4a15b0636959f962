package main

import (
	"io"
	"log/syslog"
)

// newSyslogWriter opens a syslog connection for the --syslog log sink.
// zerolog has no syslog writer of its own; log/syslog.Writer already
// satisfies io.Writer, so it drops straight into zerolog.New.
func newSyslogWriter() (io.Writer, error) {
	return syslog.New(syslog.LOG_DAEMON|syslog.LOG_INFO, "netbootd")
}
