// Package cmdlog wraps CLI commands with run/error counters and an outcome log line.
package cmdlog

import (
	"fmt"
	"time"

	"threadify/internal/logging"
	"threadify/internal/metrics"
)

// Run executes f as command cmd. It logs `<cmd>_ok` or `<cmd>_error` with the
// elapsed time, and a panic in f comes back as an error.
func Run(cmd string, f func() error) (err error) {
	metrics.IncCommandRun(cmd)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", cmd, r)
		}
		fields := logging.Fields{"cmd": cmd, "duration_ms": time.Since(start).Milliseconds()}
		if err != nil {
			metrics.IncCommandError(cmd)
			fields["error"] = err.Error()
			logging.Error(cmd+"_error", fields)
			return
		}
		logging.Info(cmd+"_ok", fields)
	}()
	return f()
}
