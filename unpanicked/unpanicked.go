// Package unpanicked runs functions that must not take the process down with them.
package unpanicked

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Run calls fn and converts a panic into an error log entry. It reports whether fn
// returned normally.
func Run(logger *slog.Logger, name string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			if logger == nil {
				logger = slog.Default()
			}
			logger.Error("recovered from panic", "task", name, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			ok = false
		}
	}()
	fn()
	return true
}
