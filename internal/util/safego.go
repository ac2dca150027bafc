package util

import (
	"runtime/debug"

	"github.com/lsdlabs/lsdctl/internal/logging"
)

// SafeGoWithName runs fn in a goroutine, recovering and logging panics with
// the goroutine name and stack trace instead of crashing the process.
func SafeGoWithName(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logging.Error("goroutine panic recovered",
					"goroutine", name,
					"panic", r,
					"stack", string(debug.Stack()),
				)
			}
		}()
		fn()
	}()
}
