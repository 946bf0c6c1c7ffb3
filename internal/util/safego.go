package util

import (
	"runtime/debug"

	"github.com/vaultbridge/redeemer/internal/logging"
)

// SafeGo runs fn in a new goroutine, recovering and logging any panic so a
// faulty callback cannot bring the daemon down.
func SafeGo(fn func()) {
	SafeGoWithName("", fn)
}

// SafeGoWithName is SafeGo with a goroutine name attached to panic logs.
//
//	util.SafeGoWithName("expiry-watcher", func() {
//	    // goroutine code here
//	})
func SafeGoWithName(name string, fn func()) {
	go func() {
		defer Recover(name)
		fn()
	}()
}

// Recover logs a recovered panic. It must be deferred directly.
func Recover(name string) {
	r := recover()
	if r == nil {
		return
	}
	args := []any{"panic", r, "stack", string(debug.Stack())}
	if name != "" {
		args = append(args, "goroutine", name)
	}
	logging.Error("goroutine panic recovered", args...)
}
