package util

import (
	"runtime/debug"

	"github.com/wastelandfi/wasteland/internal/logging"
)

// SafeGo runs fn on a new goroutine, recovering and logging any panic so a
// failing background task does not take the process down.
//
// The returned channel is closed once fn has returned or panicked.
//
//	done := util.SafeGo("presale-refresh", func() {
//	    // goroutine code here
//	})
//	<-done
func SafeGo(name string, fn func()) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
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
	return done
}
