// except.go: helpers to keep handler panics from taking down the
// ingestion loop.

package helpers

import (
	"fmt"

	"github.com/arkanite/keeper/cache"
	"github.com/getsentry/raven-go"
)

type Callback func()

var DEBUG_MODE = false

// Recover recover()s, logs the panic and reports it to sentry. Every
// handler goroutine defers this so one failing handler never blocks the
// rest of the dispatch.
func Recover() {
	err := recover()
	if err != nil {
		cache.GetLogger().WithField("module", "except").Errorf("recovered: %#v", err)

		raven.CaptureError(fmt.Errorf("%#v", err), map[string]string{})
	}
}

// Relax panics if $err is not nil. Use inside handlers guarded by Recover.
func Relax(err error) {
	if err != nil {
		if DEBUG_MODE {
			fmt.Printf("%#v\n", err)
		}
		panic(err)
	}
}

// SoftRelax calls $cb instead of panicking
func SoftRelax(err error, cb Callback) {
	if err != nil {
		cb()
	}
}

// RelaxLog logs and reports $err without aborting the caller
func RelaxLog(err error) {
	if err != nil {
		cache.GetLogger().WithField("module", "except").Error(err.Error())

		raven.CaptureError(err, map[string]string{})
	}
}

// LogMachineryError receives the error message of a failed machinery task
// (chained via OnError) and reports it.
func LogMachineryError(errorMessage string) error {
	cache.GetLogger().WithField("module", "machinery").Error(errorMessage)

	raven.CaptureError(fmt.Errorf("%s", errorMessage), map[string]string{})
	return nil
}
