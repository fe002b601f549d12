package worksteal

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/logiface"
)

// Package-level structured logging.
//
// Logging is an infrastructure cross-cutting concern shared by every
// scheduler in the process, so the logger is package state rather than
// per-instance surface area. The logiface generic logger is nil-safe: with
// no logger configured, every call below is a cheap no-op.

var packageLogger atomic.Pointer[logiface.Logger[logiface.Event]]

// SetLogger installs the structured logger used for runtime lifecycle and
// diagnostic events. Passing nil disables logging (the default).
func SetLogger(l *logiface.Logger[logiface.Event]) {
	packageLogger.Store(l)
}

// logPkg returns the configured logger; nil is a valid, silent logger.
func logPkg() *logiface.Logger[logiface.Event] {
	return packageLogger.Load()
}

// Version identifies the runtime build, for the one-time banner.
const Version = "go-worksteal 1.0"

// verboseEnvVar enables the one-time version banner when set to any
// non-empty value in the environment at first initialization.
const verboseEnvVar = "WORKSTEAL_VERBOSE"

var bannerOnce sync.Once

// maybePrintBanner emits the version/build banner once per process, only
// when the verbose environment flag is set. Goes through the configured
// logger when there is one, stderr otherwise.
func maybePrintBanner(workers int) {
	bannerOnce.Do(func() {
		if os.Getenv(verboseEnvVar) == "" {
			return
		}
		if l := logPkg(); l != nil {
			l.Info().
				Str("version", Version).
				Str("go", runtime.Version()).
				Int("workers", workers).
				Log("worksteal initialized")
			return
		}
		fmt.Fprintf(os.Stderr, "%s (%s, %d workers)\n", Version, runtime.Version(), workers)
	})
}
