// Package globaltime is the clock every timestamp in the pipeline goes through,
// so tests can pin lookback windows and version timestamps.
package globaltime

import (
	"sync/atomic"
	"time"
)

var pinned atomic.Pointer[time.Time]

func Now() time.Time {
	if t := pinned.Load(); t != nil {
		return *t
	}
	return time.Now()
}

func UTC() time.Time {
	return Now().UTC()
}

// Since mirrors time.Since against the pinned clock.
func Since(t time.Time) time.Duration {
	return Now().Sub(t)
}

// WindowStart is the UTC instant days calendar days before now.
func WindowStart(days int) time.Time {
	if days < 0 {
		days = 0
	}
	return UTC().AddDate(0, 0, -days)
}

// Pin freezes the clock at t until the returned func is called.
func Pin(t time.Time) (restore func()) {
	prev := pinned.Swap(&t)
	return func() { pinned.Store(prev) }
}
