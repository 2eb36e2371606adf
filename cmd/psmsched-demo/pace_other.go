//go:build !unix

package main

import "time"

// pace falls back to the runtime timer on non-unix targets.
func pace(d time.Duration) {
	time.Sleep(d)
}
