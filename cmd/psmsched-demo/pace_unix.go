//go:build unix

package main

import (
	"time"

	"golang.org/x/sys/unix"
)

// pace sleeps for d using the raw nanosleep syscall, the same way a
// bare-metal tick source would idle between ticks rather than parking
// on the Go runtime's timer wheel.
func pace(d time.Duration) {
	ts := unix.NsecToTimespec(d.Nanoseconds())
	for {
		rem := unix.Timespec{}
		err := unix.Nanosleep(&ts, &rem)
		if err == nil {
			return
		}
		ts = rem
	}
}
