// errors.go - error taxonomy for configuration failures

package psmkernel

import "errors"

// Sentinel errors. Creation calls return ErrInvalidPriority, ErrOverflow
// and ErrStackTooSmall; NewKernel returns ErrUnsupportedFreq; lookups by pid return ErrNotFound; the timer
// engine returns ErrTimerUnavailable when every timer slot is in use.
var (
	ErrInvalidPriority  = errors.New("psmkernel: priority not permitted for this thread class")
	ErrOverflow         = errors.New("psmkernel: thread table full")
	ErrUnsupportedFreq  = errors.New("psmkernel: unsupported hardware timer frequency")
	ErrNotFound         = errors.New("psmkernel: pid not found")
	ErrTimerUnavailable = errors.New("psmkernel: no free timer slot for pid")
	ErrStackTooSmall    = errors.New("psmkernel: stack/scratch region too small")
)
