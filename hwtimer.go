// hwtimer.go - simulated hardware timer/counter peripheral

package psmkernel

import (
	"sync"
	"time"
)

// hwTimer stands in for the narrow free-running hardware counter and its
// single compare channel, grounded on cpu/msp430-sancus/periph/timer.c's
// timer_init/timer_set_absolute/timer_read/timer_clear/timer_start/
// timer_stop contract, and on the teacher's
// CoprocessorManager-over-a-mutex pattern for guarding the shadow
// register state (coprocessor_manager.go).
//
// Real time is mapped onto ticks at HZ ticks/second using a background
// goroutine polling on a time.Ticker, the closest Go analogue to a periodic
// compare-match interrupt: the goroutine is the ISR, callback is the
// handler it invokes, and hwTimer.mu is the "interrupts disabled while
// touching the peripheral" discipline.
type hwTimer struct {
	mu       sync.Mutex
	cfg      Config
	running  bool
	callback func()
	compare  uint32 // next compare value, counter units
	haveCmp  bool
	epoch    time.Time // wall-clock instant at which counter == 0
	stop     chan struct{}
	done     chan struct{}
}

// newHWTimer validates freq/device the way timer_init does (only
// SECURE_MINTIMER_HZ-derived frequencies on channel/device 0 are wired
// up in the original; this simulation only ever asks for cfg.HZ on
// device 0).
func newHWTimer(cfg Config) (*hwTimer, error) {
	if cfg.HZ == 0 {
		return nil, ErrUnsupportedFreq
	}
	return &hwTimer{cfg: cfg}, nil
}

// init installs the compare-match callback, mirroring timer_init's
// (freq, callback) signature. Must be called before start.
func (h *hwTimer) init(callback func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.callback = callback
}

// start begins free-running counting from zero.
func (h *hwTimer) start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.epoch = time.Now()
	h.stop = make(chan struct{})
	h.done = make(chan struct{})
	h.mu.Unlock()
	go h.loop()
}

// stopTimer halts the polling goroutine, so no further callbacks fire;
// read() still derives the count from wall-clock time since start.
func (h *hwTimer) stopTimer() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	close(h.stop)
	h.mu.Unlock()
	<-h.done
}

// read returns the free-running counter's current value, masked to the
// configured width, mirroring timer_read.
func (h *hwTimer) read() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.nowLocked()
}

func (h *hwTimer) nowLocked() uint32 {
	elapsed := time.Since(h.epoch)
	ticks := uint64(elapsed.Seconds() * float64(h.cfg.HZ))
	return uint32(ticks) & h.cfg.loMask()
}

// setAbsolute arms the single compare channel to fire when the counter
// reaches value, mirroring timer_set_absolute. Only one compare target
// is ever outstanding, matching the original's single hardware channel.
func (h *hwTimer) setAbsolute(value uint32) {
	h.mu.Lock()
	h.compare = value & h.cfg.loMask()
	h.haveCmp = true
	h.mu.Unlock()
}

// clear disarms the compare channel, mirroring timer_clear.
func (h *hwTimer) clear() {
	h.mu.Lock()
	h.haveCmp = false
	h.mu.Unlock()
}

// loop is the simulated ISR: it polls at a resolution fine enough to
// notice compare-match without busy-spinning a whole CPU, and invokes
// callback exactly once per match, on its own goroutine (never while
// holding h.mu), the same way the real ISR runs outside of any mutex.
func (h *hwTimer) loop() {
	defer close(h.done)
	resolution := time.Second / time.Duration(h.cfg.HZ)
	if resolution < 50*time.Microsecond {
		resolution = 50 * time.Microsecond
	}
	ticker := time.NewTicker(resolution)
	defer ticker.Stop()
	fired := false
	var firedCmp uint32
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.mu.Lock()
			cur := h.nowLocked()
			if fired && h.haveCmp && h.compare != firedCmp {
				fired = false // reprogrammed since the last match
			}
			shouldFire := h.haveCmp && !fired && sequenceReached(cur, h.compare, h.cfg.loMask())
			cb := h.callback
			if shouldFire {
				fired = true
				firedCmp = h.compare
			}
			h.mu.Unlock()
			if shouldFire && cb != nil {
				cb()
			}
			if !h.haveCmp {
				fired = false
			}
		}
	}
}

// sequenceReached reports whether cur has reached target on a counter
// that wraps at mask+1, tolerating the single wraparound a polling loop
// might miss between two samples.
func sequenceReached(cur, target, mask uint32) bool {
	return ((cur - target) & mask) < (mask / 4)
}
