// doc.go - package overview

// Package psmkernel implements a secure preemptive thread scheduler for a
// small real-time kernel: a fixed thread table, priority run queues
// selected by a bitmap, a three-list soft-timer engine multiplexing a
// single hardware timer, a periodic-task runtime budget, and a
// priority-ordered mutex.
//
// The scheduler's state is owned exclusively by a Kernel value, the Go
// stand-in for the hardware-isolated "protected scheduler module" (PSM)
// region described in the originating firmware: every state-mutating
// operation runs with Kernel.mu held, which reproduces the "interrupts
// disabled, non-reentrant" contract of the original ISR path. See
// entry.go for how user-visible operations (yield, sleep, exit, switch)
// funnel through that single entry point.
package psmkernel
